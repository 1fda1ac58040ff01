package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadpulse/models"
	"leadpulse/store"
	"leadpulse/utils"
)

type StatsController struct {
	Store  store.Store
	Logger *logrus.Entry
}

func NewStatsController(st store.Store, logger *logrus.Entry) *StatsController {
	return &StatsController{Store: st, Logger: logger}
}

// CampaignStats summarizes attempt outcomes and conversions for one campaign.
type CampaignStats struct {
	CampaignID  uint                            `json:"campaign_id"`
	Attempts    map[models.AttemptStatus]int64  `json:"attempts"`
	Total       int64                           `json:"total"`
	Conversions int64                           `json:"conversions"`
}

func (sc *StatsController) GetCampaignStats(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if _, err := sc.Store.GetCampaign(c.Context(), id); err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	attempts, err := sc.Store.AttemptStatsByCampaign(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign stats", err)
	}
	conversions, err := sc.Store.CountConversions(c.Context(), &id, nil)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaign stats", err)
	}

	stats := CampaignStats{CampaignID: id, Attempts: attempts, Conversions: conversions}
	for _, n := range attempts {
		stats.Total += n
	}
	return c.JSON(stats)
}

// SequenceStats summarizes enrollment states and conversions for one sequence.
type SequenceStats struct {
	SequenceID  uint                              `json:"sequence_id"`
	Enrollments map[models.EnrollmentStatus]int64 `json:"enrollments"`
	Total       int64                             `json:"total"`
	Conversions int64                             `json:"conversions"`
}

func (sc *StatsController) GetSequenceStats(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if _, err := sc.Store.GetSequence(c.Context(), id); err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	enrollments, err := sc.Store.EnrollmentStatsBySequence(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequence stats", err)
	}
	conversions, err := sc.Store.CountConversions(c.Context(), nil, &id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequence stats", err)
	}

	stats := SequenceStats{SequenceID: id, Enrollments: enrollments, Conversions: conversions}
	for _, n := range enrollments {
		stats.Total += n
	}
	return c.JSON(stats)
}

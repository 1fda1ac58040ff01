package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadpulse/engine"
	"leadpulse/models"
	"leadpulse/store"
	"leadpulse/utils"
	"leadpulse/worker"
)

type CampaignController struct {
	Store    store.Store
	Router   *engine.Router
	Executor *worker.Executor
	Logger   *logrus.Entry
}

func NewCampaignController(st store.Store, router *engine.Router, executor *worker.Executor, logger *logrus.Entry) *CampaignController {
	return &CampaignController{
		Store:    st,
		Router:   router,
		Executor: executor,
		Logger:   logger,
	}
}

type campaignInput struct {
	Name               string                   `json:"name" validate:"required,max=200"`
	Description        string                   `json:"description" validate:"omitempty,max=2000"`
	Channels           []models.Channel         `json:"channels" validate:"required,min=1"`
	Schedule           models.ScheduleConfig    `json:"schedule"`
	AutoAssign         *models.AutoAssignConfig `json:"auto_assign"`
	MaxContactsPerLead int                      `json:"max_contacts_per_lead" validate:"omitempty,min=1,max=50"`
}

func (in *campaignInput) validate(c *fiber.Ctx) error {
	if err := utils.ValidateStruct(*in); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	for _, ch := range in.Channels {
		if !ch.Valid() {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown channel: "+string(ch), nil)
		}
	}
	if start, end := in.Schedule.ContactHoursStart, in.Schedule.ContactHoursEnd; start != nil && end != nil {
		if *start < 0 || *start > 23 || *end < 0 || *end > 23 || *start >= *end {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid contact hours window", nil)
		}
	}
	for _, d := range in.Schedule.ContactDays {
		if d < 0 || d > 6 {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Contact days must be 0-6", nil)
		}
	}
	return nil
}

// CreateCampaign creates a campaign in DRAFT.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := input.validate(c); err != nil {
		return err
	}

	campaign := &models.Campaign{
		Name:               input.Name,
		Description:        input.Description,
		Channels:           input.Channels,
		Status:             models.CampaignDraft,
		Schedule:           input.Schedule,
		AutoAssign:         input.AutoAssign,
		MaxContactsPerLead: input.MaxContactsPerLead,
	}
	if err := cc.Store.CreateCampaign(c.Context(), campaign); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create campaign", err)
	}
	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// GetCampaign returns one campaign.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	campaign, err := cc.Store.GetCampaign(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	return c.JSON(campaign)
}

// UpdateCampaign replaces a DRAFT or PAUSED campaign's configuration.
func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	campaign, err := cc.Store.GetCampaign(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignPaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only draft or paused campaigns can be edited", nil)
	}

	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := input.validate(c); err != nil {
		return err
	}

	campaign.Name = input.Name
	campaign.Description = input.Description
	campaign.Channels = input.Channels
	campaign.Schedule = input.Schedule
	campaign.AutoAssign = input.AutoAssign
	if input.MaxContactsPerLead > 0 {
		campaign.MaxContactsPerLead = input.MaxContactsPerLead
	}
	if err := cc.Store.UpdateCampaign(c.Context(), campaign); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}
	return c.JSON(campaign)
}

// UpdateCampaignStatus drives the campaign lifecycle. Activating a draft
// queues its pending leads in the background; pausing cancels PENDING
// attempts so nothing dispatches while paused.
func (cc *CampaignController) UpdateCampaignStatus(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var input struct {
		Status models.CampaignStatus `json:"status" validate:"required,oneof=DRAFT ACTIVE PAUSED COMPLETED"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	campaign, err := cc.Store.GetCampaign(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if !campaign.Status.CanTransitionTo(input.Status) {
		return respondEngineError(c, &engine.InvalidTransitionError{
			Entity: "campaign",
			From:   string(campaign.Status),
			To:     string(input.Status),
		})
	}

	wasDraft := campaign.Status == models.CampaignDraft
	now := time.Now()
	switch input.Status {
	case models.CampaignActive:
		if campaign.StartedAt == nil {
			campaign.StartedAt = &now
		}
	case models.CampaignCompleted:
		campaign.CompletedAt = &now
	}
	campaign.Status = input.Status
	if err := cc.Store.UpdateCampaign(c.Context(), campaign); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}

	campaignID := campaign.ID
	switch input.Status {
	case models.CampaignActive:
		if wasDraft {
			cc.submit("queue-campaign-leads", func(ctx context.Context) error {
				_, err := cc.Router.QueueCampaignLeads(ctx, campaignID)
				return err
			})
		}
	case models.CampaignPaused, models.CampaignCompleted:
		cancelled, err := cc.Router.CancelPendingAttempts(c.Context(), campaignID)
		if err != nil {
			cc.Logger.WithError(err).WithField("campaign_id", campaignID).Error("failed to cancel pending attempts")
		} else if cancelled > 0 {
			cc.Logger.WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"cancelled":   cancelled,
			}).Info("cancelled pending attempts")
		}
	}

	return c.JSON(campaign)
}

// AssignLead adds one lead to a campaign and queues contact attempts for it.
func (cc *CampaignController) AssignLead(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var input struct {
		LeadID uint `json:"lead_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	campaign, err := cc.Store.GetCampaign(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	lead, err := cc.Store.GetLead(c.Context(), input.LeadID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	if !lead.Contactable() {
		return respondEngineError(c, &engine.PolicyViolationError{
			Reason: "lead has opted out of contact",
		})
	}

	cl := &models.CampaignLead{
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		Status:     models.CampaignLeadPending,
	}
	if err := cc.Store.CreateCampaignLead(c.Context(), cl); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Lead already assigned to campaign", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to assign lead", err)
	}

	if campaign.Status == models.CampaignActive {
		campaignID := campaign.ID
		cc.submit("queue-campaign-leads", func(ctx context.Context) error {
			_, err := cc.Router.QueueCampaignLeads(ctx, campaignID)
			return err
		})
	}
	return c.Status(fiber.StatusCreated).JSON(cl)
}

// RouteContact triggers a single routing decision for a lead within a
// campaign, optionally pinning the script.
func (cc *CampaignController) RouteContact(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var input struct {
		LeadID   uint           `json:"lead_id" validate:"required"`
		Channel  models.Channel `json:"channel" validate:"required"`
		ScriptID *uint          `json:"script_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if !input.Channel.Valid() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown channel: "+string(input.Channel), nil)
	}

	attemptID, err := cc.Router.RouteContactByID(c.Context(), input.LeadID, id, input.Channel, input.ScriptID)
	if err != nil {
		if attemptID != 0 {
			// Attempt was recorded but dispatch failed; surface both.
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"attempt_id": attemptID,
				"error":      err.Error(),
			})
		}
		return respondEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"attempt_id": attemptID})
}

// CreateScript attaches a channel script to a campaign, or registers a
// global default when is_default is set.
func (cc *CampaignController) CreateScript(c *fiber.Ctx) error {
	var input struct {
		Channel    models.Channel `json:"channel" validate:"required"`
		CampaignID *uint          `json:"campaign_id"`
		Name       string         `json:"name" validate:"required,max=200"`
		Subject    string         `json:"subject" validate:"omitempty,max=500"`
		Body       string         `json:"body" validate:"required"`
		IsDefault  bool           `json:"is_default"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if !input.Channel.Valid() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown channel: "+string(input.Channel), nil)
	}
	if input.CampaignID == nil && !input.IsDefault {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Script needs a campaign or is_default", nil)
	}

	script := &models.Script{
		Channel:    input.Channel,
		CampaignID: input.CampaignID,
		Name:       input.Name,
		Subject:    input.Subject,
		Body:       input.Body,
		IsDefault:  input.IsDefault,
	}
	if err := cc.Store.CreateScript(c.Context(), script); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create script", err)
	}
	return c.Status(fiber.StatusCreated).JSON(script)
}

func (cc *CampaignController) submit(name string, fn func(ctx context.Context) error) {
	if err := cc.Executor.Submit(name, fn); err != nil {
		cc.Logger.WithError(err).WithField("task", name).Error("failed to submit background task")
	}
}

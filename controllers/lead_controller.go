package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadpulse/engine"
	"leadpulse/models"
	"leadpulse/store"
	"leadpulse/utils"
	"leadpulse/worker"
)

type LeadController struct {
	Store      store.Store
	LeadRouter *engine.LeadRouter
	Sequences  *engine.SequenceEngine
	Executor   *worker.Executor
	Logger     *logrus.Entry
}

func NewLeadController(st store.Store, leadRouter *engine.LeadRouter, sequences *engine.SequenceEngine, executor *worker.Executor, logger *logrus.Entry) *LeadController {
	return &LeadController{
		Store:      st,
		LeadRouter: leadRouter,
		Sequences:  sequences,
		Executor:   executor,
		Logger:     logger,
	}
}

// CreateLead persists a new lead and kicks off campaign assignment and
// new_lead sequence enrollment in the background.
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	var input struct {
		Email     string `json:"email" validate:"omitempty,email"`
		Phone     string `json:"phone" validate:"omitempty,e164"`
		PushToken string `json:"push_token"`
		FirstName string `json:"first_name" validate:"omitempty,max=100"`
		LastName  string `json:"last_name" validate:"omitempty,max=100"`
		Company   string `json:"company" validate:"omitempty,max=200"`
		Source    string `json:"source" validate:"required,max=100"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.Email == "" && input.Phone == "" && input.PushToken == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Lead needs at least one contact method", nil)
	}
	if err := utils.ValidateEmailFormat(input.Email); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lead := &models.Lead{
		Email:     input.Email,
		Phone:     input.Phone,
		PushToken: input.PushToken,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Status:    models.LeadNew,
		Source:    input.Source,
	}
	if err := lc.Store.CreateLead(c.Context(), lead); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	leadID := lead.ID
	source := lead.Source
	lc.submit("route-new-lead", func(ctx context.Context) error {
		_, err := lc.LeadRouter.RouteNewLead(ctx, leadID)
		return err
	})
	lc.submit("auto-enroll-new-lead", func(ctx context.Context) error {
		_, err := lc.Sequences.AutoEnrollByTrigger(ctx, leadID, models.TriggerNewLead, source)
		return err
	})

	return c.Status(fiber.StatusCreated).JSON(lead)
}

func (lc *LeadController) submit(name string, fn func(ctx context.Context) error) {
	if err := lc.Executor.Submit(name, fn); err != nil {
		lc.Logger.WithError(err).WithField("task", name).Error("failed to submit background task")
	}
}

// GetLead returns one lead.
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	lead, err := lc.Store.GetLead(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	return c.JSON(lead)
}

// UpdateLeadStatus changes a lead's status. DO_NOT_CONTACT is terminal: no
// transition out of it is allowed.
func (lc *LeadController) UpdateLeadStatus(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var input struct {
		Status models.LeadStatus `json:"status" validate:"required,oneof=NEW CONTACTED ENGAGED DO_NOT_CONTACT CONVERTED"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lead, err := lc.Store.GetLead(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	if lead.Status == models.LeadDoNotContact && input.Status != models.LeadDoNotContact {
		return utils.ErrorResponse(c, fiber.StatusConflict, "do-not-contact is terminal", nil)
	}

	lead.Status = input.Status
	if err := lc.Store.UpdateLead(c.Context(), lead); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}
	return c.JSON(lead)
}

// RecordConversion stores a conversion and flips the lead's active
// enrollments to CONVERTED.
func (lc *LeadController) RecordConversion(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var input struct {
		CampaignID *uint  `json:"campaign_id"`
		SequenceID *uint  `json:"sequence_id"`
		Value      int64  `json:"value"`
		Details    string `json:"details" validate:"omitempty,max=2000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lead, err := lc.Store.GetLead(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	conv := &models.Conversion{
		LeadID:     lead.ID,
		CampaignID: input.CampaignID,
		SequenceID: input.SequenceID,
		Value:      input.Value,
		Details:    input.Details,
	}
	if err := lc.Store.CreateConversion(c.Context(), conv); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record conversion", err)
	}

	converted, err := lc.Sequences.MarkConverted(c.Context(), lead.ID, input.SequenceID)
	if err != nil {
		return respondEngineError(c, err)
	}

	lead.Status = models.LeadConverted
	if err := lc.Store.UpdateLead(c.Context(), lead); err != nil {
		lc.Logger.WithError(err).WithField("lead_id", lead.ID).Error("failed to mark lead converted")
	}

	return c.JSON(fiber.Map{
		"conversion_id":         conv.ID,
		"enrollments_converted": converted,
	})
}

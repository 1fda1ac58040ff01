package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadpulse/engine"
	"leadpulse/models"
	"leadpulse/store"
	"leadpulse/utils"
)

type SequenceController struct {
	Store  store.Store
	Engine *engine.SequenceEngine
	Logger *logrus.Entry
}

func NewSequenceController(st store.Store, eng *engine.SequenceEngine, logger *logrus.Entry) *SequenceController {
	return &SequenceController{Store: st, Engine: eng, Logger: logger}
}

type sequenceStepInput struct {
	StepOrder  int                   `json:"step_order" validate:"required,min=1"`
	Channel    models.Channel        `json:"channel" validate:"required"`
	ScriptID   *uint                 `json:"script_id"`
	DelayValue int                   `json:"delay_value" validate:"min=0"`
	DelayUnit  models.DelayUnit      `json:"delay_unit" validate:"omitempty,oneof=HOURS DAYS WEEKS"`
	Conditions models.StepConditions `json:"conditions"`
	IsActive   *bool                 `json:"is_active"`
}

// CreateSequence creates a retention sequence with its steps in one shot.
// Step orders are 1-based and must be strictly increasing.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input struct {
		Name        string               `json:"name" validate:"required,max=200"`
		Description string               `json:"description" validate:"omitempty,max=2000"`
		TriggerType models.TriggerType   `json:"trigger_type" validate:"omitempty,oneof=manual new_lead no_conversion"`
		Trigger     models.TriggerConfig `json:"trigger"`
		Steps       []sequenceStepInput  `json:"steps" validate:"required,min=1,dive"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	lastOrder := 0
	for _, step := range input.Steps {
		if !step.Channel.Valid() {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown channel: "+string(step.Channel), nil)
		}
		if step.StepOrder <= lastOrder {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Step orders must be strictly increasing", nil)
		}
		lastOrder = step.StepOrder
	}

	trigger := input.TriggerType
	if trigger == "" {
		trigger = models.TriggerManual
	}
	seq := &models.RetentionSequence{
		Name:        input.Name,
		Description: input.Description,
		Status:      models.SequenceDraft,
		TriggerType: trigger,
		Trigger:     input.Trigger,
	}
	for _, step := range input.Steps {
		unit := step.DelayUnit
		if unit == "" {
			unit = models.DelayHours
		}
		active := true
		if step.IsActive != nil {
			active = *step.IsActive
		}
		seq.Steps = append(seq.Steps, models.SequenceStep{
			StepOrder:  step.StepOrder,
			Channel:    step.Channel,
			ScriptID:   step.ScriptID,
			DelayValue: step.DelayValue,
			DelayUnit:  unit,
			Conditions: step.Conditions,
			IsActive:   active,
		})
	}
	if err := sc.Store.CreateSequence(c.Context(), seq); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}
	return c.Status(fiber.StatusCreated).JSON(seq)
}

// GetSequence returns one sequence with its steps.
func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	seq, err := sc.Store.GetSequence(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	return c.JSON(seq)
}

// UpdateSequenceStatus drives the sequence lifecycle. Pausing a sequence
// parks its ACTIVE enrollments; resuming brings them back.
func (sc *SequenceController) UpdateSequenceStatus(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var input struct {
		Status models.SequenceStatus `json:"status" validate:"required,oneof=DRAFT ACTIVE PAUSED ARCHIVED"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	seq, err := sc.Store.GetSequence(c.Context(), id)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	if !seq.Status.CanTransitionTo(input.Status) {
		return respondEngineError(c, &engine.InvalidTransitionError{
			Entity: "sequence",
			From:   string(seq.Status),
			To:     string(input.Status),
		})
	}

	wasPaused := seq.Status == models.SequencePaused
	seq.Status = input.Status
	if err := sc.Store.UpdateSequence(c.Context(), seq); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}

	switch input.Status {
	case models.SequencePaused:
		moved, err := sc.Engine.MoveEnrollments(c.Context(), seq.ID, models.EnrollmentActive, models.EnrollmentPaused)
		if err != nil {
			sc.Logger.WithError(err).WithField("sequence_id", seq.ID).Error("failed to pause enrollments")
		} else if moved > 0 {
			sc.Logger.WithFields(logrus.Fields{"sequence_id": seq.ID, "paused": moved}).Info("paused enrollments")
		}
	case models.SequenceActive:
		if wasPaused {
			moved, err := sc.Engine.MoveEnrollments(c.Context(), seq.ID, models.EnrollmentPaused, models.EnrollmentActive)
			if err != nil {
				sc.Logger.WithError(err).WithField("sequence_id", seq.ID).Error("failed to resume enrollments")
			} else if moved > 0 {
				sc.Logger.WithFields(logrus.Fields{"sequence_id": seq.ID, "resumed": moved}).Info("resumed enrollments")
			}
		}
	}

	return c.JSON(seq)
}

// EnrollLead manually enrolls a lead into a sequence.
func (sc *SequenceController) EnrollLead(c *fiber.Ctx) error {
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

	enrollment, err := sc.Engine.EnrollLead(c.Context(), id, input.LeadID)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(enrollment)
}

// ListEnrollments lists a sequence's enrollments, optionally by status.
func (sc *SequenceController) ListEnrollments(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	status := models.EnrollmentStatus(c.Query("status"))
	enrollments, err := sc.Store.ListEnrollmentsBySequence(c.Context(), id, status)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list enrollments", err)
	}
	return c.JSON(enrollments)
}

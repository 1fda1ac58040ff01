package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"leadpulse/channel"
	"leadpulse/models"
	"leadpulse/store"
)

const (
	// enrollmentSweepLimit caps due executions handled per sweep.
	enrollmentSweepLimit = 100
	// stepRetryDelay is the fixed backoff before a failed step's single retry.
	stepRetryDelay = time.Hour
	// stepMaxRetries: one automatic retry, then the execution is skipped.
	stepMaxRetries = 1
)

// SequenceEngine drives the retention-sequence enrollment state machine,
// delegating each step's send to the channel router.
type SequenceEngine struct {
	store  store.Store
	router *Router
	clock  Clock
	log    *logrus.Entry
}

func NewSequenceEngine(st store.Store, router *Router, clock Clock, log *logrus.Entry) *SequenceEngine {
	return &SequenceEngine{store: st, router: router, clock: clock, log: log}
}

// EnrollLead enrolls the lead into the sequence and schedules the first
// step. The sequence must be ACTIVE with at least one active step. A
// non-terminal existing enrollment is an error; a terminal one is replaced.
func (e *SequenceEngine) EnrollLead(ctx context.Context, sequenceID, leadID uint) (*models.SequenceEnrollment, error) {
	seq, err := e.store.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, notFound("sequence", sequenceID, err)
	}
	if seq.Status != models.SequenceActive {
		return nil, &PolicyViolationError{Reason: fmt.Sprintf("sequence %d is %s, not ACTIVE", sequenceID, seq.Status)}
	}
	steps := seq.ActiveSteps()
	if len(steps) == 0 {
		return nil, &PolicyViolationError{Reason: fmt.Sprintf("sequence %d has no active steps", sequenceID)}
	}
	if _, err := e.store.GetLead(ctx, leadID); err != nil {
		return nil, notFound("lead", leadID, err)
	}

	existing, err := e.store.FindEnrollment(ctx, sequenceID, leadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	if existing != nil {
		if !existing.Status.Terminal() {
			return nil, &InvalidTransitionError{
				Entity: "enrollment",
				From:   string(existing.Status),
				To:     string(models.EnrollmentActive),
			}
		}
		if err := e.store.DeleteEnrollment(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("replace terminal enrollment %d: %w", existing.ID, err)
		}
	}

	now := e.clock.Now()
	enrollment := &models.SequenceEnrollment{
		SequenceID: sequenceID,
		LeadID:     leadID,
		Status:     models.EnrollmentActive,
		EnrolledAt: now,
	}
	if err := e.store.CreateEnrollment(ctx, enrollment); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &InvalidTransitionError{Entity: "enrollment", From: string(models.EnrollmentActive), To: string(models.EnrollmentActive)}
		}
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	first := steps[0]
	execution := &models.SequenceStepExecution{
		EnrollmentID: enrollment.ID,
		StepID:       first.ID,
		StepOrder:    first.StepOrder,
		Status:       models.ExecutionScheduled,
		ScheduledAt:  now.Add(first.Delay()),
	}
	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("schedule first step: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"sequence_id":   sequenceID,
		"lead_id":       leadID,
		"enrollment_id": enrollment.ID,
		"first_step_at": execution.ScheduledAt,
	}).Info("lead enrolled")
	return enrollment, nil
}

// ProcessNextStep executes the earliest due open execution of an ACTIVE
// enrollment. A channel the lead cannot receive is skipped and the
// enrollment advances. A router failure gets one retry an hour later; a
// second failure skips the step. Success marks SENT, links the attempt and
// schedules the next step, completing the enrollment when none remains.
func (e *SequenceEngine) ProcessNextStep(ctx context.Context, enrollmentID uint) error {
	enrollment, err := e.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return notFound("enrollment", enrollmentID, err)
	}
	if enrollment.Status != models.EnrollmentActive {
		return &PolicyViolationError{Reason: fmt.Sprintf("enrollment %d is %s, not ACTIVE", enrollmentID, enrollment.Status)}
	}

	now := e.clock.Now()
	execution, err := e.store.FindDueExecution(ctx, enrollmentID, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find due execution: %w", err)
	}

	seq, err := e.store.GetSequence(ctx, enrollment.SequenceID)
	if err != nil {
		return notFound("sequence", enrollment.SequenceID, err)
	}
	lead, err := e.store.GetLead(ctx, enrollment.LeadID)
	if err != nil {
		return notFound("lead", enrollment.LeadID, err)
	}

	var step *models.SequenceStep
	for i := range seq.Steps {
		if seq.Steps[i].ID == execution.StepID {
			step = &seq.Steps[i]
			break
		}
	}
	if step == nil {
		return &NotFoundError{Entity: "sequence step", ID: execution.StepID}
	}

	if !step.Channel.CanReach(lead) {
		e.log.WithFields(logrus.Fields{
			"enrollment_id": enrollmentID,
			"step_order":    step.StepOrder,
			"channel":       step.Channel,
		}).Info("step skipped: lead lacks contact info for channel")
		return e.skipAndAdvance(ctx, seq, enrollment, execution, "lead cannot receive channel "+string(step.Channel))
	}

	// One-off single-channel campaign view; persistence-backed gates do not
	// apply to sequence sends.
	view := &models.Campaign{Channels: []models.Channel{step.Channel}}
	attemptID, routeErr := e.router.RouteContact(ctx, RouteRequest{
		Lead:             lead,
		Campaign:         view,
		Channel:          step.Channel,
		OverrideScriptID: step.ScriptID,
		Meta: channel.Meta{
			Voice:           step.Conditions.Voice,
			EmailTemplateID: step.Conditions.EmailTemplateID,
		},
	})
	if routeErr != nil {
		if execution.RetryCount < stepMaxRetries {
			execution.RetryCount++
			execution.ScheduledAt = now.Add(stepRetryDelay)
			execution.LastError = routeErr.Error()
			if err := e.store.UpdateExecution(ctx, execution); err != nil {
				return fmt.Errorf("reschedule retry for execution %d: %w", execution.ID, err)
			}
			e.log.WithFields(logrus.Fields{
				"enrollment_id": enrollmentID,
				"step_order":    execution.StepOrder,
				"retry_at":      execution.ScheduledAt,
			}).Warn("step send failed, retry scheduled")
			return nil
		}
		return e.skipAndAdvance(ctx, seq, enrollment, execution, routeErr.Error())
	}

	execution.Status = models.ExecutionSent
	execution.ExecutedAt = &now
	execution.ContactAttemptID = &attemptID
	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("mark execution %d sent: %w", execution.ID, err)
	}
	return e.advance(ctx, seq, enrollment, execution.StepOrder)
}

// skipAndAdvance closes the execution as SKIPPED and moves the enrollment on.
func (e *SequenceEngine) skipAndAdvance(ctx context.Context, seq *models.RetentionSequence, enrollment *models.SequenceEnrollment, execution *models.SequenceStepExecution, reason string) error {
	now := e.clock.Now()
	execution.Status = models.ExecutionSkipped
	execution.ExecutedAt = &now
	execution.LastError = reason
	if err := e.store.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("mark execution %d skipped: %w", execution.ID, err)
	}
	return e.advance(ctx, seq, enrollment, execution.StepOrder)
}

// advance bumps the enrollment's step counter and schedules the next active
// step in ascending order, or completes the enrollment when none remains.
func (e *SequenceEngine) advance(ctx context.Context, seq *models.RetentionSequence, enrollment *models.SequenceEnrollment, fromOrder int) error {
	enrollment.CurrentStep = fromOrder

	var next *models.SequenceStep
	for _, step := range seq.ActiveSteps() {
		if step.StepOrder > fromOrder {
			s := step
			next = &s
			break
		}
	}

	if next == nil {
		now := e.clock.Now()
		enrollment.Status = models.EnrollmentCompleted
		enrollment.CompletedAt = &now
		if err := e.store.UpdateEnrollment(ctx, enrollment); err != nil {
			return fmt.Errorf("complete enrollment %d: %w", enrollment.ID, err)
		}
		e.log.WithField("enrollment_id", enrollment.ID).Info("enrollment completed")
		return nil
	}

	if err := e.store.UpdateEnrollment(ctx, enrollment); err != nil {
		return fmt.Errorf("advance enrollment %d: %w", enrollment.ID, err)
	}
	execution := &models.SequenceStepExecution{
		EnrollmentID: enrollment.ID,
		StepID:       next.ID,
		StepOrder:    next.StepOrder,
		Status:       models.ExecutionScheduled,
		ScheduledAt:  e.clock.Now().Add(next.Delay()),
	}
	if err := e.store.CreateExecution(ctx, execution); err != nil {
		return fmt.Errorf("schedule step %d: %w", next.StepOrder, err)
	}
	return nil
}

// CheckAndAdvanceEnrollments is the cron sweep over due SCHEDULED executions
// of ACTIVE enrollments. Executions whose sequence was paused or archived
// since scheduling are silently skipped: no error, no progress.
func (e *SequenceEngine) CheckAndAdvanceEnrollments(ctx context.Context) (*SweepResult, error) {
	due, err := e.store.ListDueExecutions(ctx, e.clock.Now(), enrollmentSweepLimit)
	if err != nil {
		return nil, fmt.Errorf("list due executions: %w", err)
	}

	result := &SweepResult{}
	seen := make(map[uint]bool)
	for _, execution := range due {
		if seen[execution.EnrollmentID] {
			continue
		}
		seen[execution.EnrollmentID] = true

		enrollment, err := e.store.GetEnrollment(ctx, execution.EnrollmentID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("enrollment %d: %v", execution.EnrollmentID, err))
			continue
		}
		if enrollment.Status != models.EnrollmentActive {
			result.Skipped++
			continue
		}
		seq, err := e.store.GetSequence(ctx, enrollment.SequenceID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sequence %d: %v", enrollment.SequenceID, err))
			continue
		}
		if seq.Status != models.SequenceActive {
			result.Skipped++
			continue
		}

		if err := e.ProcessNextStep(ctx, enrollment.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("enrollment %d: %v", enrollment.ID, err))
			continue
		}
		result.Processed++
	}
	return result, nil
}

// MarkConverted flips the lead's matching ACTIVE enrollments to CONVERTED
// and skips their outstanding executions. Invoked by conversion events;
// sequenceID narrows the scope when set.
func (e *SequenceEngine) MarkConverted(ctx context.Context, leadID uint, sequenceID *uint) (int, error) {
	enrollments, err := e.store.ListEnrollmentsByLead(ctx, leadID, sequenceID, models.EnrollmentActive)
	if err != nil {
		return 0, fmt.Errorf("list active enrollments for lead %d: %w", leadID, err)
	}

	converted := 0
	now := e.clock.Now()
	for i := range enrollments {
		enrollment := enrollments[i]
		enrollment.Status = models.EnrollmentConverted
		enrollment.CompletedAt = &now
		if err := e.store.UpdateEnrollment(ctx, &enrollment); err != nil {
			return converted, fmt.Errorf("convert enrollment %d: %w", enrollment.ID, err)
		}

		open, err := e.store.ListOpenExecutions(ctx, enrollment.ID)
		if err != nil {
			return converted, fmt.Errorf("list open executions for enrollment %d: %w", enrollment.ID, err)
		}
		for j := range open {
			execution := open[j]
			execution.Status = models.ExecutionSkipped
			execution.LastError = "enrollment converted"
			if err := e.store.UpdateExecution(ctx, &execution); err != nil {
				return converted, fmt.Errorf("skip execution %d: %w", execution.ID, err)
			}
		}
		converted++
	}

	if converted > 0 {
		e.log.WithFields(logrus.Fields{
			"lead_id":   leadID,
			"converted": converted,
		}).Info("enrollments marked converted")
	}
	return converted, nil
}

// AutoEnrollByTrigger enrolls the lead into every ACTIVE sequence of the
// trigger type whose source filter matches. Already-enrolled and validation
// failures are swallowed per sequence.
func (e *SequenceEngine) AutoEnrollByTrigger(ctx context.Context, leadID uint, trigger models.TriggerType, source string) (int, error) {
	sequences, err := e.store.ListActiveSequencesByTrigger(ctx, trigger)
	if err != nil {
		return 0, fmt.Errorf("list sequences for trigger %s: %w", trigger, err)
	}

	enrolled := 0
	for i := range sequences {
		seq := sequences[i]
		if !seq.Trigger.MatchesSource(source) {
			continue
		}
		if _, err := e.EnrollLead(ctx, seq.ID, leadID); err != nil {
			var transition *InvalidTransitionError
			var policy *PolicyViolationError
			if errors.As(err, &transition) || errors.As(err, &policy) {
				e.log.WithError(err).WithFields(logrus.Fields{
					"sequence_id": seq.ID,
					"lead_id":     leadID,
				}).Debug("auto-enroll skipped")
				continue
			}
			return enrolled, err
		}
		enrolled++
	}
	return enrolled, nil
}

// MoveEnrollments shifts every enrollment of the sequence from one status to
// another, used when a sequence pauses (ACTIVE→PAUSED) or resumes.
func (e *SequenceEngine) MoveEnrollments(ctx context.Context, sequenceID uint, from, to models.EnrollmentStatus) (int, error) {
	enrollments, err := e.store.ListEnrollmentsBySequence(ctx, sequenceID, from)
	if err != nil {
		return 0, fmt.Errorf("list %s enrollments: %w", from, err)
	}
	moved := 0
	for i := range enrollments {
		enrollment := enrollments[i]
		enrollment.Status = to
		if err := e.store.UpdateEnrollment(ctx, &enrollment); err != nil {
			return moved, fmt.Errorf("move enrollment %d: %w", enrollment.ID, err)
		}
		moved++
	}
	return moved, nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// SequenceStatus with allowed transitions:
// DRAFT→ACTIVE, ACTIVE→{PAUSED,ARCHIVED}, PAUSED→{ACTIVE,ARCHIVED}, ARCHIVED→∅.
type SequenceStatus string

const (
	SequenceDraft    SequenceStatus = "DRAFT"
	SequenceActive   SequenceStatus = "ACTIVE"
	SequencePaused   SequenceStatus = "PAUSED"
	SequenceArchived SequenceStatus = "ARCHIVED"
)

func (s SequenceStatus) CanTransitionTo(next SequenceStatus) bool {
	switch s {
	case SequenceDraft:
		return next == SequenceActive
	case SequenceActive:
		return next == SequencePaused || next == SequenceArchived
	case SequencePaused:
		return next == SequenceActive || next == SequenceArchived
	}
	return false
}

// TriggerType controls how leads enter a sequence.
type TriggerType string

const (
	TriggerManual       TriggerType = "manual"
	TriggerNewLead      TriggerType = "new_lead"
	TriggerNoConversion TriggerType = "no_conversion"
)

// TriggerConfig is the typed auto-enrollment configuration, stored as jsonb.
type TriggerConfig struct {
	Sources         []string `json:"sources,omitempty"`
	LookbackMinutes *int     `json:"lookback_minutes,omitempty"` // new_lead window
	MinAgeHours     *int     `json:"min_age_hours,omitempty"`    // no_conversion cutoff
}

// MatchesSource reports whether the source passes the filter (empty = all).
func (c TriggerConfig) MatchesSource(source string) bool {
	if len(c.Sources) == 0 {
		return true
	}
	for _, s := range c.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// RetentionSequence is an ordered, delay-gated, multi-step drip program.
type RetentionSequence struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	Status      SequenceStatus `gorm:"default:'DRAFT';index" json:"status"`
	TriggerType TriggerType    `gorm:"default:'manual';index" json:"trigger_type"`
	Trigger     TriggerConfig  `gorm:"type:jsonb;serializer:json" json:"trigger"`

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// ActiveSteps returns the active steps in ascending step order.
func (s *RetentionSequence) ActiveSteps() []SequenceStep {
	var out []SequenceStep
	for _, step := range s.Steps {
		if step.IsActive {
			out = append(out, step)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StepOrder < out[j-1].StepOrder; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// DelayUnit for step delays.
type DelayUnit string

const (
	DelayHours DelayUnit = "HOURS"
	DelayDays  DelayUnit = "DAYS"
	DelayWeeks DelayUnit = "WEEKS"
)

// VoiceConfig carries per-step overrides for CALL steps.
type VoiceConfig struct {
	AgentID        string `json:"agent_id,omitempty"`
	LeaveVoicemail bool   `json:"leave_voicemail,omitempty"`
	MaxDurationSec int    `json:"max_duration_sec,omitempty"`
}

// StepConditions is the typed per-step channel override blob, stored as jsonb.
type StepConditions struct {
	Voice           *VoiceConfig `json:"voice,omitempty"`
	EmailTemplateID *uint        `json:"email_template_id,omitempty"`
}

// SequenceStep is one step of a sequence: channel, delay, optional script.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepOrder int     `gorm:"not null" json:"step_order"` // 1-based, strictly increasing
	Channel   Channel `gorm:"not null" json:"channel"`
	ScriptID  *uint   `json:"script_id,omitempty"`

	DelayValue int       `gorm:"default:0" json:"delay_value"`
	DelayUnit  DelayUnit `gorm:"default:'HOURS'" json:"delay_unit"`

	Conditions StepConditions `gorm:"type:jsonb;serializer:json" json:"conditions"`
	IsActive   bool           `gorm:"default:true" json:"is_active"`
}

// Delay converts the step's delay value and unit to a duration.
func (s *SequenceStep) Delay() time.Duration {
	d := time.Duration(s.DelayValue)
	switch s.DelayUnit {
	case DelayDays:
		return d * 24 * time.Hour
	case DelayWeeks:
		return d * 7 * 24 * time.Hour
	default:
		return d * time.Hour
	}
}

// EnrollmentStatus: ACTIVE is the only non-terminal state besides PAUSED.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "ACTIVE"
	EnrollmentPaused    EnrollmentStatus = "PAUSED"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentConverted EnrollmentStatus = "CONVERTED"
	EnrollmentCancelled EnrollmentStatus = "CANCELLED"
)

// Terminal reports whether the enrollment can never progress again.
func (s EnrollmentStatus) Terminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentConverted, EnrollmentCancelled:
		return true
	}
	return false
}

// SequenceEnrollment is one lead's run through one sequence,
// unique per (sequence, lead).
type SequenceEnrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;uniqueIndex:idx_sequence_lead" json:"sequence_id"`
	LeadID     uint `gorm:"not null;uniqueIndex:idx_sequence_lead" json:"lead_id"`

	Status      EnrollmentStatus `gorm:"default:'ACTIVE';index" json:"status"`
	CurrentStep int              `gorm:"default:0" json:"current_step"`

	EnrolledAt  time.Time  `gorm:"not null" json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relations
	Sequence   RetentionSequence       `json:"-"`
	Lead       Lead                    `json:"-"`
	Executions []SequenceStepExecution `gorm:"foreignKey:EnrollmentID" json:"executions,omitempty"`
}

// ExecutionStatus: {SCHEDULED, PENDING} → {SENT, DELIVERED, FAILED, SKIPPED}.
type ExecutionStatus string

const (
	ExecutionScheduled ExecutionStatus = "SCHEDULED"
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionSent      ExecutionStatus = "SENT"
	ExecutionDelivered ExecutionStatus = "DELIVERED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionSkipped   ExecutionStatus = "SKIPPED"
)

// Open reports whether the execution is still awaiting a send.
func (s ExecutionStatus) Open() bool {
	return s == ExecutionScheduled || s == ExecutionPending
}

// SequenceStepExecution is one step's scheduled/attempted send for one
// enrollment. RetryCount is a first-class column; one retry is allowed
// before the execution is skipped.
type SequenceStepExecution struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	StepID       uint `gorm:"not null;index" json:"step_id"`
	StepOrder    int  `gorm:"not null" json:"step_order"`

	Status      ExecutionStatus `gorm:"default:'SCHEDULED';index" json:"status"`
	ScheduledAt time.Time       `gorm:"not null;index" json:"scheduled_at"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`

	ContactAttemptID *uint `json:"contact_attempt_id,omitempty"`
	RetryCount       int   `gorm:"default:0" json:"retry_count"`
	LastError        string `gorm:"type:text" json:"last_error,omitempty"`

	// Relations
	Enrollment SequenceEnrollment `json:"-"`
	Step       SequenceStep       `json:"-"`
}

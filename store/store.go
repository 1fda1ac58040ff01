// Package store defines the persistence contract the orchestration core runs
// against. The gorm backend is the production implementation; the memory
// backend serves tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"leadpulse/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Store is the persistence contract for every entity the core touches.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *models.Lead) error
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	UpdateLead(ctx context.Context, lead *models.Lead) error
	ListLeadsCreatedSince(ctx context.Context, since time.Time, sources []string, limit int) ([]models.Lead, error)
	ListLeadsOlderThan(ctx context.Context, cutoff time.Time, sources []string, limit int) ([]models.Lead, error)

	// Conversions
	CreateConversion(ctx context.Context, conv *models.Conversion) error
	LeadsWithConversions(ctx context.Context, leadIDs []uint) (map[uint]bool, error)

	// Campaigns
	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	GetCampaign(ctx context.Context, id uint) (*models.Campaign, error)
	GetCampaignsByIDs(ctx context.Context, ids []uint) (map[uint]*models.Campaign, error)
	UpdateCampaign(ctx context.Context, campaign *models.Campaign) error
	ListAutoAssignCampaigns(ctx context.Context) ([]models.Campaign, error)

	// Campaign leads
	CreateCampaignLead(ctx context.Context, cl *models.CampaignLead) error
	GetCampaignLead(ctx context.Context, campaignID, leadID uint) (*models.CampaignLead, error)
	ListPendingCampaignLeads(ctx context.Context, campaignID uint) ([]models.CampaignLead, error)
	UpdateCampaignLeadStatus(ctx context.Context, id uint, status models.CampaignLeadStatus) error
	CountCampaignLeads(ctx context.Context, campaignID uint) (int64, error)

	// Contact attempts
	CreateAttempt(ctx context.Context, attempt *models.ContactAttempt) error
	GetAttempt(ctx context.Context, id uint) (*models.ContactAttempt, error)
	GetAttemptByProviderRef(ctx context.Context, ref string) (*models.ContactAttempt, error)
	UpdateAttempt(ctx context.Context, attempt *models.ContactAttempt) error
	// CountAttempts counts every non-CANCELLED attempt for (lead, campaign).
	// SCHEDULED bookkeeping rows count: a deferred contact holds its cap slot
	// until it is rerouted, and the closed COMPLETED row keeps holding it.
	CountAttempts(ctx context.Context, leadID, campaignID uint) (int64, error)
	// CountAttemptsBetween counts a lead's attempts in [from, to), excluding
	// CANCELLED and SCHEDULED records.
	CountAttemptsBetween(ctx context.Context, leadID uint, from, to time.Time) (int64, error)
	// LastAttemptAt returns the started_at of the lead's most recent attempt
	// in the campaign, excluding CANCELLED and SCHEDULED records. Nil when none.
	LastAttemptAt(ctx context.Context, leadID, campaignID uint) (*time.Time, error)
	ListPendingAttempts(ctx context.Context, limit int) ([]models.ContactAttempt, error)
	ListDueScheduledAttempts(ctx context.Context, now time.Time, limit int) ([]models.ContactAttempt, error)
	// CancelPendingAttempts bulk-moves PENDING attempts of a campaign to
	// CANCELLED, returning the number transitioned.
	CancelPendingAttempts(ctx context.Context, campaignID uint) (int64, error)

	// Scripts
	CreateScript(ctx context.Context, script *models.Script) error
	GetScript(ctx context.Context, id uint) (*models.Script, error)
	FindCampaignScript(ctx context.Context, campaignID uint, channel models.Channel) (*models.Script, error)
	FindDefaultScript(ctx context.Context, channel models.Channel) (*models.Script, error)

	// A/B tests
	GetActiveTest(ctx context.Context, campaignID uint, channel models.Channel) (*models.ABTest, error)
	IncrementVariantSent(ctx context.Context, variantID uint) error

	// Sequences
	CreateSequence(ctx context.Context, seq *models.RetentionSequence) error
	GetSequence(ctx context.Context, id uint) (*models.RetentionSequence, error)
	UpdateSequence(ctx context.Context, seq *models.RetentionSequence) error
	ListActiveSequencesByTrigger(ctx context.Context, trigger models.TriggerType) ([]models.RetentionSequence, error)

	// Enrollments
	CreateEnrollment(ctx context.Context, enr *models.SequenceEnrollment) error
	GetEnrollment(ctx context.Context, id uint) (*models.SequenceEnrollment, error)
	FindEnrollment(ctx context.Context, sequenceID, leadID uint) (*models.SequenceEnrollment, error)
	UpdateEnrollment(ctx context.Context, enr *models.SequenceEnrollment) error
	DeleteEnrollment(ctx context.Context, id uint) error
	// EnrolledLeadIDs returns, among leadIDs, the ids holding an ACTIVE
	// enrollment in the sequence (single query, not per-lead).
	EnrolledLeadIDs(ctx context.Context, sequenceID uint, leadIDs []uint) (map[uint]bool, error)
	ListEnrollmentsByLead(ctx context.Context, leadID uint, sequenceID *uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error)
	ListEnrollmentsBySequence(ctx context.Context, sequenceID uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error)

	// Step executions
	CreateExecution(ctx context.Context, exec *models.SequenceStepExecution) error
	UpdateExecution(ctx context.Context, exec *models.SequenceStepExecution) error
	GetExecutionByAttempt(ctx context.Context, attemptID uint) (*models.SequenceStepExecution, error)
	// FindDueExecution returns the earliest open (SCHEDULED/PENDING) execution
	// of the enrollment with scheduled_at <= now. ErrNotFound when none due.
	FindDueExecution(ctx context.Context, enrollmentID uint, now time.Time) (*models.SequenceStepExecution, error)
	ListOpenExecutions(ctx context.Context, enrollmentID uint) ([]models.SequenceStepExecution, error)
	ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]models.SequenceStepExecution, error)

	// Webhook events. RecordWebhookEvent returns false when an event with the
	// same (provider_ref, event_type) was already recorded.
	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)

	// Stats
	AttemptStatsByCampaign(ctx context.Context, campaignID uint) (map[models.AttemptStatus]int64, error)
	EnrollmentStatsBySequence(ctx context.Context, sequenceID uint) (map[models.EnrollmentStatus]int64, error)
	CountConversions(ctx context.Context, campaignID, sequenceID *uint) (int64, error)
}

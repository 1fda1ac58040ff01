package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"leadpulse/models"
)

// GormStore implements Store on top of a gorm-managed Postgres database.
// Open the connection with gorm.Config{TranslateError: true} so unique
// violations surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// Leads

func (s *GormStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	return translate(s.db.WithContext(ctx).Create(lead).Error)
}

func (s *GormStore) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).First(&lead, id).Error; err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

func (s *GormStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	return translate(s.db.WithContext(ctx).Save(lead).Error)
}

func (s *GormStore) ListLeadsCreatedSince(ctx context.Context, since time.Time, sources []string, limit int) ([]models.Lead, error) {
	q := s.db.WithContext(ctx).Where("created_at >= ?", since)
	if len(sources) > 0 {
		q = q.Where("source IN ?", sources)
	}
	var leads []models.Lead
	err := q.Order("created_at ASC").Limit(limit).Find(&leads).Error
	return leads, translate(err)
}

func (s *GormStore) ListLeadsOlderThan(ctx context.Context, cutoff time.Time, sources []string, limit int) ([]models.Lead, error) {
	q := s.db.WithContext(ctx).Where("created_at <= ?", cutoff)
	if len(sources) > 0 {
		q = q.Where("source IN ?", sources)
	}
	var leads []models.Lead
	err := q.Order("created_at ASC").Limit(limit).Find(&leads).Error
	return leads, translate(err)
}

// Conversions

func (s *GormStore) CreateConversion(ctx context.Context, conv *models.Conversion) error {
	return translate(s.db.WithContext(ctx).Create(conv).Error)
}

func (s *GormStore) LeadsWithConversions(ctx context.Context, leadIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(leadIDs))
	if len(leadIDs) == 0 {
		return out, nil
	}
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Conversion{}).
		Distinct("lead_id").
		Where("lead_id IN ?", leadIDs).
		Pluck("lead_id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// Campaigns

func (s *GormStore) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return translate(s.db.WithContext(ctx).Create(campaign).Error)
}

func (s *GormStore) GetCampaign(ctx context.Context, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		return nil, translate(err)
	}
	return &campaign, nil
}

func (s *GormStore) GetCampaignsByIDs(ctx context.Context, ids []uint) (map[uint]*models.Campaign, error) {
	out := make(map[uint]*models.Campaign, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var campaigns []models.Campaign
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&campaigns).Error; err != nil {
		return nil, translate(err)
	}
	for i := range campaigns {
		out[campaigns[i].ID] = &campaigns[i]
	}
	return out, nil
}

func (s *GormStore) UpdateCampaign(ctx context.Context, campaign *models.Campaign) error {
	return translate(s.db.WithContext(ctx).Save(campaign).Error)
}

func (s *GormStore) ListAutoAssignCampaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ? AND auto_assign IS NOT NULL", models.CampaignActive).
		Find(&campaigns).Error
	return campaigns, translate(err)
}

// Campaign leads

func (s *GormStore) CreateCampaignLead(ctx context.Context, cl *models.CampaignLead) error {
	return translate(s.db.WithContext(ctx).Create(cl).Error)
}

func (s *GormStore) GetCampaignLead(ctx context.Context, campaignID, leadID uint) (*models.CampaignLead, error) {
	var cl models.CampaignLead
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND lead_id = ?", campaignID, leadID).
		First(&cl).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cl, nil
}

func (s *GormStore) ListPendingCampaignLeads(ctx context.Context, campaignID uint) ([]models.CampaignLead, error) {
	var cls []models.CampaignLead
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, models.CampaignLeadPending).
		Find(&cls).Error
	return cls, translate(err)
}

func (s *GormStore) UpdateCampaignLeadStatus(ctx context.Context, id uint, status models.CampaignLeadStatus) error {
	return translate(s.db.WithContext(ctx).
		Model(&models.CampaignLead{}).
		Where("id = ?", id).
		Update("status", status).Error)
}

func (s *GormStore) CountCampaignLeads(ctx context.Context, campaignID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.CampaignLead{}).
		Where("campaign_id = ?", campaignID).
		Count(&count).Error
	return count, translate(err)
}

// Contact attempts

func (s *GormStore) CreateAttempt(ctx context.Context, attempt *models.ContactAttempt) error {
	return translate(s.db.WithContext(ctx).Create(attempt).Error)
}

func (s *GormStore) GetAttempt(ctx context.Context, id uint) (*models.ContactAttempt, error) {
	var attempt models.ContactAttempt
	if err := s.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, translate(err)
	}
	return &attempt, nil
}

func (s *GormStore) GetAttemptByProviderRef(ctx context.Context, ref string) (*models.ContactAttempt, error) {
	var attempt models.ContactAttempt
	err := s.db.WithContext(ctx).
		Where("provider_ref = ?", ref).
		Order("created_at DESC").
		First(&attempt).Error
	if err != nil {
		return nil, translate(err)
	}
	return &attempt, nil
}

func (s *GormStore) UpdateAttempt(ctx context.Context, attempt *models.ContactAttempt) error {
	return translate(s.db.WithContext(ctx).Save(attempt).Error)
}

func (s *GormStore) CountAttempts(ctx context.Context, leadID, campaignID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ContactAttempt{}).
		Where("lead_id = ? AND campaign_id = ? AND status <> ?", leadID, campaignID, models.AttemptCancelled).
		Count(&count).Error
	return count, translate(err)
}

func (s *GormStore) CountAttemptsBetween(ctx context.Context, leadID uint, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ContactAttempt{}).
		Where("lead_id = ? AND started_at >= ? AND started_at < ?", leadID, from, to).
		Where("status NOT IN ?", []models.AttemptStatus{models.AttemptCancelled, models.AttemptScheduled}).
		Count(&count).Error
	return count, translate(err)
}

func (s *GormStore) LastAttemptAt(ctx context.Context, leadID, campaignID uint) (*time.Time, error) {
	var attempt models.ContactAttempt
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND campaign_id = ?", leadID, campaignID).
		Where("status NOT IN ?", []models.AttemptStatus{models.AttemptCancelled, models.AttemptScheduled}).
		Order("started_at DESC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	t := attempt.StartedAt
	return &t, nil
}

func (s *GormStore) ListPendingAttempts(ctx context.Context, limit int) ([]models.ContactAttempt, error) {
	var attempts []models.ContactAttempt
	err := s.db.WithContext(ctx).
		Where("status = ?", models.AttemptPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, translate(err)
}

func (s *GormStore) ListDueScheduledAttempts(ctx context.Context, now time.Time, limit int) ([]models.ContactAttempt, error) {
	var attempts []models.ContactAttempt
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at <= ?", models.AttemptScheduled, now).
		Order("started_at ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, translate(err)
}

func (s *GormStore) CancelPendingAttempts(ctx context.Context, campaignID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ContactAttempt{}).
		Where("campaign_id = ? AND status = ?", campaignID, models.AttemptPending).
		Update("status", models.AttemptCancelled)
	return res.RowsAffected, translate(res.Error)
}

// Scripts

func (s *GormStore) CreateScript(ctx context.Context, script *models.Script) error {
	return translate(s.db.WithContext(ctx).Create(script).Error)
}

func (s *GormStore) GetScript(ctx context.Context, id uint) (*models.Script, error) {
	var script models.Script
	if err := s.db.WithContext(ctx).First(&script, id).Error; err != nil {
		return nil, translate(err)
	}
	return &script, nil
}

func (s *GormStore) FindCampaignScript(ctx context.Context, campaignID uint, channel models.Channel) (*models.Script, error) {
	var script models.Script
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND channel = ?", campaignID, channel).
		Order("created_at DESC").
		First(&script).Error
	if err != nil {
		return nil, translate(err)
	}
	return &script, nil
}

func (s *GormStore) FindDefaultScript(ctx context.Context, channel models.Channel) (*models.Script, error) {
	var script models.Script
	err := s.db.WithContext(ctx).
		Where("channel = ? AND is_default = ?", channel, true).
		Order("created_at DESC").
		First(&script).Error
	if err != nil {
		return nil, translate(err)
	}
	return &script, nil
}

// A/B tests

func (s *GormStore) GetActiveTest(ctx context.Context, campaignID uint, channel models.Channel) (*models.ABTest, error) {
	var test models.ABTest
	err := s.db.WithContext(ctx).
		Preload("Variants").
		Where("campaign_id = ? AND channel = ? AND is_active = ?", campaignID, channel, true).
		First(&test).Error
	if err != nil {
		return nil, translate(err)
	}
	return &test, nil
}

func (s *GormStore) IncrementVariantSent(ctx context.Context, variantID uint) error {
	return translate(s.db.WithContext(ctx).
		Model(&models.ABVariant{}).
		Where("id = ?", variantID).
		Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error)
}

// Sequences

func (s *GormStore) CreateSequence(ctx context.Context, seq *models.RetentionSequence) error {
	return translate(s.db.WithContext(ctx).Create(seq).Error)
}

func (s *GormStore) GetSequence(ctx context.Context, id uint) (*models.RetentionSequence, error) {
	var seq models.RetentionSequence
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		First(&seq, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &seq, nil
}

func (s *GormStore) UpdateSequence(ctx context.Context, seq *models.RetentionSequence) error {
	return translate(s.db.WithContext(ctx).Omit("Steps", "Enrollments").Save(seq).Error)
}

func (s *GormStore) ListActiveSequencesByTrigger(ctx context.Context, trigger models.TriggerType) ([]models.RetentionSequence, error) {
	var seqs []models.RetentionSequence
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Where("status = ? AND trigger_type = ?", models.SequenceActive, trigger).
		Find(&seqs).Error
	return seqs, translate(err)
}

// Enrollments

func (s *GormStore) CreateEnrollment(ctx context.Context, enr *models.SequenceEnrollment) error {
	return translate(s.db.WithContext(ctx).Create(enr).Error)
}

func (s *GormStore) GetEnrollment(ctx context.Context, id uint) (*models.SequenceEnrollment, error) {
	var enr models.SequenceEnrollment
	if err := s.db.WithContext(ctx).First(&enr, id).Error; err != nil {
		return nil, translate(err)
	}
	return &enr, nil
}

func (s *GormStore) FindEnrollment(ctx context.Context, sequenceID, leadID uint) (*models.SequenceEnrollment, error) {
	var enr models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND lead_id = ?", sequenceID, leadID).
		First(&enr).Error
	if err != nil {
		return nil, translate(err)
	}
	return &enr, nil
}

func (s *GormStore) UpdateEnrollment(ctx context.Context, enr *models.SequenceEnrollment) error {
	return translate(s.db.WithContext(ctx).Omit("Executions").Save(enr).Error)
}

func (s *GormStore) DeleteEnrollment(ctx context.Context, id uint) error {
	return translate(s.db.WithContext(ctx).
		Unscoped().
		Delete(&models.SequenceEnrollment{}, id).Error)
}

func (s *GormStore) EnrolledLeadIDs(ctx context.Context, sequenceID uint, leadIDs []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(leadIDs))
	if len(leadIDs) == 0 {
		return out, nil
	}
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND status = ? AND lead_id IN ?", sequenceID, models.EnrollmentActive, leadIDs).
		Pluck("lead_id", &ids).Error
	if err != nil {
		return nil, translate(err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *GormStore) ListEnrollmentsByLead(ctx context.Context, leadID uint, sequenceID *uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error) {
	q := s.db.WithContext(ctx).Where("lead_id = ? AND status = ?", leadID, status)
	if sequenceID != nil {
		q = q.Where("sequence_id = ?", *sequenceID)
	}
	var enrs []models.SequenceEnrollment
	err := q.Find(&enrs).Error
	return enrs, translate(err)
}

func (s *GormStore) ListEnrollmentsBySequence(ctx context.Context, sequenceID uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error) {
	var enrs []models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND status = ?", sequenceID, status).
		Find(&enrs).Error
	return enrs, translate(err)
}

// Step executions

func (s *GormStore) CreateExecution(ctx context.Context, exec *models.SequenceStepExecution) error {
	return translate(s.db.WithContext(ctx).Create(exec).Error)
}

func (s *GormStore) UpdateExecution(ctx context.Context, exec *models.SequenceStepExecution) error {
	return translate(s.db.WithContext(ctx).Save(exec).Error)
}

func (s *GormStore) GetExecutionByAttempt(ctx context.Context, attemptID uint) (*models.SequenceStepExecution, error) {
	var exec models.SequenceStepExecution
	err := s.db.WithContext(ctx).
		Where("contact_attempt_id = ?", attemptID).
		First(&exec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &exec, nil
}

func (s *GormStore) FindDueExecution(ctx context.Context, enrollmentID uint, now time.Time) (*models.SequenceStepExecution, error) {
	var exec models.SequenceStepExecution
	err := s.db.WithContext(ctx).
		Where("enrollment_id = ? AND scheduled_at <= ?", enrollmentID, now).
		Where("status IN ?", []models.ExecutionStatus{models.ExecutionScheduled, models.ExecutionPending}).
		Order("step_order ASC").
		First(&exec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &exec, nil
}

func (s *GormStore) ListOpenExecutions(ctx context.Context, enrollmentID uint) ([]models.SequenceStepExecution, error) {
	var execs []models.SequenceStepExecution
	err := s.db.WithContext(ctx).
		Where("enrollment_id = ?", enrollmentID).
		Where("status IN ?", []models.ExecutionStatus{models.ExecutionScheduled, models.ExecutionPending}).
		Order("step_order ASC").
		Find(&execs).Error
	return execs, translate(err)
}

func (s *GormStore) ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]models.SequenceStepExecution, error) {
	var execs []models.SequenceStepExecution
	err := s.db.WithContext(ctx).
		Where("scheduled_at <= ? AND status = ?", now, models.ExecutionScheduled).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&execs).Error
	return execs, translate(err)
}

// Webhook events

func (s *GormStore) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	err := s.db.WithContext(ctx).Create(event).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, translate(err)
	}
	return true, nil
}

// Stats

func (s *GormStore) AttemptStatsByCampaign(ctx context.Context, campaignID uint) (map[models.AttemptStatus]int64, error) {
	var rows []struct {
		Status models.AttemptStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.ContactAttempt{}).
		Select("status, count(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	stats := make(map[models.AttemptStatus]int64, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

func (s *GormStore) EnrollmentStatsBySequence(ctx context.Context, sequenceID uint) (map[models.EnrollmentStatus]int64, error) {
	var rows []struct {
		Status models.EnrollmentStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Select("status, count(*) as count").
		Where("sequence_id = ?", sequenceID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	stats := make(map[models.EnrollmentStatus]int64, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

func (s *GormStore) CountConversions(ctx context.Context, campaignID, sequenceID *uint) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversion{})
	if campaignID != nil {
		q = q.Where("campaign_id = ?", *campaignID)
	}
	if sequenceID != nil {
		q = q.Where("sequence_id = ?", *sequenceID)
	}
	var count int64
	err := q.Count(&count).Error
	return count, translate(err)
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadpulse/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs the engine tests
// and local development without a Postgres instance. It enforces the same
// unique constraints as the gorm backend.
type MemoryStore struct {
	mu sync.Mutex

	nextID uint
	now    func() time.Time

	leads         map[uint]models.Lead
	conversions   map[uint]models.Conversion
	campaigns     map[uint]models.Campaign
	campaignLeads map[uint]models.CampaignLead
	attempts      map[uint]models.ContactAttempt
	scripts       map[uint]models.Script
	tests         map[uint]models.ABTest
	variants      map[uint]models.ABVariant
	sequences     map[uint]models.RetentionSequence
	steps         map[uint]models.SequenceStep
	enrollments   map[uint]models.SequenceEnrollment
	executions    map[uint]models.SequenceStepExecution
	webhookEvents map[string]models.WebhookEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		leads:         make(map[uint]models.Lead),
		conversions:   make(map[uint]models.Conversion),
		campaigns:     make(map[uint]models.Campaign),
		campaignLeads: make(map[uint]models.CampaignLead),
		attempts:      make(map[uint]models.ContactAttempt),
		scripts:       make(map[uint]models.Script),
		tests:         make(map[uint]models.ABTest),
		variants:      make(map[uint]models.ABVariant),
		sequences:     make(map[uint]models.RetentionSequence),
		steps:         make(map[uint]models.SequenceStep),
		enrollments:   make(map[uint]models.SequenceEnrollment),
		executions:    make(map[uint]models.SequenceStepExecution),
		webhookEvents: make(map[string]models.WebhookEvent),
	}
}

func (s *MemoryStore) nextIDLocked() uint {
	s.nextID++
	return s.nextID
}

// Leads

func (s *MemoryStore) CreateLead(_ context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead.ID = s.nextIDLocked()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = s.now()
	}
	s.leads[lead.ID] = *lead
	return nil
}

func (s *MemoryStore) GetLead(_ context.Context, id uint) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &lead, nil
}

func (s *MemoryStore) UpdateLead(_ context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.ID]; !ok {
		return ErrNotFound
	}
	s.leads[lead.ID] = *lead
	return nil
}

func matchSource(sources []string, source string) bool {
	if len(sources) == 0 {
		return true
	}
	for _, s := range sources {
		if s == source {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ListLeadsCreatedSince(_ context.Context, since time.Time, sources []string, limit int) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lead
	for _, lead := range s.leads {
		if !lead.CreatedAt.Before(since) && matchSource(sources, lead.Source) {
			out = append(out, lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListLeadsOlderThan(_ context.Context, cutoff time.Time, sources []string, limit int) ([]models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Lead
	for _, lead := range s.leads {
		if !lead.CreatedAt.After(cutoff) && matchSource(sources, lead.Source) {
			out = append(out, lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Conversions

func (s *MemoryStore) CreateConversion(_ context.Context, conv *models.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv.ID = s.nextIDLocked()
	conv.CreatedAt = s.now()
	s.conversions[conv.ID] = *conv
	return nil
}

func (s *MemoryStore) LeadsWithConversions(_ context.Context, leadIDs []uint) (map[uint]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uint]bool, len(leadIDs))
	for _, id := range leadIDs {
		want[id] = true
	}
	out := make(map[uint]bool)
	for _, conv := range s.conversions {
		if want[conv.LeadID] {
			out[conv.LeadID] = true
		}
	}
	return out, nil
}

// Campaigns

func (s *MemoryStore) CreateCampaign(_ context.Context, campaign *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	campaign.ID = s.nextIDLocked()
	campaign.CreatedAt = s.now()
	s.campaigns[campaign.ID] = *campaign
	return nil
}

func (s *MemoryStore) GetCampaign(_ context.Context, id uint) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	campaign, ok := s.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &campaign, nil
}

func (s *MemoryStore) GetCampaignsByIDs(_ context.Context, ids []uint) (map[uint]*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint]*models.Campaign, len(ids))
	for _, id := range ids {
		if campaign, ok := s.campaigns[id]; ok {
			c := campaign
			out[id] = &c
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateCampaign(_ context.Context, campaign *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[campaign.ID]; !ok {
		return ErrNotFound
	}
	s.campaigns[campaign.ID] = *campaign
	return nil
}

func (s *MemoryStore) ListAutoAssignCampaigns(_ context.Context) ([]models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Campaign
	for _, campaign := range s.campaigns {
		if campaign.Status == models.CampaignActive && campaign.AutoAssign != nil {
			out = append(out, campaign)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Campaign leads

func (s *MemoryStore) CreateCampaignLead(_ context.Context, cl *models.CampaignLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.campaignLeads {
		if have.CampaignID == cl.CampaignID && have.LeadID == cl.LeadID {
			return ErrDuplicate
		}
	}
	cl.ID = s.nextIDLocked()
	cl.CreatedAt = s.now()
	if cl.Status == "" {
		cl.Status = models.CampaignLeadPending
	}
	s.campaignLeads[cl.ID] = *cl
	return nil
}

func (s *MemoryStore) GetCampaignLead(_ context.Context, campaignID, leadID uint) (*models.CampaignLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cl := range s.campaignLeads {
		if cl.CampaignID == campaignID && cl.LeadID == leadID {
			c := cl
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListPendingCampaignLeads(_ context.Context, campaignID uint) ([]models.CampaignLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CampaignLead
	for _, cl := range s.campaignLeads {
		if cl.CampaignID == campaignID && cl.Status == models.CampaignLeadPending {
			out = append(out, cl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateCampaignLeadStatus(_ context.Context, id uint, status models.CampaignLeadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.campaignLeads[id]
	if !ok {
		return ErrNotFound
	}
	cl.Status = status
	s.campaignLeads[id] = cl
	return nil
}

func (s *MemoryStore) CountCampaignLeads(_ context.Context, campaignID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, cl := range s.campaignLeads {
		if cl.CampaignID == campaignID {
			count++
		}
	}
	return count, nil
}

// Contact attempts

func (s *MemoryStore) CreateAttempt(_ context.Context, attempt *models.ContactAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt.ID = s.nextIDLocked()
	attempt.CreatedAt = s.now()
	if attempt.Status == "" {
		attempt.Status = models.AttemptPending
	}
	s.attempts[attempt.ID] = *attempt
	return nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, id uint) (*models.ContactAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &attempt, nil
}

func (s *MemoryStore) GetAttemptByProviderRef(_ context.Context, ref string) (*models.ContactAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.ContactAttempt
	for _, attempt := range s.attempts {
		if attempt.ProviderRef == ref {
			a := attempt
			if found == nil || a.CreatedAt.After(found.CreatedAt) {
				found = &a
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) UpdateAttempt(_ context.Context, attempt *models.ContactAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attempt.ID]; !ok {
		return ErrNotFound
	}
	s.attempts[attempt.ID] = *attempt
	return nil
}

func (s *MemoryStore) CountAttempts(_ context.Context, leadID, campaignID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, attempt := range s.attempts {
		if attempt.LeadID == leadID && attempt.CampaignID != nil && *attempt.CampaignID == campaignID &&
			attempt.Status != models.AttemptCancelled {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountAttemptsBetween(_ context.Context, leadID uint, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, attempt := range s.attempts {
		if attempt.LeadID != leadID {
			continue
		}
		if attempt.Status == models.AttemptCancelled || attempt.Status == models.AttemptScheduled {
			continue
		}
		if !attempt.StartedAt.Before(from) && attempt.StartedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) LastAttemptAt(_ context.Context, leadID, campaignID uint) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, attempt := range s.attempts {
		if attempt.LeadID != leadID || attempt.CampaignID == nil || *attempt.CampaignID != campaignID {
			continue
		}
		if attempt.Status == models.AttemptCancelled || attempt.Status == models.AttemptScheduled {
			continue
		}
		t := attempt.StartedAt
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	return last, nil
}

func (s *MemoryStore) ListPendingAttempts(_ context.Context, limit int) ([]models.ContactAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ContactAttempt
	for _, attempt := range s.attempts {
		if attempt.Status == models.AttemptPending {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListDueScheduledAttempts(_ context.Context, now time.Time, limit int) ([]models.ContactAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ContactAttempt
	for _, attempt := range s.attempts {
		if attempt.Status == models.AttemptScheduled && !attempt.StartedAt.After(now) {
			out = append(out, attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CancelPendingAttempts(_ context.Context, campaignID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, attempt := range s.attempts {
		if attempt.CampaignID != nil && *attempt.CampaignID == campaignID && attempt.Status == models.AttemptPending {
			attempt.Status = models.AttemptCancelled
			s.attempts[id] = attempt
			count++
		}
	}
	return count, nil
}

// Scripts

func (s *MemoryStore) CreateScript(_ context.Context, script *models.Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	script.ID = s.nextIDLocked()
	script.CreatedAt = s.now()
	s.scripts[script.ID] = *script
	return nil
}

func (s *MemoryStore) GetScript(_ context.Context, id uint) (*models.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	script, ok := s.scripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &script, nil
}

func (s *MemoryStore) FindCampaignScript(_ context.Context, campaignID uint, channel models.Channel) (*models.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Script
	for _, script := range s.scripts {
		if script.CampaignID != nil && *script.CampaignID == campaignID && script.Channel == channel {
			sc := script
			if found == nil || sc.CreatedAt.After(found.CreatedAt) {
				found = &sc
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) FindDefaultScript(_ context.Context, channel models.Channel) (*models.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Script
	for _, script := range s.scripts {
		if script.IsDefault && script.Channel == channel {
			sc := script
			if found == nil || sc.CreatedAt.After(found.CreatedAt) {
				found = &sc
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// A/B tests

// AddTest seeds a test and its variants (test helper).
func (s *MemoryStore) AddTest(test models.ABTest) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	test.ID = s.nextIDLocked()
	for i := range test.Variants {
		test.Variants[i].ID = s.nextIDLocked()
		test.Variants[i].TestID = test.ID
		s.variants[test.Variants[i].ID] = test.Variants[i]
	}
	s.tests[test.ID] = test
	return test.ID
}

func (s *MemoryStore) GetActiveTest(_ context.Context, campaignID uint, channel models.Channel) (*models.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, test := range s.tests {
		if test.CampaignID == campaignID && test.Channel == channel && test.IsActive {
			t := test
			t.Variants = nil
			for _, v := range s.variants {
				if v.TestID == t.ID {
					t.Variants = append(t.Variants, v)
				}
			}
			sort.Slice(t.Variants, func(i, j int) bool { return t.Variants[i].ID < t.Variants[j].ID })
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) IncrementVariantSent(_ context.Context, variantID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantID]
	if !ok {
		return ErrNotFound
	}
	v.SentCount++
	s.variants[variantID] = v
	return nil
}

// Sequences

func (s *MemoryStore) CreateSequence(_ context.Context, seq *models.RetentionSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq.ID = s.nextIDLocked()
	seq.CreatedAt = s.now()
	for i := range seq.Steps {
		seq.Steps[i].ID = s.nextIDLocked()
		seq.Steps[i].SequenceID = seq.ID
		s.steps[seq.Steps[i].ID] = seq.Steps[i]
	}
	s.sequences[seq.ID] = *seq
	return nil
}

func (s *MemoryStore) sequenceWithStepsLocked(id uint) (models.RetentionSequence, bool) {
	seq, ok := s.sequences[id]
	if !ok {
		return seq, false
	}
	seq.Steps = nil
	for _, step := range s.steps {
		if step.SequenceID == id {
			seq.Steps = append(seq.Steps, step)
		}
	}
	sort.Slice(seq.Steps, func(i, j int) bool { return seq.Steps[i].StepOrder < seq.Steps[j].StepOrder })
	return seq, true
}

func (s *MemoryStore) GetSequence(_ context.Context, id uint) (*models.RetentionSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequenceWithStepsLocked(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &seq, nil
}

func (s *MemoryStore) UpdateSequence(_ context.Context, seq *models.RetentionSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	have, ok := s.sequences[seq.ID]
	if !ok {
		return ErrNotFound
	}
	have.Name = seq.Name
	have.Description = seq.Description
	have.Status = seq.Status
	have.TriggerType = seq.TriggerType
	have.Trigger = seq.Trigger
	s.sequences[seq.ID] = have
	return nil
}

func (s *MemoryStore) ListActiveSequencesByTrigger(_ context.Context, trigger models.TriggerType) ([]models.RetentionSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RetentionSequence
	for id, seq := range s.sequences {
		if seq.Status == models.SequenceActive && seq.TriggerType == trigger {
			withSteps, _ := s.sequenceWithStepsLocked(id)
			out = append(out, withSteps)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Enrollments

func (s *MemoryStore) CreateEnrollment(_ context.Context, enr *models.SequenceEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.enrollments {
		if have.SequenceID == enr.SequenceID && have.LeadID == enr.LeadID {
			return ErrDuplicate
		}
	}
	enr.ID = s.nextIDLocked()
	enr.CreatedAt = s.now()
	if enr.Status == "" {
		enr.Status = models.EnrollmentActive
	}
	s.enrollments[enr.ID] = *enr
	return nil
}

func (s *MemoryStore) GetEnrollment(_ context.Context, id uint) (*models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enr, ok := s.enrollments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &enr, nil
}

func (s *MemoryStore) FindEnrollment(_ context.Context, sequenceID, leadID uint) (*models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, enr := range s.enrollments {
		if enr.SequenceID == sequenceID && enr.LeadID == leadID {
			e := enr
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateEnrollment(_ context.Context, enr *models.SequenceEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrollments[enr.ID]; !ok {
		return ErrNotFound
	}
	saved := *enr
	saved.Executions = nil
	s.enrollments[enr.ID] = saved
	return nil
}

func (s *MemoryStore) DeleteEnrollment(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrollments[id]; !ok {
		return ErrNotFound
	}
	delete(s.enrollments, id)
	return nil
}

func (s *MemoryStore) EnrolledLeadIDs(_ context.Context, sequenceID uint, leadIDs []uint) (map[uint]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uint]bool, len(leadIDs))
	for _, id := range leadIDs {
		want[id] = true
	}
	out := make(map[uint]bool)
	for _, enr := range s.enrollments {
		if enr.SequenceID == sequenceID && enr.Status == models.EnrollmentActive && want[enr.LeadID] {
			out[enr.LeadID] = true
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEnrollmentsByLead(_ context.Context, leadID uint, sequenceID *uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceEnrollment
	for _, enr := range s.enrollments {
		if enr.LeadID != leadID || enr.Status != status {
			continue
		}
		if sequenceID != nil && enr.SequenceID != *sequenceID {
			continue
		}
		out = append(out, enr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListEnrollmentsBySequence(_ context.Context, sequenceID uint, status models.EnrollmentStatus) ([]models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceEnrollment
	for _, enr := range s.enrollments {
		if enr.SequenceID == sequenceID && enr.Status == status {
			out = append(out, enr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Step executions

func (s *MemoryStore) CreateExecution(_ context.Context, exec *models.SequenceStepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec.ID = s.nextIDLocked()
	exec.CreatedAt = s.now()
	if exec.Status == "" {
		exec.Status = models.ExecutionScheduled
	}
	s.executions[exec.ID] = *exec
	return nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, exec *models.SequenceStepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return ErrNotFound
	}
	s.executions[exec.ID] = *exec
	return nil
}

func (s *MemoryStore) GetExecutionByAttempt(_ context.Context, attemptID uint) (*models.SequenceStepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, exec := range s.executions {
		if exec.ContactAttemptID != nil && *exec.ContactAttemptID == attemptID {
			e := exec
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindDueExecution(_ context.Context, enrollmentID uint, now time.Time) (*models.SequenceStepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.SequenceStepExecution
	for _, exec := range s.executions {
		if exec.EnrollmentID != enrollmentID || !exec.Status.Open() || exec.ScheduledAt.After(now) {
			continue
		}
		e := exec
		if found == nil || e.StepOrder < found.StepOrder {
			found = &e
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) ListOpenExecutions(_ context.Context, enrollmentID uint) ([]models.SequenceStepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceStepExecution
	for _, exec := range s.executions {
		if exec.EnrollmentID == enrollmentID && exec.Status.Open() {
			out = append(out, exec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

// ExecutionsByEnrollment returns every execution of the enrollment in step
// order, regardless of status. Inspection helper outside the Store interface.
func (s *MemoryStore) ExecutionsByEnrollment(enrollmentID uint) []models.SequenceStepExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceStepExecution
	for _, exec := range s.executions {
		if exec.EnrollmentID == enrollmentID {
			out = append(out, exec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StepOrder != out[j].StepOrder {
			return out[i].StepOrder < out[j].StepOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) ListDueExecutions(_ context.Context, now time.Time, limit int) ([]models.SequenceStepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceStepExecution
	for _, exec := range s.executions {
		if exec.Status == models.ExecutionScheduled && !exec.ScheduledAt.After(now) {
			out = append(out, exec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Webhook events

func (s *MemoryStore) RecordWebhookEvent(_ context.Context, event *models.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := event.ProviderRef + "|" + event.EventType
	if _, ok := s.webhookEvents[key]; ok {
		return false, nil
	}
	event.ID = s.nextIDLocked()
	event.CreatedAt = s.now()
	s.webhookEvents[key] = *event
	return true, nil
}

// Stats

func (s *MemoryStore) AttemptStatsByCampaign(_ context.Context, campaignID uint) (map[models.AttemptStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[models.AttemptStatus]int64)
	for _, attempt := range s.attempts {
		if attempt.CampaignID != nil && *attempt.CampaignID == campaignID {
			stats[attempt.Status]++
		}
	}
	return stats, nil
}

func (s *MemoryStore) EnrollmentStatsBySequence(_ context.Context, sequenceID uint) (map[models.EnrollmentStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[models.EnrollmentStatus]int64)
	for _, enr := range s.enrollments {
		if enr.SequenceID == sequenceID {
			stats[enr.Status]++
		}
	}
	return stats, nil
}

func (s *MemoryStore) CountConversions(_ context.Context, campaignID, sequenceID *uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, conv := range s.conversions {
		if campaignID != nil && (conv.CampaignID == nil || *conv.CampaignID != *campaignID) {
			continue
		}
		if sequenceID != nil && (conv.SequenceID == nil || *conv.SequenceID != *sequenceID) {
			continue
		}
		count++
	}
	return count, nil
}

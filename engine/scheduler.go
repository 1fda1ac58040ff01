package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"leadpulse/models"
	"leadpulse/store"
)

// scheduledSweepLimit caps how many due SCHEDULED attempts one sweep handles.
const scheduledSweepLimit = 100

// Scheduler gates sends on contact windows and rate limits, computes the
// next available send slot, and sweeps due scheduled attempts.
type Scheduler struct {
	store store.Store
	clock Clock
	log   *logrus.Entry
}

func NewScheduler(st store.Store, clock Clock, log *logrus.Entry) *Scheduler {
	return &Scheduler{store: st, clock: clock, log: log}
}

// IsWithinSchedule reports whether the campaign's contact window allows a
// send right now. A campaign with no hours/days configured is always open.
func (s *Scheduler) IsWithinSchedule(ctx context.Context, campaignID uint) (bool, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, notFound("campaign", campaignID, err)
	}
	return WithinSchedule(campaign.Schedule, s.clock.Now()), nil
}

// WithinSchedule evaluates the contact window against now, in the configured
// timezone. Pure function of (config, time).
func WithinSchedule(cfg models.ScheduleConfig, now time.Time) bool {
	if !cfg.HasWindow() {
		return true
	}
	local := now.In(cfg.Location())
	return cfg.DayAllowed(local.Weekday()) && cfg.HourAllowed(local.Hour())
}

// CanContactLead checks the per-day contact cap and the between-channels
// delay. The count is a check-then-act read against the ledger: concurrent
// callers can transiently exceed a cap (accepted marketing-cadence behavior).
func (s *Scheduler) CanContactLead(ctx context.Context, leadID, campaignID uint) (bool, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return false, notFound("campaign", campaignID, err)
	}
	cfg := campaign.Schedule
	now := s.clock.Now().In(cfg.Location())

	if cfg.MaxContactsPerDay != nil {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		count, err := s.store.CountAttemptsBetween(ctx, leadID, dayStart, dayStart.Add(24*time.Hour))
		if err != nil {
			return false, fmt.Errorf("count attempts for lead %d: %w", leadID, err)
		}
		if count >= int64(*cfg.MaxContactsPerDay) {
			return false, nil
		}
	}

	if cfg.DelayBetweenChannels != nil {
		last, err := s.store.LastAttemptAt(ctx, leadID, campaignID)
		if err != nil {
			return false, fmt.Errorf("last attempt for lead %d: %w", leadID, err)
		}
		if last != nil {
			elapsed := s.clock.Now().Sub(*last)
			if elapsed < time.Duration(*cfg.DelayBetweenChannels)*time.Hour {
				return false, nil
			}
		}
	}

	return true, nil
}

// NextAvailableSlot returns the first hourly candidate within seven days
// that satisfies the configured day/hour constraints, starting from the next
// whole hour. If nothing matches it falls back to tomorrow at the configured
// start hour (09:00 when unset). Pure function of (config, now).
func NextAvailableSlot(cfg models.ScheduleConfig, now time.Time) time.Time {
	local := now.In(cfg.Location())
	// Built on the local clock; Truncate works on absolute time and lands at
	// :30 in half-hour-offset zones.
	candidate := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, local.Location()).Add(time.Hour)

	for i := 0; i < 7*24; i++ {
		if cfg.DayAllowed(candidate.Weekday()) && cfg.HourAllowed(candidate.Hour()) {
			return candidate
		}
		candidate = candidate.Add(time.Hour)
	}

	startHour := 9
	if cfg.ContactHoursStart != nil {
		startHour = *cfg.ContactHoursStart
	}
	tomorrow := local.Add(24 * time.Hour)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), startHour, 0, 0, 0, local.Location())
}

// NextSlotForCampaign loads the campaign config and computes the next slot.
func (s *Scheduler) NextSlotForCampaign(ctx context.Context, campaignID uint) (time.Time, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return time.Time{}, notFound("campaign", campaignID, err)
	}
	return NextAvailableSlot(campaign.Schedule, s.clock.Now()), nil
}

// ScheduleContact creates a SCHEDULED attempt for a future slot, resolving
// the script from the campaign-specific script or the per-channel default.
func (s *Scheduler) ScheduleContact(ctx context.Context, leadID, campaignID uint, ch models.Channel, scheduledAt time.Time) (*models.ContactAttempt, error) {
	script, err := s.store.FindCampaignScript(ctx, campaignID, ch)
	if errors.Is(err, store.ErrNotFound) {
		script, err = s.store.FindDefaultScript(ctx, ch)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Entity: "script"}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve script for %s: %w", ch, err)
	}

	attempt := &models.ContactAttempt{
		LeadID:     leadID,
		CampaignID: &campaignID,
		Channel:    ch,
		ScriptID:   script.ID,
		Status:     models.AttemptScheduled,
		StartedAt:  scheduledAt,
	}
	if err := s.store.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("create scheduled attempt: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"lead_id":      leadID,
		"campaign_id":  campaignID,
		"channel":      ch,
		"scheduled_at": scheduledAt,
	}).Info("contact scheduled")
	return attempt, nil
}

// SweepResult reports a batch sweep's outcome.
type SweepResult struct {
	Processed int
	Skipped   int
	Errors    []string
}

// ProcessScheduledContacts is the cron sweep over due SCHEDULED attempts.
// Each due attempt is re-routed through the router as a fresh attempt; the
// original record is closed as COMPLETED or FAILED bookkeeping either way.
// Attempts of PAUSED campaigns are left untouched for a later sweep.
func (s *Scheduler) ProcessScheduledContacts(ctx context.Context, router *Router) (*SweepResult, error) {
	due, err := s.store.ListDueScheduledAttempts(ctx, s.clock.Now(), scheduledSweepLimit)
	if err != nil {
		return nil, fmt.Errorf("list due scheduled attempts: %w", err)
	}

	var campaignIDs []uint
	for _, attempt := range due {
		if attempt.CampaignID != nil {
			campaignIDs = append(campaignIDs, *attempt.CampaignID)
		}
	}
	campaigns, err := s.store.GetCampaignsByIDs(ctx, campaignIDs)
	if err != nil {
		return nil, fmt.Errorf("load campaigns for sweep: %w", err)
	}

	result := &SweepResult{}
	for i := range due {
		attempt := due[i]

		if attempt.CampaignID != nil {
			if campaign, ok := campaigns[*attempt.CampaignID]; ok && campaign.Status == models.CampaignPaused {
				result.Skipped++
				continue
			}
		}

		routeErr := s.reroute(ctx, &attempt, router)

		now := s.clock.Now()
		attempt.CompletedAt = &now
		if routeErr != nil {
			attempt.Status = models.AttemptFailed
			attempt.Notes = routeErr.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %v", attempt.ID, routeErr))
		} else {
			attempt.Status = models.AttemptCompleted
		}
		if err := s.store.UpdateAttempt(ctx, &attempt); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("close attempt %d: %v", attempt.ID, err))
			continue
		}
		result.Processed++
	}

	if result.Processed > 0 || len(result.Errors) > 0 {
		s.log.WithFields(logrus.Fields{
			"processed": result.Processed,
			"skipped":   result.Skipped,
			"errors":    len(result.Errors),
		}).Info("scheduled contact sweep finished")
	}
	return result, nil
}

func (s *Scheduler) reroute(ctx context.Context, attempt *models.ContactAttempt, router *Router) error {
	if attempt.CampaignID == nil {
		return fmt.Errorf("scheduled attempt %d has no campaign", attempt.ID)
	}
	_, err := router.RouteContactByID(ctx, attempt.LeadID, *attempt.CampaignID, attempt.Channel, nil)
	return err
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"leadpulse/abtest"
	"leadpulse/channel"
	"leadpulse/models"
	"leadpulse/store"
)

const (
	// queueBatchSize caps how many PENDING attempts one queue sweep dispatches.
	queueBatchSize = 50
	// defaultMaxContactsPerLead applies when a campaign leaves the cap unset.
	defaultMaxContactsPerLead = 5
)

// Router resolves the script, gates on the scheduler, creates contact
// attempts and dispatches them to the channel adapters.
type Router struct {
	store     store.Store
	adapters  *channel.Registry
	selector  abtest.Selector
	scheduler *Scheduler
	clock     Clock
	log       *logrus.Entry

	// dispatchInline controls whether RouteContact sends synchronously or
	// leaves the attempt PENDING for the queue sweep.
	dispatchInline bool

	// pendingSink, when set, receives EMAIL attempts left PENDING so the
	// batcher can dispatch them in bulk.
	pendingSink func(attemptID uint)
}

func NewRouter(st store.Store, adapters *channel.Registry, selector abtest.Selector, scheduler *Scheduler, clock Clock, log *logrus.Entry) *Router {
	return &Router{
		store:          st,
		adapters:       adapters,
		selector:       selector,
		scheduler:      scheduler,
		clock:          clock,
		log:            log,
		dispatchInline: true,
	}
}

// SetInlineDispatch switches between synchronous dispatch and queue-backed
// dispatch. Callers of RouteContact must tolerate either latency.
func (r *Router) SetInlineDispatch(inline bool) { r.dispatchInline = inline }

// SetPendingSink diverts EMAIL attempts into a buffer for batched dispatch.
func (r *Router) SetPendingSink(sink func(attemptID uint)) { r.pendingSink = sink }

// RouteRequest describes one send the router should decide on. Campaign may
// be a persisted record or a synthetic single-channel view (ID zero) built by
// the sequence engine; the persistence-backed gates only apply to the former.
type RouteRequest struct {
	Lead             *models.Lead
	Campaign         *models.Campaign
	Channel          models.Channel
	OverrideScriptID *uint
	Meta             channel.Meta
}

// RouteContact decides whether and how to contact the lead on the channel.
// Outside-schedule and rate-limited sends are deferred into a SCHEDULED
// attempt rather than rejected. The returned id is the attempt created,
// including the FAILED attempt when dispatch errors (the error is returned
// alongside so callers can apply their retry policy).
func (r *Router) RouteContact(ctx context.Context, req RouteRequest) (uint, error) {
	if !req.Channel.Valid() {
		return 0, fmt.Errorf("invalid channel %q", req.Channel)
	}
	lead, campaign := req.Lead, req.Campaign

	if !lead.Contactable() {
		return 0, &PolicyViolationError{Reason: fmt.Sprintf("lead %d is marked do-not-contact", lead.ID)}
	}

	persisted := campaign != nil && campaign.ID != 0
	if persisted {
		maxPerLead := campaign.MaxContactsPerLead
		if maxPerLead <= 0 {
			maxPerLead = defaultMaxContactsPerLead
		}
		count, err := r.store.CountAttempts(ctx, lead.ID, campaign.ID)
		if err != nil {
			return 0, fmt.Errorf("count attempts: %w", err)
		}
		if count >= int64(maxPerLead) {
			return 0, &PolicyViolationError{
				Reason: fmt.Sprintf("lead %d reached max contacts (%d) for campaign %d", lead.ID, maxPerLead, campaign.ID),
			}
		}

		within := WithinSchedule(campaign.Schedule, r.clock.Now())
		allowed := true
		if within {
			var err error
			allowed, err = r.scheduler.CanContactLead(ctx, lead.ID, campaign.ID)
			if err != nil {
				return 0, err
			}
		}
		if !within || !allowed {
			slot := NextAvailableSlot(campaign.Schedule, r.clock.Now())
			scheduled, err := r.scheduler.ScheduleContact(ctx, lead.ID, campaign.ID, req.Channel, slot)
			if err != nil {
				return 0, err
			}
			return scheduled.ID, nil
		}
	}

	script, err := r.resolveScript(ctx, req)
	if err != nil {
		return 0, err
	}

	attempt := &models.ContactAttempt{
		LeadID:    lead.ID,
		Channel:   req.Channel,
		ScriptID:  script.ID,
		Provider:  string(req.Channel),
		Status:    models.AttemptPending,
		StartedAt: r.clock.Now(),
	}
	if persisted {
		id := campaign.ID
		attempt.CampaignID = &id
	}
	if err := r.store.CreateAttempt(ctx, attempt); err != nil {
		return 0, fmt.Errorf("create attempt: %w", err)
	}

	if persisted && attempt.Channel == models.ChannelEmail && r.pendingSink != nil {
		r.pendingSink(attempt.ID)
		return attempt.ID, nil
	}
	if !r.dispatchInline {
		return attempt.ID, nil
	}

	meta := req.Meta
	meta.AttemptID = attempt.ID
	meta.CampaignID = attempt.CampaignID
	if err := r.dispatch(ctx, attempt, lead, script, meta); err != nil {
		return attempt.ID, err
	}
	return attempt.ID, nil
}

// RouteContactByID loads the lead and campaign before routing.
func (r *Router) RouteContactByID(ctx context.Context, leadID, campaignID uint, ch models.Channel, overrideScriptID *uint) (uint, error) {
	lead, err := r.store.GetLead(ctx, leadID)
	if err != nil {
		return 0, notFound("lead", leadID, err)
	}
	campaign, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, notFound("campaign", campaignID, err)
	}
	return r.RouteContact(ctx, RouteRequest{
		Lead:             lead,
		Campaign:         campaign,
		Channel:          ch,
		OverrideScriptID: overrideScriptID,
	})
}

// resolveScript applies the priority chain: explicit override, active A/B
// variant, campaign-specific script, global per-channel default.
func (r *Router) resolveScript(ctx context.Context, req RouteRequest) (*models.Script, error) {
	if req.OverrideScriptID != nil {
		script, err := r.store.GetScript(ctx, *req.OverrideScriptID)
		if err != nil {
			return nil, notFound("script", *req.OverrideScriptID, err)
		}
		return script, nil
	}

	if req.Campaign != nil && req.Campaign.ID != 0 {
		if r.selector != nil {
			selection, err := r.selector.Select(ctx, req.Campaign.ID, req.Channel)
			if err != nil {
				return nil, fmt.Errorf("select variant: %w", err)
			}
			if selection != nil {
				script, err := r.store.GetScript(ctx, selection.ScriptID)
				if err != nil {
					return nil, notFound("script", selection.ScriptID, err)
				}
				return script, nil
			}
		}

		script, err := r.store.FindCampaignScript(ctx, req.Campaign.ID, req.Channel)
		if err == nil {
			return script, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find campaign script: %w", err)
		}
	}

	script, err := r.store.FindDefaultScript(ctx, req.Channel)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Entity: "script"}
	}
	if err != nil {
		return nil, fmt.Errorf("find default script: %w", err)
	}
	return script, nil
}

// dispatch hands the attempt to its channel adapter and records the outcome.
func (r *Router) dispatch(ctx context.Context, attempt *models.ContactAttempt, lead *models.Lead, script *models.Script, meta channel.Meta) error {
	adapter, err := r.adapters.Get(attempt.Channel)
	if err != nil {
		return r.failAttempt(ctx, attempt, err)
	}

	providerRef, sendErr := adapter.Send(ctx, lead, script, meta)
	if sendErr != nil {
		return r.failAttempt(ctx, attempt, sendErr)
	}

	attempt.Status = models.AttemptInProgress
	attempt.ProviderRef = providerRef
	if err := r.store.UpdateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("record dispatch of attempt %d: %w", attempt.ID, err)
	}

	r.log.WithFields(logrus.Fields{
		"attempt_id":   attempt.ID,
		"lead_id":      attempt.LeadID,
		"channel":      attempt.Channel,
		"provider_ref": providerRef,
	}).Info("attempt dispatched")
	return nil
}

func (r *Router) failAttempt(ctx context.Context, attempt *models.ContactAttempt, cause error) error {
	now := r.clock.Now()
	attempt.Status = models.AttemptFailed
	attempt.CompletedAt = &now
	attempt.Notes = cause.Error()
	if err := r.store.UpdateAttempt(ctx, attempt); err != nil {
		r.log.WithError(err).WithField("attempt_id", attempt.ID).Error("failed to record attempt failure")
	}
	return &AdapterError{Channel: attempt.Channel, Err: cause}
}

// QueueResult reports a campaign fan-out.
type QueueResult struct {
	Queued  int
	Skipped int
	Errors  []string
}

// QueueCampaignLeads fans every PENDING campaign lead out over the campaign
// channels the lead can actually receive. Channels run concurrently with
// fail-soft collection; the lead moves to IN_PROGRESS when at least one
// attempt was created.
func (r *Router) QueueCampaignLeads(ctx context.Context, campaignID uint) (*QueueResult, error) {
	campaign, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, notFound("campaign", campaignID, err)
	}

	pending, err := r.store.ListPendingCampaignLeads(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list pending campaign leads: %w", err)
	}

	result := &QueueResult{}
	for _, cl := range pending {
		lead, err := r.store.GetLead(ctx, cl.LeadID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("lead %d: %v", cl.LeadID, err))
			result.Skipped++
			continue
		}

		var viable []models.Channel
		for _, ch := range campaign.Channels {
			if ch.CanReach(lead) {
				viable = append(viable, ch)
			}
		}
		if len(viable) == 0 {
			result.Skipped++
			continue
		}

		created := r.fanOut(ctx, lead, campaign, viable, result)
		if created {
			if err := r.store.UpdateCampaignLeadStatus(ctx, cl.ID, models.CampaignLeadInProgress); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("lead %d: mark in progress: %v", cl.LeadID, err))
			}
			result.Queued++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

// fanOut routes every viable channel concurrently, wait-for-all fail-soft.
// Returns true when at least one attempt record was created.
func (r *Router) fanOut(ctx context.Context, lead *models.Lead, campaign *models.Campaign, channels []models.Channel, result *QueueResult) bool {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created bool
	)
	for _, ch := range channels {
		wg.Add(1)
		go func(ch models.Channel) {
			defer wg.Done()
			attemptID, err := r.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: campaign, Channel: ch})
			mu.Lock()
			defer mu.Unlock()
			if attemptID != 0 {
				created = true
			}
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("lead %d channel %s: %v", lead.ID, ch, err))
			}
		}(ch)
	}
	wg.Wait()
	return created
}

// ProcessQueue is the cron sweep over PENDING attempts: batch-fetch, order by
// fixed channel priority, batch-load campaigns, skip paused campaigns and
// dispatch the rest. When a pending sink is wired, campaign EMAIL attempts
// belong to it: the sweep re-feeds them to the sink instead of dispatching,
// so only one dispatcher ever sends them.
func (r *Router) ProcessQueue(ctx context.Context) (*SweepResult, error) {
	pending, err := r.store.ListPendingAttempts(ctx, queueBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending attempts: %w", err)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Channel.Priority() < pending[j].Channel.Priority()
	})

	var campaignIDs []uint
	for _, attempt := range pending {
		if attempt.CampaignID != nil {
			campaignIDs = append(campaignIDs, *attempt.CampaignID)
		}
	}
	campaigns, err := r.store.GetCampaignsByIDs(ctx, campaignIDs)
	if err != nil {
		return nil, fmt.Errorf("load campaigns for queue: %w", err)
	}

	result := &SweepResult{}
	for i := range pending {
		attempt := pending[i]

		if attempt.CampaignID != nil {
			if campaign, ok := campaigns[*attempt.CampaignID]; ok && campaign.Status == models.CampaignPaused {
				result.Skipped++
				continue
			}
			if attempt.Channel == models.ChannelEmail && r.pendingSink != nil {
				r.pendingSink(attempt.ID)
				result.Skipped++
				continue
			}
		}

		lead, err := r.store.GetLead(ctx, attempt.LeadID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %v", attempt.ID, err))
			continue
		}
		script, err := r.store.GetScript(ctx, attempt.ScriptID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %v", attempt.ID, err))
			continue
		}

		meta := channel.Meta{AttemptID: attempt.ID, CampaignID: attempt.CampaignID}
		if err := r.dispatch(ctx, &attempt, lead, script, meta); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("attempt %d: %v", attempt.ID, err))
			continue
		}
		result.Processed++
	}
	return result, nil
}

// CancelPendingAttempts bulk-cancels the campaign's PENDING attempts, used
// when a campaign pauses. IN_PROGRESS and terminal attempts are untouched.
func (r *Router) CancelPendingAttempts(ctx context.Context, campaignID uint) (int64, error) {
	count, err := r.store.CancelPendingAttempts(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending attempts for campaign %d: %w", campaignID, err)
	}
	if count > 0 {
		r.log.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"cancelled":   count,
		}).Info("pending attempts cancelled")
	}
	return count, nil
}

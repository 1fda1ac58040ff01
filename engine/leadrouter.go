package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"leadpulse/models"
	"leadpulse/store"
)

// LeadRouter matches newly arrived leads against active auto-assigning
// campaigns and triggers the channel router across all campaign channels.
type LeadRouter struct {
	store  store.Store
	router *Router
	log    *logrus.Entry
}

func NewLeadRouter(st store.Store, router *Router, log *logrus.Entry) *LeadRouter {
	return &LeadRouter{store: st, router: router, log: log}
}

// RouteNewLead assigns the lead to every matching under-capacity campaign
// and fans out all campaign channels in parallel, best-effort. The
// assignment moves to IN_PROGRESS when any channel attempt was created.
func (lr *LeadRouter) RouteNewLead(ctx context.Context, leadID uint) (*QueueResult, error) {
	lead, err := lr.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, notFound("lead", leadID, err)
	}
	if !lead.Contactable() {
		return nil, &PolicyViolationError{Reason: fmt.Sprintf("lead %d is marked do-not-contact", leadID)}
	}

	campaigns, err := lr.store.ListAutoAssignCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auto-assign campaigns: %w", err)
	}

	result := &QueueResult{}
	for i := range campaigns {
		campaign := campaigns[i]
		if campaign.AutoAssign == nil || !campaign.AutoAssign.MatchesSource(lead.Source) {
			continue
		}

		if _, err := lr.store.GetCampaignLead(ctx, campaign.ID, leadID); err == nil {
			continue // already assigned
		} else if !errors.Is(err, store.ErrNotFound) {
			result.Errors = append(result.Errors, fmt.Sprintf("campaign %d: %v", campaign.ID, err))
			continue
		}

		if campaign.AutoAssign.MaxLeads != nil {
			count, err := lr.store.CountCampaignLeads(ctx, campaign.ID)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("campaign %d: %v", campaign.ID, err))
				continue
			}
			if count >= int64(*campaign.AutoAssign.MaxLeads) {
				result.Skipped++
				continue
			}
		}

		assignment := &models.CampaignLead{
			CampaignID: campaign.ID,
			LeadID:     leadID,
			Status:     models.CampaignLeadPending,
		}
		if err := lr.store.CreateCampaignLead(ctx, assignment); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("campaign %d: assign lead: %v", campaign.ID, err))
			continue
		}

		created := lr.router.fanOut(ctx, lead, &campaign, campaign.Channels, result)
		if created {
			if err := lr.store.UpdateCampaignLeadStatus(ctx, assignment.ID, models.CampaignLeadInProgress); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("campaign %d: mark in progress: %v", campaign.ID, err))
			}
			result.Queued++
		} else {
			result.Skipped++
		}
	}

	lr.log.WithFields(logrus.Fields{
		"lead_id": leadID,
		"queued":  result.Queued,
		"skipped": result.Skipped,
	}).Info("new lead routed")
	return result, nil
}

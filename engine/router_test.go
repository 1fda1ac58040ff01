package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpulse/models"
)

func TestRouteContactDispatchesInline(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com", Source: "webinar"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail}})
	script := r.addDefaultScript(t, models.ChannelEmail)

	attemptID, err := r.router.RouteContact(ctx, RouteRequest{
		Lead:     lead,
		Campaign: campaign,
		Channel:  models.ChannelEmail,
	})
	require.NoError(t, err)
	require.NotZero(t, attemptID)

	attempt, err := r.st.GetAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInProgress, attempt.Status)
	assert.Equal(t, "EMAIL-ref-1", attempt.ProviderRef)
	assert.Equal(t, script.ID, attempt.ScriptID)
	require.NotNil(t, attempt.CampaignID)
	assert.Equal(t, campaign.ID, *attempt.CampaignID)

	email := r.adapters[models.ChannelEmail]
	require.Equal(t, 1, email.sentCount())
	assert.Equal(t, lead.ID, email.lastSend().LeadID)
	assert.Equal(t, attemptID, email.lastSend().Meta.AttemptID)
}

func TestRouteContactRejectsInvalidChannel(t *testing.T) {
	r := newRig(t)

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	_, err := r.router.RouteContact(context.Background(), RouteRequest{
		Lead:    lead,
		Channel: models.Channel("FAX"),
	})
	require.Error(t, err)
}

func TestRouteContactRejectsDoNotContact(t *testing.T) {
	r := newRig(t)

	lead := r.addLead(t, models.Lead{Email: "ada@example.com", Status: models.LeadDoNotContact})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail}})
	r.addDefaultScript(t, models.ChannelEmail)

	_, err := r.router.RouteContact(context.Background(), RouteRequest{
		Lead:     lead,
		Campaign: campaign,
		Channel:  models.ChannelEmail,
	})
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, 0, r.adapters[models.ChannelEmail].sentCount())
}

func TestRouteContactEnforcesMaxContactsPerLead(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:               "spring",
		Channels:           []models.Channel{models.ChannelEmail},
		MaxContactsPerLead: 2,
	})
	r.addDefaultScript(t, models.ChannelEmail)

	req := RouteRequest{Lead: lead, Campaign: campaign, Channel: models.ChannelEmail}
	for i := 0; i < 2; i++ {
		_, err := r.router.RouteContact(ctx, req)
		require.NoError(t, err)
	}

	_, err := r.router.RouteContact(ctx, req)
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, 2, r.adapters[models.ChannelEmail].sentCount())
}

func TestRouteContactMaxContactsIgnoresCancelledAttempts(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:               "spring",
		Channels:           []models.Channel{models.ChannelEmail},
		MaxContactsPerLead: 1,
	})
	r.addDefaultScript(t, models.ChannelEmail)

	// A pause wiped the earlier attempt; it must not hold a cap slot forever.
	cancelled := &models.ContactAttempt{
		LeadID:     lead.ID,
		CampaignID: &campaign.ID,
		Channel:    models.ChannelEmail,
		Status:     models.AttemptCancelled,
		StartedAt:  r.clock.Now(),
	}
	require.NoError(t, r.st.CreateAttempt(ctx, cancelled))

	_, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: campaign, Channel: models.ChannelEmail})
	require.NoError(t, err)
	assert.Equal(t, 1, r.adapters[models.ChannelEmail].sentCount())
}

func TestRouteContactDefersOutsideWindow(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:     "spring",
		Channels: []models.Channel{models.ChannelEmail},
		Schedule: models.ScheduleConfig{
			ContactHoursStart: intPtr(9),
			ContactHoursEnd:   intPtr(17),
			Timezone:          "UTC",
		},
	})
	r.addDefaultScript(t, models.ChannelEmail)

	// Monday 20:00 UTC, well past the window.
	r.clock.Set(time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC))

	attemptID, err := r.router.RouteContact(ctx, RouteRequest{
		Lead:     lead,
		Campaign: campaign,
		Channel:  models.ChannelEmail,
	})
	require.NoError(t, err)

	attempt, err := r.st.GetAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptScheduled, attempt.Status)
	assert.Equal(t, time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), attempt.StartedAt.UTC())
	assert.Equal(t, 0, r.adapters[models.ChannelEmail].sentCount())
}

func TestRouteContactDefersWhenDayCapReached(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:     "spring",
		Channels: []models.Channel{models.ChannelEmail},
		Schedule: models.ScheduleConfig{
			ContactHoursStart: intPtr(9),
			ContactHoursEnd:   intPtr(17),
			MaxContactsPerDay: intPtr(1),
			Timezone:          "UTC",
		},
	})
	r.addDefaultScript(t, models.ChannelEmail)

	req := RouteRequest{Lead: lead, Campaign: campaign, Channel: models.ChannelEmail}
	first, err := r.router.RouteContact(ctx, req)
	require.NoError(t, err)
	attempt, err := r.st.GetAttempt(ctx, first)
	require.NoError(t, err)
	require.Equal(t, models.AttemptInProgress, attempt.Status)

	second, err := r.router.RouteContact(ctx, req)
	require.NoError(t, err)
	attempt, err = r.st.GetAttempt(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptScheduled, attempt.Status)
	assert.Equal(t, 1, r.adapters[models.ChannelEmail].sentCount())
}

func TestRouteContactAdapterFailureReturnsAttemptID(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Phone: "+15550100"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelSMS}})
	r.addDefaultScript(t, models.ChannelSMS)
	r.adapters[models.ChannelSMS].fail = true

	attemptID, err := r.router.RouteContact(ctx, RouteRequest{
		Lead:     lead,
		Campaign: campaign,
		Channel:  models.ChannelSMS,
	})
	require.NotZero(t, attemptID)
	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, models.ChannelSMS, adapterErr.Channel)

	attempt, err := r.st.GetAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptFailed, attempt.Status)
	assert.Contains(t, attempt.Notes, "provider unavailable")
	require.NotNil(t, attempt.CompletedAt)
}

func TestRouteContactScriptPriority(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail}})

	r.addDefaultScript(t, models.ChannelEmail)
	campaignScript := models.Script{Name: "spring email", Channel: models.ChannelEmail, CampaignID: &campaign.ID, Body: "hi"}
	require.NoError(t, r.st.CreateScript(ctx, &campaignScript))
	override := models.Script{Name: "one-off", Channel: models.ChannelEmail, Body: "ping"}
	require.NoError(t, r.st.CreateScript(ctx, &override))

	// Explicit override wins over everything.
	id, err := r.router.RouteContact(ctx, RouteRequest{
		Lead: lead, Campaign: campaign, Channel: models.ChannelEmail, OverrideScriptID: &override.ID,
	})
	require.NoError(t, err)
	attempt, err := r.st.GetAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, override.ID, attempt.ScriptID)

	// No override: campaign-specific script beats the global default.
	id, err = r.router.RouteContact(ctx, RouteRequest{
		Lead: lead, Campaign: campaign, Channel: models.ChannelEmail,
	})
	require.NoError(t, err)
	attempt, err = r.st.GetAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, campaignScript.ID, attempt.ScriptID)

	// Active A/B test beats the campaign script.
	variantScript := models.Script{Name: "variant b", Channel: models.ChannelEmail, Body: "hey"}
	require.NoError(t, r.st.CreateScript(ctx, &variantScript))
	r.st.AddTest(models.ABTest{
		CampaignID: campaign.ID,
		Channel:    models.ChannelEmail,
		IsActive:   true,
		Variants:   []models.ABVariant{{ScriptID: variantScript.ID, Weight: 1}},
	})

	id, err = r.router.RouteContact(ctx, RouteRequest{
		Lead: lead, Campaign: campaign, Channel: models.ChannelEmail,
	})
	require.NoError(t, err)
	attempt, err = r.st.GetAttempt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, variantScript.ID, attempt.ScriptID)
}

func TestRouteContactMissingScript(t *testing.T) {
	r := newRig(t)

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail}})

	_, err := r.router.RouteContact(context.Background(), RouteRequest{
		Lead: lead, Campaign: campaign, Channel: models.ChannelEmail,
	})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "script", notFound.Entity)
}

func TestRouteContactPendingSinkDivertsPersistedEmail(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	var diverted []uint
	r.router.SetPendingSink(func(id uint) { diverted = append(diverted, id) })

	lead := r.addLead(t, models.Lead{Email: "ada@example.com", Phone: "+15550100"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail, models.ChannelSMS}})
	r.addDefaultScript(t, models.ChannelEmail)
	r.addDefaultScript(t, models.ChannelSMS)

	emailID, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: campaign, Channel: models.ChannelEmail})
	require.NoError(t, err)
	smsID, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: campaign, Channel: models.ChannelSMS})
	require.NoError(t, err)

	require.Equal(t, []uint{emailID}, diverted)
	assert.Equal(t, 0, r.adapters[models.ChannelEmail].sentCount())
	assert.Equal(t, 1, r.adapters[models.ChannelSMS].sentCount())

	attempt, err := r.st.GetAttempt(ctx, emailID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptPending, attempt.Status)

	attempt, err = r.st.GetAttempt(ctx, smsID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInProgress, attempt.Status)
}

func TestQueueCampaignLeadsFiltersUnreachableChannels(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	campaign := r.addCampaign(t, models.Campaign{
		Name:     "spring",
		Channels: []models.Channel{models.ChannelEmail, models.ChannelSMS},
	})
	r.addDefaultScript(t, models.ChannelEmail)
	r.addDefaultScript(t, models.ChannelSMS)

	phoneOnly := r.addLead(t, models.Lead{Phone: "+15550100"})
	noContact := r.addLead(t, models.Lead{PushToken: "tok"})
	for _, lead := range []*models.Lead{phoneOnly, noContact} {
		require.NoError(t, r.st.CreateCampaignLead(ctx, &models.CampaignLead{
			CampaignID: campaign.ID, LeadID: lead.ID, Status: models.CampaignLeadPending,
		}))
	}

	result, err := r.router.QueueCampaignLeads(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Errors)

	assert.Equal(t, 0, r.adapters[models.ChannelEmail].sentCount())
	assert.Equal(t, 1, r.adapters[models.ChannelSMS].sentCount())

	cl, err := r.st.GetCampaignLead(ctx, campaign.ID, phoneOnly.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignLeadInProgress, cl.Status)

	cl, err = r.st.GetCampaignLead(ctx, campaign.ID, noContact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignLeadPending, cl.Status)
}

func TestProcessQueueDispatchesByChannelPriority(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.router.SetInlineDispatch(false)

	lead := r.addLead(t, models.Lead{Email: "ada@example.com", Phone: "+15550100", PushToken: "tok"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:     "spring",
		Channels: []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelPush},
	})
	for _, ch := range []models.Channel{models.ChannelPush, models.ChannelSMS, models.ChannelEmail} {
		r.addDefaultScript(t, ch)
		_, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: campaign, Channel: ch})
		require.NoError(t, err)
	}

	result, err := r.router.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelPush}, r.dispatchOrder())
}

func TestProcessQueueSkipsPausedCampaigns(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.router.SetInlineDispatch(false)

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	active := r.addCampaign(t, models.Campaign{Name: "active", Channels: []models.Channel{models.ChannelEmail}})
	paused := r.addCampaign(t, models.Campaign{Name: "paused", Channels: []models.Channel{models.ChannelEmail}})
	r.addDefaultScript(t, models.ChannelEmail)

	_, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: active, Channel: models.ChannelEmail})
	require.NoError(t, err)
	pausedID, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: paused, Channel: models.ChannelEmail})
	require.NoError(t, err)

	paused.Status = models.CampaignPaused
	require.NoError(t, r.st.UpdateCampaign(ctx, paused))

	result, err := r.router.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)

	attempt, err := r.st.GetAttempt(ctx, pausedID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptPending, attempt.Status)
}

func TestCancelPendingAttemptsLeavesDispatched(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com", Phone: "+15550100"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail, models.ChannelSMS}})
	r.addDefaultScript(t, models.ChannelEmail)
	r.addDefaultScript(t, models.ChannelSMS)

	dispatchedID, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: campaign, Channel: models.ChannelSMS})
	require.NoError(t, err)

	r.router.SetInlineDispatch(false)
	pendingID, err := r.router.RouteContact(ctx, RouteRequest{Lead: lead, Campaign: campaign, Channel: models.ChannelEmail})
	require.NoError(t, err)

	count, err := r.router.CancelPendingAttempts(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	attempt, err := r.st.GetAttempt(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCancelled, attempt.Status)

	attempt, err = r.st.GetAttempt(ctx, dispatchedID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInProgress, attempt.Status)
}

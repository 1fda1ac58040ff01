package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpulse/models"
)

func TestWithinSchedule(t *testing.T) {
	monday10 := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		cfg  models.ScheduleConfig
		now  time.Time
		want bool
	}{
		{
			name: "no window always open",
			cfg:  models.ScheduleConfig{},
			now:  time.Date(2025, 3, 9, 3, 0, 0, 0, time.UTC), // Sunday 03:00
			want: true,
		},
		{
			name: "inside hours",
			cfg:  models.ScheduleConfig{ContactHoursStart: intPtr(9), ContactHoursEnd: intPtr(17), Timezone: "UTC"},
			now:  monday10,
			want: true,
		},
		{
			name: "end hour is exclusive",
			cfg:  models.ScheduleConfig{ContactHoursStart: intPtr(9), ContactHoursEnd: intPtr(17), Timezone: "UTC"},
			now:  time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "before hours",
			cfg:  models.ScheduleConfig{ContactHoursStart: intPtr(9), ContactHoursEnd: intPtr(17), Timezone: "UTC"},
			now:  time.Date(2025, 3, 10, 8, 59, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "weekday filter blocks sunday",
			cfg:  models.ScheduleConfig{ContactDays: []int{1, 2, 3, 4, 5}, Timezone: "UTC"},
			now:  time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC), // Sunday
			want: false,
		},
		{
			name: "weekday filter allows monday",
			cfg:  models.ScheduleConfig{ContactDays: []int{1, 2, 3, 4, 5}, Timezone: "UTC"},
			now:  monday10,
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, WithinSchedule(tc.cfg, tc.now))
		})
	}
}

func TestNextAvailableSlot(t *testing.T) {
	cfg := models.ScheduleConfig{
		ContactHoursStart: intPtr(9),
		ContactHoursEnd:   intPtr(17),
		Timezone:          "UTC",
	}

	// Mid-window: next whole hour.
	now := time.Date(2025, 3, 10, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC), NextAvailableSlot(cfg, now).UTC())

	// After hours: tomorrow at the window start.
	now = time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC), NextAvailableSlot(cfg, now).UTC())

	// Friday evening with weekdays only: skips the weekend entirely.
	cfg.ContactDays = []int{1, 2, 3, 4, 5}
	now = time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC) // Friday
	assert.Equal(t, time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC), NextAvailableSlot(cfg, now).UTC())

	// Nothing matches within a week: fallback is tomorrow at the start hour.
	impossible := models.ScheduleConfig{
		ContactDays:       []int{6},
		ContactHoursStart: intPtr(10),
		ContactHoursEnd:   intPtr(10),
		Timezone:          "UTC",
	}
	now = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC), NextAvailableSlot(impossible, now).UTC())
}

func TestNextAvailableSlotHalfHourOffsetZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	cfg := models.ScheduleConfig{
		ContactHoursStart: intPtr(9),
		ContactHoursEnd:   intPtr(17),
		Timezone:          "Asia/Kolkata",
	}

	// 10:00 UTC is 15:30 IST; the slot is the next whole local hour.
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	slot := NextAvailableSlot(cfg, now).In(loc)
	assert.Equal(t, 16, slot.Hour())
	assert.Equal(t, 0, slot.Minute())
	assert.Equal(t, 10, slot.Day())
}

func TestCanContactLeadDayCap(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:     "spring",
		Channels: []models.Channel{models.ChannelEmail},
		Schedule: models.ScheduleConfig{MaxContactsPerDay: intPtr(2), Timezone: "UTC"},
	})

	ok, err := r.scheduler.CanContactLead(ctx, lead.ID, campaign.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 2; i++ {
		require.NoError(t, r.st.CreateAttempt(ctx, &models.ContactAttempt{
			LeadID:    lead.ID,
			Channel:   models.ChannelEmail,
			Status:    models.AttemptInProgress,
			StartedAt: r.clock.Now(),
		}))
	}

	ok, err = r.scheduler.CanContactLead(ctx, lead.ID, campaign.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanContactLeadDayCapIgnoresScheduledAndCancelled(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:     "spring",
		Channels: []models.Channel{models.ChannelEmail},
		Schedule: models.ScheduleConfig{MaxContactsPerDay: intPtr(1), Timezone: "UTC"},
	})

	for _, status := range []models.AttemptStatus{models.AttemptScheduled, models.AttemptCancelled} {
		require.NoError(t, r.st.CreateAttempt(ctx, &models.ContactAttempt{
			LeadID:    lead.ID,
			Channel:   models.ChannelEmail,
			Status:    status,
			StartedAt: r.clock.Now(),
		}))
	}

	ok, err := r.scheduler.CanContactLead(ctx, lead.ID, campaign.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanContactLeadChannelDelay(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{
		Name:     "spring",
		Channels: []models.Channel{models.ChannelEmail, models.ChannelSMS},
		Schedule: models.ScheduleConfig{DelayBetweenChannels: intPtr(4), Timezone: "UTC"},
	})

	require.NoError(t, r.st.CreateAttempt(ctx, &models.ContactAttempt{
		LeadID:     lead.ID,
		CampaignID: &campaign.ID,
		Channel:    models.ChannelEmail,
		Status:     models.AttemptInProgress,
		StartedAt:  r.clock.Now().Add(-time.Hour),
	}))

	ok, err := r.scheduler.CanContactLead(ctx, lead.ID, campaign.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	r.clock.Advance(4 * time.Hour)
	ok, err = r.scheduler.CanContactLead(ctx, lead.ID, campaign.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduleContactResolvesScript(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail}})

	slot := r.clock.Now().Add(2 * time.Hour)
	_, err := r.scheduler.ScheduleContact(ctx, lead.ID, campaign.ID, models.ChannelEmail, slot)
	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)

	campaignScript := models.Script{Name: "spring email", Channel: models.ChannelEmail, CampaignID: &campaign.ID, Body: "hi"}
	require.NoError(t, r.st.CreateScript(ctx, &campaignScript))

	attempt, err := r.scheduler.ScheduleContact(ctx, lead.ID, campaign.ID, models.ChannelEmail, slot)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptScheduled, attempt.Status)
	assert.Equal(t, campaignScript.ID, attempt.ScriptID)
	assert.Equal(t, slot, attempt.StartedAt)
}

func TestProcessScheduledContactsReroutesDue(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail}})
	r.addDefaultScript(t, models.ChannelEmail)

	scheduled, err := r.scheduler.ScheduleContact(ctx, lead.ID, campaign.ID, models.ChannelEmail, r.clock.Now().Add(time.Hour))
	require.NoError(t, err)

	// Not due yet: nothing happens.
	result, err := r.scheduler.ProcessScheduledContacts(ctx, r.router)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)

	r.clock.Advance(time.Hour)
	result, err = r.scheduler.ProcessScheduledContacts(ctx, r.router)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, result.Errors)

	closed, err := r.st.GetAttempt(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCompleted, closed.Status)
	require.NotNil(t, closed.CompletedAt)

	// The reroute dispatched a fresh attempt.
	require.Equal(t, 1, r.adapters[models.ChannelEmail].sentCount())
}

func TestProcessScheduledContactsSkipsPausedCampaign(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	lead := r.addLead(t, models.Lead{Email: "ada@example.com"})
	campaign := r.addCampaign(t, models.Campaign{Name: "spring", Channels: []models.Channel{models.ChannelEmail}})
	r.addDefaultScript(t, models.ChannelEmail)

	scheduled, err := r.scheduler.ScheduleContact(ctx, lead.ID, campaign.ID, models.ChannelEmail, r.clock.Now())
	require.NoError(t, err)

	campaign.Status = models.CampaignPaused
	require.NoError(t, r.st.UpdateCampaign(ctx, campaign))

	result, err := r.scheduler.ProcessScheduledContacts(ctx, r.router)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Skipped)

	attempt, err := r.st.GetAttempt(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptScheduled, attempt.Status)
	assert.Equal(t, 0, r.adapters[models.ChannelEmail].sentCount())
}

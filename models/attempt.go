package models

import (
	"time"

	"gorm.io/gorm"
)

// Channel is the closed set of communication media the router dispatches on.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelCall  Channel = "CALL"
	ChannelPush  Channel = "PUSH"
)

// AllChannels in fixed dispatch priority order.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelCall, ChannelPush}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelCall, ChannelPush:
		return true
	}
	return false
}

// Priority returns the fixed dispatch ordering: EMAIL(0) < SMS(1) < CALL(2) < PUSH(3).
func (c Channel) Priority() int {
	switch c {
	case ChannelEmail:
		return 0
	case ChannelSMS:
		return 1
	case ChannelCall:
		return 2
	case ChannelPush:
		return 3
	}
	return 4
}

// CanReach reports whether the lead carries the contact info this channel needs.
func (c Channel) CanReach(lead *Lead) bool {
	switch c {
	case ChannelEmail:
		return lead.Email != ""
	case ChannelSMS, ChannelCall:
		return lead.Phone != ""
	case ChannelPush:
		return lead.PushToken != ""
	}
	return false
}

// AttemptStatus tracks the lifecycle of a single send.
type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "PENDING"
	AttemptScheduled  AttemptStatus = "SCHEDULED"
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptSuccess    AttemptStatus = "SUCCESS"
	AttemptFailed     AttemptStatus = "FAILED"
	AttemptNoAnswer   AttemptStatus = "NO_ANSWER"
	AttemptCancelled  AttemptStatus = "CANCELLED"
	AttemptCompleted  AttemptStatus = "COMPLETED"
)

// Terminal reports whether no further transitions are allowed for the attempt.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptSuccess, AttemptFailed, AttemptNoAnswer, AttemptCancelled, AttemptCompleted:
		return true
	}
	return false
}

// AttemptResult holds the provider-reported outcome payload.
type AttemptResult struct {
	Delivered   bool   `json:"delivered,omitempty"`
	Opened      bool   `json:"opened,omitempty"`
	Clicked     bool   `json:"clicked,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
	RawEvent    string `json:"raw_event,omitempty"`
}

// ContactAttempt is one record of trying to reach a lead via one channel.
type ContactAttempt struct {
	gorm.Model
	LeadID     uint    `gorm:"not null;index" json:"lead_id"`
	CampaignID *uint   `gorm:"index" json:"campaign_id,omitempty"`
	Channel    Channel `gorm:"not null;index" json:"channel"`
	ScriptID   uint    `gorm:"index" json:"script_id"`

	Provider    string `json:"provider"`
	ProviderRef string `gorm:"index" json:"provider_ref,omitempty"`

	Status      AttemptStatus `gorm:"default:'PENDING';index" json:"status"`
	StartedAt   time.Time     `gorm:"not null;index" json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`

	Result AttemptResult `gorm:"type:jsonb;serializer:json" json:"result"`
	Notes  string        `gorm:"type:text" json:"notes"`

	// Relations
	Lead     Lead      `json:"-"`
	Campaign *Campaign `json:"-"`
}

// WebhookEvent deduplicates provider delivery callbacks. The unique index on
// (provider_ref, event_type) makes callback handling idempotent.
type WebhookEvent struct {
	gorm.Model
	Provider    string `gorm:"not null" json:"provider"`
	ProviderRef string `gorm:"not null;uniqueIndex:idx_webhook_ref_type" json:"provider_ref"`
	EventType   string `gorm:"not null;uniqueIndex:idx_webhook_ref_type" json:"event_type"`
	Payload     string `gorm:"type:text" json:"payload"`
}

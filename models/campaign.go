package models

import (
	"time"

	"gorm.io/gorm"
)

// CampaignStatus with allowed transitions:
// DRAFT→ACTIVE, ACTIVE→{PAUSED,COMPLETED}, PAUSED→{ACTIVE,COMPLETED}, COMPLETED→∅.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	switch s {
	case CampaignDraft:
		return next == CampaignActive
	case CampaignActive:
		return next == CampaignPaused || next == CampaignCompleted
	case CampaignPaused:
		return next == CampaignActive || next == CampaignCompleted
	}
	return false
}

// ScheduleConfig is the typed contact-window and rate-limit configuration.
// Stored as jsonb and parsed once by the serializer; hours are 0-23, days
// follow time.Weekday numbering (Sunday=0).
type ScheduleConfig struct {
	ContactHoursStart    *int   `json:"contact_hours_start,omitempty"`
	ContactHoursEnd      *int   `json:"contact_hours_end,omitempty"`
	ContactDays          []int  `json:"contact_days,omitempty"`
	MaxContactsPerDay    *int   `json:"max_contacts_per_day,omitempty"`
	DelayBetweenChannels *int   `json:"delay_between_channels,omitempty"` // hours
	Timezone             string `json:"timezone,omitempty"`
}

// HasWindow reports whether any hour/day constraint is configured at all.
func (c ScheduleConfig) HasWindow() bool {
	return c.ContactHoursStart != nil || c.ContactHoursEnd != nil || len(c.ContactDays) > 0
}

// DayAllowed reports whether the weekday passes the contact_days filter.
func (c ScheduleConfig) DayAllowed(d time.Weekday) bool {
	if len(c.ContactDays) == 0 {
		return true
	}
	for _, day := range c.ContactDays {
		if time.Weekday(day) == d {
			return true
		}
	}
	return false
}

// HourAllowed reports whether the hour falls in [start, end).
func (c ScheduleConfig) HourAllowed(h int) bool {
	if c.ContactHoursStart != nil && h < *c.ContactHoursStart {
		return false
	}
	if c.ContactHoursEnd != nil && h >= *c.ContactHoursEnd {
		return false
	}
	return true
}

// Location resolves the configured timezone, falling back to server time.
func (c ScheduleConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// AutoAssignConfig controls which new leads a campaign picks up on arrival.
type AutoAssignConfig struct {
	Sources  []string `json:"sources,omitempty"`
	MaxLeads *int     `json:"max_leads,omitempty"`
}

// MatchesSource reports whether the source passes the filter (empty = all).
func (c AutoAssignConfig) MatchesSource(source string) bool {
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

// Campaign is a time-bounded outreach initiative with enabled channels.
type Campaign struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	Channels []Channel      `gorm:"type:jsonb;serializer:json" json:"channels"`
	Status   CampaignStatus `gorm:"default:'DRAFT';index" json:"status"`

	Schedule   ScheduleConfig    `gorm:"type:jsonb;serializer:json" json:"schedule"`
	AutoAssign *AutoAssignConfig `gorm:"type:jsonb;serializer:json" json:"auto_assign,omitempty"`

	MaxContactsPerLead int `gorm:"default:5" json:"max_contacts_per_lead"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relations
	CampaignLeads []CampaignLead `gorm:"foreignKey:CampaignID" json:"campaign_leads,omitempty"`
	Scripts       []Script       `gorm:"foreignKey:CampaignID" json:"scripts,omitempty"`
}

// HasChannel reports whether the campaign has the channel enabled.
func (c *Campaign) HasChannel(ch Channel) bool {
	for _, have := range c.Channels {
		if have == ch {
			return true
		}
	}
	return false
}

// CampaignLeadStatus for the per-campaign assignment record.
type CampaignLeadStatus string

const (
	CampaignLeadPending    CampaignLeadStatus = "PENDING"
	CampaignLeadInProgress CampaignLeadStatus = "IN_PROGRESS"
	CampaignLeadCompleted  CampaignLeadStatus = "COMPLETED"
)

// CampaignLead assigns a lead to a campaign, unique per (campaign, lead).
type CampaignLead struct {
	gorm.Model
	CampaignID uint `gorm:"not null;uniqueIndex:idx_campaign_lead" json:"campaign_id"`
	LeadID     uint `gorm:"not null;uniqueIndex:idx_campaign_lead" json:"lead_id"`

	Status CampaignLeadStatus `gorm:"default:'PENDING';index" json:"status"`

	// Relations
	Campaign Campaign `json:"-"`
	Lead     Lead     `json:"-"`
}

package models

import "gorm.io/gorm"

// Script is a channel-specific message template. A campaign-scoped script
// (CampaignID set) wins over the global per-channel default (IsDefault).
type Script struct {
	gorm.Model
	Name       string  `gorm:"not null" json:"name"`
	Channel    Channel `gorm:"not null;index" json:"channel"`
	CampaignID *uint   `gorm:"index" json:"campaign_id,omitempty"`

	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	IsDefault bool `gorm:"default:false;index" json:"is_default"`
}

// ABTest compares script variants for one channel within one campaign.
type ABTest struct {
	gorm.Model
	CampaignID uint    `gorm:"not null;index" json:"campaign_id"`
	Channel    Channel `gorm:"not null;index" json:"channel"`
	Name       string  `json:"name"`
	IsActive   bool    `gorm:"default:false;index" json:"is_active"`

	// Relations
	Variants []ABVariant `gorm:"foreignKey:TestID" json:"variants,omitempty"`
}

// ABVariant is one weighted arm of a test.
type ABVariant struct {
	gorm.Model
	TestID   uint   `gorm:"not null;index" json:"test_id"`
	ScriptID uint   `gorm:"not null" json:"script_id"`
	Name     string `json:"name"`
	Weight   int    `gorm:"default:1" json:"weight"`

	SentCount int `gorm:"default:0" json:"sent_count"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// LeadStatus tracks where a contact sits in the outreach funnel.
type LeadStatus string

const (
	LeadNew          LeadStatus = "NEW"
	LeadContacted    LeadStatus = "CONTACTED"
	LeadEngaged      LeadStatus = "ENGAGED"
	LeadDoNotContact LeadStatus = "DO_NOT_CONTACT"
	LeadConverted    LeadStatus = "CONVERTED"
)

// Lead represents a single prospective or existing customer contact.
type Lead struct {
	gorm.Model
	Email     string `gorm:"index" json:"email"`
	Phone     string `gorm:"index" json:"phone"`
	PushToken string `json:"push_token"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`

	Status LeadStatus `gorm:"default:'NEW';index" json:"status"`
	Source string     `gorm:"index" json:"source"`

	LastContact *time.Time `json:"last_contact,omitempty"`

	// Relations
	Attempts    []ContactAttempt     `gorm:"foreignKey:LeadID" json:"attempts,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
}

// Contactable reports whether routing is allowed at all for this lead.
// DO_NOT_CONTACT is a terminal gate: no transition out of it is permitted.
func (l *Lead) Contactable() bool {
	return l.Status != LeadDoNotContact
}

// Conversion records a lead converting, used to exclude leads from
// no_conversion sequence triggers and to flip enrollments to CONVERTED.
type Conversion struct {
	gorm.Model
	LeadID     uint   `gorm:"not null;index" json:"lead_id"`
	CampaignID *uint  `json:"campaign_id,omitempty"`
	SequenceID *uint  `json:"sequence_id,omitempty"`
	Value      int64  `json:"value"` // cents
	Details    string `gorm:"type:text" json:"details"`

	Lead Lead `json:"-"`
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Message statuses
const (
	MessageQueued  = "queued"
	MessageSent    = "sent"
	MessageBounced = "bounced"
	MessageFailed  = "failed"
)

// Tracking event types
const (
	EventOpen  = "open"
	EventClick = "click"
)

// MessageLog records a single delivered (or attempted) email.
type MessageLog struct {
	gorm.Model
	CampaignID  uint  `gorm:"not null;index" json:"campaign_id"`
	RecipientID uint  `gorm:"not null;index" json:"recipient_id"`
	StepID      *uint `gorm:"index" json:"step_id,omitempty"`

	MessageID string `gorm:"not null;uniqueIndex" json:"message_id"`
	Subject   string `json:"subject"`
	Status    string `gorm:"default:'queued';index" json:"status"`

	SentAt *time.Time `json:"sent_at"`

	// Relations
	Campaign  Campaign          `json:"-"`
	Recipient CampaignRecipient `json:"-"`
}

// TrackingEvent is an immutable open/click signal. Rows are appended by
// the tracking worker and only ever bulk-deleted by retention.
type TrackingEvent struct {
	gorm.Model
	MessageID string `gorm:"not null;index" json:"message_id"`

	EventType  string    `gorm:"not null" json:"event_type"` // open, click
	OccurredAt time.Time `gorm:"not null" json:"occurred_at"`
	URL        string    `json:"url,omitempty"`

	Metadata map[string]string `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
}

// Bounce records a delivery failure for an address.
type Bounce struct {
	gorm.Model
	Email      string `gorm:"not null;index" json:"email"`
	CampaignID *uint  `gorm:"index" json:"campaign_id,omitempty"`

	Type    string `gorm:"not null" json:"type"` // hard, soft, block
	Code    string `json:"code"`
	Message string `json:"message"`
}

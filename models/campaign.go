package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign represents an outreach campaign
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Campaign details
	Name        string `gorm:"not null" json:"name"`
	Subject     string `json:"subject"`
	Description string `json:"description"`

	// Scheduling
	Status          CampaignStatus `gorm:"default:'draft';index" json:"status"`
	ScheduledSendAt *time.Time     `json:"scheduled_send_at"`
	StartedAt       *time.Time     `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`

	// Tracking settings
	TrackOpens  bool `gorm:"default:true" json:"track_opens"`
	TrackClicks bool `gorm:"default:true" json:"track_clicks"`

	// Statistics (denormalized for performance)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	OpenCount       int `gorm:"default:0" json:"open_count"`
	ClickCount      int `gorm:"default:0" json:"click_count"`
	ReplyCount      int `gorm:"default:0" json:"reply_count"`
	BounceCount     int `gorm:"default:0" json:"bounce_count"`

	// Relations
	Recipients []CampaignRecipient `gorm:"foreignKey:CampaignID" json:"recipients,omitempty"`
	Sequences  []FollowUpSequence  `gorm:"foreignKey:CampaignID" json:"sequences,omitempty"`
}

// CampaignRecipient is a single contact enrolled in a campaign. Payload
// holds the raw imported contact record as JSON; retention may compress it
// down to the email/name/company fields once the campaign is completed.
type CampaignRecipient struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	Email   string `gorm:"not null;index" json:"email"`
	Name    string `json:"name"`
	Company string `json:"company"`
	Payload string `gorm:"type:jsonb" json:"payload,omitempty"`

	Status string `gorm:"default:'pending'" json:"status"` // pending, contacted, stopped

	// Engagement timestamps, consulted by follow-up stop conditions
	LastContactedAt *time.Time `json:"last_contacted_at"`
	OpenedAt        *time.Time `json:"opened_at"`
	ClickedAt       *time.Time `json:"clicked_at"`
	RepliedAt       *time.Time `json:"replied_at"`
	FollowUpsSent   int        `gorm:"default:0" json:"follow_ups_sent"`

	// Relations
	Campaign Campaign `json:"-"`
}

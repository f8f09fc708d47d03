package models

import (
	"time"

	"gorm.io/gorm"
)

// Timing spec variants. Exactly one of the payload pointers is set,
// discriminated by Type.
const (
	TimingRelative = "relative"
	TimingAbsolute = "absolute"
	TimingWeekly   = "weekly"
)

// TimingSpec describes when a follow-up step (or automation rule) fires.
//
// ScheduledAt is the resolved fire instant recorded when the step's queue
// job was created. It is a record of the resolution, not a second source
// of truth: the job queue stays authoritative for whether the step will
// actually fire, and the retention safety check cross-checks both.
type TimingSpec struct {
	Type     string          `json:"type"`
	Relative *RelativeTiming `json:"relative,omitempty"`
	Absolute *AbsoluteTiming `json:"absolute,omitempty"`
	Weekly   *WeeklyTiming   `json:"weekly,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// RelativeTiming fires a fixed offset after the anchor. Both fields zero
// means immediate.
type RelativeTiming struct {
	Hours int `json:"hours,omitempty"`
	Days  int `json:"days,omitempty"`
}

// AbsoluteTiming fires at a wall-clock instant in the given IANA timezone.
type AbsoluteTiming struct {
	SendAt   time.Time `json:"send_at"`
	Timezone string    `json:"timezone,omitempty"`
}

// WeeklyTiming fires at the next occurrence of any listed weekday at
// SendTime ("HH:MM", 24-hour) local to the given timezone.
type WeeklyTiming struct {
	DaysOfWeek []string `json:"days_of_week"`
	SendTime   string   `json:"send_time"`
	Timezone   string   `json:"timezone,omitempty"`
}

// FollowUpSequence is an ordered follow-up flow attached to a campaign.
type FollowUpSequence struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	Name string `gorm:"not null" json:"name"`

	// Stop conditions: any observed signal halts subsequent steps for that
	// recipient. StopOnReply defaults to true at creation time.
	StopOnReply  bool `gorm:"default:true" json:"stop_on_reply"`
	StopOnOpen   bool `gorm:"default:false" json:"stop_on_open"`
	StopOnClick  bool `gorm:"default:false" json:"stop_on_click"`
	MaxFollowUps *int `json:"max_follow_ups,omitempty"`

	// Relations
	Campaign Campaign       `json:"-"`
	Steps    []FollowUpStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// FollowUpStep is one email in a sequence. A step may reply to an earlier
// sibling via ParentStepID, forming a shallow tree; since a step can only
// reference a previously created sibling, cycles cannot be built.
type FollowUpStep struct {
	gorm.Model
	SequenceID   uint  `gorm:"not null;index" json:"sequence_id"`
	ParentStepID *uint `gorm:"index" json:"parent_step_id,omitempty"`

	StepNumber int    `gorm:"not null" json:"step_number"`
	Subject    string `json:"subject"`
	Body       string `gorm:"type:text" json:"body"`

	TimingSpec TimingSpec `gorm:"type:jsonb;serializer:json" json:"timing_spec"`

	// JobID references the delayed job in the queue, empty until scheduled.
	JobID string `gorm:"index" json:"job_id,omitempty"`

	SentCount int `gorm:"default:0" json:"sent_count"`

	// Relations
	Sequence FollowUpSequence `json:"-"`
}

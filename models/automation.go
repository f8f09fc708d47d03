package models

import "gorm.io/gorm"

// Automation rule target variants
const (
	TargetLabel  = "label"
	TargetQuery  = "query"
	TargetFolder = "folder"
)

// Automation rule action variants
const (
	ActionSendEmail    = "send_email"
	ActionApplyLabel   = "apply_label"
	ActionStopSequence = "stop_sequence"
)

// RuleTarget selects the inbound/contact population a rule watches.
// Exactly one payload field is set, discriminated by Type.
type RuleTarget struct {
	Type     string   `json:"type"`
	LabelIDs []string `json:"label_ids,omitempty"`
	Query    string   `json:"query,omitempty"`
	FolderID string   `json:"folder_id,omitempty"`
}

// RuleCondition is one predicate; all conditions on a rule must match.
type RuleCondition struct {
	ID       string `json:"id"`
	Field    string `json:"field"`
	Operator string `json:"operator"` // equals, contains, gt, lt, older_than
	Value    string `json:"value"`
	Unit     string `json:"unit,omitempty"` // hours, days (for older_than)
}

// RuleAction is applied in order once all conditions match.
type RuleAction struct {
	ID   string `json:"id"`
	Type string `json:"type"` // send_email, apply_label, stop_sequence

	// send_email payload
	TemplateID *uint  `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`

	// apply_label payload
	LabelID string `json:"label_id,omitempty"`

	// stop_sequence payload
	SequenceID *uint `json:"sequence_id,omitempty"`
}

// AutomationRule is a user-defined follow-up automation. Rules are
// materialized with generated ids at creation and immutable afterwards;
// edits require a new rule.
type AutomationRule struct {
	gorm.Model
	RuleID string `gorm:"not null;uniqueIndex" json:"rule_id"`
	UserID uint   `gorm:"not null;index" json:"user_id"`

	Name string `json:"name"`

	Target     RuleTarget      `gorm:"type:jsonb;serializer:json" json:"target"`
	Schedule   TimingSpec      `gorm:"type:jsonb;serializer:json" json:"schedule"`
	Conditions []RuleCondition `gorm:"type:jsonb;serializer:json" json:"conditions"`
	Actions    []RuleAction    `gorm:"type:jsonb;serializer:json" json:"actions"`

	// Stop conditions; StopOnReply defaults to true unless explicitly
	// overridden at creation time.
	StopOnReply bool `gorm:"default:true" json:"stop_on_reply"`
	StopOnOpen  bool `gorm:"default:false" json:"stop_on_open"`
	StopOnClick bool `gorm:"default:false" json:"stop_on_click"`

	MaxFollowUps *int `json:"max_follow_ups,omitempty"`
}

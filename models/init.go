package models

import "gorm.io/gorm"

// MigrateDB runs the schema migration for every model in dependency order.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&Campaign{},
		&CampaignRecipient{},
		&FollowUpSequence{},
		&FollowUpStep{},
		&MessageLog{},
		&TrackingEvent{},
		&Bounce{},
		&AutomationRule{},
		&Booking{},
		&CalendarCache{},
		&EmailDraft{},
	)
}

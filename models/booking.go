package models

import (
	"time"

	"gorm.io/gorm"
)

// Booking statuses
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingDeclined  = "declined"
)

// Booking is a scheduled meeting created through the booking tool.
// Resolved bookings (confirmed/cancelled/declined) past their retention
// window are swept unconditionally.
type Booking struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email    string     `gorm:"not null" json:"email"`
	Name     string     `json:"name"`
	Status   string     `gorm:"default:'pending';index" json:"status"`
	StartsAt time.Time  `gorm:"not null" json:"starts_at"`
	EndsAt   time.Time  `gorm:"not null" json:"ends_at"`
	Notes    string     `json:"notes"`
	Resolved *time.Time `json:"resolved_at,omitempty"`
}

// CalendarCache stores fetched availability windows so the booking page
// does not hit the calendar API on every view. Stale rows are retention
// fodder.
type CalendarCache struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Day       time.Time `gorm:"not null;index" json:"day"`
	Slots     string    `gorm:"type:jsonb" json:"slots"`
	FetchedAt time.Time `gorm:"not null" json:"fetched_at"`
}

// EmailDraft is an unsent composed email.
type EmailDraft struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`
	To      string `json:"to"`
}

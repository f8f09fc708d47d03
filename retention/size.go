package retention

import (
	"sort"

	"gorm.io/gorm"

	"mailquill/models"
)

// Average row sizes in bytes per table. These are documented heuristics,
// not storage measurements; the size figures derived from them are
// estimates only.
var avgRowBytes = map[string]int64{
	"campaigns":           512,
	"campaign_recipients": 1024,
	"follow_up_sequences": 256,
	"follow_up_steps":     768,
	"message_logs":        640,
	"tracking_events":     256,
	"bounces":             512,
	"automation_rules":    1024,
	"bookings":            384,
	"calendar_caches":     2048,
	"email_drafts":        4096,
}

var tableModels = map[string]interface{}{
	"campaigns":           &models.Campaign{},
	"campaign_recipients": &models.CampaignRecipient{},
	"follow_up_sequences": &models.FollowUpSequence{},
	"follow_up_steps":     &models.FollowUpStep{},
	"message_logs":        &models.MessageLog{},
	"tracking_events":     &models.TrackingEvent{},
	"bounces":             &models.Bounce{},
	"automation_rules":    &models.AutomationRule{},
	"bookings":            &models.Booking{},
	"calendar_caches":     &models.CalendarCache{},
	"email_drafts":        &models.EmailDraft{},
}

// TableEstimate is one table's contribution to the size estimate.
type TableEstimate struct {
	Table           string  `json:"table"`
	Rows            int64   `json:"rows"`
	EstimatedSizeMB float64 `json:"estimated_size_mb"`
}

// SizeEstimate is the row-count based database size approximation.
type SizeEstimate struct {
	TotalRows       int64           `json:"total_rows"`
	EstimatedSizeMB float64         `json:"estimated_size_mb"`
	PerTable        []TableEstimate `json:"per_table"`
}

// ThresholdReport says how close the estimated size is to the limit.
// NeedsCleanup trips at 80% usage.
type ThresholdReport struct {
	CurrentSizeMB  float64 `json:"current_size_mb"`
	LimitMB        float64 `json:"limit_mb"`
	PercentageUsed float64 `json:"percentage_used"`
	NeedsCleanup   bool    `json:"needs_cleanup"`
}

const cleanupThresholdPct = 80.0

// EstimateDatabaseSize counts rows per table and multiplies by the
// documented average row size.
func EstimateDatabaseSize(db *gorm.DB) (*SizeEstimate, error) {
	estimate := &SizeEstimate{}

	names := make([]string, 0, len(tableModels))
	for name := range tableModels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var rows int64
		if err := db.Model(tableModels[name]).Count(&rows).Error; err != nil {
			return nil, err
		}
		sizeMB := float64(rows*avgRowBytes[name]) / (1024 * 1024)
		estimate.PerTable = append(estimate.PerTable, TableEstimate{
			Table:           name,
			Rows:            rows,
			EstimatedSizeMB: sizeMB,
		})
		estimate.TotalRows += rows
		estimate.EstimatedSizeMB += sizeMB
	}
	return estimate, nil
}

// CheckSizeThreshold compares the estimated size against a limit.
func CheckSizeThreshold(db *gorm.DB, limitMB float64) (*ThresholdReport, error) {
	estimate, err := EstimateDatabaseSize(db)
	if err != nil {
		return nil, err
	}

	report := &ThresholdReport{
		CurrentSizeMB: estimate.EstimatedSizeMB,
		LimitMB:       limitMB,
	}
	if limitMB > 0 {
		report.PercentageUsed = estimate.EstimatedSizeMB / limitMB * 100
	}
	report.NeedsCleanup = report.PercentageUsed > cleanupThresholdPct
	return report, nil
}

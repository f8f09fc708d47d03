package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/models"
	"mailquill/observability"
	"mailquill/queue"
)

// Default retention windows, in days, used for any config field left unset.
const (
	DefaultCompletedCampaignDays = 365
	DefaultDraftCampaignDays     = 90
	DefaultSentMessageDays       = 180
	DefaultTrackingEventDays     = 90
	DefaultCalendarCacheDays     = 7
	DefaultEmailDraftDays        = 60
	DefaultResolvedBookingDays   = 180
	DefaultBounceDays            = 365
)

const (
	messageBatchSize  = 1000
	campaignBatchSize = 100
	compressBatchSize = 500

	// A payload rewrite only happens when the compressed form is smaller
	// than this fraction of the original (a >=30% shrink).
	compressionRatio = 0.70
)

// RetentionConfig holds per-entity retention windows in days. Fields <= 0
// fall back to the documented defaults.
type RetentionConfig struct {
	CompletedCampaignDays int `json:"completed_campaign_days"`
	DraftCampaignDays     int `json:"draft_campaign_days"`
	SentMessageDays       int `json:"sent_message_days"`
	TrackingEventDays     int `json:"tracking_event_days"`
	CalendarCacheDays     int `json:"calendar_cache_days"`
	EmailDraftDays        int `json:"email_draft_days"`
	ResolvedBookingDays   int `json:"resolved_booking_days"`
	BounceDays            int `json:"bounce_days"`
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	def := func(v, fallback int) int {
		if v <= 0 {
			return fallback
		}
		return v
	}
	return RetentionConfig{
		CompletedCampaignDays: def(c.CompletedCampaignDays, DefaultCompletedCampaignDays),
		DraftCampaignDays:     def(c.DraftCampaignDays, DefaultDraftCampaignDays),
		SentMessageDays:       def(c.SentMessageDays, DefaultSentMessageDays),
		TrackingEventDays:     def(c.TrackingEventDays, DefaultTrackingEventDays),
		CalendarCacheDays:     def(c.CalendarCacheDays, DefaultCalendarCacheDays),
		EmailDraftDays:        def(c.EmailDraftDays, DefaultEmailDraftDays),
		ResolvedBookingDays:   def(c.ResolvedBookingDays, DefaultResolvedBookingDays),
		BounceDays:            def(c.BounceDays, DefaultBounceDays),
	}
}

// SkippedCampaign records a completed campaign the safety verifier kept.
type SkippedCampaign struct {
	CampaignID uint   `json:"campaign_id"`
	Reason     string `json:"reason"`
}

// CleanupResult is the aggregate outcome of one retention pass.
type CleanupResult struct {
	DeletedPerCategory   map[string]int64  `json:"deleted_per_category"`
	CompressedRecipients int64             `json:"compressed_recipients"`
	TotalDeleted         int64             `json:"total_deleted"`
	SizeBeforeMB         float64           `json:"size_before_mb"`
	SizeAfterMB          float64           `json:"size_after_mb"`
	Skipped              []SkippedCampaign `json:"skipped_campaigns,omitempty"`
}

func (r *CleanupResult) add(category string, count int64) {
	if count == 0 {
		return
	}
	r.DeletedPerCategory[category] += count
	r.TotalDeleted += count
	observability.RetentionRowsDeleted.WithLabelValues(category).Add(float64(count))
}

// Cleaner reclaims storage from stale rows without ever touching data of
// an active campaign. Steps run in a fixed order because later steps
// assume earlier referential cleanups completed; each step commits
// independently (monotonic, at-least-once cleanup — no distributed
// rollback, see the safety guard below).
type Cleaner struct {
	DB       *gorm.DB
	Queue    queue.Adapter
	Logger   *logrus.Entry
	verifier *SafetyVerifier
}

func NewCleaner(db *gorm.DB, q queue.Adapter, logger *logrus.Entry) *Cleaner {
	return &Cleaner{
		DB:       db,
		Queue:    q,
		Logger:   logger,
		verifier: NewSafetyVerifier(db, q, logger),
	}
}

// RunCleanup executes the full retention pass. The outer guard counts
// active campaigns before and after: a mismatch means a concurrent writer
// raced the pass, and the run is reported as failed rather than partially
// successful. Deletions from earlier steps are not rolled back.
func (c *Cleaner) RunCleanup(ctx context.Context, cfg RetentionConfig) (*CleanupResult, error) {
	cfg = cfg.withDefaults()
	now := time.Now()

	activeBefore, err := c.countActiveCampaigns()
	if err != nil {
		observability.RetentionRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to count active campaigns: %w", err)
	}

	sizeBefore, err := EstimateDatabaseSize(c.DB)
	if err != nil {
		c.Logger.WithError(err).Warn("Size estimate before cleanup failed")
	}

	result := &CleanupResult{DeletedPerCategory: make(map[string]int64)}
	if sizeBefore != nil {
		result.SizeBeforeMB = sizeBefore.EstimatedSizeMB
	}

	// Step 1: stale tracking events. Unconditional; events have no
	// "active" notion of their own.
	count, err := c.deleteStaleTrackingEvents(now.AddDate(0, 0, -cfg.TrackingEventDays))
	if err != nil {
		c.Logger.WithError(err).Error("Tracking event cleanup failed")
	}
	result.add("tracking_events", count)

	// Step 2: sent messages of completed campaigns, dependents first.
	msgCount, evtCount, err := c.archiveSentMessages(now.AddDate(0, 0, -cfg.SentMessageDays))
	if err != nil {
		c.Logger.WithError(err).Error("Message archive failed")
	}
	result.add("message_logs", msgCount)
	result.add("tracking_events", evtCount)

	// Step 3: completed campaigns, safety-checked per candidate.
	if err := c.archiveCompletedCampaigns(ctx, now.AddDate(0, 0, -cfg.CompletedCampaignDays), result); err != nil {
		c.Logger.WithError(err).Error("Campaign archive failed")
	}

	// Step 4: stale drafts. Drafts are by definition not active, so the
	// status filter alone is sufficient; no queue cross-check.
	if err := c.deleteStaleDraftCampaigns(now.AddDate(0, 0, -cfg.DraftCampaignDays), result); err != nil {
		c.Logger.WithError(err).Error("Draft cleanup failed")
	}

	// Step 5: independent unconditional sweeps.
	c.runSweeps(cfg, now, result)

	// Step 6: payload compression for completed campaigns.
	compressed, err := c.compressRecipientPayloads()
	if err != nil {
		c.Logger.WithError(err).Error("Recipient payload compression failed")
	}
	result.CompressedRecipients = compressed

	activeAfter, err := c.countActiveCampaigns()
	if err != nil {
		observability.RetentionRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to recount active campaigns: %w", err)
	}
	if activeBefore != activeAfter {
		observability.RetentionRuns.WithLabelValues("safety_failed").Inc()
		return nil, &SafetyCheckFailedError{ActiveBefore: activeBefore, ActiveAfter: activeAfter}
	}

	if sizeAfter, err := EstimateDatabaseSize(c.DB); err == nil {
		result.SizeAfterMB = sizeAfter.EstimatedSizeMB
	}

	observability.RetentionRuns.WithLabelValues("ok").Inc()
	c.Logger.WithFields(logrus.Fields{
		"total_deleted": result.TotalDeleted,
		"compressed":    result.CompressedRecipients,
		"skipped":       len(result.Skipped),
		"size_before":   result.SizeBeforeMB,
		"size_after":    result.SizeAfterMB,
	}).Info("Retention cleanup completed")
	return result, nil
}

func (c *Cleaner) countActiveCampaigns() (int64, error) {
	var count int64
	err := c.DB.Model(&models.Campaign{}).
		Where("status IN ?", models.ActiveStatuses).
		Count(&count).Error
	return count, err
}

func (c *Cleaner) deleteStaleTrackingEvents(cutoff time.Time) (int64, error) {
	res := c.DB.Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&models.TrackingEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	c.Logger.WithField("deleted", res.RowsAffected).Info("Stale tracking events deleted")
	return res.RowsAffected, nil
}

// archiveSentMessages removes sent messages of completed campaigns in
// batches, deleting dependent tracking rows first to respect referential
// order.
func (c *Cleaner) archiveSentMessages(cutoff time.Time) (messages, events int64, err error) {
	for {
		var batch []models.MessageLog
		err := c.DB.
			Select("message_logs.*").
			Joins("JOIN campaigns ON campaigns.id = message_logs.campaign_id").
			Where("message_logs.status = ?", models.MessageSent).
			Where("message_logs.created_at < ?", cutoff).
			Where("campaigns.status = ?", models.StatusCompleted).
			Limit(messageBatchSize).
			Find(&batch).Error
		if err != nil {
			return messages, events, err
		}
		if len(batch) == 0 {
			return messages, events, nil
		}

		ids := make([]uint, 0, len(batch))
		messageIDs := make([]string, 0, len(batch))
		for _, m := range batch {
			ids = append(ids, m.ID)
			messageIDs = append(messageIDs, m.MessageID)
		}

		evtRes := c.DB.Unscoped().Where("message_id IN ?", messageIDs).Delete(&models.TrackingEvent{})
		if evtRes.Error != nil {
			return messages, events, evtRes.Error
		}
		events += evtRes.RowsAffected

		msgRes := c.DB.Unscoped().Where("id IN ?", ids).Delete(&models.MessageLog{})
		if msgRes.Error != nil {
			return messages, events, msgRes.Error
		}
		messages += msgRes.RowsAffected

		c.Logger.WithFields(logrus.Fields{
			"messages": msgRes.RowsAffected,
			"events":   evtRes.RowsAffected,
		}).Info("Sent message batch archived")

		if len(batch) < messageBatchSize {
			return messages, events, nil
		}
	}
}

// archiveCompletedCampaigns walks completed campaigns past the retention
// window in batches, consulting the safety verifier per candidate. Unsafe
// campaigns are skipped with a reason and left for a future pass.
func (c *Cleaner) archiveCompletedCampaigns(ctx context.Context, cutoff time.Time, result *CleanupResult) error {
	skipped := 0
	for {
		var batch []models.Campaign
		err := c.DB.
			Where("status = ?", models.StatusCompleted).
			Where("updated_at < ?", cutoff).
			Order("id").
			Offset(skipped).
			Limit(campaignBatchSize).
			Find(&batch).Error
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		var safeIDs []uint
		for i := range batch {
			safe, reason := c.verifier.CampaignSafeToArchive(ctx, &batch[i])
			if !safe {
				skipped++
				result.Skipped = append(result.Skipped, SkippedCampaign{CampaignID: batch[i].ID, Reason: reason})
				observability.RetentionCampaignsSkipped.Inc()
				c.Logger.WithFields(logrus.Fields{
					"campaign_id": batch[i].ID,
					"reason":      reason,
				}).Warn("Campaign archive skipped")
				continue
			}
			safeIDs = append(safeIDs, batch[i].ID)
		}

		if len(safeIDs) > 0 {
			if err := c.deleteCampaignBatch(safeIDs, "completed_campaigns", result); err != nil {
				return err
			}
		}
		if len(batch) < campaignBatchSize {
			return nil
		}
	}
}

func (c *Cleaner) deleteStaleDraftCampaigns(cutoff time.Time, result *CleanupResult) error {
	var ids []uint
	err := c.DB.Model(&models.Campaign{}).
		Where("status = ?", models.StatusDraft).
		Where("updated_at < ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return c.deleteCampaignBatch(ids, "draft_campaigns", result)
}

// deleteCampaignBatch removes campaigns and all structurally-related rows
// in dependency order: recipients (and their message/tracking rows) first,
// then sequences and steps, then the campaigns themselves.
func (c *Cleaner) deleteCampaignBatch(ids []uint, category string, result *CleanupResult) error {
	return c.DB.Transaction(func(tx *gorm.DB) error {
		var messageIDs []string
		if err := tx.Model(&models.MessageLog{}).
			Where("campaign_id IN ?", ids).
			Pluck("message_id", &messageIDs).Error; err != nil {
			return err
		}
		if len(messageIDs) > 0 {
			res := tx.Unscoped().Where("message_id IN ?", messageIDs).Delete(&models.TrackingEvent{})
			if res.Error != nil {
				return res.Error
			}
			result.add("tracking_events", res.RowsAffected)
		}

		res := tx.Unscoped().Where("campaign_id IN ?", ids).Delete(&models.MessageLog{})
		if res.Error != nil {
			return res.Error
		}
		result.add("message_logs", res.RowsAffected)

		res = tx.Unscoped().Where("campaign_id IN ?", ids).Delete(&models.CampaignRecipient{})
		if res.Error != nil {
			return res.Error
		}
		result.add("campaign_recipients", res.RowsAffected)

		var seqIDs []uint
		if err := tx.Model(&models.FollowUpSequence{}).
			Where("campaign_id IN ?", ids).
			Pluck("id", &seqIDs).Error; err != nil {
			return err
		}
		if len(seqIDs) > 0 {
			res = tx.Unscoped().Where("sequence_id IN ?", seqIDs).Delete(&models.FollowUpStep{})
			if res.Error != nil {
				return res.Error
			}
			result.add("follow_up_steps", res.RowsAffected)

			res = tx.Unscoped().Where("id IN ?", seqIDs).Delete(&models.FollowUpSequence{})
			if res.Error != nil {
				return res.Error
			}
			result.add("follow_up_sequences", res.RowsAffected)
		}

		res = tx.Unscoped().Where("id IN ?", ids).Delete(&models.Campaign{})
		if res.Error != nil {
			return res.Error
		}
		result.add(category, res.RowsAffected)

		c.Logger.WithFields(logrus.Fields{
			"category":  category,
			"campaigns": res.RowsAffected,
		}).Info("Campaign batch deleted")
		return nil
	})
}

// runSweeps removes stale calendar cache, email drafts, resolved bookings
// and old bounce records. Each sweep is independent; a failure is logged
// and the rest continue.
func (c *Cleaner) runSweeps(cfg RetentionConfig, now time.Time, result *CleanupResult) {
	sweeps := []struct {
		category string
		run      func() (int64, error)
	}{
		{"calendar_cache", func() (int64, error) {
			res := c.DB.Unscoped().
				Where("fetched_at < ?", now.AddDate(0, 0, -cfg.CalendarCacheDays)).
				Delete(&models.CalendarCache{})
			return res.RowsAffected, res.Error
		}},
		{"email_drafts", func() (int64, error) {
			res := c.DB.Unscoped().
				Where("updated_at < ?", now.AddDate(0, 0, -cfg.EmailDraftDays)).
				Delete(&models.EmailDraft{})
			return res.RowsAffected, res.Error
		}},
		{"bookings", func() (int64, error) {
			res := c.DB.Unscoped().
				Where("status IN ?", []string{models.BookingConfirmed, models.BookingCancelled, models.BookingDeclined}).
				Where("updated_at < ?", now.AddDate(0, 0, -cfg.ResolvedBookingDays)).
				Delete(&models.Booking{})
			return res.RowsAffected, res.Error
		}},
		{"bounces", func() (int64, error) {
			res := c.DB.Unscoped().
				Where("created_at < ?", now.AddDate(0, 0, -cfg.BounceDays)).
				Delete(&models.Bounce{})
			return res.RowsAffected, res.Error
		}},
	}

	for _, sweep := range sweeps {
		count, err := sweep.run()
		if err != nil {
			c.Logger.WithError(err).WithField("category", sweep.category).Error("Sweep failed")
			continue
		}
		result.add(sweep.category, count)
	}
}

// compressRecipientPayloads rewrites recipient payload blobs of completed
// campaigns down to the email/name/company fields, but only when that
// shrinks the payload by at least 30%.
func (c *Cleaner) compressRecipientPayloads() (int64, error) {
	var compressed int64
	lastID := uint(0)

	for {
		var batch []models.CampaignRecipient
		err := c.DB.
			Select("campaign_recipients.*").
			Joins("JOIN campaigns ON campaigns.id = campaign_recipients.campaign_id").
			Where("campaigns.status = ?", models.StatusCompleted).
			Where("campaign_recipients.payload <> ''").
			Where("campaign_recipients.id > ?", lastID).
			Order("campaign_recipients.id").
			Limit(compressBatchSize).
			Find(&batch).Error
		if err != nil {
			return compressed, err
		}
		if len(batch) == 0 {
			return compressed, nil
		}

		for i := range batch {
			r := &batch[i]
			lastID = r.ID

			slim, ok := compressPayload(r)
			if !ok {
				continue
			}
			if err := c.DB.Model(r).Update("payload", slim).Error; err != nil {
				// A failing row is excluded from the count, not retried.
				c.Logger.WithError(err).WithField("recipient_id", r.ID).Warn("Payload rewrite failed")
				continue
			}
			compressed++
		}

		if len(batch) < compressBatchSize {
			return compressed, nil
		}
	}
}

// compressPayload builds the slim payload and reports whether rewriting
// is worthwhile.
func compressPayload(r *models.CampaignRecipient) (string, bool) {
	var full map[string]interface{}
	if err := json.Unmarshal([]byte(r.Payload), &full); err != nil {
		return "", false
	}

	slim := map[string]interface{}{}
	for _, key := range []string{"email", "name", "company"} {
		if v, ok := full[key]; ok {
			slim[key] = v
		}
	}
	if slim["email"] == nil && r.Email != "" {
		slim["email"] = r.Email
	}

	out, err := json.Marshal(slim)
	if err != nil {
		return "", false
	}
	if float64(len(out)) > compressionRatio*float64(len(r.Payload)) {
		return "", false
	}
	return string(out), true
}

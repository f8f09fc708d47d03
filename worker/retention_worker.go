package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"mailquill/retention"
	"mailquill/utils"
)

// RetentionWorker triggers the cleanup pass on an interval. When a size
// limit is configured the pass only runs once estimated usage crosses the
// threshold; without a limit it runs every interval.
type RetentionWorker struct {
	Cleaner     *retention.Cleaner
	Logger      *logrus.Entry
	Interval    time.Duration
	SizeLimitMB float64
	Config      retention.RetentionConfig
}

func NewRetentionWorker(cleaner *retention.Cleaner, logger *logrus.Entry, interval time.Duration, sizeLimitMB float64) *RetentionWorker {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionWorker{
		Cleaner:     cleaner,
		Logger:      logger,
		Interval:    interval,
		SizeLimitMB: sizeLimitMB,
	}
}

func (w *RetentionWorker) Start(ctx context.Context) {
	time.Sleep(30 * time.Second)

	w.Logger.WithField("interval", w.Interval).Info("Retention worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("Retention worker shutting down")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *RetentionWorker) runOnce(ctx context.Context) {
	if w.SizeLimitMB > 0 {
		report, err := retention.CheckSizeThreshold(w.Cleaner.DB, w.SizeLimitMB)
		if err != nil {
			w.Logger.WithError(err).Error("Size threshold check failed")
			return
		}
		if !report.NeedsCleanup {
			w.Logger.WithFields(logrus.Fields{
				"current_mb": report.CurrentSizeMB,
				"used_pct":   report.PercentageUsed,
			}).Debug("Below cleanup threshold, skipping pass")
			return
		}
	}

	result, err := w.Cleaner.RunCleanup(ctx, w.Config)
	if err != nil {
		var safetyErr *retention.SafetyCheckFailedError
		if errors.As(err, &safetyErr) {
			utils.LogError("retention_safety_check_failed", err, map[string]interface{}{
				"active_before": safetyErr.ActiveBefore,
				"active_after":  safetyErr.ActiveAfter,
			})
			return
		}
		w.Logger.WithError(err).Error("Retention cleanup failed")
		return
	}

	utils.LogEvent("retention_cleanup_completed", map[string]interface{}{
		"total_deleted": result.TotalDeleted,
		"compressed":    result.CompressedRecipients,
		"skipped":       len(result.Skipped),
		"size_after_mb": result.SizeAfterMB,
	})
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/models"
	"mailquill/queue"
)

// TrackingWorker drains track-event jobs enqueued by the ingress path and
// appends them to the tracking_events table. Running the write here keeps
// storage latency off the pixel/redirect response.
type TrackingWorker struct {
	DB     *gorm.DB
	Queue  jobQueue
	Logger *logrus.Entry
}

func NewTrackingWorker(db *gorm.DB, q jobQueue, logger *logrus.Entry) *TrackingWorker {
	return &TrackingWorker{DB: db, Queue: q, Logger: logger}
}

func (w *TrackingWorker) Start(ctx context.Context) {
	time.Sleep(5 * time.Second)

	w.Logger.Info("Tracking worker started")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("Tracking worker shutting down")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *TrackingWorker) drain(ctx context.Context) {
	if _, err := w.Queue.PromoteDue(ctx, time.Now()); err != nil {
		w.Logger.WithError(err).Error("Failed to promote due jobs")
		return
	}

	for {
		job, err := w.Queue.PopWaiting(ctx, queue.JobTrackEvent)
		if err != nil {
			w.Logger.WithError(err).Error("Failed to pop track-event job")
			return
		}
		if job == nil {
			return
		}
		if err := w.ProcessJob(job); err != nil {
			w.Logger.WithError(err).WithField("job_id", job.ID).Error("Track-event job failed")
		}
		if err := w.Queue.Ack(ctx, job.ID); err != nil {
			w.Logger.WithError(err).WithField("job_id", job.ID).Error("Failed to ack job")
		}
	}
}

// ProcessJob persists one tracking event and rolls the signal up onto the
// recipient and campaign rows.
func (w *TrackingWorker) ProcessJob(job *queue.Job) error {
	p := job.Payload

	occurredAt := time.Now()
	if p.OccurredAt != nil {
		occurredAt = *p.OccurredAt
	}

	event := models.TrackingEvent{
		MessageID:  p.MessageID,
		EventType:  p.EventType,
		OccurredAt: occurredAt,
		URL:        p.Metadata["url"],
		Metadata:   p.Metadata,
	}
	if err := w.DB.Create(&event).Error; err != nil {
		return fmt.Errorf("failed to append tracking event: %w", err)
	}

	// Roll-up is best effort: the message may already have been archived.
	var msg models.MessageLog
	if err := w.DB.Where("message_id = ?", p.MessageID).First(&msg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			w.Logger.WithField("message_id", p.MessageID).Debug("No message for tracking event")
			return nil
		}
		return fmt.Errorf("failed to look up message %s: %w", p.MessageID, err)
	}

	switch p.EventType {
	case models.EventOpen:
		if err := w.DB.Model(&models.CampaignRecipient{}).
			Where("id = ? AND opened_at IS NULL", msg.RecipientID).
			Update("opened_at", occurredAt).Error; err != nil {
			return err
		}
		return w.DB.Model(&models.Campaign{}).
			Where("id = ?", msg.CampaignID).
			Update("open_count", gorm.Expr("open_count + ?", 1)).Error
	case models.EventClick:
		if err := w.DB.Model(&models.CampaignRecipient{}).
			Where("id = ? AND clicked_at IS NULL", msg.RecipientID).
			Update("clicked_at", occurredAt).Error; err != nil {
			return err
		}
		return w.DB.Model(&models.Campaign{}).
			Where("id = ?", msg.CampaignID).
			Update("click_count", gorm.Expr("click_count + ?", 1)).Error
	default:
		w.Logger.WithField("event_type", p.EventType).Warn("Unknown tracking event type")
		return nil
	}
}

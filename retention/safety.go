package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/models"
	"mailquill/queue"
)

// SafetyCheckFailedError is the single fatal outcome of a retention run:
// the active-campaign count changed while the pass was executing. Earlier
// steps are not rolled back; the run is reported as failed with no further
// mutation.
type SafetyCheckFailedError struct {
	ActiveBefore int64
	ActiveAfter  int64
}

func (e *SafetyCheckFailedError) Error() string {
	return fmt.Sprintf("retention safety check failed: active campaign count changed from %d to %d during cleanup",
		e.ActiveBefore, e.ActiveAfter)
}

// SafetyVerifier guards every destructive campaign archive. A completed
// status alone does not make a campaign safe to delete: a follow-up step
// may still have a future fire time sitting in the job queue, since status
// can lag reality and steps can be scheduled independent of it. The
// database says what should happen when a job fires; the queue says
// whether it will fire — both are consulted.
type SafetyVerifier struct {
	DB     *gorm.DB
	Queue  queue.Adapter
	Logger *logrus.Entry
}

func NewSafetyVerifier(db *gorm.DB, q queue.Adapter, logger *logrus.Entry) *SafetyVerifier {
	return &SafetyVerifier{DB: db, Queue: q, Logger: logger}
}

// CampaignSafeToArchive reports whether the campaign has no pending or
// future follow-up work anywhere. Any error while inspecting the queue
// marks the campaign unsafe (fail closed) rather than risking deletion of
// live work.
func (v *SafetyVerifier) CampaignSafeToArchive(ctx context.Context, campaign *models.Campaign) (bool, string) {
	if campaign.Status.IsActive() {
		return false, fmt.Sprintf("campaign is %s", campaign.Status)
	}

	now := time.Now()

	var sequences []models.FollowUpSequence
	if err := v.DB.Where("campaign_id = ?", campaign.ID).Preload("Steps").Find(&sequences).Error; err != nil {
		// Fail closed on store errors too.
		return false, fmt.Sprintf("failed to load sequences: %v", err)
	}

	seqIDs := make(map[uint]bool, len(sequences))
	for _, seq := range sequences {
		seqIDs[seq.ID] = true
		for _, step := range seq.Steps {
			if at := step.TimingSpec.ScheduledAt; at != nil && at.After(now) {
				return false, fmt.Sprintf("step %d scheduled at %s", step.ID, at.Format(time.RFC3339))
			}
		}
	}

	jobs, err := v.Queue.ListPending(ctx, queue.StateDelayed, queue.StateWaiting, queue.StateActive)
	if err != nil {
		return false, fmt.Sprintf("queue inspection failed: %v", err)
	}

	for _, job := range jobs {
		if !seqIDs[job.Payload.SequenceID] && job.Payload.CampaignID != campaign.ID {
			continue
		}
		if jobHasFutureWork(job, now) {
			return false, fmt.Sprintf("job %s still pending (fires %s)", job.ID, job.Timestamp.Format(time.RFC3339))
		}
		// A due-but-unexecuted job is pending work as much as a future one.
		if job.State == queue.StateWaiting || job.State == queue.StateActive {
			return false, fmt.Sprintf("job %s is %s", job.ID, job.State)
		}
	}

	return true, ""
}

// jobHasFutureWork applies the three signals that mark a job as scheduled
// ahead: a future payload scheduled_at, a future eligibility timestamp, or
// a positive remaining delay.
func jobHasFutureWork(job queue.Job, now time.Time) bool {
	if job.Payload.ScheduledAt != nil && job.Payload.ScheduledAt.After(now) {
		return true
	}
	if job.Timestamp.After(now) {
		return true
	}
	return job.Delay > 0
}

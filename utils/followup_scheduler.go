package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/models"
	"mailquill/observability"
	"mailquill/queue"
)

// FollowUpScheduler turns follow-up steps into delayed queue jobs. The
// step row records the job id and the resolved fire instant; the queue
// remains authoritative for whether the step actually fires.
type FollowUpScheduler struct {
	DB     *gorm.DB
	Queue  queue.Adapter
	Logger *logrus.Entry
}

func NewFollowUpScheduler(db *gorm.DB, q queue.Adapter, logger *logrus.Entry) *FollowUpScheduler {
	return &FollowUpScheduler{DB: db, Queue: q, Logger: logger}
}

// ScheduleCampaign enqueues the root step of every sequence, anchored at
// the campaign's scheduled send time (or now for immediate sends).
func (s *FollowUpScheduler) ScheduleCampaign(ctx context.Context, campaign *models.Campaign) error {
	anchor := time.Now()
	if campaign.ScheduledSendAt != nil && campaign.ScheduledSendAt.After(anchor) {
		anchor = *campaign.ScheduledSendAt
	}

	var sequences []models.FollowUpSequence
	if err := s.DB.Where("campaign_id = ?", campaign.ID).Preload("Steps").Find(&sequences).Error; err != nil {
		return fmt.Errorf("failed to load sequences for campaign %d: %w", campaign.ID, err)
	}

	for i := range sequences {
		for j := range sequences[i].Steps {
			step := &sequences[i].Steps[j]
			if step.ParentStepID != nil {
				// Child steps are scheduled when their parent executes.
				continue
			}
			if err := s.ScheduleStep(ctx, campaign.ID, step, anchor); err != nil {
				return err
			}
		}
	}
	return nil
}

// ScheduleStep resolves the step's timing spec against the anchor and
// enqueues the delayed job, stamping the row with the job id and the
// resolved fire instant.
func (s *FollowUpScheduler) ScheduleStep(ctx context.Context, campaignID uint, step *models.FollowUpStep, anchor time.Time) error {
	fireAt, err := ComputeNextFireTime(step.TimingSpec, anchor)
	if err != nil {
		return fmt.Errorf("step %d: %w", step.ID, err)
	}

	jobID, err := s.Queue.EnqueueDelayed(ctx, queue.JobFollowUp, queue.Payload{
		Kind:        queue.JobFollowUp,
		CampaignID:  campaignID,
		SequenceID:  step.SequenceID,
		StepID:      step.ID,
		ScheduledAt: &fireAt,
	}, fireAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue step %d: %w", step.ID, err)
	}

	step.JobID = jobID
	step.TimingSpec.ScheduledAt = &fireAt
	if err := s.DB.Model(step).Updates(map[string]interface{}{
		"job_id":      jobID,
		"timing_spec": step.TimingSpec,
	}).Error; err != nil {
		return fmt.Errorf("failed to stamp step %d: %w", step.ID, err)
	}

	observability.FollowUpJobsScheduled.Inc()
	s.Logger.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"step_id":     step.ID,
		"job_id":      jobID,
		"fire_at":     fireAt,
	}).Info("Follow-up step scheduled")
	return nil
}

// ScheduleChildren enqueues the steps replying to the given parent,
// anchored at the parent's execution time.
func (s *FollowUpScheduler) ScheduleChildren(ctx context.Context, campaignID uint, parentStepID uint, anchor time.Time) error {
	var children []models.FollowUpStep
	if err := s.DB.Where("parent_step_id = ?", parentStepID).Find(&children).Error; err != nil {
		return fmt.Errorf("failed to load child steps of %d: %w", parentStepID, err)
	}
	for i := range children {
		if err := s.ScheduleStep(ctx, campaignID, &children[i], anchor); err != nil {
			return err
		}
	}
	return nil
}

// CancelCampaignJobs removes every pending job belonging to the campaign,
// used when a campaign is cancelled.
func (s *FollowUpScheduler) CancelCampaignJobs(ctx context.Context, campaignID uint) (int, error) {
	jobs, err := s.Queue.ListPending(ctx, queue.StateDelayed, queue.StateWaiting)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	cancelled := 0
	for _, job := range jobs {
		if job.Payload.CampaignID != campaignID {
			continue
		}
		if err := s.Queue.Cancel(ctx, job.ID); err != nil {
			s.Logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to cancel job")
			continue
		}
		cancelled++
	}

	if err := s.DB.Model(&models.FollowUpStep{}).
		Where("sequence_id IN (?)", s.DB.Model(&models.FollowUpSequence{}).Select("id").Where("campaign_id = ?", campaignID)).
		Update("job_id", "").Error; err != nil {
		s.Logger.WithError(err).WithField("campaign_id", campaignID).Warn("Failed to clear job ids")
	}
	return cancelled, nil
}

// ShouldContinue decides whether the sequence keeps emitting follow-ups
// to this recipient. Any observed stop-condition signal halts subsequent
// steps; MaxFollowUps caps the total sent.
func (s *FollowUpScheduler) ShouldContinue(seq *models.FollowUpSequence, recipient *models.CampaignRecipient) (bool, string) {
	if seq.StopOnReply && recipient.RepliedAt != nil {
		return false, "recipient replied"
	}
	if seq.StopOnOpen && recipient.OpenedAt != nil {
		return false, "recipient opened"
	}
	if seq.StopOnClick && recipient.ClickedAt != nil {
		return false, "recipient clicked"
	}
	if seq.MaxFollowUps != nil && recipient.FollowUpsSent >= *seq.MaxFollowUps {
		return false, "follow-up cap reached"
	}
	return true, ""
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/models"
	"mailquill/queue"
	"mailquill/utils"
)

// jobQueue is what the workers need from the queue: the enqueue/inspect
// side plus the consumer side.
type jobQueue interface {
	queue.Adapter
	queue.Consumer
}

// FollowUpWorker executes due follow-up jobs: it sends the step to every
// recipient the stop conditions still allow, then schedules the step's
// children.
type FollowUpWorker struct {
	DB        *gorm.DB
	Queue     jobQueue
	Scheduler *utils.FollowUpScheduler
	Mailer    utils.Mailer
	Logger    *logrus.Entry

	TrackingBaseURL string
	TrackingSecret  string
}

func NewFollowUpWorker(db *gorm.DB, q jobQueue, scheduler *utils.FollowUpScheduler, mailer utils.Mailer, logger *logrus.Entry, trackingBaseURL, trackingSecret string) *FollowUpWorker {
	return &FollowUpWorker{
		DB:              db,
		Queue:           q,
		Scheduler:       scheduler,
		Mailer:          mailer,
		Logger:          logger,
		TrackingBaseURL: trackingBaseURL,
		TrackingSecret:  trackingSecret,
	}
}

// pausedRetryDelay is how long a due job waits when its campaign is
// paused, so a resume does not lose the step.
const pausedRetryDelay = 15 * time.Minute

func (w *FollowUpWorker) Start(ctx context.Context) {
	// Let the server finish starting up
	time.Sleep(5 * time.Second)

	w.Logger.Info("Follow-up worker started")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("Follow-up worker shutting down")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *FollowUpWorker) drain(ctx context.Context) {
	if _, err := w.Queue.PromoteDue(ctx, time.Now()); err != nil {
		w.Logger.WithError(err).Error("Failed to promote due jobs")
		return
	}

	for {
		job, err := w.Queue.PopWaiting(ctx, queue.JobFollowUp)
		if err != nil {
			w.Logger.WithError(err).Error("Failed to pop follow-up job")
			return
		}
		if job == nil {
			return
		}
		if err := w.processJob(ctx, job); err != nil {
			w.Logger.WithError(err).WithField("job_id", job.ID).Error("Follow-up job failed")
		}
		if err := w.Queue.Ack(ctx, job.ID); err != nil {
			w.Logger.WithError(err).WithField("job_id", job.ID).Error("Failed to ack job")
		}
	}
}

func (w *FollowUpWorker) processJob(ctx context.Context, job *queue.Job) error {
	var step models.FollowUpStep
	if err := w.DB.First(&step, job.Payload.StepID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			w.Logger.WithField("step_id", job.Payload.StepID).Warn("Step no longer exists, dropping job")
			return nil
		}
		return fmt.Errorf("failed to load step %d: %w", job.Payload.StepID, err)
	}

	var sequence models.FollowUpSequence
	if err := w.DB.First(&sequence, step.SequenceID).Error; err != nil {
		return fmt.Errorf("failed to load sequence %d: %w", step.SequenceID, err)
	}

	var campaign models.Campaign
	if err := w.DB.First(&campaign, sequence.CampaignID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			w.Logger.WithField("campaign_id", sequence.CampaignID).Warn("Campaign gone, dropping job")
			return nil
		}
		return fmt.Errorf("failed to load campaign %d: %w", sequence.CampaignID, err)
	}

	switch campaign.Status {
	case models.StatusRunning:
		// proceed
	case models.StatusPaused, models.StatusScheduled:
		return w.requeue(ctx, &step, job)
	default:
		w.Logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"status":      campaign.Status,
		}).Info("Campaign no longer running, dropping follow-up job")
		return nil
	}

	if err := w.executeStep(ctx, &campaign, &sequence, &step); err != nil {
		return err
	}
	return w.maybeCompleteCampaign(&campaign)
}

// requeue pushes the job back so a paused campaign does not lose steps;
// the original job is acked by the caller.
func (w *FollowUpWorker) requeue(ctx context.Context, step *models.FollowUpStep, job *queue.Job) error {
	fireAt := time.Now().Add(pausedRetryDelay)
	payload := job.Payload
	payload.ScheduledAt = &fireAt

	jobID, err := w.Queue.EnqueueDelayed(ctx, queue.JobFollowUp, payload, fireAt)
	if err != nil {
		return fmt.Errorf("failed to requeue step %d: %w", step.ID, err)
	}

	step.TimingSpec.ScheduledAt = &fireAt
	return w.DB.Model(step).Updates(map[string]interface{}{
		"job_id":      jobID,
		"timing_spec": step.TimingSpec,
	}).Error
}

func (w *FollowUpWorker) executeStep(ctx context.Context, campaign *models.Campaign, sequence *models.FollowUpSequence, step *models.FollowUpStep) error {
	var recipients []models.CampaignRecipient
	if err := w.DB.Where("campaign_id = ?", campaign.ID).Find(&recipients).Error; err != nil {
		return fmt.Errorf("failed to load recipients: %w", err)
	}

	sent := 0
	for i := range recipients {
		recipient := &recipients[i]
		if ok, reason := w.Scheduler.ShouldContinue(sequence, recipient); !ok {
			w.Logger.WithFields(logrus.Fields{
				"recipient_id": recipient.ID,
				"reason":       reason,
			}).Debug("Follow-up halted for recipient")
			continue
		}

		if err := w.sendToRecipient(campaign, step, recipient); err != nil {
			w.Logger.WithError(err).WithField("recipient_id", recipient.ID).Warn("Follow-up send failed")
			continue
		}
		sent++
	}

	// The job is consumed; clear the reference and record the run.
	step.JobID = ""
	step.TimingSpec.ScheduledAt = nil
	if err := w.DB.Model(step).Updates(map[string]interface{}{
		"job_id":      "",
		"timing_spec": step.TimingSpec,
		"sent_count":  gorm.Expr("sent_count + ?", sent),
	}).Error; err != nil {
		return fmt.Errorf("failed to finalize step %d: %w", step.ID, err)
	}

	w.Logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"step_id":     step.ID,
		"sent":        sent,
	}).Info("Follow-up step executed")

	// Reply steps anchor at the parent's execution time.
	return w.Scheduler.ScheduleChildren(ctx, campaign.ID, step.ID, time.Now())
}

func (w *FollowUpWorker) sendToRecipient(campaign *models.Campaign, step *models.FollowUpStep, recipient *models.CampaignRecipient) error {
	messageID := uuid.New().String()

	body := step.Body
	if campaign.TrackOpens || campaign.TrackClicks {
		body = utils.InjectTracking(body, w.TrackingBaseURL, w.TrackingSecret, messageID)
	}

	returnedID, err := w.Mailer.Send(utils.Email{
		To:      recipient.Email,
		Subject: step.Subject,
		Body:    body,
	})
	if err != nil {
		return err
	}
	if returnedID != "" {
		messageID = returnedID
	}

	now := time.Now()
	log := models.MessageLog{
		CampaignID:  campaign.ID,
		RecipientID: recipient.ID,
		StepID:      &step.ID,
		MessageID:   messageID,
		Subject:     step.Subject,
		Status:      models.MessageSent,
		SentAt:      &now,
	}
	if err := w.DB.Create(&log).Error; err != nil {
		return err
	}

	if err := w.DB.Model(recipient).Updates(map[string]interface{}{
		"status":            "contacted",
		"last_contacted_at": now,
		"follow_ups_sent":   gorm.Expr("follow_ups_sent + ?", 1),
	}).Error; err != nil {
		return err
	}

	return w.DB.Model(campaign).
		Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error
}

// maybeCompleteCampaign marks the campaign completed once no step still
// holds a scheduled job.
func (w *FollowUpWorker) maybeCompleteCampaign(campaign *models.Campaign) error {
	var pending int64
	err := w.DB.Model(&models.FollowUpStep{}).
		Where("sequence_id IN (?)", w.DB.Model(&models.FollowUpSequence{}).Select("id").Where("campaign_id = ?", campaign.ID)).
		Where("job_id <> ''").
		Count(&pending).Error
	if err != nil {
		return fmt.Errorf("failed to count pending steps: %w", err)
	}
	if pending > 0 {
		return nil
	}

	if err := campaign.TransitionTo(models.StatusCompleted); err != nil {
		// Already paused/cancelled by a concurrent writer; leave it.
		w.Logger.WithError(err).WithField("campaign_id", campaign.ID).Debug("Skipping completion")
		return nil
	}
	if err := w.DB.Save(campaign).Error; err != nil {
		return fmt.Errorf("failed to complete campaign %d: %w", campaign.ID, err)
	}

	w.Logger.WithField("campaign_id", campaign.ID).Info("Campaign completed")
	return nil
}

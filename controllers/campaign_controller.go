package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/models"
	"mailquill/utils"
)

// CampaignController drives campaigns through the status state machine.
type CampaignController struct {
	DB        *gorm.DB
	Scheduler *utils.FollowUpScheduler
	Logger    *logrus.Entry
}

func NewCampaignController(db *gorm.DB, scheduler *utils.FollowUpScheduler, logger *logrus.Entry) *CampaignController {
	return &CampaignController{DB: db, Scheduler: scheduler, Logger: logger}
}

type createCampaignInput struct {
	Name            string     `json:"name" validate:"required,max=200"`
	Subject         string     `json:"subject" validate:"max=500"`
	Description     string     `json:"description"`
	ScheduledSendAt *time.Time `json:"scheduled_send_at,omitempty"`
	TrackOpens      *bool      `json:"track_opens,omitempty"`
	TrackClicks     *bool      `json:"track_clicks,omitempty"`
}

// CreateCampaign creates a draft campaign.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing user identity",
		})
	}

	var input createCampaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	campaign := models.Campaign{
		UserID:          owner,
		Name:            input.Name,
		Subject:         input.Subject,
		Description:     input.Description,
		Status:          models.StatusDraft,
		ScheduledSendAt: input.ScheduledSendAt,
		TrackOpens:      true,
		TrackClicks:     true,
	}
	if input.TrackOpens != nil {
		campaign.TrackOpens = *input.TrackOpens
	}
	if input.TrackClicks != nil {
		campaign.TrackClicks = *input.TrackClicks
	}

	if err := cc.DB.Create(&campaign).Error; err != nil {
		cc.Logger.WithError(err).Error("Failed to create campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(campaign)
}

// GetCampaign returns one campaign with its sequences.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaign, errResp := cc.loadOwnedCampaign(c)
	if campaign == nil {
		return errResp
	}
	if err := cc.DB.Preload("Sequences.Steps").First(campaign, campaign.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load campaign",
		})
	}
	return c.JSON(campaign)
}

// ScheduleCampaign moves a draft to scheduled and enqueues its follow-ups.
func (cc *CampaignController) ScheduleCampaign(c *fiber.Ctx) error {
	campaign, errResp := cc.loadOwnedCampaign(c)
	if campaign == nil {
		return errResp
	}
	if ok, resp := cc.transitionAndSave(c, campaign, models.StatusScheduled); !ok {
		return resp
	}

	if err := cc.Scheduler.ScheduleCampaign(c.Context(), campaign); err != nil {
		cc.Logger.WithError(err).WithField("campaign_id", campaign.ID).Error("Failed to schedule follow-ups")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Campaign scheduled but follow-up scheduling failed",
		})
	}
	return c.JSON(campaign)
}

// StartCampaign moves a scheduled campaign to running.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaign, errResp := cc.loadOwnedCampaign(c)
	if campaign == nil {
		return errResp
	}
	if ok, resp := cc.transitionAndSave(c, campaign, models.StatusRunning); !ok {
		return resp
	}
	return c.JSON(campaign)
}

// PauseCampaign pauses a running campaign; pending queue jobs are left in
// place and pushed back by the worker until resume.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaign, errResp := cc.loadOwnedCampaign(c)
	if campaign == nil {
		return errResp
	}
	if ok, resp := cc.transitionAndSave(c, campaign, models.StatusPaused); !ok {
		return resp
	}
	return c.JSON(campaign)
}

// ResumeCampaign moves a paused campaign back to running.
func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	campaign, errResp := cc.loadOwnedCampaign(c)
	if campaign == nil {
		return errResp
	}
	if ok, resp := cc.transitionAndSave(c, campaign, models.StatusRunning); !ok {
		return resp
	}
	return c.JSON(campaign)
}

// CompleteCampaign marks a running campaign completed.
func (cc *CampaignController) CompleteCampaign(c *fiber.Ctx) error {
	campaign, errResp := cc.loadOwnedCampaign(c)
	if campaign == nil {
		return errResp
	}
	if ok, resp := cc.transitionAndSave(c, campaign, models.StatusCompleted); !ok {
		return resp
	}
	return c.JSON(campaign)
}

// CancelCampaign cancels a campaign and removes its pending queue jobs.
func (cc *CampaignController) CancelCampaign(c *fiber.Ctx) error {
	campaign, errResp := cc.loadOwnedCampaign(c)
	if campaign == nil {
		return errResp
	}
	if ok, resp := cc.transitionAndSave(c, campaign, models.StatusCancelled); !ok {
		return resp
	}

	cancelled, err := cc.Scheduler.CancelCampaignJobs(c.Context(), campaign.ID)
	if err != nil {
		cc.Logger.WithError(err).WithField("campaign_id", campaign.ID).Warn("Failed to cancel pending jobs")
	}
	return c.JSON(fiber.Map{
		"campaign":       campaign,
		"jobs_cancelled": cancelled,
	})
}

func (cc *CampaignController) loadOwnedCampaign(c *fiber.Ctx) (*models.Campaign, error) {
	owner, ok := ownerID(c)
	if !ok {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing user identity",
		})
	}
	campaignID, err := c.ParamsInt("id")
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid campaign ID",
		})
	}

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", campaignID, owner).First(&campaign).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	return &campaign, nil
}

// transitionAndSave applies the state machine transition and persists it.
// On failure the response has already been written; ok reports whether the
// caller may continue.
func (cc *CampaignController) transitionAndSave(c *fiber.Ctx, campaign *models.Campaign, next models.CampaignStatus) (bool, error) {
	if err := campaign.TransitionTo(next); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := cc.DB.Save(campaign).Error; err != nil {
		cc.Logger.WithError(err).WithField("campaign_id", campaign.ID).Error("Failed to update campaign status")
		return false, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update campaign status",
		})
	}
	return true, nil
}

package routes

import (
	controller "mailquill/controllers"
	"mailquill/queue"
	"mailquill/retention"
	"mailquill/utils"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dependencies carries the shared components the route handlers need.
type Dependencies struct {
	DB             *gorm.DB
	Queue          queue.Adapter
	Scheduler      *utils.FollowUpScheduler
	Cleaner        *retention.Cleaner
	TrackingSecret string
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	// Initialize controllers with their respective loggers
	trackingController := controller.NewTrackingController(deps.Queue, logrus.WithField("component", "tracking"), deps.TrackingSecret)
	campaignController := controller.NewCampaignController(deps.DB, deps.Scheduler, logrus.WithField("component", "campaign"))
	retentionController := controller.NewRetentionController(deps.DB, deps.Cleaner, logrus.WithField("component", "retention"))
	automationController := controller.NewAutomationController(utils.NewAutomationStore(deps.DB, logrus.WithField("component", "automation")), logrus.WithField("component", "automation"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Tracking endpoints are public; the token in the path is the only
	// credential and failures must still serve the pixel/redirect.
	app.Get("/track/open/:messageID/:token", trackingController.TrackOpen)
	app.Get("/track/click/:messageID/:token", trackingController.TrackClick)

	// API group with logging middleware
	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Post("/:id/schedule", campaignController.ScheduleCampaign)
	campaign.Post("/:id/start", campaignController.StartCampaign)
	campaign.Post("/:id/pause", campaignController.PauseCampaign)
	campaign.Post("/:id/resume", campaignController.ResumeCampaign)
	campaign.Post("/:id/complete", campaignController.CompleteCampaign)
	campaign.Post("/:id/cancel", campaignController.CancelCampaign)

	// Automation rule routes
	automation := api.Group("/automations")
	automation.Post("/", automationController.CreateRule)
	automation.Get("/", automationController.ListRules)
	automation.Get("/:id", automationController.GetRule)

	// Retention routes
	ret := api.Group("/retention")
	ret.Post("/cleanup", retentionController.RunCleanup)
	ret.Get("/size", retentionController.EstimateSize)
	ret.Get("/threshold", retentionController.CheckThreshold)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}

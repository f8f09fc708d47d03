package main

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailquill/config"
	"mailquill/middleware"
	"mailquill/queue"
	"mailquill/retention"
	"mailquill/routes"
	"mailquill/utils"
	"mailquill/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if dsn := config.AppConfig.SentryDSN; dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Pick the job queue backend
	var jobQueue queue.Queue
	if config.AppConfig.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		jobQueue = queue.NewRedisQueue(client)
		log.Println("✅ Using Redis job queue")
	} else {
		jobQueue = queue.NewMemoryQueue()
		log.Println("⚠️ Redis disabled, using in-memory job queue")
	}

	scheduler := utils.NewFollowUpScheduler(config.DB, jobQueue, logrus.WithField("component", "scheduler"))
	cleaner := retention.NewCleaner(config.DB, jobQueue, logrus.WithField("component", "retention"))
	mailer := utils.NewLogMailer(logrus.WithField("component", "mailer"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the background workers
	followUpWorker := worker.NewFollowUpWorker(
		config.DB, jobQueue, scheduler, mailer,
		logrus.WithField("component", "followup_worker"),
		config.AppConfig.TrackingBaseURL,
		config.AppConfig.TrackingSecret,
	)
	go followUpWorker.Start(ctx)

	trackingWorker := worker.NewTrackingWorker(config.DB, jobQueue, logrus.WithField("component", "tracking_worker"))
	go trackingWorker.Start(ctx)

	retentionWorker := worker.NewRetentionWorker(
		cleaner,
		logrus.WithField("component", "retention_worker"),
		time.Duration(config.AppConfig.RetentionIntervalHours)*time.Hour,
		config.AppConfig.DBSizeLimitMB,
	)
	go retentionWorker.Start(ctx)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Dependencies{
		DB:             config.DB,
		Queue:          jobQueue,
		Scheduler:      scheduler,
		Cleaner:        cleaner,
		TrackingSecret: config.AppConfig.TrackingSecret,
	})

	// Start server
	log.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

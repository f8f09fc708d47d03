package controller

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/retention"
)

// RetentionController exposes the cleanup engine to the admin layer.
type RetentionController struct {
	DB      *gorm.DB
	Cleaner *retention.Cleaner
	Logger  *logrus.Entry
}

func NewRetentionController(db *gorm.DB, cleaner *retention.Cleaner, logger *logrus.Entry) *RetentionController {
	return &RetentionController{DB: db, Cleaner: cleaner, Logger: logger}
}

// RunCleanup triggers a retention pass. Omitted config fields fall back
// to the documented defaults.
func (rc *RetentionController) RunCleanup(c *fiber.Ctx) error {
	var cfg retention.RetentionConfig
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&cfg); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid retention config",
			})
		}
	}

	result, err := rc.Cleaner.RunCleanup(c.Context(), cfg)
	if err != nil {
		var safetyErr *retention.SafetyCheckFailedError
		if errors.As(err, &safetyErr) {
			rc.Logger.WithFields(logrus.Fields{
				"active_before": safetyErr.ActiveBefore,
				"active_after":  safetyErr.ActiveAfter,
			}).Error("Retention safety check failed")
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":         "Safety check failed: active campaign count changed during cleanup",
				"active_before": safetyErr.ActiveBefore,
				"active_after":  safetyErr.ActiveAfter,
			})
		}
		rc.Logger.WithError(err).Error("Retention cleanup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Retention cleanup failed",
		})
	}

	return c.JSON(result)
}

// EstimateSize returns the row-count based database size approximation.
func (rc *RetentionController) EstimateSize(c *fiber.Ctx) error {
	estimate, err := retention.EstimateDatabaseSize(rc.DB)
	if err != nil {
		rc.Logger.WithError(err).Error("Size estimate failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to estimate database size",
		})
	}
	return c.JSON(estimate)
}

// CheckThreshold reports whether estimated usage crossed 80% of the limit.
func (rc *RetentionController) CheckThreshold(c *fiber.Ctx) error {
	limitMB, err := strconv.ParseFloat(c.Query("limit_mb"), 64)
	if err != nil || limitMB <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit_mb must be a positive number",
		})
	}

	report, err := retention.CheckSizeThreshold(rc.DB, limitMB)
	if err != nil {
		rc.Logger.WithError(err).Error("Threshold check failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check size threshold",
		})
	}
	return c.JSON(report)
}

package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/utils"
)

// AutomationController manages user follow-up automation rules.
type AutomationController struct {
	Store  *utils.AutomationStore
	Logger *logrus.Entry
}

func NewAutomationController(store *utils.AutomationStore, logger *logrus.Entry) *AutomationController {
	return &AutomationController{Store: store, Logger: logger}
}

// ownerID extracts the authenticated owner. Authentication proper sits in
// front of this service; it forwards the resolved user id in a header.
func ownerID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Get("X-User-ID"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// CreateRule registers an automation rule and returns it fully
// materialized with generated ids.
func (ac *AutomationController) CreateRule(c *fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing user identity",
		})
	}

	var input utils.AutomationRuleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	rule, err := ac.Store.CreateRule(owner, input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

// ListRules returns the owner's rules.
func (ac *AutomationController) ListRules(c *fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing user identity",
		})
	}

	rules, err := ac.Store.ListRules(owner)
	if err != nil {
		ac.Logger.WithError(err).Error("Failed to list automation rules")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list rules",
		})
	}
	return c.JSON(fiber.Map{"rules": rules})
}

// GetRule fetches one rule by public id.
func (ac *AutomationController) GetRule(c *fiber.Ctx) error {
	owner, ok := ownerID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing user identity",
		})
	}

	rule, err := ac.Store.GetRule(owner, c.Params("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Rule not found",
			})
		}
		ac.Logger.WithError(err).Error("Failed to load automation rule")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load rule",
		})
	}
	return c.JSON(rule)
}

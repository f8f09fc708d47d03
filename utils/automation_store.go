package utils

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailquill/models"
)

// AutomationStore persists user-defined follow-up automation rules, keyed
// by owner. Rules are materialized with generated ids at creation time and
// immutable afterwards; edits require a new rule.
type AutomationStore struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewAutomationStore(db *gorm.DB, logger *logrus.Entry) *AutomationStore {
	return &AutomationStore{DB: db, Logger: logger}
}

// RuleConditionInput is one predicate of a rule being created.
type RuleConditionInput struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"required,oneof=equals contains gt lt older_than"`
	Value    string `json:"value" validate:"required"`
	Unit     string `json:"unit,omitempty" validate:"omitempty,oneof=hours days"`
}

// RuleActionInput is one action of a rule being created.
type RuleActionInput struct {
	Type       string `json:"type" validate:"required,oneof=send_email apply_label stop_sequence"`
	TemplateID *uint  `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
	LabelID    string `json:"label_id,omitempty"`
	SequenceID *uint  `json:"sequence_id,omitempty"`
}

// StopConditionsInput overrides the stop-condition defaults. OnReply is a
// pointer so an explicit false survives normalization.
type StopConditionsInput struct {
	OnReply *bool `json:"on_reply,omitempty"`
	OnOpen  bool  `json:"on_open,omitempty"`
	OnClick bool  `json:"on_click,omitempty"`
}

// AutomationRuleInput is the caller-supplied rule definition.
type AutomationRuleInput struct {
	Name           string               `json:"name" validate:"required,max=200"`
	Target         models.RuleTarget    `json:"target"`
	Schedule       models.TimingSpec    `json:"schedule"`
	Conditions     []RuleConditionInput `json:"conditions" validate:"required,min=1,dive"`
	Actions        []RuleActionInput    `json:"actions" validate:"required,min=1,dive"`
	StopConditions *StopConditionsInput `json:"stop_conditions,omitempty"`
	MaxFollowUps   *int                 `json:"max_follow_ups,omitempty"`
}

// CreateRule validates, materializes and persists a rule for the owner.
// The returned rule carries generated ids for itself and for every
// condition and action.
func (s *AutomationStore) CreateRule(ownerID uint, input AutomationRuleInput) (*models.AutomationRule, error) {
	if err := ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := validateRuleTarget(input.Target); err != nil {
		return nil, err
	}
	if err := ValidateTimingSpec(input.Schedule); err != nil {
		return nil, err
	}
	if input.MaxFollowUps != nil && *input.MaxFollowUps < 0 {
		return nil, errors.New("max_follow_ups must not be negative")
	}

	rule := &models.AutomationRule{
		RuleID: uuid.New().String(),
		UserID: ownerID,
		Name:   input.Name,
		Target: input.Target,
		// The resolved scheduled_at never belongs on a stored rule cadence.
		Schedule: models.TimingSpec{
			Type:     input.Schedule.Type,
			Relative: input.Schedule.Relative,
			Absolute: input.Schedule.Absolute,
			Weekly:   input.Schedule.Weekly,
		},
		MaxFollowUps: input.MaxFollowUps,
	}

	for _, c := range input.Conditions {
		if c.Operator == "older_than" && c.Unit == "" {
			return nil, fmt.Errorf("condition on %q: older_than requires a unit", c.Field)
		}
		rule.Conditions = append(rule.Conditions, models.RuleCondition{
			ID:       uuid.New().String(),
			Field:    c.Field,
			Operator: c.Operator,
			Value:    c.Value,
			Unit:     c.Unit,
		})
	}

	for _, a := range input.Actions {
		if err := validateRuleAction(a); err != nil {
			return nil, err
		}
		rule.Actions = append(rule.Actions, models.RuleAction{
			ID:         uuid.New().String(),
			Type:       a.Type,
			TemplateID: a.TemplateID,
			Subject:    a.Subject,
			Body:       a.Body,
			LabelID:    a.LabelID,
			SequenceID: a.SequenceID,
		})
	}

	// Normalize stop conditions: stop-on-reply unless explicitly disabled.
	rule.StopOnReply = true
	if input.StopConditions != nil {
		if input.StopConditions.OnReply != nil {
			rule.StopOnReply = *input.StopConditions.OnReply
		}
		rule.StopOnOpen = input.StopConditions.OnOpen
		rule.StopOnClick = input.StopConditions.OnClick
	}

	if err := s.DB.Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to persist automation rule: %w", err)
	}

	s.Logger.WithFields(logrus.Fields{
		"rule_id":    rule.RuleID,
		"user_id":    ownerID,
		"conditions": len(rule.Conditions),
		"actions":    len(rule.Actions),
	}).Info("Automation rule created")

	return rule, nil
}

// ListRules returns the owner's rules, newest first.
func (s *AutomationStore) ListRules(ownerID uint) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.DB.Where("user_id = ?", ownerID).Order("created_at DESC").Find(&rules).Error
	return rules, err
}

// GetRule fetches one rule by its public id, scoped to the owner.
func (s *AutomationStore) GetRule(ownerID uint, ruleID string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.DB.Where("user_id = ? AND rule_id = ?", ownerID, ruleID).First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func validateRuleTarget(target models.RuleTarget) error {
	switch target.Type {
	case models.TargetLabel:
		if len(target.LabelIDs) == 0 {
			return errors.New("label target requires at least one label id")
		}
	case models.TargetQuery:
		if target.Query == "" {
			return errors.New("query target requires a query string")
		}
	case models.TargetFolder:
		if target.FolderID == "" {
			return errors.New("folder target requires a folder id")
		}
	default:
		return fmt.Errorf("unknown target type %q", target.Type)
	}
	return nil
}

func validateRuleAction(a RuleActionInput) error {
	switch a.Type {
	case models.ActionSendEmail:
		if a.TemplateID == nil && a.Body == "" {
			return errors.New("send_email action requires a template or a body")
		}
	case models.ActionApplyLabel:
		if a.LabelID == "" {
			return errors.New("apply_label action requires a label id")
		}
	case models.ActionStopSequence:
		// SequenceID optional: absent means stop whichever sequence matched.
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

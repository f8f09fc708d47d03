package models

import (
	"fmt"
	"time"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusScheduled CampaignStatus = "scheduled"
	StatusRunning   CampaignStatus = "running"
	StatusPaused    CampaignStatus = "paused"
	StatusCompleted CampaignStatus = "completed"
	StatusCancelled CampaignStatus = "cancelled"
)

// campaignTransitions is the full set of legal status transitions.
// completed and cancelled are terminal; cancelled is reachable from every
// non-terminal state.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	StatusDraft:     {StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// ActiveStatuses are the statuses retention must never touch.
var ActiveStatuses = []CampaignStatus{StatusRunning, StatusScheduled, StatusPaused}

// IsActive reports whether a campaign in this status still has live work.
// This predicate is the single gate consulted by every retention operation.
func (s CampaignStatus) IsActive() bool {
	return s == StatusRunning || s == StatusScheduled || s == StatusPaused
}

// IsTerminal reports whether no transition leaves this status.
func (s CampaignStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsValid reports whether s is a known campaign status.
func (s CampaignStatus) IsValid() bool {
	_, ok := campaignTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the campaign to the next status, stamping the
// lifecycle timestamps. It mutates the in-memory row only; persisting is
// the caller's responsibility.
func (c *Campaign) TransitionTo(next CampaignStatus) error {
	if !next.IsValid() {
		return fmt.Errorf("unknown campaign status %q", next)
	}
	if !c.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal campaign transition %s -> %s", c.Status, next)
	}

	now := nowFunc()
	switch next {
	case StatusRunning:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case StatusCompleted, StatusCancelled:
		c.CompletedAt = &now
	}
	c.Status = next
	return nil
}

// nowFunc is swapped out by tests.
var nowFunc = time.Now

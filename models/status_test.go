package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCampaignStatusTransitions(t *testing.T) {
	all := []CampaignStatus{
		StatusDraft, StatusScheduled, StatusRunning,
		StatusPaused, StatusCompleted, StatusCancelled,
	}

	allowed := map[CampaignStatus]map[CampaignStatus]bool{
		StatusDraft:     {StatusScheduled: true, StatusCancelled: true},
		StatusScheduled: {StatusRunning: true, StatusCancelled: true},
		StatusRunning:   {StatusPaused: true, StatusCompleted: true, StatusCancelled: true},
		StatusPaused:    {StatusRunning: true, StatusCancelled: true},
		StatusCompleted: {},
		StatusCancelled: {},
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			require.Equal(t, allowed[from][to], got, "%s -> %s", from, to)
		}
	}
}

func TestCampaignStatusPredicates(t *testing.T) {
	require.True(t, StatusRunning.IsActive())
	require.True(t, StatusScheduled.IsActive())
	require.True(t, StatusPaused.IsActive())
	require.False(t, StatusDraft.IsActive())
	require.False(t, StatusCompleted.IsActive())
	require.False(t, StatusCancelled.IsActive())

	require.True(t, StatusCompleted.IsTerminal())
	require.True(t, StatusCancelled.IsTerminal())
	require.False(t, StatusRunning.IsTerminal())

	require.True(t, StatusDraft.IsValid())
	require.False(t, CampaignStatus("archived").IsValid())
}

func TestTransitionToStampsTimestamps(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return fixed }
	defer func() { nowFunc = time.Now }()

	c := &Campaign{Status: StatusDraft}

	require.NoError(t, c.TransitionTo(StatusScheduled))
	require.Nil(t, c.StartedAt)

	require.NoError(t, c.TransitionTo(StatusRunning))
	require.NotNil(t, c.StartedAt)
	require.Equal(t, fixed, *c.StartedAt)

	// Pause and resume must not reset the original start time.
	later := fixed.Add(time.Hour)
	nowFunc = func() time.Time { return later }
	require.NoError(t, c.TransitionTo(StatusPaused))
	require.NoError(t, c.TransitionTo(StatusRunning))
	require.Equal(t, fixed, *c.StartedAt)

	require.NoError(t, c.TransitionTo(StatusCompleted))
	require.NotNil(t, c.CompletedAt)
	require.Equal(t, later, *c.CompletedAt)
	require.Equal(t, StatusCompleted, c.Status)
}

func TestTransitionToRejectsIllegalMoves(t *testing.T) {
	c := &Campaign{Status: StatusDraft}
	err := c.TransitionTo(StatusRunning)
	require.Error(t, err)
	require.Equal(t, StatusDraft, c.Status)

	c.Status = StatusCompleted
	require.Error(t, c.TransitionTo(StatusRunning))
	require.Error(t, c.TransitionTo(StatusCancelled))

	c.Status = StatusRunning
	require.Error(t, c.TransitionTo(CampaignStatus("archived")))
}

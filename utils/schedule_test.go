package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailquill/models"
)

func TestComputeNextFireTimeRelative(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fireAt, err := ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingRelative,
		Relative: &models.RelativeTiming{Days: 2},
	}, anchor)
	require.NoError(t, err)
	require.Equal(t, anchor.Add(48*time.Hour), fireAt)

	fireAt, err = ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingRelative,
		Relative: &models.RelativeTiming{Hours: 3, Days: 1},
	}, anchor)
	require.NoError(t, err)
	require.Equal(t, anchor.Add(27*time.Hour), fireAt)

	// Zero offset means immediate.
	fireAt, err = ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingRelative,
		Relative: &models.RelativeTiming{},
	}, anchor)
	require.NoError(t, err)
	require.Equal(t, anchor, fireAt)
}

func TestComputeNextFireTimeRelativeInvalid(t *testing.T) {
	anchor := time.Now()

	_, err := ComputeNextFireTime(models.TimingSpec{Type: models.TimingRelative}, anchor)
	require.ErrorAs(t, err, new(*InvalidScheduleError))

	_, err = ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingRelative,
		Relative: &models.RelativeTiming{Hours: -1},
	}, anchor)
	require.ErrorAs(t, err, new(*InvalidScheduleError))
}

func TestComputeNextFireTimeAbsolute(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sendAt := time.Date(2024, 1, 5, 9, 30, 0, 0, time.UTC)

	fireAt, err := ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingAbsolute,
		Absolute: &models.AbsoluteTiming{SendAt: sendAt},
	}, anchor)
	require.NoError(t, err)
	require.Equal(t, sendAt, fireAt)

	// Wall clock is reinterpreted in the requested timezone.
	fireAt, err = ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingAbsolute,
		Absolute: &models.AbsoluteTiming{SendAt: sendAt, Timezone: "America/New_York"},
	}, anchor)
	require.NoError(t, err)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 5, 9, 30, 0, 0, ny), fireAt)
}

func TestComputeNextFireTimeAbsoluteInvalid(t *testing.T) {
	anchor := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	_, err := ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingAbsolute,
		Absolute: &models.AbsoluteTiming{SendAt: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)},
	}, anchor)
	require.ErrorAs(t, err, new(*InvalidScheduleError))

	_, err = ComputeNextFireTime(models.TimingSpec{
		Type:     models.TimingAbsolute,
		Absolute: &models.AbsoluteTiming{SendAt: anchor.Add(time.Hour), Timezone: "Mars/Olympus"},
	}, anchor)
	require.ErrorAs(t, err, new(*InvalidScheduleError))

	_, err = ComputeNextFireTime(models.TimingSpec{Type: models.TimingAbsolute}, anchor)
	require.Error(t, err)
}

func TestComputeNextFireTimeWeekly(t *testing.T) {
	// Monday.
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	fireAt, err := ComputeNextFireTime(models.TimingSpec{
		Type:   models.TimingWeekly,
		Weekly: &models.WeeklyTiming{DaysOfWeek: []string{"tuesday"}, SendTime: "09:00"},
	}, anchor)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), fireAt)

	// Same day, time already passed: wraps to next week.
	lateMonday := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	fireAt, err = ComputeNextFireTime(models.TimingSpec{
		Type:   models.TimingWeekly,
		Weekly: &models.WeeklyTiming{DaysOfWeek: []string{"monday"}, SendTime: "09:00"},
	}, lateMonday)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), fireAt)

	// Anchor exactly on the listed day/time counts as the next occurrence.
	exact := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	fireAt, err = ComputeNextFireTime(models.TimingSpec{
		Type:   models.TimingWeekly,
		Weekly: &models.WeeklyTiming{DaysOfWeek: []string{"monday"}, SendTime: "09:00"},
	}, exact)
	require.NoError(t, err)
	require.Equal(t, exact, fireAt)

	// Earliest of several listed days wins.
	fireAt, err = ComputeNextFireTime(models.TimingSpec{
		Type:   models.TimingWeekly,
		Weekly: &models.WeeklyTiming{DaysOfWeek: []string{"friday", "wednesday"}, SendTime: "10:30"},
	}, anchor)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 3, 10, 30, 0, 0, time.UTC), fireAt)
}

func TestComputeNextFireTimeWeeklyTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// Monday 00:30 UTC is Monday 09:30 in Tokyo, so a 09:00 Tokyo send has
	// already passed and the next Monday slot is a week out.
	anchor := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	fireAt, err := ComputeNextFireTime(models.TimingSpec{
		Type: models.TimingWeekly,
		Weekly: &models.WeeklyTiming{
			DaysOfWeek: []string{"monday"},
			SendTime:   "09:00",
			Timezone:   "Asia/Tokyo",
		},
	}, anchor)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, tokyo).UTC(), fireAt.UTC())
}

func TestComputeNextFireTimeWeeklyInvalid(t *testing.T) {
	anchor := time.Now()

	_, err := ComputeNextFireTime(models.TimingSpec{
		Type:   models.TimingWeekly,
		Weekly: &models.WeeklyTiming{SendTime: "09:00"},
	}, anchor)
	require.ErrorAs(t, err, new(*InvalidScheduleError))

	_, err = ComputeNextFireTime(models.TimingSpec{
		Type:   models.TimingWeekly,
		Weekly: &models.WeeklyTiming{DaysOfWeek: []string{"funday"}, SendTime: "09:00"},
	}, anchor)
	require.ErrorAs(t, err, new(*InvalidScheduleError))

	for _, raw := range []string{"9:00", "09:5", "25:00", "09:61", "0900", ""} {
		_, err = ComputeNextFireTime(models.TimingSpec{
			Type:   models.TimingWeekly,
			Weekly: &models.WeeklyTiming{DaysOfWeek: []string{"monday"}, SendTime: raw},
		}, anchor)
		require.Error(t, err, "send time %q", raw)
	}
}

func TestComputeNextFireTimeUnknownType(t *testing.T) {
	_, err := ComputeNextFireTime(models.TimingSpec{Type: "cron"}, time.Now())
	require.ErrorAs(t, err, new(*InvalidScheduleError))
}

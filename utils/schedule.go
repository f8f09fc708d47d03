package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailquill/models"
)

// InvalidScheduleError is returned when a timing spec fails validation.
// Validation failures are surfaced to the caller and never retried.
type InvalidScheduleError struct {
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return "invalid schedule: " + e.Reason
}

func invalidSchedule(format string, args ...interface{}) error {
	return &InvalidScheduleError{Reason: fmt.Sprintf(format, args...)}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ComputeNextFireTime resolves a timing spec against an anchor instant
// (campaign start, previous step, or now) into the absolute instant the
// step should fire.
func ComputeNextFireTime(spec models.TimingSpec, anchor time.Time) (time.Time, error) {
	switch spec.Type {
	case models.TimingRelative:
		return nextRelative(spec.Relative, anchor)
	case models.TimingAbsolute:
		return nextAbsolute(spec.Absolute, anchor)
	case models.TimingWeekly:
		return nextWeekly(spec.Weekly, anchor)
	default:
		return time.Time{}, invalidSchedule("unknown timing type %q", spec.Type)
	}
}

// ValidateTimingSpec checks a spec without resolving it, anchored at now.
func ValidateTimingSpec(spec models.TimingSpec) error {
	_, err := ComputeNextFireTime(spec, time.Now())
	return err
}

func nextRelative(rel *models.RelativeTiming, anchor time.Time) (time.Time, error) {
	if rel == nil {
		return time.Time{}, invalidSchedule("relative timing missing offset")
	}
	if rel.Hours < 0 || rel.Days < 0 {
		return time.Time{}, invalidSchedule("relative offset must not be negative")
	}
	// Both zero is legal and means immediate.
	offset := time.Duration(rel.Hours)*time.Hour + time.Duration(rel.Days)*24*time.Hour
	return anchor.Add(offset), nil
}

func nextAbsolute(abs *models.AbsoluteTiming, anchor time.Time) (time.Time, error) {
	if abs == nil {
		return time.Time{}, invalidSchedule("absolute timing missing send_at")
	}
	loc, err := loadTimezone(abs.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	// The wall-clock fields of send_at are what the user picked; interpret
	// them in the requested timezone.
	t := abs.SendAt
	fireAt := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	if fireAt.Before(anchor) {
		return time.Time{}, invalidSchedule("absolute send time %s is in the past", fireAt.Format(time.RFC3339))
	}
	return fireAt, nil
}

func nextWeekly(weekly *models.WeeklyTiming, anchor time.Time) (time.Time, error) {
	if weekly == nil {
		return time.Time{}, invalidSchedule("weekly timing missing configuration")
	}
	if len(weekly.DaysOfWeek) == 0 {
		return time.Time{}, invalidSchedule("weekly timing requires at least one day of week")
	}

	days := make(map[time.Weekday]bool, len(weekly.DaysOfWeek))
	for _, name := range weekly.DaysOfWeek {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return time.Time{}, invalidSchedule("unknown day of week %q", name)
		}
		days[day] = true
	}

	hour, minute, err := parseSendTime(weekly.SendTime)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := loadTimezone(weekly.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	// Walk eight days so a matching weekday whose local time already
	// passed today wraps around to next week. An anchor landing exactly on
	// a listed day/time counts as the next occurrence.
	local := anchor.In(loc)
	var earliest time.Time
	for d := 0; d <= 7; d++ {
		day := local.AddDate(0, 0, d)
		if !days[day.Weekday()] {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
		if candidate.Before(anchor) {
			continue
		}
		if earliest.IsZero() || candidate.Before(earliest) {
			earliest = candidate
		}
	}
	if earliest.IsZero() {
		return time.Time{}, invalidSchedule("no upcoming occurrence for weekly timing")
	}
	return earliest, nil
}

func parseSendTime(raw string) (hour, minute int, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, invalidSchedule("send time %q is not HH:MM", raw)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, invalidSchedule("send time %q has an invalid hour", raw)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, invalidSchedule("send time %q has an invalid minute", raw)
	}
	return hour, minute, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalidSchedule("unknown timezone %q", name)
	}
	return loc, nil
}

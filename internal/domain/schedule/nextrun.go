// Package schedule contains the pure next-run computation for automation
// schedules. It has no persistence dependencies and is driven entirely by
// the schedule config and a caller-supplied notion of now.
package schedule

import (
	"fmt"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
)

// NextRun computes the next UTC run instant for a schedule evaluated at now.
//
// The computation is pinned to the schedule's timezone and then converted to
// UTC, so a "02:00 America/New_York" schedule survives DST transitions
// without drift:
//   - convert now into the user's timezone
//   - build candidate = today(user-tz) @ HH:MM
//   - daily: if candidate <= now, add one day
//   - weekly: use today when it is configured and the candidate is still
//     ahead; otherwise advance by the smallest positive day offset that
//     lands on a configured weekday
func NextRun(s model.Schedule, now time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}

	nowUser := now.In(loc)
	hour, minute := s.HourMinute()
	candidate := time.Date(nowUser.Year(), nowUser.Month(), nowUser.Day(), hour, minute, 0, 0, loc)

	switch s.Type {
	case model.ScheduleDaily:
		if !candidate.After(nowUser) {
			candidate = addDays(candidate, 1, loc)
		}
	case model.ScheduleWeekly:
		candidate = nextWeeklyCandidate(candidate, nowUser, s.Days, loc)
	default:
		return time.Time{}, fmt.Errorf("unsupported schedule type %q", s.Type)
	}

	return candidate.UTC(), nil
}

// nextWeeklyCandidate picks the nearest configured weekday. When several
// configured days resolve to the same calendar day the earliest wins, which
// falls out of taking the minimum positive offset.
func nextWeeklyCandidate(candidate, nowUser time.Time, days []model.Weekday, loc *time.Location) time.Time {
	want := make(map[int]bool, len(days))
	for _, d := range days {
		if idx := d.Index(); idx >= 0 {
			want[idx] = true
		}
	}

	today := model.ScheduleWeekdayIndex(nowUser.Weekday())
	if want[today] && candidate.After(nowUser) {
		return candidate
	}

	for offset := 1; offset <= 7; offset++ {
		if want[(today+offset)%7] {
			return addDays(candidate, offset, loc)
		}
	}
	// Unreachable when at least one valid weekday is configured.
	return addDays(candidate, 7, loc)
}

// addDays advances a wall-clock time by whole calendar days, re-anchoring in
// the location so the HH:MM component is preserved across DST transitions.
func addDays(t time.Time, days int, loc *time.Location) time.Time {
	shifted := t.AddDate(0, 0, days)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), t.Hour(), t.Minute(), 0, 0, loc)
}

// NextRuns computes the next run per enabled automation type in a config.
func NextRuns(cfg model.ScheduleConfig, now time.Time) (map[model.AutomationType]time.Time, error) {
	out := make(map[model.AutomationType]time.Time, len(cfg))
	for at, s := range cfg {
		if !s.Enabled {
			continue
		}
		next, err := NextRun(s, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", at, err)
		}
		out[at] = next
	}
	return out, nil
}

// DefaultConfig returns the documented default schedule used when a
// connection has no stored config: metadata refresh daily at 02:00 UTC,
// schema change detection daily at 03:00 UTC, validation disabled.
func DefaultConfig() model.ScheduleConfig {
	return model.ScheduleConfig{
		model.AutomationMetadataRefresh: {
			Enabled: true, Type: model.ScheduleDaily, Time: "02:00", Timezone: "UTC",
		},
		model.AutomationSchemaChangeDetection: {
			Enabled: true, Type: model.ScheduleDaily, Time: "03:00", Timezone: "UTC",
		},
		model.AutomationValidation: {
			Enabled: false, Type: model.ScheduleDaily, Time: "04:00", Timezone: "UTC",
		},
	}
}

package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/domain/model"
)

func mustUTC(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed.UTC()
}

func TestNextRun_Daily(t *testing.T) {
	daily := model.Schedule{
		Enabled:  true,
		Type:     model.ScheduleDaily,
		Time:     "02:00",
		Timezone: "America/New_York",
	}

	t.Run("candidate still ahead runs today", func(t *testing.T) {
		// 01:00 EST on Jan 15; 02:00 EST is 07:00 UTC.
		now := mustUTC(t, "2025-01-15T06:00:00Z")
		next, err := NextRun(daily, now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-01-15T07:00:00Z"), next)
	})

	t.Run("candidate already passed rolls to tomorrow", func(t *testing.T) {
		// 03:00 EST on Jan 15.
		now := mustUTC(t, "2025-01-15T08:00:00Z")
		next, err := NextRun(daily, now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-01-16T07:00:00Z"), next)
	})

	t.Run("exact candidate instant rolls forward", func(t *testing.T) {
		now := mustUTC(t, "2025-01-15T07:00:00Z")
		next, err := NextRun(daily, now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-01-16T07:00:00Z"), next)
	})

	t.Run("summer offset follows DST", func(t *testing.T) {
		// 01:00 EDT on Jul 15; 02:00 EDT is 06:00 UTC, not 07:00.
		now := mustUTC(t, "2025-07-15T05:00:00Z")
		next, err := NextRun(daily, now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-07-15T06:00:00Z"), next)
	})

	t.Run("crossing the fall-back transition keeps wall clock", func(t *testing.T) {
		// Saturday Nov 1 2025 afternoon; clocks fall back overnight, so
		// Sunday's 02:00 run lands on EST and shifts an hour later in UTC.
		now := mustUTC(t, "2025-11-01T16:00:00Z")
		next, err := NextRun(daily, now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-11-02T07:00:00Z"), next)
	})

	t.Run("crossing the spring-forward transition keeps wall clock", func(t *testing.T) {
		early := model.Schedule{
			Enabled:  true,
			Type:     model.ScheduleDaily,
			Time:     "01:00",
			Timezone: "America/New_York",
		}
		// Saturday Mar 8 2025 afternoon; Sunday 01:00 is still EST.
		now := mustUTC(t, "2025-03-08T17:00:00Z")
		next, err := NextRun(early, now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-03-09T06:00:00Z"), next)
	})

	t.Run("utc schedule is unaffected by location", func(t *testing.T) {
		utc := model.Schedule{
			Enabled:  true,
			Type:     model.ScheduleDaily,
			Time:     "23:30",
			Timezone: "UTC",
		}
		now := mustUTC(t, "2025-06-01T23:45:00Z")
		next, err := NextRun(utc, now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-06-02T23:30:00Z"), next)
	})
}

func TestNextRun_Weekly(t *testing.T) {
	weekly := func(days ...model.Weekday) model.Schedule {
		return model.Schedule{
			Enabled:  true,
			Type:     model.ScheduleWeekly,
			Time:     "02:00",
			Timezone: "America/New_York",
			Days:     days,
		}
	}

	t.Run("today configured and candidate ahead", func(t *testing.T) {
		// Wednesday Jan 15, 01:00 EST.
		now := mustUTC(t, "2025-01-15T06:00:00Z")
		next, err := NextRun(weekly(model.Wednesday), now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-01-15T07:00:00Z"), next)
	})

	t.Run("today configured but candidate passed waits a week", func(t *testing.T) {
		// Wednesday Jan 15, 03:00 EST.
		now := mustUTC(t, "2025-01-15T08:00:00Z")
		next, err := NextRun(weekly(model.Wednesday), now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-01-22T07:00:00Z"), next)
	})

	t.Run("picks the nearest configured day", func(t *testing.T) {
		// Wednesday Jan 15, 03:00 EST with monday+friday configured.
		now := mustUTC(t, "2025-01-15T08:00:00Z")
		next, err := NextRun(weekly(model.Monday, model.Friday), now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-01-17T07:00:00Z"), next)
	})

	t.Run("wraps across the weekend", func(t *testing.T) {
		// Friday Jan 17, 03:00 EST with monday only.
		now := mustUTC(t, "2025-01-17T08:00:00Z")
		next, err := NextRun(weekly(model.Monday), now)
		require.NoError(t, err)
		assert.Equal(t, mustUTC(t, "2025-01-20T07:00:00Z"), next)
	})
}

func TestNextRun_Invalid(t *testing.T) {
	now := mustUTC(t, "2025-01-15T06:00:00Z")

	cases := []struct {
		name     string
		schedule model.Schedule
	}{
		{"bad time format", model.Schedule{Type: model.ScheduleDaily, Time: "2am", Timezone: "UTC"}},
		{"bad timezone", model.Schedule{Type: model.ScheduleDaily, Time: "02:00", Timezone: "Mars/Olympus"}},
		{"weekly without days", model.Schedule{Type: model.ScheduleWeekly, Time: "02:00", Timezone: "UTC"}},
		{"unknown type", model.Schedule{Type: "hourly", Time: "02:00", Timezone: "UTC"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NextRun(tc.schedule, now)
			assert.Error(t, err)
		})
	}
}

func TestNextRuns(t *testing.T) {
	now := mustUTC(t, "2025-01-15T00:00:00Z")
	cfg := model.ScheduleConfig{
		model.AutomationMetadataRefresh: {
			Enabled: true, Type: model.ScheduleDaily, Time: "02:00", Timezone: "UTC",
		},
		model.AutomationValidation: {
			Enabled: false, Type: model.ScheduleDaily, Time: "04:00", Timezone: "UTC",
		},
	}

	runs, err := NextRuns(cfg, now)
	require.NoError(t, err)

	require.Len(t, runs, 1, "disabled entries are skipped")
	assert.Equal(t, mustUTC(t, "2025-01-15T02:00:00Z"), runs[model.AutomationMetadataRefresh])
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.True(t, cfg[model.AutomationMetadataRefresh].Enabled)
	assert.True(t, cfg[model.AutomationSchemaChangeDetection].Enabled)
	assert.False(t, cfg[model.AutomationValidation].Enabled)
	assert.Equal(t, "02:00", cfg[model.AutomationMetadataRefresh].Time)
	assert.Equal(t, "03:00", cfg[model.AutomationSchemaChangeDetection].Time)
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	domainschedule "github.com/verity-dq/verity/internal/domain/schedule"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/events"
)

var schedNow = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

type scheduleFixture struct {
	svc    *ScheduleService
	mock   sqlmock.Sqlmock
	writer *captureEventWriter
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	writer := &captureEventWriter{}
	svc := NewScheduleService(ScheduleServiceOptions{
		Configs:      data.NewAutomationConfigRepo(db),
		Scheduled:    data.NewScheduledJobRepoWithTimeProvider(db, data.NewFixedTimeProvider(schedNow)),
		Connections:  data.NewConnectionRepo(db),
		Bus:          events.NewBus(writer, slog.Default()),
		TimeProvider: data.NewFixedTimeProvider(schedNow),
	})
	return &scheduleFixture{svc: svc, mock: mock, writer: writer}
}

func configRows(rawConfig string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "connection_id", "schedule_config", "updated_by",
		"created_at", "updated_at",
	}).AddRow("cfg-1", "org-1", "conn-1", []byte(rawConfig), nil, schedNow, schedNow)
}

func TestScheduleService_GetConnectionSchedule(t *testing.T) {
	t.Run("falls back to defaults when no config is stored", func(t *testing.T) {
		f := newScheduleFixture(t)

		f.mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1", "org-1").
			WillReturnRows(connectionRows("conn-1", schedNow))
		f.mock.ExpectQuery(`FROM automation_connection_configs`).
			WithArgs("conn-1").
			WillReturnError(sql.ErrNoRows)

		cfg, err := f.svc.GetConnectionSchedule(context.Background(), "org-1", "conn-1")
		require.NoError(t, err)
		assert.Empty(t, cfg.ID)
		assert.Equal(t, domainschedule.DefaultConfig(), cfg.Config)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown connections are not found", func(t *testing.T) {
		f := newScheduleFixture(t)

		f.mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-9", "org-1").
			WillReturnError(sql.ErrNoRows)

		_, err := f.svc.GetConnectionSchedule(context.Background(), "org-1", "conn-9")
		assert.ErrorIs(t, err, data.ErrConnectionNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestScheduleService_UpdateConnectionSchedule(t *testing.T) {
	newCfg := model.ScheduleConfig{
		model.AutomationMetadataRefresh: {
			Enabled: true, Type: model.ScheduleDaily, Time: "02:00", Timezone: "UTC",
		},
		model.AutomationValidation: {
			Enabled: false, Type: model.ScheduleDaily, Time: "04:00", Timezone: "UTC",
		},
	}
	rawNewCfg, err := json.Marshal(newCfg)
	require.NoError(t, err)

	expectReplace := func(f *scheduleFixture) {
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(`INSERT INTO automation_connection_configs`).
			WithArgs("org-1", "conn-1", sqlmock.AnyArg(), nil).
			WillReturnRows(configRows(string(rawNewCfg)))
		f.mock.ExpectExec(`DELETE FROM automation_scheduled_jobs`).
			WithArgs("conn-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`INSERT INTO automation_scheduled_jobs`).
			WithArgs("org-1", "conn-1", model.AutomationMetadataRefresh,
				sqlmock.AnyArg(), sqlmock.AnyArg(), true).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()
	}

	t.Run("round-trips the config and publishes enablement flips", func(t *testing.T) {
		f := newScheduleFixture(t)

		f.mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1", "org-1").
			WillReturnRows(connectionRows("conn-1", schedNow))
		// Previously only validation was enabled; the update enables
		// metadata refresh and disables validation.
		f.mock.ExpectQuery(`FROM automation_connection_configs`).
			WithArgs("conn-1").
			WillReturnRows(configRows(`{"validation_automation":{"enabled":true,"schedule_type":"daily","time":"04:00","timezone":"UTC"}}`))
		expectReplace(f)

		stored, err := f.svc.UpdateConnectionSchedule(context.Background(), "org-1", "conn-1", newCfg, nil)
		require.NoError(t, err)
		assert.Equal(t, newCfg, stored.Config)

		assert.Equal(t, []model.EventType{
			model.EventConfigUpdated,
			model.EventAutomationEnabled,
			model.EventAutomationDisabled,
		}, f.writer.types())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("first config publishes created plus enabled types only", func(t *testing.T) {
		f := newScheduleFixture(t)

		f.mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1", "org-1").
			WillReturnRows(connectionRows("conn-1", schedNow))
		f.mock.ExpectQuery(`FROM automation_connection_configs`).
			WithArgs("conn-1").
			WillReturnError(sql.ErrNoRows)
		expectReplace(f)

		_, err := f.svc.UpdateConnectionSchedule(context.Background(), "org-1", "conn-1", newCfg, nil)
		require.NoError(t, err)

		// validation is disabled both before and after, so no event for it.
		assert.Equal(t, []model.EventType{
			model.EventConfigCreated,
			model.EventAutomationEnabled,
		}, f.writer.types())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("invalid configs are rejected before any write", func(t *testing.T) {
		f := newScheduleFixture(t)

		f.mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1", "org-1").
			WillReturnRows(connectionRows("conn-1", schedNow))

		bad := model.ScheduleConfig{
			model.AutomationMetadataRefresh: {
				Enabled: true, Type: model.ScheduleDaily, Time: "25:99", Timezone: "UTC",
			},
		}
		_, err := f.svc.UpdateConnectionSchedule(context.Background(), "org-1", "conn-1", bad, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Empty(t, f.writer.types())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestScheduleService_MarkJobExecuted(t *testing.T) {
	f := newScheduleFixture(t)

	job := &model.ScheduledJob{
		ID:             "sj-1",
		ConnectionID:   "conn-1",
		AutomationType: model.AutomationMetadataRefresh,
		Schedule: model.Schedule{
			Enabled: true, Type: model.ScheduleDaily, Time: "02:00", Timezone: "UTC",
		},
	}
	next, err := domainschedule.NextRun(job.Schedule, schedNow)
	require.NoError(t, err)

	f.mock.ExpectExec(`UPDATE automation_scheduled_jobs`).
		WithArgs("sj-1", schedNow, next.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.svc.MarkJobExecuted(context.Background(), job))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/config"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/events"
)

var orchNow = time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)

// captureEventWriter records published events in-memory. Executor goroutines
// publish concurrently with the test goroutine, hence the mutex.
type captureEventWriter struct {
	mu     sync.Mutex
	events []*model.AutomationEvent
}

func (w *captureEventWriter) Insert(
	_ context.Context,
	orgID string,
	connectionID *string,
	eventType model.EventType,
	payload json.RawMessage,
) (*model.AutomationEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	event := &model.AutomationEvent{
		ID:             fmt.Sprintf("evt-%d", len(w.events)+1),
		OrganizationID: orgID,
		ConnectionID:   connectionID,
		Type:           eventType,
		Payload:        payload,
		CreatedAt:      orchNow,
	}
	w.events = append(w.events, event)
	return event, nil
}

func (w *captureEventWriter) types() []model.EventType {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.EventType, 0, len(w.events))
	for _, e := range w.events {
		out = append(out, e.Type)
	}
	return out
}

func (w *captureEventWriter) byType(t model.EventType) []*model.AutomationEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*model.AutomationEvent
	for _, e := range w.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func connectionRows(id string, ts time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "name", "connection_type", "connection_details",
		"is_default", "created_at", "updated_at",
	}).AddRow(id, "org-1", "warehouse", "postgresql", []byte(`{}`), false, ts, ts)
}

type fakeExecutor struct {
	fn func(ctx context.Context, job *model.AutomationJob) (json.RawMessage, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, job *model.AutomationJob) (json.RawMessage, error) {
	return f.fn(ctx, job)
}

type orchFixture struct {
	svc    *OrchestratorService
	mock   sqlmock.Sqlmock
	writer *captureEventWriter
}

func newOrchFixture(t *testing.T, execs map[model.AutomationType]Executor) *orchFixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tp := data.NewFixedTimeProvider(orchNow)
	writer := &captureEventWriter{}
	svc := NewOrchestratorService(OrchestratorServiceOptions{
		Jobs:         data.NewAutomationJobRepoWithTimeProvider(db, tp),
		Bus:          events.NewBus(writer, slog.Default()),
		TimeProvider: tp,
		Config: config.AutomationConfig{
			Workers:         2,
			RecentJobWindow: 5 * time.Minute,
		},
		Executors: execs,
	})
	return &orchFixture{svc: svc, mock: mock, writer: writer}
}

func orchJobRows(id, orgID string, jobType model.AutomationType, status model.JobStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "connection_id", "job_type", "status", "scheduled_at",
		"started_at", "completed_at", "result_summary", "error_message", "created_at", "updated_at",
	}).AddRow(id, orgID, "conn-1", string(jobType), string(status), orchNow,
		nil, nil, nil, nil, orchNow, orchNow)
}

func existsRow(exists bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(exists)
}

func TestOrchestratorService_TriggerImmediate(t *testing.T) {
	t.Run("suppressed types are reported as prevented duplicates", func(t *testing.T) {
		done := make(chan struct{})
		f := newOrchFixture(t, map[model.AutomationType]Executor{
			model.AutomationValidation: &fakeExecutor{fn: func(context.Context, *model.AutomationJob) (json.RawMessage, error) {
				defer close(done)
				return json.RawMessage(`{"passed":1}`), nil
			}},
		})

		// metadata_refresh already has a running job; validation is clear.
		f.mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("conn-1", model.AutomationMetadataRefresh).
			WillReturnRows(existsRow(true))
		f.mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("conn-1", model.AutomationValidation).
			WillReturnRows(existsRow(false))
		f.mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("conn-1", model.AutomationValidation, orchNow.Add(-5*time.Minute)).
			WillReturnRows(existsRow(false))
		f.mock.ExpectQuery(`INSERT INTO automation_jobs`).
			WithArgs("org-1", "conn-1", model.AutomationValidation, orchNow).
			WillReturnRows(orchJobRows("job-1", "org-1", model.AutomationValidation, model.JobStatusScheduled))
		f.mock.ExpectExec(`SET status = 'running'`).
			WithArgs("job-1", orchNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`SET status = 'completed'`).
			WithArgs("job-1", orchNow, []byte(`{"passed":1}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := f.svc.TriggerImmediate(context.Background(), "org-1", "conn-1",
			[]model.AutomationType{model.AutomationMetadataRefresh, model.AutomationValidation})
		require.NoError(t, err)
		assert.Equal(t, []string{"metadata_refresh"}, result.PreventedDuplicates)
		assert.Equal(t, []string{"job-1"}, result.JobsCreated)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("executor never ran")
		}
		f.svc.Drain()

		assert.NoError(t, f.mock.ExpectationsWereMet())
		types := f.writer.types()
		assert.Contains(t, types, model.EventManualTrigger)
		assert.Contains(t, types, model.EventJobStarted)
		assert.Contains(t, types, model.EventJobCompleted)
	})

	t.Run("unreadable duplicate filters admit the run", func(t *testing.T) {
		done := make(chan struct{})
		f := newOrchFixture(t, map[model.AutomationType]Executor{
			model.AutomationMetadataRefresh: &fakeExecutor{fn: func(context.Context, *model.AutomationJob) (json.RawMessage, error) {
				defer close(done)
				return json.RawMessage(`{"task_id":"t-1"}`), nil
			}},
		})

		f.mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("conn-1", model.AutomationMetadataRefresh).
			WillReturnError(errors.New("connection reset"))
		f.mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("conn-1", model.AutomationMetadataRefresh, orchNow.Add(-5*time.Minute)).
			WillReturnError(errors.New("connection reset"))
		f.mock.ExpectQuery(`INSERT INTO automation_jobs`).
			WithArgs("org-1", "conn-1", model.AutomationMetadataRefresh, orchNow).
			WillReturnRows(orchJobRows("job-2", "org-1", model.AutomationMetadataRefresh, model.JobStatusScheduled))
		f.mock.ExpectExec(`SET status = 'running'`).
			WithArgs("job-2", orchNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec(`SET status = 'completed'`).
			WithArgs("job-2", orchNow, []byte(`{"task_id":"t-1"}`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := f.svc.TriggerImmediate(context.Background(), "org-1", "conn-1",
			[]model.AutomationType{model.AutomationMetadataRefresh})
		require.NoError(t, err)
		assert.Empty(t, result.PreventedDuplicates)
		assert.Equal(t, []string{"job-2"}, result.JobsCreated)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("executor never ran")
		}
		f.svc.Drain()
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown automation types are rejected", func(t *testing.T) {
		f := newOrchFixture(t, nil)

		_, err := f.svc.TriggerImmediate(context.Background(), "org-1", "conn-1",
			[]model.AutomationType{model.AutomationType("backfill")})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestOrchestratorService_CancelJob(t *testing.T) {
	t.Run("terminal jobs conflict", func(t *testing.T) {
		f := newOrchFixture(t, nil)

		f.mock.ExpectQuery(`FROM automation_jobs WHERE id`).
			WithArgs("job-9").
			WillReturnRows(orchJobRows("job-9", "org-1", model.AutomationValidation, model.JobStatusCompleted))

		err := f.svc.CancelJob(context.Background(), "org-1", "job-9")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("foreign organization reads as not found", func(t *testing.T) {
		f := newOrchFixture(t, nil)

		f.mock.ExpectQuery(`FROM automation_jobs WHERE id`).
			WithArgs("job-9").
			WillReturnRows(orchJobRows("job-9", "org-2", model.AutomationValidation, model.JobStatusScheduled))

		err := f.svc.CancelJob(context.Background(), "org-1", "job-9")
		assert.ErrorIs(t, err, data.ErrJobNotFound)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("scheduled jobs cancel directly", func(t *testing.T) {
		f := newOrchFixture(t, nil)

		f.mock.ExpectQuery(`FROM automation_jobs WHERE id`).
			WithArgs("job-9").
			WillReturnRows(orchJobRows("job-9", "org-1", model.AutomationValidation, model.JobStatusScheduled))
		f.mock.ExpectExec(`SET status = 'cancelled'`).
			WithArgs("job-9", orchNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.svc.CancelJob(context.Background(), "org-1", "job-9"))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

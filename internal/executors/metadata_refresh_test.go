package executors

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/adapters/metadata"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/events"
)

var execNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type stubEventWriter struct {
	events []*model.AutomationEvent
}

func (w *stubEventWriter) Insert(
	_ context.Context,
	orgID string,
	connectionID *string,
	eventType model.EventType,
	payload json.RawMessage,
) (*model.AutomationEvent, error) {
	event := &model.AutomationEvent{
		ID:             "evt-1",
		OrganizationID: orgID,
		ConnectionID:   connectionID,
		Type:           eventType,
		Payload:        payload,
		CreatedAt:      execNow,
	}
	w.events = append(w.events, event)
	return event, nil
}

func execConnectionRows(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "name", "connection_type", "connection_details",
		"is_default", "created_at", "updated_at",
	}).AddRow(id, "org-1", "warehouse", "postgresql", []byte(`{}`), false, execNow, execNow)
}

func newConnectionRepoMock(t *testing.T) (*data.ConnectionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return data.NewConnectionRepo(db), mock
}

func TestMetadataRefreshExecutor_Execute(t *testing.T) {
	job := &model.AutomationJob{
		ID:             "job-1",
		OrganizationID: "org-1",
		ConnectionID:   "conn-1",
		JobType:        model.AutomationMetadataRefresh,
	}

	t.Run("announces the refresh after a successful hand-off", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(metadata.SubmitResponse{TaskID: "task-7", Status: "queued"})
		}))
		defer server.Close()

		connections, mock := newConnectionRepoMock(t)
		mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1").
			WillReturnRows(execConnectionRows("conn-1"))

		writer := &stubEventWriter{}
		exec := NewMetadataRefreshExecutor(MetadataRefreshExecutorOptions{
			Client:      metadata.NewClient(metadata.Options{BaseURL: server.URL}),
			Connections: connections,
			Bus:         events.NewBus(writer, slog.Default()),
		})

		summary, err := exec.Execute(context.Background(), job)
		require.NoError(t, err)

		var out map[string]any
		require.NoError(t, json.Unmarshal(summary, &out))
		assert.Equal(t, "task-7", out["task_id"])

		require.Len(t, writer.events, 1)
		event := writer.events[0]
		assert.Equal(t, model.EventMetadataRefreshed, event.Type)
		require.NotNil(t, event.ConnectionID)
		assert.Equal(t, "conn-1", *event.ConnectionID)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, "task-7", payload["task_id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed submissions announce nothing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "collector crashed", http.StatusBadGateway)
		}))
		defer server.Close()

		connections, mock := newConnectionRepoMock(t)
		mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1").
			WillReturnRows(execConnectionRows("conn-1"))

		writer := &stubEventWriter{}
		exec := NewMetadataRefreshExecutor(MetadataRefreshExecutorOptions{
			Client:      metadata.NewClient(metadata.Options{BaseURL: server.URL}),
			Connections: connections,
			Bus:         events.NewBus(writer, slog.Default()),
		})

		_, err := exec.Execute(context.Background(), job)
		require.Error(t, err)
		assert.Empty(t, writer.events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/connector"
	"github.com/verity-dq/verity/internal/data"
	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/events"
)

var validationNow = time.Date(2025, 5, 20, 7, 0, 0, 0, time.UTC)

type stubConnector struct {
	scalar   any
	queryErr error
}

func (c *stubConnector) Ping(context.Context) error { return nil }

func (c *stubConnector) QueryScalar(context.Context, string) (any, error) {
	return c.scalar, c.queryErr
}

func (c *stubConnector) ListTables(context.Context) ([]string, error) { return nil, nil }

func (c *stubConnector) PreviewRows(context.Context, string, int) ([]map[string]any, error) {
	return nil, nil
}

func (c *stubConnector) CollectSchema(context.Context, int) (*model.SchemaSnapshot, error) {
	return nil, nil
}

func (c *stubConnector) Close() error { return nil }

type stubFactory struct {
	conn connector.Connector
	err  error
}

func (f *stubFactory) Open(context.Context, *model.Connection) (connector.Connector, error) {
	return f.conn, f.err
}

func ruleRows(id, name, query string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "connection_id", "table_name", "name", "query", "operator",
		"expected_value", "is_active", "created_at", "updated_at",
	}).AddRow(id, "org-1", "conn-1", "orders", name, query, "greater_than",
		[]byte(`0`), true, validationNow, validationNow)
}

func resultRows(id, ruleID string, isValid bool, errMsg *string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "rule_id", "run_at", "is_valid", "actual_value",
		"error_message", "profile_history_id", "created_at",
	}).AddRow(id, "org-1", ruleID, validationNow, isValid, nil, errMsg, nil, validationNow)
}

func newValidationFixture(t *testing.T, conn connector.Connector) (*ValidationService, sqlmock.Sqlmock, *captureEventWriter) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	writer := &captureEventWriter{}
	svc := NewValidationService(ValidationServiceOptions{
		Rules:        data.NewValidationRuleRepo(db),
		Results:      data.NewValidationResultRepo(db),
		Connections:  data.NewConnectionRepo(db),
		Factory:      &stubFactory{conn: conn},
		Bus:          events.NewBus(writer, slog.Default()),
		TimeProvider: data.NewFixedTimeProvider(validationNow),
	})
	return svc, mock, writer
}

func TestValidationService_RunForConnection(t *testing.T) {
	t.Run("drift errors publish a schema mismatch failure", func(t *testing.T) {
		queryErr := errors.New(`column "total" does not exist`)
		svc, mock, writer := newValidationFixture(t, &stubConnector{queryErr: queryErr})

		mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1").
			WillReturnRows(connectionRows("conn-1", validationNow))
		mock.ExpectQuery(`FROM validation_rules`).
			WithArgs("conn-1").
			WillReturnRows(ruleRows("rule-1", "orders not empty", "SELECT COUNT(*) FROM orders"))
		msg := queryErr.Error()
		mock.ExpectQuery(`INSERT INTO validation_results`).
			WithArgs("org-1", "rule-1", validationNow, false, nil, msg, nil).
			WillReturnRows(resultRows("res-1", "rule-1", false, &msg))

		summary, err := svc.RunForConnection(context.Background(), "org-1", "conn-1")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Errored)
		assert.Equal(t, []string{"orders not empty"}, summary.DriftSuspected)

		assert.Contains(t, writer.types(), model.EventValidationFailuresDetected)
		failures := writer.byType(model.EventValidationFailure)
		require.Len(t, failures, 1)
		var payload struct {
			RuleName string `json:"rule_name"`
			Reason   string `json:"reason"`
		}
		require.NoError(t, json.Unmarshal(failures[0].Payload, &payload))
		assert.Equal(t, "orders not empty", payload.RuleName)
		assert.Equal(t, "schema_mismatch", payload.Reason)
		require.NotNil(t, failures[0].ConnectionID)
		assert.Equal(t, "conn-1", *failures[0].ConnectionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("passing rules publish nothing", func(t *testing.T) {
		svc, mock, writer := newValidationFixture(t, &stubConnector{scalar: int64(12)})

		mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1").
			WillReturnRows(connectionRows("conn-1", validationNow))
		mock.ExpectQuery(`FROM validation_rules`).
			WithArgs("conn-1").
			WillReturnRows(ruleRows("rule-1", "orders not empty", "SELECT COUNT(*) FROM orders"))
		mock.ExpectQuery(`INSERT INTO validation_results`).
			WithArgs("org-1", "rule-1", validationNow, true, sqlmock.AnyArg(), nil, nil).
			WillReturnRows(resultRows("res-1", "rule-1", true, nil))

		summary, err := svc.RunForConnection(context.Background(), "org-1", "conn-1")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Passed)
		assert.Empty(t, summary.DriftSuspected)
		assert.Empty(t, writer.types())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

package data

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

func newConnectionRepoMock(t *testing.T) (*ConnectionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewConnectionRepo(db), mock
}

func connectionRows(id, orgID, name string, isDefault bool) *sqlmock.Rows {
	now := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "organization_id", "name", "connection_type", "connection_details",
		"is_default", "created_at", "updated_at",
	}).AddRow(id, orgID, name, "postgresql", []byte(`{"host":"db.internal"}`), isDefault, now, now)
}

func TestConnectionRepo_Create(t *testing.T) {
	t.Run("non-default skips the default-clearing update", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO database_connections`).
			WithArgs("org-1", "Warehouse", model.ConnectionTypePostgres, []byte(`{"host":"db.internal"}`), false).
			WillReturnRows(connectionRows("conn-1", "org-1", "Warehouse", false))
		mock.ExpectCommit()

		conn, err := repo.Create(context.Background(), "org-1", &model.CreateConnectionRequest{
			Name:    "Warehouse",
			Type:    model.ConnectionTypePostgres,
			Details: json.RawMessage(`{"host":"db.internal"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, "conn-1", conn.ID)
		assert.Equal(t, model.ConnectionTypePostgres, conn.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("default clears the previous default in the same tx", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE database_connections SET is_default = false`).
			WithArgs("org-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`INSERT INTO database_connections`).
			WithArgs("org-1", "Primary", model.ConnectionTypeDuckDB, []byte(`{}`), true).
			WillReturnRows(connectionRows("conn-2", "org-1", "Primary", true))
		mock.ExpectCommit()

		conn, err := repo.Create(context.Background(), "org-1", &model.CreateConnectionRequest{
			Name:      "Primary",
			Type:      model.ConnectionTypeDuckDB,
			IsDefault: true,
		})
		require.NoError(t, err)
		assert.True(t, conn.IsDefault)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request never reaches the store", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)

		_, err := repo.Create(context.Background(), "org-1", &model.CreateConnectionRequest{
			Name: "   ",
			Type: model.ConnectionTypePostgres,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO database_connections`).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := repo.Create(context.Background(), "org-1", &model.CreateConnectionRequest{
			Name: "Warehouse",
			Type: model.ConnectionTypePostgres,
		})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConnectionRepo_GetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)

		mock.ExpectQuery(`FROM database_connections`).
			WithArgs("conn-1", "org-1").
			WillReturnRows(connectionRows("conn-1", "org-1", "Warehouse", false))

		conn, err := repo.GetByID(context.Background(), "org-1", "conn-1")
		require.NoError(t, err)
		assert.Equal(t, "Warehouse", conn.Name)
		assert.JSONEq(t, `{"host":"db.internal"}`, string(conn.Details))
	})

}

func TestConnectionRepo_GetByID_NotFound(t *testing.T) {
	repo, mock := newConnectionRepoMock(t)

	mock.ExpectQuery(`FROM database_connections`).
		WithArgs("missing", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "name", "connection_type", "connection_details",
			"is_default", "created_at", "updated_at",
		}))

	_, err := repo.GetByID(context.Background(), "org-1", "missing")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepo_List(t *testing.T) {
	repo, mock := newConnectionRepoMock(t)

	rows := connectionRows("conn-1", "org-1", "Analytics", false)
	now := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)
	rows.AddRow("conn-2", "org-1", "Warehouse", "duckdb", []byte(`{}`), true, now, now)

	mock.ExpectQuery(`ORDER BY name ASC`).
		WithArgs("org-1").
		WillReturnRows(rows)

	out, err := repo.List(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Analytics", out[0].Name)
	assert.Equal(t, model.ConnectionTypeDuckDB, out[1].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepo_Update(t *testing.T) {
	t.Run("partial update keeps stored values", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)
		name := "Renamed"

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE database_connections SET`).
			WithArgs("conn-1", "org-1", "Renamed", nil, nil).
			WillReturnRows(connectionRows("conn-1", "org-1", "Renamed", false))
		mock.ExpectCommit()

		conn, err := repo.Update(context.Background(), "org-1", "conn-1", &model.UpdateConnectionRequest{
			Name: &name,
		})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", conn.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("promoting to default demotes the old one first", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)
		isDefault := true

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE database_connections SET is_default = false`).
			WithArgs("org-1", "conn-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE database_connections SET`).
			WithArgs("conn-1", "org-1", nil, nil, true).
			WillReturnRows(connectionRows("conn-1", "org-1", "Warehouse", true))
		mock.ExpectCommit()

		conn, err := repo.Update(context.Background(), "org-1", "conn-1", &model.UpdateConnectionRequest{
			IsDefault: &isDefault,
		})
		require.NoError(t, err)
		assert.True(t, conn.IsDefault)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConnectionRepo_Delete(t *testing.T) {
	t.Run("deletes", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)

		mock.ExpectExec(`DELETE FROM database_connections`).
			WithArgs("conn-1", "org-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Delete(context.Background(), "org-1", "conn-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows reads as not found", func(t *testing.T) {
		repo, mock := newConnectionRepoMock(t)

		mock.ExpectExec(`DELETE FROM database_connections`).
			WithArgs("missing", "org-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Delete(context.Background(), "org-1", "missing")
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})
}

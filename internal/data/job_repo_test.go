package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

var jobNow = time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)

func newJobRepoMock(t *testing.T) (*AutomationJobRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAutomationJobRepoWithTimeProvider(db, NewFixedTimeProvider(jobNow)), mock
}

func jobRows(id, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "connection_id", "job_type", "status", "scheduled_at",
		"started_at", "completed_at", "result_summary", "error_message", "created_at", "updated_at",
	}).AddRow(id, "org-1", "conn-1", "metadata_refresh", status, jobNow,
		nil, nil, nil, nil, jobNow, jobNow)
}

func TestAutomationJobRepo_Create(t *testing.T) {
	t.Run("inserts in status scheduled", func(t *testing.T) {
		repo, mock := newJobRepoMock(t)

		mock.ExpectQuery(`INSERT INTO automation_jobs`).
			WithArgs("org-1", "conn-1", model.AutomationMetadataRefresh, jobNow).
			WillReturnRows(jobRows("job-1", "scheduled"))

		job, err := repo.Create(context.Background(), "org-1", "conn-1", model.AutomationMetadataRefresh)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusScheduled, job.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown job types", func(t *testing.T) {
		repo, mock := newJobRepoMock(t)

		_, err := repo.Create(context.Background(), "org-1", "conn-1", model.AutomationType("backfill"))
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAutomationJobRepo_Transitions(t *testing.T) {
	t.Run("mark running", func(t *testing.T) {
		repo, mock := newJobRepoMock(t)

		mock.ExpectExec(`SET status = 'running'`).
			WithArgs("job-1", jobNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.MarkRunning(context.Background(), "job-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark completed with summary", func(t *testing.T) {
		repo, mock := newJobRepoMock(t)
		summary := json.RawMessage(`{"tables":12}`)

		mock.ExpectExec(`SET status = 'completed'`).
			WithArgs("job-1", jobNow, []byte(summary)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.MarkCompleted(context.Background(), "job-1", summary))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark failed records the message", func(t *testing.T) {
		repo, mock := newJobRepoMock(t)

		mock.ExpectExec(`SET status = 'failed'`).
			WithArgs("job-1", jobNow, "query timed out").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.MarkFailed(context.Background(), "job-1", "query timed out"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guarded update on a terminal job is an illegal transition", func(t *testing.T) {
		repo, mock := newJobRepoMock(t)

		mock.ExpectExec(`SET status = 'running'`).
			WithArgs("job-1", jobNow).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM automation_jobs WHERE id`).
			WithArgs("job-1").
			WillReturnRows(jobRows("job-1", "completed"))

		err := repo.MarkRunning(context.Background(), "job-1")
		assert.ErrorIs(t, err, ErrIllegalTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

}

func TestAutomationJobRepo_TransitionMissingJob(t *testing.T) {
	repo, mock := newJobRepoMock(t)

	emptyRows := sqlmock.NewRows([]string{
		"id", "organization_id", "connection_id", "job_type", "status", "scheduled_at",
		"started_at", "completed_at", "result_summary", "error_message", "created_at", "updated_at",
	})

	mock.ExpectExec(`SET status = 'cancelled'`).
		WithArgs("ghost", jobNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM automation_jobs WHERE id`).
		WithArgs("ghost").
		WillReturnRows(emptyRows)

	err := repo.MarkCancelled(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAutomationJobRepo_IsRunning(t *testing.T) {
	repo, mock := newJobRepoMock(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("conn-1", model.AutomationValidation).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	running, err := repo.IsRunning(context.Background(), "conn-1", model.AutomationValidation)
	require.NoError(t, err)
	assert.True(t, running)
}

func TestAutomationJobRepo_Summary(t *testing.T) {
	repo, mock := newJobRepoMock(t)

	rows := sqlmock.NewRows([]string{"status", "job_type", "count", "max"}).
		AddRow("completed", "metadata_refresh", 4, jobNow.Add(-time.Hour)).
		AddRow("failed", "validation_automation", 1, jobNow.Add(-10*time.Minute))

	mock.ExpectQuery(`GROUP BY status, job_type`).
		WithArgs("conn-1", jobNow.Add(-24*time.Hour)).
		WillReturnRows(rows)

	summary, err := repo.Summary(context.Background(), "conn-1", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 24, summary.WindowHours)
	assert.Equal(t, 4, summary.ByStatus[model.JobStatusCompleted])
	assert.Equal(t, 1, summary.ByStatus[model.JobStatusFailed])
	assert.Equal(t, 4, summary.ByType[model.AutomationMetadataRefresh])
	require.NotNil(t, summary.LastJobAt)
	assert.Equal(t, jobNow.Add(-10*time.Minute), *summary.LastJobAt)
}

func TestAutomationJobRepo_PurgeTerminal(t *testing.T) {
	repo, mock := newJobRepoMock(t)
	cutoff := jobNow.Add(-7 * 24 * time.Hour)

	mock.ExpectExec(`DELETE FROM automation_jobs`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := repo.PurgeTerminal(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestAutomationJobRepo_List(t *testing.T) {
	repo, mock := newJobRepoMock(t)

	mock.ExpectQuery(`ORDER BY scheduled_at DESC`).
		WithArgs("org-1", "conn-1", "running", 100).
		WillReturnRows(jobRows("job-1", "running"))

	out, err := repo.List(context.Background(), JobListOptions{
		OrganizationID: "org-1",
		ConnectionID:   "conn-1",
		Status:         model.JobStatusRunning,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.JobStatusRunning, out[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

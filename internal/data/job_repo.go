package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// AutomationJobRepo provides store operations for automation job lifecycle.
// Status transitions are guarded in SQL so concurrent writers cannot move a
// job backwards.
type AutomationJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAutomationJobRepo creates a new AutomationJobRepo.
func NewAutomationJobRepo(db *sql.DB) *AutomationJobRepo {
	return &AutomationJobRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewAutomationJobRepoWithTimeProvider creates an AutomationJobRepo with a
// custom TimeProvider (useful for testing).
func NewAutomationJobRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *AutomationJobRepo {
	return &AutomationJobRepo{DB: db, timeProvider: tp}
}

const jobColumns = `
  id, organization_id, connection_id, job_type, status, scheduled_at,
  started_at, completed_at, result_summary, error_message, created_at, updated_at
`

func scanJob(row interface{ Scan(...any) error }) (*model.AutomationJob, error) {
	var j model.AutomationJob
	var summary []byte
	if err := row.Scan(
		&j.ID, &j.OrganizationID, &j.ConnectionID, &j.JobType, &j.Status, &j.ScheduledAt,
		&j.StartedAt, &j.CompletedAt, &summary, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.ResultSummary = json.RawMessage(summary)
	return &j, nil
}

// Create inserts a new job in status scheduled.
func (r *AutomationJobRepo) Create(
	ctx context.Context,
	orgID, connectionID string,
	jobType model.AutomationType,
) (*model.AutomationJob, error) {
	if !jobType.Valid() {
		return nil, apperrors.Validationf("invalid job type %q", jobType)
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO automation_jobs (organization_id, connection_id, job_type, status, scheduled_at)
		VALUES ($1, $2, $3, 'scheduled', $4)
		RETURNING `+jobColumns,
		orgID, connectionID, jobType, r.timeProvider.Now().UTC())
	job, err := scanJob(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// GetByID fetches one job.
func (r *AutomationJobRepo) GetByID(ctx context.Context, id string) (*model.AutomationJob, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM automation_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// MarkRunning transitions scheduled → running.
func (r *AutomationJobRepo) MarkRunning(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE automation_jobs
		SET status = 'running', started_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'scheduled'`)
}

// MarkCompleted transitions running → completed with an optional summary.
func (r *AutomationJobRepo) MarkCompleted(
	ctx context.Context,
	id string,
	resultSummary json.RawMessage,
) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE automation_jobs
		SET status = 'completed', completed_at = $2, result_summary = $3, updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, now, nullableJSON(resultSummary))
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return r.checkTransition(ctx, id, res)
}

// MarkFailed transitions scheduled|running → failed with an error message.
func (r *AutomationJobRepo) MarkFailed(ctx context.Context, id, errorMessage string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE automation_jobs
		SET status = 'failed', completed_at = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status IN ('scheduled', 'running')`,
		id, now, errorMessage)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return r.checkTransition(ctx, id, res)
}

// MarkCancelled transitions scheduled|running → cancelled. Executors observe
// cancellation cooperatively between subtasks.
func (r *AutomationJobRepo) MarkCancelled(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE automation_jobs
		SET status = 'cancelled', completed_at = $2, updated_at = now()
		WHERE id = $1 AND status IN ('scheduled', 'running')`)
}

func (r *AutomationJobRepo) transition(ctx context.Context, id, query string) error {
	res, err := r.DB.ExecContext(ctx, query, id, r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return r.checkTransition(ctx, id, res)
}

// checkTransition distinguishes "job missing" from "already in a later
// state" when a guarded update matched no rows.
func (r *AutomationJobRepo) checkTransition(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if n > 0 {
		return nil
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return ErrIllegalTransition
}

// IsRunning reports whether any job for (connection, type) is running.
func (r *AutomationJobRepo) IsRunning(
	ctx context.Context,
	connectionID string,
	jobType model.AutomationType,
) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM automation_jobs
			WHERE connection_id = $1 AND job_type = $2 AND status = 'running'
		)`, connectionID, jobType).Scan(&exists)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return exists, nil
}

// HasRecent reports whether any job for (connection, type) was scheduled at
// or after the cutoff.
func (r *AutomationJobRepo) HasRecent(
	ctx context.Context,
	connectionID string,
	jobType model.AutomationType,
	cutoff time.Time,
) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM automation_jobs
			WHERE connection_id = $1 AND job_type = $2 AND scheduled_at >= $3
		)`, connectionID, jobType, cutoff.UTC()).Scan(&exists)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return exists, nil
}

// Summary aggregates counts by status and type plus the newest job time for
// a connection over the trailing window.
func (r *AutomationJobRepo) Summary(
	ctx context.Context,
	connectionID string,
	window time.Duration,
) (*model.JobSummary, error) {
	cutoff := r.timeProvider.Now().Add(-window).UTC()
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, job_type, COUNT(*), MAX(scheduled_at)
		FROM automation_jobs
		WHERE connection_id = $1 AND scheduled_at >= $2
		GROUP BY status, job_type`, connectionID, cutoff)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	summary := &model.JobSummary{
		ConnectionID: connectionID,
		WindowHours:  int(window / time.Hour),
		ByStatus:     make(map[model.JobStatus]int),
		ByType:       make(map[model.AutomationType]int),
	}
	for rows.Next() {
		var status model.JobStatus
		var jobType model.AutomationType
		var count int
		var newest time.Time
		if err := rows.Scan(&status, &jobType, &count, &newest); err != nil {
			return nil, apperrors.MapDBError(err)
		}
		summary.ByStatus[status] += count
		summary.ByType[jobType] += count
		if summary.LastJobAt == nil || newest.After(*summary.LastJobAt) {
			t := newest
			summary.LastJobAt = &t
		}
	}
	return summary, rows.Err()
}

// PurgeTerminal deletes terminal jobs older than the cutoff and returns the
// number of rows removed.
func (r *AutomationJobRepo) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM automation_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND scheduled_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return n, nil
}

// JobListOptions filters List.
type JobListOptions struct {
	OrganizationID string
	ConnectionID   string
	JobType        model.AutomationType
	Status         model.JobStatus
	Limit          int
}

// List returns jobs newest first, filtered by the provided options.
func (r *AutomationJobRepo) List(ctx context.Context, opts JobListOptions) ([]*model.AutomationJob, error) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if opts.OrganizationID != "" {
		add("organization_id = $%d", opts.OrganizationID)
	}
	if opts.ConnectionID != "" {
		add("connection_id = $%d", opts.ConnectionID)
	}
	if opts.JobType != "" {
		add("job_type = $%d", opts.JobType)
	}
	if opts.Status != "" {
		add("status = $%d", opts.Status)
	}

	query := `SELECT ` + jobColumns + ` FROM automation_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_at DESC"

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.AutomationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

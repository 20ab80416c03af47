package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// ScheduledJobRepo provides store operations for materialised next-run rows.
type ScheduledJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduledJobRepo creates a new ScheduledJobRepo.
func NewScheduledJobRepo(db *sql.DB) *ScheduledJobRepo {
	return &ScheduledJobRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewScheduledJobRepoWithTimeProvider creates a ScheduledJobRepo with a
// custom TimeProvider (useful for testing).
func NewScheduledJobRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ScheduledJobRepo {
	return &ScheduledJobRepo{DB: db, timeProvider: tp}
}

const scheduledJobColumns = `
  id, organization_id, connection_id, automation_type, schedule,
  next_run_at, last_run_at, enabled, created_at, updated_at
`

func scanScheduledJob(row interface{ Scan(...any) error }) (*model.ScheduledJob, error) {
	var j model.ScheduledJob
	var rawSched []byte
	if err := row.Scan(
		&j.ID, &j.OrganizationID, &j.ConnectionID, &j.AutomationType, &rawSched,
		&j.NextRunAt, &j.LastRunAt, &j.Enabled, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawSched, &j.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return &j, nil
}

// GetByID fetches one scheduled job.
func (r *ScheduledJobRepo) GetByID(ctx context.Context, id string) (*model.ScheduledJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+scheduledJobColumns+`
		FROM automation_scheduled_jobs
		WHERE id = $1`, id)
	job, err := scanScheduledJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// ListByConnection returns the scheduled jobs for one connection ordered by
// automation type.
func (r *ScheduledJobRepo) ListByConnection(
	ctx context.Context,
	connectionID string,
) ([]*model.ScheduledJob, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+scheduledJobColumns+`
		FROM automation_scheduled_jobs
		WHERE connection_id = $1
		ORDER BY automation_type ASC, created_at ASC`, connectionID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	return collectScheduledJobs(rows)
}

// FindDue returns enabled jobs whose next_run_at falls inside
// [now-buffer, now+buffer] and which have no running automation job of the
// same (connection, type). Ordered oldest first so starved pairs win ties.
func (r *ScheduledJobRepo) FindDue(
	ctx context.Context,
	now time.Time,
	buffer time.Duration,
) ([]*model.ScheduledJob, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+scheduledJobColumns+`
		FROM automation_scheduled_jobs sj
		WHERE sj.enabled
		  AND sj.next_run_at >= $1
		  AND sj.next_run_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM automation_jobs aj
			WHERE aj.connection_id = sj.connection_id
			  AND aj.job_type = sj.automation_type
			  AND aj.status = 'running'
		  )
		ORDER BY sj.next_run_at ASC, sj.created_at ASC`,
		now.Add(-buffer).UTC(), now.Add(buffer).UTC())
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	return collectScheduledJobs(rows)
}

// MarkExecuted sets last_run_at and stores the recomputed next run.
func (r *ScheduledJobRepo) MarkExecuted(
	ctx context.Context,
	id string,
	lastRunAt, nextRunAt time.Time,
) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE automation_scheduled_jobs
		SET last_run_at = $2, next_run_at = $3, updated_at = now()
		WHERE id = $1`,
		id, lastRunAt.UTC(), nextRunAt.UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func collectScheduledJobs(rows *sql.Rows) ([]*model.ScheduledJob, error) {
	var out []*model.ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows)
		if err != nil {
			return nil, apperrors.MapDBError(err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

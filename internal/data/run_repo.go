package data

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// AutomationRunRepo provides store operations for per-job run audit rows.
type AutomationRunRepo struct {
	DB *sql.DB
}

// NewAutomationRunRepo creates a new AutomationRunRepo.
func NewAutomationRunRepo(db *sql.DB) *AutomationRunRepo {
	return &AutomationRunRepo{DB: db}
}

const runColumns = `
  id, organization_id, job_id, connection_id, job_type, results, created_at
`

func scanRun(row interface{ Scan(...any) error }) (*model.AutomationRun, error) {
	var r model.AutomationRun
	var results []byte
	if err := row.Scan(
		&r.ID, &r.OrganizationID, &r.JobID, &r.ConnectionID, &r.JobType, &results, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.Results = json.RawMessage(results)
	return &r, nil
}

// Insert records the detailed results of one job execution.
func (r *AutomationRunRepo) Insert(
	ctx context.Context,
	orgID, jobID, connectionID string,
	jobType model.AutomationType,
	results json.RawMessage,
) (*model.AutomationRun, error) {
	if len(results) == 0 {
		results = json.RawMessage(`{}`)
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO automation_runs (organization_id, job_id, connection_id, job_type, results)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+runColumns,
		orgID, jobID, connectionID, jobType, []byte(results))
	run, err := scanRun(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return run, nil
}

// ListByJob returns the runs recorded for one job oldest first.
func (r *AutomationRunRepo) ListByJob(ctx context.Context, jobID string) ([]*model.AutomationRun, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM automation_runs
		WHERE job_id = $1
		ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.AutomationRun
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

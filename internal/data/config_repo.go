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

// AutomationConfigRepo provides store operations for per-connection
// automation configs and the materialised scheduled jobs they drive.
type AutomationConfigRepo struct {
	DB *sql.DB
}

// NewAutomationConfigRepo creates a new AutomationConfigRepo.
func NewAutomationConfigRepo(db *sql.DB) *AutomationConfigRepo {
	return &AutomationConfigRepo{DB: db}
}

const configColumns = `
  id, organization_id, connection_id, schedule_config, updated_by, created_at, updated_at
`

func scanConfig(row interface{ Scan(...any) error }) (*model.AutomationConnectionConfig, error) {
	var c model.AutomationConnectionConfig
	var raw []byte
	if err := row.Scan(
		&c.ID, &c.OrganizationID, &c.ConnectionID, &raw, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.Config); err != nil {
		return nil, fmt.Errorf("decode schedule config: %w", err)
	}
	return &c, nil
}

// GetByConnection returns the stored config for a connection.
func (r *AutomationConfigRepo) GetByConnection(
	ctx context.Context,
	connectionID string,
) (*model.AutomationConnectionConfig, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+configColumns+`
		FROM automation_connection_configs
		WHERE connection_id = $1`, connectionID)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return cfg, nil
}

// ScheduledJobSpec is one materialised row to write during a config replace.
type ScheduledJobSpec struct {
	AutomationType model.AutomationType
	Schedule       model.Schedule
	NextRunAt      time.Time
	Enabled        bool
}

// ReplaceConfigParams holds inputs for ReplaceConfigAndJobs.
type ReplaceConfigParams struct {
	OrganizationID string
	ConnectionID   string
	Config         model.ScheduleConfig
	UpdatedBy      *string
	Jobs           []ScheduledJobSpec
}

// ReplaceConfigAndJobs upserts the schedule config and replaces the
// connection's scheduled jobs in a single transaction, preserving the
// invariant of exactly one row per enabled (connection, automation type).
func (r *AutomationConfigRepo) ReplaceConfigAndJobs(
	ctx context.Context,
	p ReplaceConfigParams,
) (*model.AutomationConnectionConfig, error) {
	rawCfg, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("encode schedule config: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx, `
		INSERT INTO automation_connection_configs (organization_id, connection_id, schedule_config, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connection_id) DO UPDATE SET
			schedule_config = EXCLUDED.schedule_config,
			updated_by = EXCLUDED.updated_by,
			updated_at = now()
		RETURNING `+configColumns,
		p.OrganizationID, p.ConnectionID, rawCfg, p.UpdatedBy,
	)
	cfg, err := scanConfig(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM automation_scheduled_jobs WHERE connection_id = $1`, p.ConnectionID,
	); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("delete scheduled jobs: %w", err))
	}

	for _, job := range p.Jobs {
		rawSched, mErr := json.Marshal(job.Schedule)
		if mErr != nil {
			return nil, fmt.Errorf("encode schedule: %w", mErr)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO automation_scheduled_jobs
				(organization_id, connection_id, automation_type, schedule, next_run_at, enabled)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.OrganizationID, p.ConnectionID, job.AutomationType, rawSched,
			job.NextRunAt.UTC(), job.Enabled,
		); err != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("insert scheduled job: %w", err))
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("commit: %w", err))
	}
	return cfg, nil
}

// DeleteByConnection removes the config and its scheduled jobs.
func (r *AutomationConfigRepo) DeleteByConnection(ctx context.Context, connectionID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM automation_scheduled_jobs WHERE connection_id = $1`, connectionID,
	); err != nil {
		return apperrors.MapDBError(err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM automation_connection_configs WHERE connection_id = $1`, connectionID)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if n == 0 {
		return ErrConfigNotFound
	}
	return apperrors.MapDBError(tx.Commit())
}

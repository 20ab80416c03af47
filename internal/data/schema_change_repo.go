package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// SchemaChangeRepo provides store operations for detected schema changes.
type SchemaChangeRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSchemaChangeRepo creates a new SchemaChangeRepo.
func NewSchemaChangeRepo(db *sql.DB) *SchemaChangeRepo {
	return &SchemaChangeRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSchemaChangeRepoWithTimeProvider creates a SchemaChangeRepo with a
// custom TimeProvider (useful for testing).
func NewSchemaChangeRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *SchemaChangeRepo {
	return &SchemaChangeRepo{DB: db, timeProvider: tp}
}

const schemaChangeColumns = `
  id, organization_id, connection_id, table_name, column_name, change_type,
  details, is_important, acknowledged, detected_at, created_at
`

func scanSchemaChange(row interface{ Scan(...any) error }) (*model.SchemaChange, error) {
	var c model.SchemaChange
	var details []byte
	if err := row.Scan(
		&c.ID, &c.OrganizationID, &c.ConnectionID, &c.TableName, &c.ColumnName, &c.ChangeType,
		&details, &c.IsImportant, &c.Acknowledged, &c.DetectedAt, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Details = json.RawMessage(details)
	return &c, nil
}

// SchemaChangeRecord is one change to record, without identity fields.
type SchemaChangeRecord struct {
	TableName  string
	ColumnName *string
	ChangeType model.ChangeType
	Details    json.RawMessage
}

// RecordChanges inserts the given changes, skipping any whose
// (table, column, change type) already has a row detected within the dedup
// window. Returns the number of rows actually written.
func (r *SchemaChangeRepo) RecordChanges(
	ctx context.Context,
	orgID, connectionID string,
	changes []SchemaChangeRecord,
	dedupWindow time.Duration,
) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	now := r.timeProvider.Now().UTC()
	cutoff := now.Add(-dedupWindow)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	written := 0
	for _, ch := range changes {
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO schema_changes
				(organization_id, connection_id, table_name, column_name, change_type, details, is_important, detected_at)
			SELECT $1, $2, $3, $4, $5, $6, $7, $8
			WHERE NOT EXISTS (
				SELECT 1 FROM schema_changes
				WHERE connection_id = $2
				  AND table_name = $3
				  AND column_name IS NOT DISTINCT FROM $4
				  AND change_type = $5
				  AND detected_at >= $9
			)`,
			orgID, connectionID, ch.TableName, ch.ColumnName, ch.ChangeType,
			nullableJSON(ch.Details), ch.ChangeType.Important(), now, cutoff,
		)
		if execErr != nil {
			return 0, apperrors.MapDBError(execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return 0, apperrors.MapDBError(raErr)
		}
		written += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, apperrors.MapDBError(fmt.Errorf("commit: %w", err))
	}
	return written, nil
}

// SchemaChangeListOptions filters List.
type SchemaChangeListOptions struct {
	OrganizationID string
	ConnectionID   string
	TableName      string
	OnlyImportant  bool
	Unacknowledged bool
	Since          time.Time
	Limit          int
}

// List returns schema changes newest first.
func (r *SchemaChangeRepo) List(
	ctx context.Context,
	opts SchemaChangeListOptions,
) ([]*model.SchemaChange, error) {
	where := []string{"organization_id = $1"}
	args := []any{opts.OrganizationID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if opts.ConnectionID != "" {
		add("connection_id = $%d", opts.ConnectionID)
	}
	if opts.TableName != "" {
		add("table_name = $%d", opts.TableName)
	}
	if opts.OnlyImportant {
		where = append(where, "is_important")
	}
	if opts.Unacknowledged {
		where = append(where, "NOT acknowledged")
	}
	if !opts.Since.IsZero() {
		add("detected_at >= $%d", opts.Since.UTC())
	}

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + schemaChangeColumns + ` FROM schema_changes WHERE ` +
		strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY detected_at DESC, created_at DESC LIMIT $%d", len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.SchemaChange
	for rows.Next() {
		c, scanErr := scanSchemaChange(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Acknowledge marks one change as reviewed.
func (r *SchemaChangeRepo) Acknowledge(ctx context.Context, orgID, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE schema_changes SET acknowledged = true
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if n == 0 {
		return apperrors.NotFound("schema change not found")
	}
	return nil
}

// CountSince returns the number of changes detected for a connection at or
// after the cutoff, split by importance.
func (r *SchemaChangeRepo) CountSince(
	ctx context.Context,
	connectionID string,
	cutoff time.Time,
) (total, important int, err error) {
	err = r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_important)
		FROM schema_changes
		WHERE connection_id = $1 AND detected_at >= $2`,
		connectionID, cutoff.UTC()).Scan(&total, &important)
	if err != nil {
		return 0, 0, apperrors.MapDBError(err)
	}
	return total, important, nil
}

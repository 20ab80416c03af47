// Package data implements the persistence gateway: typed CRUD over the
// shared store, transactional semantics for config/scheduled-job replacement
// and snapshot updates, and credential sanitisation.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/verity-dq/verity/internal/errors"

	"github.com/verity-dq/verity/internal/domain/model"
)

// ConnectionRepo provides store operations for database connections.
type ConnectionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewConnectionRepo creates a new ConnectionRepo with the given store handle.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo {
	return &ConnectionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const connectionColumns = `
  id, organization_id, name, connection_type, connection_details, is_default, created_at, updated_at
`

func scanConnection(row interface{ Scan(...any) error }) (*model.Connection, error) {
	var c model.Connection
	var details []byte
	if err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Type, &details,
		&c.IsDefault, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Details = json.RawMessage(details)
	return &c, nil
}

// Create inserts a connection. When the request marks it default, any
// previous default for the organization is cleared in the same transaction.
func (r *ConnectionRepo) Create(
	ctx context.Context,
	orgID string,
	req *model.CreateConnectionRequest,
) (*model.Connection, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	if req.IsDefault {
		if _, err = tx.ExecContext(ctx,
			`UPDATE database_connections SET is_default = false, updated_at = now()
			 WHERE organization_id = $1 AND is_default`, orgID,
		); err != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("clear default: %w", err))
		}
	}

	details := req.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO database_connections (organization_id, name, connection_type, connection_details, is_default)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+connectionColumns,
		orgID, req.Name, req.Type, []byte(details), req.IsDefault,
	)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("commit: %w", err))
	}
	return conn, nil
}

// GetByID fetches a connection scoped to the owning organization.
func (r *ConnectionRepo) GetByID(ctx context.Context, orgID, id string) (*model.Connection, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM database_connections
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return conn, nil
}

// GetByIDAnyOrg fetches a connection without an organization guard. It is
// used by the orchestrator, which operates across tenants.
func (r *ConnectionRepo) GetByIDAnyOrg(ctx context.Context, id string) (*model.Connection, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM database_connections
		WHERE id = $1`, id)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return conn, nil
}

// List returns all connections for an organization ordered by name.
func (r *ConnectionRepo) List(ctx context.Context, orgID string) ([]*model.Connection, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+connectionColumns+`
		FROM database_connections
		WHERE organization_id = $1
		ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.Connection
	for rows.Next() {
		conn, scanErr := scanConnection(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// Update applies a partial update. Setting is_default=true clears the
// previous default in the same transaction.
func (r *ConnectionRepo) Update(
	ctx context.Context,
	orgID, id string,
	req *model.UpdateConnectionRequest,
) (*model.Connection, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	if req.IsDefault != nil && *req.IsDefault {
		if _, err = tx.ExecContext(ctx,
			`UPDATE database_connections SET is_default = false, updated_at = now()
			 WHERE organization_id = $1 AND is_default AND id <> $2`, orgID, id,
		); err != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("clear default: %w", err))
		}
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE database_connections SET
			name = COALESCE($3, name),
			connection_details = COALESCE($4, connection_details),
			is_default = COALESCE($5, is_default),
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+connectionColumns,
		id, orgID, req.Name, nullableJSON(req.Details), req.IsDefault,
	)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, apperrors.MapDBError(err)
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("commit: %w", err))
	}
	return conn, nil
}

// Delete removes a connection; the store cascades to scheduled jobs, jobs,
// metadata, and schema changes.
func (r *ConnectionRepo) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM database_connections WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if n == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// nullableJSON converts an empty RawMessage into a SQL NULL so COALESCE keeps
// the stored value.
func nullableJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

// rollback is a best-effort deferred rollback; committed transactions return
// sql.ErrTxDone which is ignored.
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		_ = err
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		_ = err
	}
}

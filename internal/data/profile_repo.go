package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// ProfileHistoryRepo provides store operations for table profiling snapshots.
type ProfileHistoryRepo struct {
	DB *sql.DB
}

// NewProfileHistoryRepo creates a new ProfileHistoryRepo.
func NewProfileHistoryRepo(db *sql.DB) *ProfileHistoryRepo {
	return &ProfileHistoryRepo{DB: db}
}

const profileColumns = `
  id, organization_id, connection_id, table_name, profile, collected_at, created_at
`

func scanProfile(row interface{ Scan(...any) error }) (*model.ProfileHistory, error) {
	var p model.ProfileHistory
	var raw []byte
	if err := row.Scan(
		&p.ID, &p.OrganizationID, &p.ConnectionID, &p.TableName, &raw, &p.CollectedAt, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.Profile = json.RawMessage(raw)
	return &p, nil
}

// Insert stores one profiling snapshot.
func (r *ProfileHistoryRepo) Insert(
	ctx context.Context,
	orgID, connectionID, tableName string,
	profile json.RawMessage,
	collectedAt time.Time,
) (*model.ProfileHistory, error) {
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO profiling_history (organization_id, connection_id, table_name, profile, collected_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+profileColumns,
		orgID, connectionID, tableName, []byte(profile), collectedAt.UTC())
	p, err := scanProfile(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

// GetLatest returns the newest profile for (connection, table).
func (r *ProfileHistoryRepo) GetLatest(
	ctx context.Context,
	connectionID, tableName string,
) (*model.ProfileHistory, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiling_history
		WHERE connection_id = $1 AND table_name = $2
		ORDER BY collected_at DESC
		LIMIT 1`, connectionID, tableName)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

// ListByTable returns profile snapshots for one table newest first.
func (r *ProfileHistoryRepo) ListByTable(
	ctx context.Context,
	connectionID, tableName string,
	limit int,
) ([]*model.ProfileHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiling_history
		WHERE connection_id = $1 AND table_name = $2
		ORDER BY collected_at DESC
		LIMIT $3`, connectionID, tableName, limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.ProfileHistory
	for rows.Next() {
		p, scanErr := scanProfile(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

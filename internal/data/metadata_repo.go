package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

const (
	// verifyAttempts is the write-then-verify retry budget for critical
	// metadata writes.
	verifyAttempts = 3
	verifyBackoff  = 2 * time.Second
)

// MetadataRepo provides store operations for collected connection metadata.
// Writes on the metadata-refresh path are verified: after the insert the
// newest row for (connection, type) is read back and must be the row just
// written, otherwise the write is retried with back-off.
type MetadataRepo struct {
	DB           *sql.DB
	Logger       *slog.Logger
	timeProvider TimeProvider
	sleep        func(context.Context, time.Duration) error
}

// NewMetadataRepo creates a new MetadataRepo.
func NewMetadataRepo(db *sql.DB, logger *slog.Logger) *MetadataRepo {
	return &MetadataRepo{
		DB:           db,
		Logger:       logger,
		timeProvider: &RealTimeProvider{},
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const metadataColumns = `
  id, organization_id, connection_id, metadata_type, metadata, collected_at, created_at
`

func scanMetadata(row interface{ Scan(...any) error }) (*model.ConnectionMetadata, error) {
	var m model.ConnectionMetadata
	var raw []byte
	if err := row.Scan(
		&m.ID, &m.OrganizationID, &m.ConnectionID, &m.Type, &raw, &m.CollectedAt, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	m.Metadata = json.RawMessage(raw)
	return &m, nil
}

// Insert stores one metadata snapshot without verification. Used for
// non-critical paths such as backfills.
func (r *MetadataRepo) Insert(
	ctx context.Context,
	orgID, connectionID string,
	metadataType model.MetadataType,
	metadata json.RawMessage,
	collectedAt time.Time,
) (*model.ConnectionMetadata, error) {
	if !metadataType.Valid() {
		return nil, apperrors.Validationf("invalid metadata type %q", metadataType)
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO connection_metadata (organization_id, connection_id, metadata_type, metadata, collected_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+metadataColumns,
		orgID, connectionID, metadataType, []byte(metadata), collectedAt.UTC())
	m, err := scanMetadata(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return m, nil
}

// InsertVerified stores one metadata snapshot and confirms it became the
// newest row for its (connection, type). Up to three attempts are made with
// a two second back-off between them; the verification failure surfaces as
// ErrVerificationFailed only after the budget is spent.
func (r *MetadataRepo) InsertVerified(
	ctx context.Context,
	orgID, connectionID string,
	metadataType model.MetadataType,
	metadata json.RawMessage,
	collectedAt time.Time,
) (*model.ConnectionMetadata, error) {
	var lastErr error
	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		m, err := r.Insert(ctx, orgID, connectionID, metadataType, metadata, collectedAt)
		if err == nil {
			var latest *model.ConnectionMetadata
			latest, err = r.GetLatest(ctx, connectionID, metadataType)
			if err == nil && latest.ID == m.ID {
				return m, nil
			}
			if err == nil {
				err = fmt.Errorf("%w: newest row is %s, wrote %s", ErrVerificationFailed, latest.ID, m.ID)
			}
		}
		lastErr = err
		r.Logger.Warn("metadata write verification failed",
			"connection_id", connectionID,
			"metadata_type", metadataType,
			"attempt", attempt,
			"error", err)
		if attempt < verifyAttempts {
			if sleepErr := r.sleep(ctx, verifyBackoff); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
	return nil, lastErr
}

// GetLatest returns the newest snapshot for (connection, type).
func (r *MetadataRepo) GetLatest(
	ctx context.Context,
	connectionID string,
	metadataType model.MetadataType,
) (*model.ConnectionMetadata, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+metadataColumns+`
		FROM connection_metadata
		WHERE connection_id = $1 AND metadata_type = $2
		ORDER BY collected_at DESC, created_at DESC
		LIMIT 1`, connectionID, metadataType)
	m, err := scanMetadata(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return m, nil
}

// GetLatestByTypes returns the newest snapshot per requested type. Absent
// types are simply missing from the result.
func (r *MetadataRepo) GetLatestByTypes(
	ctx context.Context,
	connectionID string,
	types []model.MetadataType,
) (map[model.MetadataType]*model.ConnectionMetadata, error) {
	out := make(map[model.MetadataType]*model.ConnectionMetadata, len(types))
	for _, t := range types {
		m, err := r.GetLatest(ctx, connectionID, t)
		if err != nil {
			if errors.Is(err, ErrSnapshotNotFound) {
				continue
			}
			return nil, err
		}
		out[t] = m
	}
	return out, nil
}

// LatestSchemaSnapshot decodes the newest columns snapshot into the
// structural form consumed by schema diffing.
func (r *MetadataRepo) LatestSchemaSnapshot(
	ctx context.Context,
	connectionID string,
) (*model.SchemaSnapshot, error) {
	m, err := r.GetLatest(ctx, connectionID, model.MetadataColumns)
	if err != nil {
		return nil, err
	}
	var snap model.SchemaSnapshot
	if err := json.Unmarshal(m.Metadata, &snap); err != nil {
		return nil, fmt.Errorf("decode schema snapshot: %w", err)
	}
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = m.CollectedAt
	}
	return &snap, nil
}

// ReplaceSchemaSnapshot stores a new columns snapshot and prunes older rows
// of the same type beyond the retained count, in one transaction, so readers
// never observe a partially replaced snapshot.
func (r *MetadataRepo) ReplaceSchemaSnapshot(
	ctx context.Context,
	orgID, connectionID string,
	snap *model.SchemaSnapshot,
	retain int,
) (*model.ConnectionMetadata, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode schema snapshot: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx, `
		INSERT INTO connection_metadata (organization_id, connection_id, metadata_type, metadata, collected_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+metadataColumns,
		orgID, connectionID, model.MetadataColumns, raw, snap.CollectedAt.UTC())
	m, err := scanMetadata(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if retain > 0 {
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM connection_metadata
			WHERE connection_id = $1 AND metadata_type = $2
			  AND id NOT IN (
				SELECT id FROM connection_metadata
				WHERE connection_id = $1 AND metadata_type = $2
				ORDER BY collected_at DESC, created_at DESC
				LIMIT $3
			  )`, connectionID, model.MetadataColumns, retain,
		); err != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("prune snapshots: %w", err))
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("commit: %w", err))
	}
	return m, nil
}

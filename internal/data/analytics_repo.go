package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/verity-dq/verity/internal/errors"
)

// AnalyticsRow is one stored metadata-change analytics document.
type AnalyticsRow struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	ConnectionID   string          `json:"connection_id"`
	WindowStart    time.Time       `json:"window_start"`
	WindowEnd      time.Time       `json:"window_end"`
	Analytics      json.RawMessage `json:"analytics"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AnalyticsRepo provides store operations for metadata change analytics.
type AnalyticsRepo struct {
	DB *sql.DB
}

// NewAnalyticsRepo creates a new AnalyticsRepo.
func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo {
	return &AnalyticsRepo{DB: db}
}

// Insert stores one analytics document.
func (r *AnalyticsRepo) Insert(
	ctx context.Context,
	orgID, connectionID string,
	windowStart, windowEnd time.Time,
	analytics json.RawMessage,
) (*AnalyticsRow, error) {
	var row AnalyticsRow
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO metadata_change_analytics
			(organization_id, connection_id, window_start, window_end, analytics)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, organization_id, connection_id, window_start, window_end, analytics, created_at`,
		orgID, connectionID, windowStart.UTC(), windowEnd.UTC(), []byte(analytics),
	).Scan(&row.ID, &row.OrganizationID, &row.ConnectionID,
		&row.WindowStart, &row.WindowEnd, &raw, &row.CreatedAt)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	row.Analytics = json.RawMessage(raw)
	return &row, nil
}

// GetLatest returns the most recent analytics document for a connection.
func (r *AnalyticsRepo) GetLatest(ctx context.Context, connectionID string) (*AnalyticsRow, error) {
	var row AnalyticsRow
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, organization_id, connection_id, window_start, window_end, analytics, created_at
		FROM metadata_change_analytics
		WHERE connection_id = $1
		ORDER BY window_end DESC
		LIMIT 1`, connectionID,
	).Scan(&row.ID, &row.OrganizationID, &row.ConnectionID,
		&row.WindowStart, &row.WindowEnd, &raw, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("no analytics recorded for connection")
		}
		return nil, apperrors.MapDBError(err)
	}
	row.Analytics = json.RawMessage(raw)
	return &row, nil
}

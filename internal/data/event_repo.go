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

// EventRepo provides store operations for the persisted event log.
type EventRepo struct {
	DB *sql.DB
}

// NewEventRepo creates a new EventRepo.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{DB: db}
}

const eventColumns = `
  id, organization_id, connection_id, event_type, payload, created_at
`

func scanEvent(row interface{ Scan(...any) error }) (*model.AutomationEvent, error) {
	var e model.AutomationEvent
	var payload []byte
	if err := row.Scan(
		&e.ID, &e.OrganizationID, &e.ConnectionID, &e.Type, &payload, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// Insert persists one event and returns the stored row.
func (r *EventRepo) Insert(
	ctx context.Context,
	orgID string,
	connectionID *string,
	eventType model.EventType,
	payload json.RawMessage,
) (*model.AutomationEvent, error) {
	if !eventType.Valid() {
		return nil, apperrors.Validationf("invalid event type %q", eventType)
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO automation_events (organization_id, connection_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING `+eventColumns,
		orgID, connectionID, eventType, nullableJSON(payload))
	e, err := scanEvent(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return e, nil
}

// EventListOptions filters List.
type EventListOptions struct {
	OrganizationID string
	ConnectionID   string
	EventTypes     []model.EventType
	Since          time.Time
	Limit          int
}

// List returns events newest first.
func (r *EventRepo) List(ctx context.Context, opts EventListOptions) ([]*model.AutomationEvent, error) {
	where := []string{"organization_id = $1"}
	args := []any{opts.OrganizationID}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if opts.ConnectionID != "" {
		add("connection_id = $%d", opts.ConnectionID)
	}
	if len(opts.EventTypes) > 0 {
		placeholders := make([]string, 0, len(opts.EventTypes))
		for _, t := range opts.EventTypes {
			args = append(args, t)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !opts.Since.IsZero() {
		add("created_at >= $%d", opts.Since.UTC())
	}

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + eventColumns + ` FROM automation_events WHERE ` +
		strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.AutomationEvent
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

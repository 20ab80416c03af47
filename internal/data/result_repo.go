package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// ValidationResultRepo provides store operations for validation run outcomes.
type ValidationResultRepo struct {
	DB *sql.DB
}

// NewValidationResultRepo creates a new ValidationResultRepo.
func NewValidationResultRepo(db *sql.DB) *ValidationResultRepo {
	return &ValidationResultRepo{DB: db}
}

const resultColumns = `
  id, organization_id, rule_id, run_at, is_valid, actual_value, error_message,
  profile_history_id, created_at
`

func scanResult(row interface{ Scan(...any) error }) (*model.ValidationResult, error) {
	var r model.ValidationResult
	var actual []byte
	if err := row.Scan(
		&r.ID, &r.OrganizationID, &r.RuleID, &r.RunAt, &r.IsValid, &actual, &r.ErrorMessage,
		&r.ProfileHistoryID, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	r.ActualValue = json.RawMessage(actual)
	return &r, nil
}

// ResultRecord is one validation outcome to persist.
type ResultRecord struct {
	RuleID           string
	RunAt            time.Time
	IsValid          bool
	ActualValue      json.RawMessage
	ErrorMessage     *string
	ProfileHistoryID *string
}

// Insert stores one validation result.
func (r *ValidationResultRepo) Insert(
	ctx context.Context,
	orgID string,
	rec ResultRecord,
) (*model.ValidationResult, error) {
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO validation_results
			(organization_id, rule_id, run_at, is_valid, actual_value, error_message, profile_history_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+resultColumns,
		orgID, rec.RuleID, rec.RunAt.UTC(), rec.IsValid,
		nullableJSON(rec.ActualValue), rec.ErrorMessage, rec.ProfileHistoryID)
	result, err := scanResult(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// ListByRule returns results for one rule newest first.
func (r *ValidationResultRepo) ListByRule(
	ctx context.Context,
	ruleID string,
	limit int,
) ([]*model.ValidationResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM validation_results
		WHERE rule_id = $1
		ORDER BY run_at DESC
		LIMIT $2`, ruleID, limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.ValidationResult
	for rows.Next() {
		result, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// ListByConnection returns results for all rules of a connection newest
// first, joined through validation_rules.
func (r *ValidationResultRepo) ListByConnection(
	ctx context.Context,
	connectionID string,
	since time.Time,
	limit int,
) ([]*model.ValidationResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT vr.id, vr.organization_id, vr.rule_id, vr.run_at, vr.is_valid,
		       vr.actual_value, vr.error_message, vr.profile_history_id, vr.created_at
		FROM validation_results vr
		JOIN validation_rules r ON r.id = vr.rule_id
		WHERE r.connection_id = $1 AND vr.run_at >= $2
		ORDER BY vr.run_at DESC
		LIMIT $3`, connectionID, since.UTC(), limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	var out []*model.ValidationResult
	for rows.Next() {
		result, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, apperrors.MapDBError(scanErr)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// FailureCountSince returns how many results failed for a connection at or
// after the cutoff.
func (r *ValidationResultRepo) FailureCountSince(
	ctx context.Context,
	connectionID string,
	cutoff time.Time,
) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM validation_results vr
		JOIN validation_rules r ON r.id = vr.rule_id
		WHERE r.connection_id = $1 AND vr.run_at >= $2 AND NOT vr.is_valid`,
		connectionID, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return n, nil
}

package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

// ValidationRuleRepo provides store operations for validation rules.
type ValidationRuleRepo struct {
	DB *sql.DB
}

// NewValidationRuleRepo creates a new ValidationRuleRepo.
func NewValidationRuleRepo(db *sql.DB) *ValidationRuleRepo {
	return &ValidationRuleRepo{DB: db}
}

const ruleColumns = `
  id, organization_id, connection_id, table_name, name, query, operator,
  expected_value, is_active, created_at, updated_at
`

func scanRule(row interface{ Scan(...any) error }) (*model.ValidationRule, error) {
	var r model.ValidationRule
	var expected []byte
	if err := row.Scan(
		&r.ID, &r.OrganizationID, &r.ConnectionID, &r.TableName, &r.Name, &r.Query, &r.Operator,
		&expected, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.ExpectedValue = json.RawMessage(expected)
	return &r, nil
}

// Create inserts a rule. Duplicate (org, connection, table, name) maps to a
// conflict error.
func (r *ValidationRuleRepo) Create(
	ctx context.Context,
	orgID string,
	req *model.CreateValidationRuleRequest,
) (*model.ValidationRule, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO validation_rules
			(organization_id, connection_id, table_name, name, query, operator, expected_value, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+ruleColumns,
		orgID, req.ConnectionID, req.TableName, req.Name, req.Query,
		req.Operator, []byte(req.ExpectedValue), active)
	rule, err := scanRule(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return rule, nil
}

// CreateIfAbsent inserts a rule unless one with the same identity already
// exists. Returns nil, nil when skipped. Used by default rule generation so
// reruns do not clobber user edits.
func (r *ValidationRuleRepo) CreateIfAbsent(
	ctx context.Context,
	orgID string,
	req *model.CreateValidationRuleRequest,
) (*model.ValidationRule, error) {
	rule, err := r.Create(ctx, orgID, req)
	if err != nil {
		if apperrors.IsConflict(err) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// GetByID fetches one rule scoped to the owning organization.
func (r *ValidationRuleRepo) GetByID(ctx context.Context, orgID, id string) (*model.ValidationRule, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM validation_rules
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return rule, nil
}

// ListByConnection returns the rules for one connection, optionally only the
// active ones.
func (r *ValidationRuleRepo) ListByConnection(
	ctx context.Context,
	connectionID string,
	activeOnly bool,
) ([]*model.ValidationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM validation_rules WHERE connection_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY table_name ASC, name ASC`

	rows, err := r.DB.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	return collectRules(rows)
}

// ListByOrganization returns all rules for an organization.
func (r *ValidationRuleRepo) ListByOrganization(
	ctx context.Context,
	orgID string,
) ([]*model.ValidationRule, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM validation_rules
		WHERE organization_id = $1
		ORDER BY connection_id ASC, table_name ASC, name ASC`, orgID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer closeRows(rows)

	return collectRules(rows)
}

// Update applies a partial update to a rule.
func (r *ValidationRuleRepo) Update(
	ctx context.Context,
	orgID, id string,
	req *model.UpdateValidationRuleRequest,
) (*model.ValidationRule, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	row := r.DB.QueryRowContext(ctx, `
		UPDATE validation_rules SET
			name = COALESCE($3, name),
			query = COALESCE($4, query),
			operator = COALESCE($5, operator),
			expected_value = COALESCE($6, expected_value),
			is_active = COALESCE($7, is_active),
			updated_at = now()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+ruleColumns,
		id, orgID, req.Name, req.Query, req.Operator,
		nullableJSON(req.ExpectedValue), req.IsActive)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return rule, nil
}

// Delete removes a rule and its results via cascade.
func (r *ValidationRuleRepo) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM validation_rules WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func collectRules(rows *sql.Rows) ([]*model.ValidationRule, error) {
	var out []*model.ValidationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.MapDBError(fmt.Errorf("scan rule: %w", err))
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

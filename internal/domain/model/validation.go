package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RuleOperator represents the comparison applied to a validation result.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RuleOperator string

const (
	// OperatorEquals compares numerically when both sides are numeric,
	// otherwise by string equality.
	OperatorEquals RuleOperator = "equals"
	// OperatorGreaterThan compares as floats.
	OperatorGreaterThan RuleOperator = "greater_than"
	// OperatorLessThan compares as floats.
	OperatorLessThan RuleOperator = "less_than"
	// OperatorBetween expects [min, max] and checks inclusively.
	OperatorBetween RuleOperator = "between"
)

// Valid returns true if the RuleOperator is valid.
func (o RuleOperator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorGreaterThan, OperatorLessThan, OperatorBetween:
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler for RuleOperator.
func (o *RuleOperator) UnmarshalText(text []byte) error {
	v := RuleOperator(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid RuleOperator: %q", string(text))
	}
	*o = v
	return nil
}

// ValidationRule is a SQL scalar query plus a comparison operator and an
// expected value. (organization, connection, table, name) is unique.
type ValidationRule struct {
	ID             string          `json:"id"              db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	ConnectionID   string          `json:"connection_id"   db:"connection_id"`
	TableName      string          `json:"table_name"      db:"table_name"`
	Name           string          `json:"name"            db:"name"`
	Query          string          `json:"query"           db:"query"`
	Operator       RuleOperator    `json:"operator"        db:"operator"`
	ExpectedValue  json.RawMessage `json:"expected_value"  db:"expected_value"`
	IsActive       bool            `json:"is_active"       db:"is_active"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"      db:"updated_at"`
}

// CreateValidationRuleRequest represents a request to create a rule.
type CreateValidationRuleRequest struct {
	ConnectionID  string          `json:"connection_id"`
	TableName     string          `json:"table"`
	Name          string          `json:"name"`
	Query         string          `json:"query"`
	Operator      RuleOperator    `json:"operator"`
	ExpectedValue json.RawMessage `json:"expected_value"`
	IsActive      *bool           `json:"is_active,omitempty"`
}

// Validate validates the CreateValidationRuleRequest fields.
func (r *CreateValidationRuleRequest) Validate() error {
	if r.ConnectionID == "" {
		return errors.New("connection_id is required")
	}
	if strings.TrimSpace(r.TableName) == "" {
		return errors.New("table is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query is required")
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("invalid operator %q", r.Operator)
	}
	if len(r.ExpectedValue) == 0 || !json.Valid(r.ExpectedValue) {
		return errors.New("expected_value must be valid JSON")
	}
	if r.Operator == OperatorBetween {
		var bounds []json.Number
		dec := json.NewDecoder(strings.NewReader(string(r.ExpectedValue)))
		dec.UseNumber()
		if err := dec.Decode(&bounds); err != nil || len(bounds) != 2 {
			return errors.New("between operator requires expected_value [min, max]")
		}
	}
	return nil
}

// UpdateValidationRuleRequest represents a partial update to a rule.
type UpdateValidationRuleRequest struct {
	Name          *string         `json:"name,omitempty"`
	Query         *string         `json:"query,omitempty"`
	Operator      *RuleOperator   `json:"operator,omitempty"`
	ExpectedValue json.RawMessage `json:"expected_value,omitempty"`
	IsActive      *bool           `json:"is_active,omitempty"`
}

// Validate validates the UpdateValidationRuleRequest fields.
func (r *UpdateValidationRuleRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return errors.New("name cannot be empty")
	}
	if r.Query != nil && strings.TrimSpace(*r.Query) == "" {
		return errors.New("query cannot be empty")
	}
	if r.Operator != nil && !r.Operator.Valid() {
		return fmt.Errorf("invalid operator %q", *r.Operator)
	}
	if len(r.ExpectedValue) > 0 && !json.Valid(r.ExpectedValue) {
		return errors.New("expected_value must be valid JSON")
	}
	return nil
}

// ValidationResult records the outcome of one rule execution.
type ValidationResult struct {
	ID               string          `json:"id"                db:"id"`
	OrganizationID   string          `json:"organization_id"   db:"organization_id"`
	RuleID           string          `json:"rule_id"           db:"rule_id"`
	RunAt            time.Time       `json:"run_at"            db:"run_at"`
	IsValid          bool            `json:"is_valid"          db:"is_valid"`
	ActualValue      json.RawMessage `json:"actual_value,omitempty" db:"actual_value"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	ProfileHistoryID *string         `json:"profile_history_id,omitempty" db:"profile_history_id"`
	CreatedAt        time.Time       `json:"created_at"        db:"created_at"`
}

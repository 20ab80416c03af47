package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ChangeType represents a typed schema difference between two snapshots.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ChangeType string

// The closed set of schema change types.
const (
	ChangeTableAdded               ChangeType = "table_added"
	ChangeTableRemoved             ChangeType = "table_removed"
	ChangeColumnAdded              ChangeType = "column_added"
	ChangeColumnRemoved            ChangeType = "column_removed"
	ChangeColumnTypeChanged        ChangeType = "column_type_changed"
	ChangeColumnNullabilityChanged ChangeType = "column_nullability_changed"
	ChangePrimaryKeyAdded          ChangeType = "primary_key_added"
	ChangePrimaryKeyRemoved        ChangeType = "primary_key_removed"
	ChangePrimaryKeyChanged        ChangeType = "primary_key_changed"
	ChangeForeignKeyAdded          ChangeType = "foreign_key_added"
	ChangeForeignKeyRemoved        ChangeType = "foreign_key_removed"
	ChangeIndexAdded               ChangeType = "index_added"
	ChangeIndexRemoved             ChangeType = "index_removed"
	ChangeIndexChanged             ChangeType = "index_changed"
)

var validChangeTypes = map[ChangeType]bool{
	ChangeTableAdded: true, ChangeTableRemoved: true,
	ChangeColumnAdded: true, ChangeColumnRemoved: true,
	ChangeColumnTypeChanged: true, ChangeColumnNullabilityChanged: true,
	ChangePrimaryKeyAdded: true, ChangePrimaryKeyRemoved: true, ChangePrimaryKeyChanged: true,
	ChangeForeignKeyAdded: true, ChangeForeignKeyRemoved: true,
	ChangeIndexAdded: true, ChangeIndexRemoved: true, ChangeIndexChanged: true,
}

// Valid returns true if the ChangeType is valid.
func (t ChangeType) Valid() bool {
	return validChangeTypes[t]
}

// UnmarshalText implements encoding.TextUnmarshaler for ChangeType.
func (t *ChangeType) UnmarshalText(text []byte) error {
	v := ChangeType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ChangeType: %q", string(text))
	}
	*t = v
	return nil
}

// Important reports whether the change is flagged important. Consumers act
// identically on any change today; the flag is carried through for reporting.
func (t ChangeType) Important() bool {
	switch t {
	case ChangeTableRemoved, ChangeColumnRemoved, ChangeColumnTypeChanged, ChangePrimaryKeyChanged, ChangePrimaryKeyRemoved:
		return true
	}
	return false
}

// SchemaChange is one detected schema difference. Rows are deduplicated
// against identical (connection, table, change_type, column) within the prior
// 24 hours.
type SchemaChange struct {
	ID             string          `json:"id"              db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	ConnectionID   string          `json:"connection_id"   db:"connection_id"`
	TableName      string          `json:"table_name"      db:"table_name"`
	ColumnName     *string         `json:"column_name,omitempty" db:"column_name"`
	ChangeType     ChangeType      `json:"change_type"     db:"change_type"`
	Details        json.RawMessage `json:"details,omitempty" db:"details"`
	IsImportant    bool            `json:"is_important"    db:"is_important"`
	Acknowledged   bool            `json:"acknowledged"    db:"acknowledged"`
	DetectedAt     time.Time       `json:"detected_at"     db:"detected_at"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

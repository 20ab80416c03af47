package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MetadataType represents a category of collected connection metadata.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type MetadataType string

const (
	// MetadataTables is the table inventory snapshot.
	MetadataTables MetadataType = "tables"
	// MetadataColumns is the per-table column snapshot.
	MetadataColumns MetadataType = "columns"
	// MetadataStatistics is the statistical profile snapshot.
	MetadataStatistics MetadataType = "statistics"
)

// AllMetadataTypes returns the closed set of metadata types.
func AllMetadataTypes() []MetadataType {
	return []MetadataType{MetadataTables, MetadataColumns, MetadataStatistics}
}

// Valid returns true if the MetadataType is valid.
func (t MetadataType) Valid() bool {
	return t == MetadataTables || t == MetadataColumns || t == MetadataStatistics
}

// UnmarshalText implements encoding.TextUnmarshaler for MetadataType.
func (t *MetadataType) UnmarshalText(text []byte) error {
	v := MetadataType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid MetadataType: %q", string(text))
	}
	*t = v
	return nil
}

// ConnectionMetadata is one collected metadata snapshot. The latest row by
// collected_at per (connection, type) defines the current view.
type ConnectionMetadata struct {
	ID             string          `json:"id"              db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	ConnectionID   string          `json:"connection_id"   db:"connection_id"`
	Type           MetadataType    `json:"metadata_type"   db:"metadata_type"`
	Metadata       json.RawMessage `json:"metadata"        db:"metadata"`
	CollectedAt    time.Time       `json:"collected_at"    db:"collected_at"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

// Freshness buckets the age of the most recent metadata snapshot.
type Freshness string

const (
	// FreshnessFresh means the newest snapshot is younger than one hour.
	FreshnessFresh Freshness = "fresh"
	// FreshnessRecent means younger than 24 hours.
	FreshnessRecent Freshness = "recent"
	// FreshnessStale means older than 24 hours (or absent).
	FreshnessStale Freshness = "stale"
)

// FreshnessOf buckets the given snapshot age.
func FreshnessOf(collectedAt time.Time, now time.Time) Freshness {
	age := now.Sub(collectedAt)
	switch {
	case age < time.Hour:
		return FreshnessFresh
	case age < 24*time.Hour:
		return FreshnessRecent
	default:
		return FreshnessStale
	}
}

// SchemaSnapshot is the structural snapshot of a target database used by
// schema-change detection.
type SchemaSnapshot struct {
	Tables      []TableSchema `json:"tables"`
	CollectedAt time.Time     `json:"collected_at"`
}

// TableSchema describes one table's structure.
type TableSchema struct {
	Name        string         `json:"name"`
	Columns     []ColumnSchema `json:"columns"`
	PrimaryKey  []string       `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey   `json:"foreign_keys,omitempty"`
	Indexes     []IndexSchema  `json:"indexes,omitempty"`
}

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ForeignKey describes one foreign key constraint.
type ForeignKey struct {
	Name            string   `json:"name,omitempty"`
	ConstrainedCols []string `json:"constrained_columns"`
	ReferredTable   string   `json:"referred_table"`
	ReferredCols    []string `json:"referred_columns"`
}

// IndexSchema describes one index.
type IndexSchema struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ProfileHistory is a snapshot of a table's statistical profile.
type ProfileHistory struct {
	ID             string          `json:"id"              db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	ConnectionID   string          `json:"connection_id"   db:"connection_id"`
	TableName      string          `json:"table_name"      db:"table_name"`
	Profile        json.RawMessage `json:"profile"         db:"profile"`
	CollectedAt    time.Time       `json:"collected_at"    db:"collected_at"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

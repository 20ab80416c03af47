// Package model defines the core data types and structures used throughout
// the verity automation system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionType represents the kind of target database a connection points at.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ConnectionType string

const (
	// ConnectionTypeSnowflake is a Snowflake warehouse connection.
	ConnectionTypeSnowflake ConnectionType = "snowflake"
	// ConnectionTypePostgres is a PostgreSQL connection.
	ConnectionTypePostgres ConnectionType = "postgresql"
	// ConnectionTypeDuckDB is a DuckDB (file or in-memory) connection.
	ConnectionTypeDuckDB ConnectionType = "duckdb"
)

// Valid returns true if the ConnectionType is valid.
func (t ConnectionType) Valid() bool {
	return t == ConnectionTypeSnowflake || t == ConnectionTypePostgres || t == ConnectionTypeDuckDB
}

// UnmarshalText implements encoding.TextUnmarshaler for ConnectionType.
func (t *ConnectionType) UnmarshalText(text []byte) error {
	v := ConnectionType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ConnectionType: %q", string(text))
	}
	*t = v
	return nil
}

// Connection represents a target database connection owned by an organization.
// Details holds opaque credential JSON and is stripped from API responses by
// the persistence gateway (see data.ConnectionRepo).
type Connection struct {
	ID             string          `json:"id"                 db:"id"`
	OrganizationID string          `json:"organization_id"    db:"organization_id"`
	Name           string          `json:"name"               db:"name"`
	Type           ConnectionType  `json:"connection_type"    db:"connection_type"`
	Details        json.RawMessage `json:"connection_details,omitempty" db:"connection_details"`
	IsDefault      bool            `json:"is_default"         db:"is_default"`
	CreatedAt      time.Time       `json:"created_at"         db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"         db:"updated_at"`
}

// ConnectionDetails is the decoded credential payload for a connection.
// All fields are optional; connectors fall back per type.
type ConnectionDetails struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	User      string `json:"user,omitempty"`
	Password  string `json:"password,omitempty"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`
	Account   string `json:"account,omitempty"`   // snowflake
	Warehouse string `json:"warehouse,omitempty"` // snowflake
	Role      string `json:"role,omitempty"`      // snowflake
	Path      string `json:"path,omitempty"`      // duckdb
	SSLMode   string `json:"sslmode,omitempty"`   // postgresql
}

// DecodeDetails parses the opaque credential JSON.
func (c *Connection) DecodeDetails() (*ConnectionDetails, error) {
	var d ConnectionDetails
	if len(c.Details) == 0 {
		return &d, nil
	}
	if err := json.Unmarshal(c.Details, &d); err != nil {
		return nil, fmt.Errorf("decode connection details: %w", err)
	}
	return &d, nil
}

// Sanitized returns a copy of the connection with credentials removed.
func (c *Connection) Sanitized() *Connection {
	out := *c
	out.Details = nil
	return &out
}

// CreateConnectionRequest represents a request to create a connection.
type CreateConnectionRequest struct {
	Name      string          `json:"name"`
	Type      ConnectionType  `json:"connection_type"`
	Details   json.RawMessage `json:"connection_details"`
	IsDefault bool            `json:"is_default,omitempty"`
}

// Validate validates the CreateConnectionRequest fields.
func (r *CreateConnectionRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid connection type %q", r.Type)
	}
	if len(r.Details) > 0 && !json.Valid(r.Details) {
		return errors.New("connection_details must be valid JSON")
	}
	return nil
}

// UpdateConnectionRequest represents a partial update to a connection.
type UpdateConnectionRequest struct {
	Name      *string         `json:"name,omitempty"`
	Details   json.RawMessage `json:"connection_details,omitempty"`
	IsDefault *bool           `json:"is_default,omitempty"`
}

// Validate validates the UpdateConnectionRequest fields.
func (r *UpdateConnectionRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return errors.New("name cannot be empty")
	}
	if len(r.Details) > 0 && !json.Valid(r.Details) {
		return errors.New("connection_details must be valid JSON")
	}
	return nil
}

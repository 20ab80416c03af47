package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Organization is the tenant boundary: it exclusively owns its connections,
// configs, rules, results, and history.
type Organization struct {
	ID        string    `json:"id"         db:"id"`
	Name      string    `json:"name"       db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Profile is a user account within an organization.
type Profile struct {
	ID             string    `json:"id"              db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Email          string    `json:"email"           db:"email"`
	PasswordHash   string    `json:"-"               db:"password_hash"`
	Role           string    `json:"role"            db:"role"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"      db:"updated_at"`
}

// LoginRequest carries credentials for /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate validates the LoginRequest fields.
func (r *LoginRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return errors.New("email is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// NotificationSettings configures per-organization notification channels.
type NotificationSettings struct {
	ID              string          `json:"id"               db:"id"`
	OrganizationID  string          `json:"organization_id"  db:"organization_id"`
	SlackWebhookURL *string         `json:"slack_webhook_url,omitempty" db:"slack_webhook_url"`
	EmailRecipients []string        `json:"email_recipients,omitempty"  db:"email_recipients"`
	EventTypes      []EventType     `json:"event_types,omitempty"       db:"event_types"`
	Extra           json.RawMessage `json:"extra,omitempty"             db:"extra"`
	CreatedAt       time.Time       `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"       db:"updated_at"`
}

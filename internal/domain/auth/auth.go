// Package auth contains the authentication domain types: roles and resolved
// bearer sessions.
package auth

import "time"

// Role represents a user's access level within an organization.
type Role string

const (
	// RoleAdmin can manage connections, configs, and rules.
	RoleAdmin Role = "admin"
	// RoleUser can read and trigger runs.
	RoleUser Role = "user"
)

// Valid returns true if the Role is valid.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Allows reports whether the role satisfies the required role.
// Admin satisfies everything; user satisfies user.
func (r Role) Allows(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

// Session is the resolved identity behind a bearer token.
type Session struct {
	Token          string    `json:"-"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

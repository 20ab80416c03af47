package config

import "strings"

// AuthConfig contains authentication configuration.
//
// The API uses opaque bearer tokens stored in Redis; /api/login exchanges
// email+password for a token. BootstrapAdminEmail/Password seed an initial
// admin profile in development.
type AuthConfig struct {
	// TokenHeader is the header carrying the bearer token.
	TokenHeader string `env:"AUTH_TOKEN_HEADER" envDefault:"Authorization"`

	// BootstrapAdminEmail seeds an initial admin user when set (dev only).
	BootstrapAdminEmail string `env:"AUTH_BOOTSTRAP_ADMIN_EMAIL" envDefault:""`
	// BootstrapAdminPassword is the matching bootstrap password.
	BootstrapAdminPassword string `env:"AUTH_BOOTSTRAP_ADMIN_PASSWORD" envDefault:""`

	// BcryptCost overrides the bcrypt work factor (0 uses the library default).
	BcryptCost int `env:"AUTH_BCRYPT_COST" envDefault:"0"`
}

// Sanitize applies guardrails to auth configuration values.
func (c *AuthConfig) Sanitize() {
	c.TokenHeader = strings.TrimSpace(c.TokenHeader)
	if c.TokenHeader == "" {
		c.TokenHeader = "Authorization"
	}
	if c.BcryptCost < 0 || c.BcryptCost > 31 {
		c.BcryptCost = 0
	}
}

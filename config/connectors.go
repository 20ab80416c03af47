package config

import "time"

// ConnectorConfig contains defaults for target database connectors.
type ConnectorConfig struct {
	// DefaultDSN is the fallback connection string used by development
	// seeding and the connection test endpoint when no credentials are given.
	DefaultDSN string `env:"DEFAULT_DB_CONNECTION_STRING" envDefault:""`

	// ConnectTimeout bounds dialing a target database.
	ConnectTimeout time.Duration `env:"CONNECTOR_CONNECT_TIMEOUT" envDefault:"10s"`
	// PingTimeout bounds the connection test round-trip.
	PingTimeout time.Duration `env:"CONNECTOR_PING_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to connector configuration values.
func (c *ConnectorConfig) Sanitize() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
}

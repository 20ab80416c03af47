package config

import "time"

// DBConfig contains PostgreSQL configuration for the shared store.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"verity"`
	Password string `env:"PASSWORD" envDefault:"verity"`
	Name     string `env:"NAME"     envDefault:"verity"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically
	// applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for sessions, caches, and
// rate-limit bookkeeping.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	// SnapshotTTL is the TTL for cached connector schema snapshots.
	SnapshotTTL time.Duration `env:"SNAPSHOT_TTL" envDefault:"1h"`
	// SessionTTL is the TTL for bearer-token sessions.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"12h"`
}

package config

import "time"

// AutomationConfig controls the orchestrator loop and the task executors.
type AutomationConfig struct {
	// SchedulerEnabled force-enables the orchestrator outside production.
	SchedulerEnabled bool `env:"ENABLE_AUTOMATION_SCHEDULER" envDefault:"false"`
	// Disabled hard-disables the orchestrator regardless of environment.
	Disabled bool `env:"DISABLE_AUTOMATION" envDefault:"false"`

	// TickInterval is the cadence of the orchestrator control loop.
	TickInterval time.Duration `env:"AUTOMATION_TICK_INTERVAL" envDefault:"60s"`
	// Workers bounds the executor worker pool.
	Workers int `env:"AUTOMATION_WORKERS" envDefault:"3"`
	// DueBuffer is the window half-width used when discovering due jobs.
	DueBuffer time.Duration `env:"AUTOMATION_DUE_BUFFER" envDefault:"5m"`
	// RecentJobWindow rate-limits re-dispatch of the same (connection, type).
	RecentJobWindow time.Duration `env:"AUTOMATION_RECENT_JOB_WINDOW" envDefault:"5m"`
	// ShutdownGrace bounds the wait for in-flight executors on stop.
	ShutdownGrace time.Duration `env:"AUTOMATION_SHUTDOWN_GRACE" envDefault:"5s"`

	// PurgeInterval is the cadence of terminal-job cleanup.
	PurgeInterval time.Duration `env:"AUTOMATION_PURGE_INTERVAL" envDefault:"10m"`
	// PurgeRetention keeps terminal jobs for this long before deletion.
	PurgeRetention time.Duration `env:"AUTOMATION_PURGE_RETENTION" envDefault:"168h"`

	// MetadataManagerURL is the base URL of the metadata-collection task
	// manager the metadata_refresh executor delegates to.
	MetadataManagerURL string `env:"METADATA_MANAGER_URL" envDefault:"http://localhost:9090"`
	// MetadataTimeout is the overall budget handed to the metadata manager.
	MetadataTimeout time.Duration `env:"METADATA_TIMEOUT" envDefault:"45m"`
	// MetadataTableLimit caps tables collected per refresh.
	MetadataTableLimit int `env:"METADATA_TABLE_LIMIT" envDefault:"50"`

	// QueryTimeout is the per-statement timeout for validation queries.
	QueryTimeout time.Duration `env:"AUTOMATION_QUERY_TIMEOUT" envDefault:"60s"`
	// RuleParallelism bounds concurrent rule executions per validation run.
	RuleParallelism int `env:"AUTOMATION_RULE_PARALLELISM" envDefault:"10"`
	// SnapshotTableLimit caps tables collected for schema detection.
	SnapshotTableLimit int `env:"AUTOMATION_SNAPSHOT_TABLE_LIMIT" envDefault:"100"`
}

// Sanitize applies guardrails to automation configuration values.
func (c *AutomationConfig) Sanitize() {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.DueBuffer <= 0 {
		c.DueBuffer = 5 * time.Minute
	}
	if c.RecentJobWindow <= 0 {
		c.RecentJobWindow = 5 * time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 10 * time.Minute
	}
	if c.PurgeRetention <= 0 {
		c.PurgeRetention = 7 * 24 * time.Hour
	}
	if c.MetadataTimeout <= 0 {
		c.MetadataTimeout = 45 * time.Minute
	}
	if c.MetadataTableLimit <= 0 {
		c.MetadataTableLimit = 50
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 60 * time.Second
	}
	if c.RuleParallelism <= 0 {
		c.RuleParallelism = 10
	}
	if c.SnapshotTableLimit <= 0 {
		c.SnapshotTableLimit = 100
	}
}

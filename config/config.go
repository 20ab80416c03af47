package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Authentication and session configuration
//   - database.go: Store and cache configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode configuration
//   - automation.go: Orchestrator, schedule, and executor configuration
//   - connectors.go: Target database connector configuration
type AppConfig struct {
	// Environment is the deployment environment name. The automation
	// scheduler only starts when this is "production" unless explicitly
	// enabled (see Automation.SchedulerEnabled).
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Authentication configuration
	Auth AuthConfig

	// Store configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,orchestrator"`

	// Automation core configuration
	Automation AutomationConfig

	// Target database connector configuration
	Connectors ConnectorConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = "development"
	}

	c.HTTP.Sanitize()
	c.Auth.Sanitize()
	c.Automation.Sanitize()
	c.Connectors.Sanitize()
	c.Observability.Sanitize()
}

// IsProduction reports whether the process runs in the production environment.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the process runs in a development environment.
func (c *AppConfig) IsDevelopment() bool {
	if c.Environment == "development" || c.Environment == "dev" {
		return true
	}
	// NODE_ENV is checked as a fallback (the hosted UI tooling sets it).
	nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
	return nodeEnv == "development" || nodeEnv == "dev"
}

// SchedulerGateOpen reports whether the automation orchestrator may start.
// Disabled everywhere except production unless ENABLE_AUTOMATION_SCHEDULER
// is set; DISABLE_AUTOMATION always wins.
func (c *AppConfig) SchedulerGateOpen() bool {
	if c.Automation.Disabled {
		return false
	}
	if c.IsProduction() {
		return true
	}
	return c.Automation.SchedulerEnabled
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsOrchestratorEnabled returns true if the automation orchestrator service
// is enabled in the service list. The environment gate is applied separately.
func (c *AppConfig) IsOrchestratorEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeOrchestrator]
}

// IsNotifierEnabled returns true if the notification dispatcher service is
// enabled.
func (c *AppConfig) IsNotifierEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeNotifier]
}

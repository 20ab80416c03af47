package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	t.Run("valid list", func(t *testing.T) {
		services, err := ParseServices("http,orchestrator")
		require.NoError(t, err)
		assert.True(t, services[ServiceModeHTTP])
		assert.True(t, services[ServiceModeOrchestrator])
		assert.False(t, services[ServiceModeNotifier])
	})

	t.Run("whitespace and empty parts are tolerated", func(t *testing.T) {
		services, err := ParseServices(" http , ,notifier ")
		require.NoError(t, err)
		assert.True(t, services[ServiceModeHTTP])
		assert.True(t, services[ServiceModeNotifier])
	})

	t.Run("invalid name errors", func(t *testing.T) {
		_, err := ParseServices("http,worker")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid service mode")
	})

	t.Run("empty string errors", func(t *testing.T) {
		_, err := ParseServices("")
		assert.Error(t, err)

		_, err = ParseServices(" , ")
		assert.Error(t, err)
	})
}

func TestSchedulerGateOpen(t *testing.T) {
	cases := []struct {
		name        string
		environment string
		disabled    bool
		enabled     bool
		want        bool
	}{
		{"production default", "production", false, false, true},
		{"development default", "development", false, false, false},
		{"development force-enabled", "development", false, true, true},
		{"production hard-disabled", "production", true, false, false},
		{"hard-disable beats force-enable", "development", true, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := AppConfig{Environment: tc.environment}
			cfg.Automation.Disabled = tc.disabled
			cfg.Automation.SchedulerEnabled = tc.enabled
			assert.Equal(t, tc.want, cfg.SchedulerGateOpen())
		})
	}
}

func TestAppConfig_Sanitize(t *testing.T) {
	cfg := AppConfig{Environment: "  Production "}
	cfg.Sanitize()
	assert.Equal(t, "production", cfg.Environment)
	assert.True(t, cfg.IsProduction())

	empty := AppConfig{}
	empty.Sanitize()
	assert.Equal(t, "development", empty.Environment)
}

func TestAutomationConfig_SanitizeDefaults(t *testing.T) {
	var cfg AutomationConfig
	cfg.Sanitize()

	assert.Equal(t, 60*time.Second, cfg.TickInterval)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.DueBuffer)
	assert.Equal(t, 5*time.Minute, cfg.RecentJobWindow)
	assert.Equal(t, 10*time.Minute, cfg.PurgeInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.PurgeRetention)
	assert.Equal(t, 60*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 10, cfg.RuleParallelism)
	assert.Equal(t, 100, cfg.SnapshotTableLimit)
}

func TestHTTPConfig_Sanitize(t *testing.T) {
	cfg := HTTPConfig{Port: 70000}
	cfg.Sanitize()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.MaxPreviewRows)
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "  "}
	cfg.Sanitize()
	assert.False(t, cfg.IsEnabled(), "metrics cannot be enabled without an address")

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "127.0.0.1:8125"}
	cfg.Sanitize()
	assert.True(t, cfg.IsEnabled())
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	t.Run("disabled parent disables channels", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Slack: SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.example.com/x"},
			SMTP:  SMTPNotificationConfig{Enabled: true, Host: "smtp.example.com", From: "a@b.c"},
		}
		cfg.Sanitize()
		assert.False(t, cfg.Slack.Enabled)
		assert.False(t, cfg.SMTP.Enabled)
	})

	t.Run("incomplete channels are disabled", func(t *testing.T) {
		cfg := ObservabilityNotificationsConfig{
			Enabled: true,
			Slack:   SlackNotificationConfig{Enabled: true},
			SMTP:    SMTPNotificationConfig{Enabled: true, Host: "smtp.example.com"},
		}
		cfg.Sanitize()
		assert.False(t, cfg.Slack.Enabled, "slack needs a webhook URL")
		assert.False(t, cfg.SMTP.Enabled, "smtp needs a from address")
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})
}

func TestServiceModeHelpers(t *testing.T) {
	cfg := AppConfig{Services: "http,notifier"}
	assert.True(t, cfg.IsHTTPServerEnabled())
	assert.False(t, cfg.IsOrchestratorEnabled())
	assert.True(t, cfg.IsNotifierEnabled())

	broken := AppConfig{Services: "nope"}
	assert.False(t, broken.IsHTTPServerEnabled())
	assert.False(t, broken.IsOrchestratorEnabled())
	assert.False(t, broken.IsNotifierEnabled())
}

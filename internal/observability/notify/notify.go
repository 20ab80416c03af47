// Package notify fans automation events out to external channels such as
// Slack webhooks and SMTP recipients.
package notify

import (
	"context"
	"time"
)

// Alert is the canonical payload delivered to notification sinks.
type Alert struct {
	OrganizationID string
	ConnectionID   string
	EventID        string
	EventType      string
	Title          string
	Details        map[string]string
	OccurredAt     time.Time

	// Per-organization overrides. Empty values fall back to the sink's
	// configured defaults.
	SlackWebhookURL string
	EmailRecipients []string
}

// Sink describes a destination capable of consuming alerts.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, alert Alert) error

// Send implements the Sink interface.
func (f SinkFunc) Send(ctx context.Context, alert Alert) error {
	if f == nil {
		return nil
	}
	return f(ctx, alert)
}

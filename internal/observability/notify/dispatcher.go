package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
	"github.com/verity-dq/verity/internal/events"
)

// SettingsReader loads per-organization notification settings.
type SettingsReader interface {
	GetByOrganization(ctx context.Context, orgID string) (*model.NotificationSettings, error)
}

// defaultNotifiable is the event set delivered when an organization has not
// narrowed it through its settings.
var defaultNotifiable = map[model.EventType]bool{
	model.EventSchemaChangesDetected:      true,
	model.EventValidationFailuresDetected: true,
	model.EventJobFailed:                  true,
}

// Dispatcher bridges the event bus to notification sinks, honouring
// per-organization channel overrides and event filters. Delivery is best
// effort: sink errors surface to the bus, which logs and swallows them.
type Dispatcher struct {
	settings SettingsReader
	sinks    []Sink
	logger   *slog.Logger
	timeout  time.Duration
}

// DispatcherOptions holds the dependencies for creating a Dispatcher.
type DispatcherOptions struct {
	Settings SettingsReader
	Sinks    []Sink
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		settings: opts.Settings,
		sinks:    opts.Sinks,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
	}
}

// Register subscribes the dispatcher to every event; filtering happens per
// organization inside Handle.
func (d *Dispatcher) Register(bus *events.Bus) {
	if bus == nil || len(d.sinks) == 0 {
		return
	}
	bus.SubscribeAll(d.Handle)
}

// Handle delivers one event to the configured sinks if the organization's
// settings select it.
func (d *Dispatcher) Handle(ctx context.Context, event *model.AutomationEvent) error {
	settings := d.loadSettings(ctx, event.OrganizationID)
	if !selected(event.Type, settings) {
		return nil
	}

	alert := d.buildAlert(event, settings)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("deliver %s: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// loadSettings treats a missing row and a read failure the same way: fall
// back to the defaults rather than dropping the alert.
func (d *Dispatcher) loadSettings(ctx context.Context, orgID string) *model.NotificationSettings {
	if d.settings == nil {
		return nil
	}
	settings, err := d.settings.GetByOrganization(ctx, orgID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			d.logger.Warn("load notification settings failed",
				"organization_id", orgID,
				"error", err)
		}
		return nil
	}
	return settings
}

func selected(eventType model.EventType, settings *model.NotificationSettings) bool {
	if settings == nil || len(settings.EventTypes) == 0 {
		return defaultNotifiable[eventType]
	}
	for _, t := range settings.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

func (d *Dispatcher) buildAlert(
	event *model.AutomationEvent,
	settings *model.NotificationSettings,
) Alert {
	alert := Alert{
		OrganizationID: event.OrganizationID,
		EventID:        event.ID,
		EventType:      string(event.Type),
		Title:          titleFor(event.Type),
		Details:        flattenPayload(event.Payload),
		OccurredAt:     event.CreatedAt,
	}
	if event.ConnectionID != nil {
		alert.ConnectionID = *event.ConnectionID
	}
	if settings != nil {
		if settings.SlackWebhookURL != nil {
			alert.SlackWebhookURL = *settings.SlackWebhookURL
		}
		alert.EmailRecipients = settings.EmailRecipients
	}
	return alert
}

func titleFor(eventType model.EventType) string {
	switch eventType {
	case model.EventSchemaChangesDetected:
		return "Schema changes detected"
	case model.EventValidationFailuresDetected:
		return "Validation failures detected"
	case model.EventJobFailed:
		return "Automation job failed"
	case model.EventJobCancelled:
		return "Automation job cancelled"
	case model.EventMetadataRefreshed:
		return "Metadata refreshed"
	default:
		return "Automation event"
	}
}

// flattenPayload renders the top level of the event payload into display
// strings. Nested structures stay as compact JSON.
func flattenPayload(payload json.RawMessage) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		switch value := v.(type) {
		case string:
			out[k] = value
		case float64:
			out[k] = trimFloat(value)
		case bool:
			out[k] = fmt.Sprintf("%t", value)
		case nil:
			continue
		default:
			if raw, err := json.Marshal(value); err == nil {
				out[k] = string(raw)
			}
		}
	}
	return out
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

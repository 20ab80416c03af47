package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/domain/model"
	apperrors "github.com/verity-dq/verity/internal/errors"
)

type fakeSettings struct {
	byOrg map[string]*model.NotificationSettings
	err   error
}

func (f *fakeSettings) GetByOrganization(
	_ context.Context,
	orgID string,
) (*model.NotificationSettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	settings, ok := f.byOrg[orgID]
	if !ok {
		return nil, apperrors.NotFound("notification settings not found")
	}
	return settings, nil
}

func event(orgID string, eventType model.EventType, payload string) *model.AutomationEvent {
	connID := "conn-1"
	return &model.AutomationEvent{
		ID:             "evt-1",
		OrganizationID: orgID,
		ConnectionID:   &connID,
		Type:           eventType,
		Payload:        json.RawMessage(payload),
		CreatedAt:      time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC),
	}
}

func collector(alerts *[]Alert) Sink {
	return SinkFunc(func(_ context.Context, alert Alert) error {
		*alerts = append(*alerts, alert)
		return nil
	})
}

func TestDispatcher_DefaultEventFilter(t *testing.T) {
	var alerts []Alert
	d := NewDispatcher(DispatcherOptions{
		Settings: &fakeSettings{},
		Sinks:    []Sink{collector(&alerts)},
		Logger:   slog.Default(),
	})

	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventJobFailed, `{}`)))
	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventSchemaChangesDetected, `{}`)))
	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventValidationFailuresDetected, `{}`)))
	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventJobCompleted, `{}`)))
	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventJobScheduled, `{}`)))

	require.Len(t, alerts, 3, "only failure-class events alert by default")
	assert.Equal(t, string(model.EventJobFailed), alerts[0].EventType)
	assert.Equal(t, "Automation job failed", alerts[0].Title)
}

func TestDispatcher_SettingsNarrowTheFilter(t *testing.T) {
	var alerts []Alert
	d := NewDispatcher(DispatcherOptions{
		Settings: &fakeSettings{byOrg: map[string]*model.NotificationSettings{
			"org-1": {EventTypes: []model.EventType{model.EventSchemaChangesDetected}},
		}},
		Sinks: []Sink{collector(&alerts)},
	})

	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventJobFailed, `{}`)))
	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventSchemaChangesDetected, `{}`)))

	require.Len(t, alerts, 1)
	assert.Equal(t, string(model.EventSchemaChangesDetected), alerts[0].EventType)
}

func TestDispatcher_SettingsWidenTheFilter(t *testing.T) {
	var alerts []Alert
	d := NewDispatcher(DispatcherOptions{
		Settings: &fakeSettings{byOrg: map[string]*model.NotificationSettings{
			"org-1": {EventTypes: []model.EventType{model.EventJobCompleted}},
		}},
		Sinks: []Sink{collector(&alerts)},
	})

	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventJobCompleted, `{}`)))
	require.Len(t, alerts, 1)
}

func TestDispatcher_ChannelOverrides(t *testing.T) {
	webhook := "https://hooks.example.com/org-1"
	var alerts []Alert
	d := NewDispatcher(DispatcherOptions{
		Settings: &fakeSettings{byOrg: map[string]*model.NotificationSettings{
			"org-1": {
				SlackWebhookURL: &webhook,
				EmailRecipients: []string{"data-team@example.com"},
			},
		}},
		Sinks: []Sink{collector(&alerts)},
	})

	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventJobFailed, `{}`)))

	require.Len(t, alerts, 1)
	assert.Equal(t, webhook, alerts[0].SlackWebhookURL)
	assert.Equal(t, []string{"data-team@example.com"}, alerts[0].EmailRecipients)
	assert.Equal(t, "conn-1", alerts[0].ConnectionID)
}

func TestDispatcher_SettingsReadFailureFallsOpen(t *testing.T) {
	var alerts []Alert
	d := NewDispatcher(DispatcherOptions{
		Settings: &fakeSettings{err: errors.New("db down")},
		Sinks:    []Sink{collector(&alerts)},
	})

	require.NoError(t, d.Handle(context.Background(), event("org-1", model.EventJobFailed, `{}`)))
	assert.Len(t, alerts, 1, "defaults apply when settings cannot be read")
}

func TestDispatcher_SinkErrorsAreJoined(t *testing.T) {
	failing := SinkFunc(func(context.Context, Alert) error { return errors.New("webhook 500") })
	var alerts []Alert
	d := NewDispatcher(DispatcherOptions{
		Settings: &fakeSettings{},
		Sinks:    []Sink{failing, collector(&alerts)},
	})

	err := d.Handle(context.Background(), event("org-1", model.EventJobFailed, `{}`))
	require.Error(t, err)
	assert.Len(t, alerts, 1, "later sinks still receive the alert")
}

func TestFlattenPayload(t *testing.T) {
	payload := `{
		"job_id": "job-1",
		"failed_rules": 3,
		"duration_ms": 1250.5,
		"degraded": true,
		"skipped": null,
		"tables": ["orders", "customers"]
	}`

	details := flattenPayload(json.RawMessage(payload))
	assert.Equal(t, "job-1", details["job_id"])
	assert.Equal(t, "3", details["failed_rules"])
	assert.Equal(t, "1250.5", details["duration_ms"])
	assert.Equal(t, "true", details["degraded"])
	assert.Equal(t, `["orders","customers"]`, details["tables"])
	assert.NotContains(t, details, "skipped")

	assert.Nil(t, flattenPayload(nil))
	assert.Nil(t, flattenPayload(json.RawMessage(`not json`)))
}

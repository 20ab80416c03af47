package metadata

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/events"
)

type memEventWriter struct{}

func (memEventWriter) Insert(
	_ context.Context,
	orgID string,
	connectionID *string,
	eventType model.EventType,
	payload json.RawMessage,
) (*model.AutomationEvent, error) {
	return &model.AutomationEvent{
		ID:             "evt-1",
		OrganizationID: orgID,
		ConnectionID:   connectionID,
		Type:           eventType,
		Payload:        payload,
		CreatedAt:      time.Now(),
	}, nil
}

type stubLocker struct {
	acquired bool
	keys     []string
}

func (l *stubLocker) SetIfNotExists(_ context.Context, key string, _ []byte, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.acquired, nil
}

func driftPayload(t *testing.T, reason string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"rule_name": "orders not empty",
		"reason":    reason,
	})
	require.NoError(t, err)
	return raw
}

func newTriggerFixture(t *testing.T, locker Locker) (*events.Bus, *SubmitRequest, *int32) {
	t.Helper()
	var received SubmitRequest
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(SubmitResponse{TaskID: "task-3", Status: "queued"})
	}))
	t.Cleanup(server.Close)

	bus := events.NewBus(memEventWriter{}, slog.Default())
	NewTrigger(TriggerOptions{
		Client: NewClient(Options{BaseURL: server.URL}),
		Locker: locker,
	}).Register(bus)
	return bus, &received, &hits
}

func TestTrigger_SchemaMismatchSubmitsStructuralRefresh(t *testing.T) {
	locker := &stubLocker{acquired: true}
	bus, received, hits := newTriggerFixture(t, locker)

	connID := "conn-1"
	_, err := bus.Publish(context.Background(), "org-1", &connID,
		model.EventValidationFailure, driftPayload(t, "schema_mismatch"))
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(hits))
	assert.Equal(t, "conn-1", received.ConnectionID)
	assert.Equal(t, "org-1", received.OrganizationID)
	assert.Equal(t,
		[]model.MetadataType{model.MetadataTables, model.MetadataColumns},
		received.RefreshTypes)
	assert.Equal(t, []string{"refresh-trigger:conn-1"}, locker.keys)
}

func TestTrigger_ConcurrentDriftIsCoalesced(t *testing.T) {
	bus, _, hits := newTriggerFixture(t, &stubLocker{acquired: false})

	connID := "conn-1"
	_, err := bus.Publish(context.Background(), "org-1", &connID,
		model.EventValidationFailure, driftPayload(t, "schema_mismatch"))
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(hits), "held lock suppresses the submission")
}

func TestTrigger_IgnoresOtherReasons(t *testing.T) {
	bus, _, hits := newTriggerFixture(t, &stubLocker{acquired: true})

	connID := "conn-1"
	_, err := bus.Publish(context.Background(), "org-1", &connID,
		model.EventValidationFailure, driftPayload(t, "threshold_exceeded"))
	require.NoError(t, err)

	_, err = bus.Publish(context.Background(), "org-1", nil,
		model.EventValidationFailure, driftPayload(t, "schema_mismatch"))
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(hits))
}

package metadata

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/verity-dq/verity/internal/domain/model"
	"github.com/verity-dq/verity/internal/events"
)

// driftReason is the VALIDATION_FAILURE payload reason that signals the
// stored metadata no longer matches the live schema.
const driftReason = "schema_mismatch"

// Locker coalesces concurrent refresh triggers for the same connection.
// *data.RedisCacheRepo satisfies it.
type Locker interface {
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Trigger subscribes to validation failure events and submits a targeted
// structural refresh when a failure suggests schema drift. A short-lived
// Redis lock keeps a burst of drifting rules from submitting one refresh per
// rule.
type Trigger struct {
	client *Client
	locker Locker
	logger *slog.Logger
	hold   time.Duration
}

// TriggerOptions holds the dependencies for creating a Trigger.
type TriggerOptions struct {
	Client *Client
	Locker Locker
	Logger *slog.Logger
	Hold   time.Duration
}

// NewTrigger creates a drift-driven refresh trigger.
func NewTrigger(opts TriggerOptions) *Trigger {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hold <= 0 {
		opts.Hold = 5 * time.Minute
	}
	return &Trigger{
		client: opts.Client,
		locker: opts.Locker,
		logger: opts.Logger,
		hold:   opts.Hold,
	}
}

// Register subscribes the trigger to the bus.
func (t *Trigger) Register(bus *events.Bus) {
	bus.Subscribe(model.EventValidationFailure, t.handle)
}

func (t *Trigger) handle(ctx context.Context, event *model.AutomationEvent) error {
	if event.ConnectionID == nil {
		return nil
	}
	var p struct {
		Reason string `json:"reason"`
	}
	if len(event.Payload) > 0 {
		_ = json.Unmarshal(event.Payload, &p)
	}
	if p.Reason != driftReason {
		return nil
	}

	connectionID := *event.ConnectionID
	if t.locker != nil {
		acquired, err := t.locker.SetIfNotExists(ctx,
			"refresh-trigger:"+connectionID, []byte("1"), t.hold)
		if err != nil {
			t.logger.Warn("refresh trigger lock failed, submitting anyway",
				"connection_id", connectionID,
				"error", err)
		} else if !acquired {
			t.logger.Debug("refresh trigger coalesced",
				"connection_id", connectionID)
			return nil
		}
	}

	// Structural types only; statistics are untouched by drift.
	_, err := t.client.Submit(ctx, event.OrganizationID, connectionID,
		[]model.MetadataType{model.MetadataTables, model.MetadataColumns})
	return err
}

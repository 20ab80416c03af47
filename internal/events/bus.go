// Package events implements the synchronous in-process event bus. Every
// published event is persisted to the event log before any handler runs, and
// handler errors never propagate to the publisher.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/verity-dq/verity/internal/domain/model"
)

// Handler consumes one published event. Returned errors are logged and
// swallowed by the bus.
type Handler func(ctx context.Context, event *model.AutomationEvent) error

// EventWriter persists events before dispatch.
type EventWriter interface {
	Insert(
		ctx context.Context,
		orgID string,
		connectionID *string,
		eventType model.EventType,
		payload json.RawMessage,
	) (*model.AutomationEvent, error)
}

// Bus is a synchronous publish/subscribe dispatcher. Publish returns after
// the event row is written and every subscribed handler has run in
// subscription order.
type Bus struct {
	writer EventWriter
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[model.EventType][]Handler
	all      []Handler
}

// NewBus creates a Bus that persists through the given writer.
func NewBus(writer EventWriter, logger *slog.Logger) *Bus {
	return &Bus{
		writer:   writer,
		logger:   logger,
		handlers: make(map[model.EventType][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType model.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish persists the event and dispatches it to subscribers. The persisted
// row is returned; a persistence failure aborts dispatch entirely so no
// handler ever observes an unrecorded event.
func (b *Bus) Publish(
	ctx context.Context,
	orgID string,
	connectionID *string,
	eventType model.EventType,
	payload json.RawMessage,
) (*model.AutomationEvent, error) {
	event, err := b.writer.Insert(ctx, orgID, connectionID, eventType, payload)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	typed := append([]Handler(nil), b.handlers[eventType]...)
	all := append([]Handler(nil), b.all...)
	b.mu.RUnlock()

	for _, h := range typed {
		b.run(ctx, h, event)
	}
	for _, h := range all {
		b.run(ctx, h, event)
	}
	return event, nil
}

func (b *Bus) run(ctx context.Context, h Handler, event *model.AutomationEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r)
		}
	}()
	if err := h(ctx, event); err != nil {
		b.logger.Warn("event handler failed",
			"event_type", event.Type,
			"event_id", event.ID,
			"error", err)
	}
}

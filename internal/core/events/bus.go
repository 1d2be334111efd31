package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/ticket-payments/pkg/logger"
)

// Event is a fact about the payment ledger that has already been committed.
type Event interface {
	EventType() string
	EventID() string
	OccurredAt() time.Time
}

type Handler func(ctx context.Context, event Event) error

// Bus fans committed ledger events out to in-process subscribers.
// Publish returns only after every subscriber for the event type has run.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("event subscriber registered",
		"event_type", eventType,
		"subscribers", len(b.handlers[eventType]))
}

// Publish runs the subscribers in registration order. The transition is
// already durable, so subscribers get a context that outlives the caller's
// cancellation, and one failing or panicking subscriber does not stop the rest.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.EventType()]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no subscribers for event", "event_type", event.EventType())
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i, h := range handlers {
		if err := deliver(ctx, h, event); err != nil {
			b.logger.Error("event subscriber failed",
				"event_type", event.EventType(),
				"event_id", event.EventID(),
				"subscriber", i,
				"trace_id", logger.TraceID(ctx),
				"error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("event %s: %w", event.EventType(), errors.Join(errs...))
	}
	return nil
}

func deliver(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return h(ctx, event)
}

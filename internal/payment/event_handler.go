package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/ticket-payments/internal/core/events"
	"github.com/frahmantamala/ticket-payments/pkg/logger"
	"github.com/frahmantamala/ticket-payments/pkg/metrics"
)

// EventHandler observes committed ledger transitions.
type EventHandler struct {
	metrics *metrics.PaymentMetrics
	logger  *slog.Logger
}

func NewEventHandler(m *metrics.PaymentMetrics, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		metrics: m,
		logger:  logger,
	}
}

func (h *EventHandler) HandleStatusChanged(ctx context.Context, event events.Event) error {
	changed, ok := event.(*events.PaymentStatusChangedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment status handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentStatusChangedEvent, got %T", event)
	}

	h.metrics.IncTransition(changed.ToStatus)

	h.logger.Info("payment status changed",
		"payment_id", changed.PaymentID,
		"reference", changed.Reference,
		"from", changed.FromStatus,
		"to", changed.ToStatus,
		"amount", changed.Amount,
		"tickets", len(changed.TicketIDs),
		"triggered_by", changed.TriggeredBy,
		"event_id", changed.EventID(),
		"trace_id", logger.TraceID(ctx))

	return nil
}

func (h *EventHandler) RegisterEventHandlers(bus *events.Bus) {
	types := []string{
		events.EventTypePaymentSucceeded,
		events.EventTypePaymentFailed,
		events.EventTypePaymentCancelled,
		events.EventTypePaymentRefunded,
	}
	for _, t := range types {
		bus.Subscribe(t, h.HandleStatusChanged)
	}

	h.logger.Info("payment event handlers registered", "handlers", types)
}

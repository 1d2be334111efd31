package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentCancelled = "payment.cancelled"
	EventTypePaymentRefunded  = "payment.refunded"
)

// PaymentStatusChangedEvent is published after a ledger transition commits.
type PaymentStatusChangedEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	PaymentID   string    `json:"payment_id"`
	Reference   string    `json:"reference"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	TicketIDs   []string  `json:"ticket_ids,omitempty"`
	TriggeredBy string    `json:"triggered_by"`
}

func NewPaymentStatusChangedEvent(eventType, paymentID, reference, amount, currency, from, to string, ticketIDs []string, triggeredBy string) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now(),
		PaymentID:   paymentID,
		Reference:   reference,
		Amount:      amount,
		Currency:    currency,
		FromStatus:  from,
		ToStatus:    to,
		TicketIDs:   ticketIDs,
		TriggeredBy: triggeredBy,
	}
}

func (e *PaymentStatusChangedEvent) EventType() string     { return e.Type }
func (e *PaymentStatusChangedEvent) EventID() string       { return e.ID }
func (e *PaymentStatusChangedEvent) OccurredAt() time.Time { return e.Timestamp }

// EventTypeForStatus maps a ledger target status to its event type.
func EventTypeForStatus(status string) (string, bool) {
	switch status {
	case "success":
		return EventTypePaymentSucceeded, true
	case "failed":
		return EventTypePaymentFailed, true
	case "cancelled":
		return EventTypePaymentCancelled, true
	case "refunded":
		return EventTypePaymentRefunded, true
	}
	return "", false
}

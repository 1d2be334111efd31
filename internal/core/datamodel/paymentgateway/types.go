package paymentgateway

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusSuccess   TransactionStatus = "success"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusAbandoned TransactionStatus = "abandoned"
	TransactionStatusReversed  TransactionStatus = "reversed"
	TransactionStatusOngoing   TransactionStatus = "ongoing"
)

const EventChargeSuccess = "charge.success"

// Envelope is the wrapper Paystack puts around every response body.
type Envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type InitializeRequest struct {
	PaymentID   *uuid.UUID
	Email       string
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

func (r *InitializeRequest) Validate() error {
	if r.Email == "" {
		return errors.New("email is required")
	}
	if r.Reference == "" {
		return errors.New("reference is required")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

type InitializeResult struct {
	AuthorizationURL string          `json:"authorization_url"`
	AccessCode       string          `json:"access_code"`
	Reference        string          `json:"reference"`
	Raw              json.RawMessage `json:"-"`
}

type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Channel           string `json:"channel"`
	CardType          string `json:"card_type,omitempty"`
	Last4             string `json:"last4,omitempty"`
	Bank              string `json:"bank,omitempty"`
}

type Customer struct {
	Email string `json:"email"`
}

// TransactionData is the "data" object of verify responses and charge
// webhooks.
type TransactionData struct {
	ID              int64             `json:"id"`
	Status          TransactionStatus `json:"status"`
	Reference       string            `json:"reference"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Channel         string            `json:"channel"`
	GatewayResponse string            `json:"gateway_response"`
	PaidAt          string            `json:"paid_at,omitempty"`
	Authorization   Authorization     `json:"authorization"`
	Customer        Customer          `json:"customer"`
}

type VerifyResult struct {
	Data TransactionData
	Raw  json.RawMessage
}

func (v *VerifyResult) Successful() bool {
	return v.Data.Status == TransactionStatusSuccess
}

type RefundRequest struct {
	PaymentID   *uuid.UUID
	Transaction string
	AmountMinor *int64
	Currency    string
}

type RefundResult struct {
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

// WebhookEvent is the body Paystack posts to the webhook endpoint.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DeliveryKey identifies one webhook delivery for duplicate suppression.
func (e *WebhookEvent) DeliveryKey() string {
	var key struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
	}
	_ = json.Unmarshal(e.Data, &key)
	if key.ID != 0 {
		return e.Event + ":" + strconv.FormatInt(key.ID, 10)
	}
	if key.Reference != "" {
		return e.Event + ":" + key.Reference
	}
	return ""
}

package payment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/ticket-payments/internal"
	gatewaytypes "github.com/frahmantamala/ticket-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/ticket-payments/internal/paymentgateway"
	"github.com/frahmantamala/ticket-payments/internal/transport"
	"github.com/frahmantamala/ticket-payments/pkg/metrics"
)

const (
	SignatureHeader     = "X-Paystack-Signature"
	maxWebhookBodyBytes = 1 << 20
)

// DeliveryGuard remembers webhook deliveries that were already processed.
type DeliveryGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type WebhookHandler struct {
	transport.BaseHandler
	paymentService ServiceAPI
	secretKey      string
	guard          DeliveryGuard
	metrics        *metrics.PaymentMetrics
	logger         *slog.Logger
}

// NewWebhookHandler builds the gateway webhook endpoint. guard may be nil,
// in which case duplicate deliveries rely on the ledger's own idempotency.
func NewWebhookHandler(paymentService ServiceAPI, secretKey string, guard DeliveryGuard, m *metrics.PaymentMetrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		paymentService: paymentService,
		secretKey:      secretKey,
		guard:          guard,
		metrics:        m,
		logger:         logger,
	}
}

type WebhookResponse struct {
	Status string `json:"status"`
}

// HandleWebhook handles POST /api/v1/payments/webhook. Authentic deliveries
// always get a 200 so the gateway does not retry events we chose to ignore.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.logger.Warn("webhook rejected: missing signature", "remote_addr", r.RemoteAddr)
		h.metrics.IncWebhook("", "missing_signature")
		h.HandleError(w, internal.ErrMissingSignature)
		return
	}

	if !paymentgateway.ValidSignature(body, h.secretKey, signature) {
		h.logger.Warn("webhook rejected: invalid signature", "remote_addr", r.RemoteAddr)
		h.metrics.IncWebhook("", "invalid_signature")
		h.HandleError(w, internal.ErrInvalidSignature)
		return
	}

	var event gatewaytypes.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("invalid webhook payload", "error", err)
		h.metrics.IncWebhook("", "malformed")
		h.HandleError(w, internal.NewValidationError("invalid webhook payload", internal.ErrCodeValidationFailed))
		return
	}

	ctx := r.Context()
	key := event.DeliveryKey()
	claimed := false
	if h.guard != nil && key != "" {
		first, err := h.guard.CheckAndMark(ctx, key)
		switch {
		case err != nil:
			h.logger.Warn("webhook delivery guard unavailable", "key", key, "error", err)
		case !first:
			h.logger.Info("duplicate webhook delivery acknowledged", "key", key)
			h.paymentService.RecordWebhook(ctx, event, "duplicate")
			h.metrics.IncWebhook(event.Event, "duplicate")
			h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
			return
		default:
			claimed = true
		}
	}

	handled := h.paymentService.HandleWebhook(ctx, event)

	outcome := "processed"
	status := "success"
	if !handled {
		outcome = "ignored"
		status = "ignored"
		if claimed {
			if err := h.guard.Release(context.WithoutCancel(ctx), key); err != nil {
				h.logger.Warn("failed to release webhook delivery key", "key", key, "error", err)
			}
		}
	}

	h.metrics.IncWebhook(event.Event, outcome)
	h.logger.Info("webhook handled", "event", event.Event, "key", key, "outcome", outcome)
	h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: status})
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records gateway traffic and ledger movement.
type PaymentMetrics struct {
	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment collectors on reg. A nil registerer
// yields a recorder that drops everything.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_requests_total",
		Help: "Gateway HTTP calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_duration_seconds",
		Help:    "Latency of gateway HTTP calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment ledger transitions by target status.",
	}, []string{"status"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Webhook deliveries by event type and outcome.",
	}, []string{"event", "outcome"})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconcile_results_total",
		Help: "Stale payments re-verified by the sweeper, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(gatewayCalls, gatewayDuration, transitions, webhooks, reconciled)
	return &PaymentMetrics{
		gatewayCalls:    gatewayCalls,
		gatewayDuration: gatewayDuration,
		transitions:     transitions,
		webhooks:        webhooks,
		reconciled:      reconciled,
	}
}

func (m *PaymentMetrics) ObserveGatewayCall(operation string, ok bool, d time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(operation), outcome).Inc()
	m.gatewayDuration.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}

func (m *PaymentMetrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *PaymentMetrics) IncWebhook(event, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncReconciled(outcome string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

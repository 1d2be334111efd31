package payment_test

import (
	"context"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/frahmantamala/ticket-payments/internal/core/database"
	"github.com/frahmantamala/ticket-payments/internal/core/events"
	paymentpkg "github.com/frahmantamala/ticket-payments/internal/payment"
	"github.com/frahmantamala/ticket-payments/pkg/metrics"
)

var _ = Describe("Event Handler", func() {
	It("counts a settled payment before the verifying call returns", func() {
		env := newTestEnv()
		reg := prometheus.NewRegistry()
		bus := events.NewBus(quietLogger())
		paymentpkg.NewEventHandler(metrics.NewPaymentMetrics(reg), quietLogger()).RegisterEventHandlers(bus)

		svc := paymentpkg.NewService(paymentpkg.Dependencies{
			Config: paymentpkg.Config{
				UnitPrice: unitPrice,
				Currency:  "NGN",
			},
			Payments: env.payments,
			Logs:     env.logs,
			Stats:    env.stats,
			Tickets:  env.tickets,
			Gateway:  env.gateway,
			Tx:       database.NewRunner(env.db),
			Events:   bus,
			Logger:   quietLogger(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		t := env.seedTicket("TKT-001", "Lagos")
		initialized, err := svc.CreatePayment(ctx, payerFor("ada@example.com"), paymentpkg.Target{TicketID: &t.ID}, paymentpkg.RequestMeta{})
		Expect(err).ToNot(HaveOccurred())

		_, err = svc.VerifyAndComplete(ctx, initialized.Payment.Reference)
		cancel()
		Expect(err).ToNot(HaveOccurred())

		expected := `
# HELP payment_transitions_total Payment ledger transitions by target status.
# TYPE payment_transitions_total counter
payment_transitions_total{status="success"} 1
`
		Expect(testutil.GatherAndCompare(reg, strings.NewReader(expected), "payment_transitions_total")).To(Succeed())
	})

	It("rejects events it does not understand", func() {
		h := paymentpkg.NewEventHandler(nil, quietLogger())

		Expect(h.HandleStatusChanged(context.Background(), foreignEvent{})).To(HaveOccurred())
	})
})

type foreignEvent struct{}

func (foreignEvent) EventType() string     { return events.EventTypePaymentSucceeded }
func (foreignEvent) EventID() string       { return "foreign" }
func (foreignEvent) OccurredAt() time.Time { return time.Time{} }

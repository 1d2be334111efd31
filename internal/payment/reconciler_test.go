package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/ticket-payments/internal/core/datamodel/paymentgateway"
	paymentpkg "github.com/frahmantamala/ticket-payments/internal/payment"
)

type scriptedVerifier struct {
	mu       sync.Mutex
	outcomes map[string]error
	seen     []string
}

func (v *scriptedVerifier) VerifyAndComplete(ctx context.Context, reference string) (*payment.Payment, error) {
	v.mu.Lock()
	v.seen = append(v.seen, reference)
	err := v.outcomes[reference]
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &payment.Payment{Reference: reference, Status: payment.StatusSuccess}, nil
}

type staticLister struct {
	payments []payment.Payment
	err      error
	cutoff   time.Time
	limit    int
}

func (l *staticLister) ListStale(ctx context.Context, initiatedBefore time.Time, limit int) ([]payment.Payment, error) {
	l.cutoff, l.limit = initiatedBefore, limit
	return l.payments, l.err
}

func stalePayments(n int) []payment.Payment {
	ps := make([]payment.Payment, 0, n)
	for i := 0; i < n; i++ {
		ps = append(ps, payment.Payment{ID: uuid.New(), Reference: fmt.Sprintf("PAY_STALE_%02d", i), Status: payment.StatusPending})
	}
	return ps
}

var _ = Describe("Reconciler", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("re-verifies every stale payment and tallies the outcomes", func() {
		lister := &staticLister{payments: stalePayments(12)}
		verifier := &scriptedVerifier{outcomes: map[string]error{
			"PAY_STALE_03": &paymentpkg.NotSuccessfulError{Reference: "PAY_STALE_03", Status: payment.StatusFailed, GatewayStatus: "abandoned"},
			"PAY_STALE_07": &paymentpkg.NotSuccessfulError{Reference: "PAY_STALE_07", Status: payment.StatusFailed},
			"PAY_STALE_09": errors.New("gateway timeout"),
		}}
		reconciler := paymentpkg.NewReconciler(paymentpkg.ReconcilerConfig{Workers: 3, BatchSize: 50, StaleAfter: time.Hour}, verifier, lister, nil, quietLogger())

		before := time.Now()
		result, err := reconciler.Run(ctx)
		Expect(err).ToNot(HaveOccurred())

		Expect(result).To(Equal(paymentpkg.ReconcileResult{Scanned: 12, Succeeded: 9, Failed: 2, Errored: 1}))
		Expect(verifier.seen).To(HaveLen(12))
		Expect(lister.limit).To(Equal(50))
		Expect(lister.cutoff).To(BeTemporally("~", before.Add(-time.Hour), 5*time.Second))
	})

	It("does nothing when no payment is stale", func() {
		verifier := &scriptedVerifier{}
		reconciler := paymentpkg.NewReconciler(paymentpkg.ReconcilerConfig{}, verifier, &staticLister{}, nil, quietLogger())

		result, err := reconciler.Run(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Scanned).To(BeZero())
		Expect(verifier.seen).To(BeEmpty())
	})

	It("reports a listing failure", func() {
		reconciler := paymentpkg.NewReconciler(paymentpkg.ReconcilerConfig{}, &scriptedVerifier{}, &staticLister{err: errors.New("db down")}, nil, quietLogger())

		_, err := reconciler.Run(ctx)
		Expect(err).To(MatchError(ContainSubstring("db down")))
	})

	It("stops dispatching once the context is cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		reconciler := paymentpkg.NewReconciler(paymentpkg.ReconcilerConfig{Workers: 2}, &scriptedVerifier{}, &staticLister{payments: stalePayments(5)}, nil, quietLogger())

		result, err := reconciler.Run(cancelled)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(result.Succeeded + result.Failed + result.Errored).To(BeNumerically("<=", 5))
	})

	It("settles stale payments end to end", func() {
		env := newTestEnv()
		t := env.seedTicket("TKT-001", "Lagos")
		initialized, err := env.service.CreatePayment(ctx, payerFor("ada@example.com"), paymentpkg.Target{TicketID: &t.ID}, paymentpkg.RequestMeta{})
		Expect(err).ToNot(HaveOccurred())
		Expect(env.db.Model(&payment.Payment{}).Where("id = ?", initialized.Payment.ID).
			Update("initiated_at", time.Now().UTC().Add(-2*time.Hour)).Error).To(Succeed())
		env.gateway.verifyStatus = gatewaytypes.TransactionStatusSuccess

		reconciler := paymentpkg.NewReconciler(paymentpkg.ReconcilerConfig{Workers: 2, StaleAfter: time.Hour}, env.service, env.payments, nil, quietLogger())
		result, err := reconciler.Run(ctx)
		Expect(err).ToNot(HaveOccurred())

		Expect(result.Succeeded).To(Equal(1))
		Expect(env.reloadPayment(initialized.Payment.ID).Status).To(Equal(payment.StatusSuccess))
	})
})

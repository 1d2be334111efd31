package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/ticket-payments/internal/core/datamodel/paymentgateway"
	paymentpkg "github.com/frahmantamala/ticket-payments/internal/payment"
	"github.com/frahmantamala/ticket-payments/internal/paymentgateway"
	ticketpkg "github.com/frahmantamala/ticket-payments/internal/ticket"
)

type mockPaymentService struct {
	err error

	payment     *payment.Payment
	payments    []payment.Payment
	logs        []payment.TransactionLog
	stats       *paymentpkg.DashboardStats
	initialized *paymentpkg.Initialized
	handled     bool

	lastPayer     paymentpkg.Payer
	lastTarget    paymentpkg.Target
	lastMeta      paymentpkg.RequestMeta
	lastReference string
	lastFilter    paymentpkg.ListFilter
	lastRefund    *decimal.Decimal
	webhookEvents []gatewaytypes.WebhookEvent
	recorded      []string
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, payer paymentpkg.Payer, target paymentpkg.Target, meta paymentpkg.RequestMeta) (*paymentpkg.Initialized, error) {
	m.lastPayer, m.lastTarget, m.lastMeta = payer, target, meta
	if m.err != nil {
		return nil, m.err
	}
	return m.initialized, nil
}

func (m *mockPaymentService) VerifyAndComplete(ctx context.Context, reference string) (*payment.Payment, error) {
	m.lastReference = reference
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func (m *mockPaymentService) HandleWebhook(ctx context.Context, event gatewaytypes.WebhookEvent) bool {
	m.webhookEvents = append(m.webhookEvents, event)
	return m.handled
}

func (m *mockPaymentService) RecordWebhook(ctx context.Context, event gatewaytypes.WebhookEvent, outcome string) {
	m.recorded = append(m.recorded, outcome)
}

func (m *mockPaymentService) Refund(ctx context.Context, id uuid.UUID, amount *decimal.Decimal) (*payment.Payment, error) {
	m.lastRefund = amount
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func (m *mockPaymentService) Cancel(ctx context.Context, viewer *internal.User, id uuid.UUID) (*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func (m *mockPaymentService) List(ctx context.Context, viewer *internal.User, filter paymentpkg.ListFilter) ([]payment.Payment, error) {
	m.lastFilter = filter
	return m.payments, m.err
}

func (m *mockPaymentService) Mine(ctx context.Context, viewer *internal.User, filter paymentpkg.ListFilter) ([]payment.Payment, error) {
	m.lastFilter = filter
	return m.payments, m.err
}

func (m *mockPaymentService) Get(ctx context.Context, viewer *internal.User, id uuid.UUID) (*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.payment, nil
}

func (m *mockPaymentService) Logs(ctx context.Context, id uuid.UUID) ([]payment.TransactionLog, error) {
	return m.logs, m.err
}

func (m *mockPaymentService) Dashboard(ctx context.Context) (*paymentpkg.DashboardStats, error) {
	return m.stats, m.err
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			Errors []struct {
				Field string `json:"field"`
			} `json:"errors"`
		} `json:"details"`
	} `json:"error"`
}

func decodeError(rec *httptest.ResponseRecorder) errorBody {
	var body errorBody
	gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
	return body
}

func samplePayment() *payment.Payment {
	ticketID := uuid.New()
	return &payment.Payment{
		ID:         uuid.New(),
		Reference:  "PAY_SAMPLE",
		Amount:     decimal.RequireFromString("3000"),
		Currency:   "NGN",
		Status:     payment.StatusSuccess,
		TicketID:   &ticketID,
		PayerEmail: "ada@example.com",
	}
}

var _ = ginkgo.Describe("Payment Handler", func() {
	var (
		svc     *mockPaymentService
		handler *paymentpkg.Handler
		router  chi.Router
		user    *internal.User
	)

	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user != nil {
				r = r.WithContext(internal.ContextWithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}

	serve := func(method, target string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	ginkgo.BeforeEach(func() {
		svc = &mockPaymentService{}
		handler = paymentpkg.NewHandler(svc, "https://tickets.example.com/payments/done", quietLogger())
		user = &internal.User{ID: uuid.New(), Email: "ada@example.com", FullName: "Ada Obi", Phone: "0803", Role: internal.RoleIndividual}

		router = chi.NewRouter()
		router.Get("/payments/callback", handler.Callback)
		router.Group(func(r chi.Router) {
			r.Use(withUser)
			r.Post("/payments/initialize", handler.Initialize)
			r.Post("/payments/verify", handler.Verify)
			r.Get("/payments", handler.List)
			r.Get("/payments/mine", handler.Mine)
			r.Get("/payments/dashboard", handler.Dashboard)
			r.Get("/payments/{id}", handler.Get)
			r.Post("/payments/{id}/refund", handler.Refund)
			r.Post("/payments/{id}/cancel", handler.Cancel)
			r.Get("/payments/{id}/logs", handler.Logs)
		})
	})

	ginkgo.Describe("Initialize", func() {
		ginkgo.It("opens a checkout for the caller", func() {
			p := samplePayment()
			p.Status = payment.StatusPending
			svc.initialized = &paymentpkg.Initialized{Payment: p, AuthorizationURL: "https://checkout.paystack.com/abc", AccessCode: "abc"}
			ticketID := uuid.New()
			body, _ := json.Marshal(map[string]string{"ticket_id": ticketID.String()})

			rec := serve(http.MethodPost, "/payments/initialize", body)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var resp map[string]interface{}
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp["authorization_url"]).To(gomega.Equal("https://checkout.paystack.com/abc"))
			gomega.Expect(resp["reference"]).To(gomega.Equal("PAY_SAMPLE"))

			gomega.Expect(*svc.lastTarget.TicketID).To(gomega.Equal(ticketID))
			gomega.Expect(svc.lastPayer.Email).To(gomega.Equal("ada@example.com"))
			gomega.Expect(*svc.lastPayer.UserID).To(gomega.Equal(user.ID))
		})

		ginkgo.It("passes a bulk ticket list through", func() {
			svc.initialized = &paymentpkg.Initialized{Payment: samplePayment()}
			ids := []string{uuid.NewString(), uuid.NewString()}
			body, _ := json.Marshal(map[string][]string{"ticket_ids": ids})

			rec := serve(http.MethodPost, "/payments/initialize", body)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.lastTarget.TicketID).To(gomega.BeNil())
			gomega.Expect(svc.lastTarget.TicketIDs).To(gomega.HaveLen(2))
		})

		ginkgo.It("rejects a body naming both forms", func() {
			body, _ := json.Marshal(map[string]interface{}{"ticket_id": uuid.NewString(), "ticket_ids": []string{uuid.NewString()}})

			rec := serve(http.MethodPost, "/payments/initialize", body)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(decodeError(rec).Error.Code).To(gomega.Equal("VALIDATION_FAILED"))
		})

		ginkgo.It("rejects a body naming neither form", func() {
			rec := serve(http.MethodPost, "/payments/initialize", []byte(`{}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(decodeError(rec).Error.Details.Errors[0].Field).To(gomega.Equal("ticket_id"))
		})

		ginkgo.It("rejects a malformed ticket id", func() {
			rec := serve(http.MethodPost, "/payments/initialize", []byte(`{"ticket_id":"nope"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("requires an authenticated caller", func() {
			user = nil

			rec := serve(http.MethodPost, "/payments/initialize", []byte(`{"ticket_id":"`+uuid.NewString()+`"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		})

		ginkgo.DescribeTable("maps service errors",
			func(err error, status int, code string) {
				svc.err = err

				rec := serve(http.MethodPost, "/payments/initialize", []byte(`{"ticket_id":"`+uuid.NewString()+`"}`))

				gomega.Expect(rec.Code).To(gomega.Equal(status))
				gomega.Expect(decodeError(rec).Error.Code).To(gomega.Equal(code))
			},
			ginkgo.Entry("unknown ticket", ticketpkg.ErrTicketNotFound, http.StatusNotFound, "TICKET_NOT_FOUND"),
			ginkgo.Entry("ticket already paid", paymentpkg.ErrTicketAlreadyPaid, http.StatusBadRequest, "TICKET_ALREADY_PAID"),
			ginkgo.Entry("gateway refusal", &paymentgateway.GatewayError{Op: "initialize", StatusCode: 401}, http.StatusBadGateway, "GATEWAY_ERROR"),
			ginkgo.Entry("unconvertible amount", &paymentgateway.ConversionError{Reason: "too precise"}, http.StatusBadRequest, "AMOUNT_CONVERSION"),
			ginkgo.Entry("anything else", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"),
		)
	})

	ginkgo.Describe("Verify", func() {
		ginkgo.It("returns the settled payment", func() {
			svc.payment = samplePayment()

			rec := serve(http.MethodPost, "/payments/verify", []byte(`{"reference":"PAY_SAMPLE"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.lastReference).To(gomega.Equal("PAY_SAMPLE"))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"status":"success"`))
		})

		ginkgo.It("reports a payment that did not succeed", func() {
			svc.err = &paymentpkg.NotSuccessfulError{Reference: "PAY_SAMPLE", Status: payment.StatusFailed, GatewayStatus: "abandoned"}

			rec := serve(http.MethodPost, "/payments/verify", []byte(`{"reference":"PAY_SAMPLE"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(decodeError(rec).Error.Code).To(gomega.Equal("PAYMENT_NOT_SUCCESSFUL"))
		})

		ginkgo.It("requires a reference", func() {
			rec := serve(http.MethodPost, "/payments/verify", []byte(`{}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(svc.lastReference).To(gomega.BeEmpty())
		})

		ginkgo.It("reports an unknown reference", func() {
			svc.err = paymentpkg.ErrPaymentNotFound

			rec := serve(http.MethodPost, "/payments/verify", []byte(`{"reference":"PAY_NOPE"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound))
			gomega.Expect(decodeError(rec).Error.Code).To(gomega.Equal("PAYMENT_NOT_FOUND"))
		})
	})

	ginkgo.Describe("Callback", func() {
		ginkgo.It("verifies the reference and returns a redirect", func() {
			svc.payment = samplePayment()

			rec := serve(http.MethodGet, "/payments/callback?reference=PAY_SAMPLE", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var resp map[string]interface{}
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp["success"]).To(gomega.BeTrue())
			gomega.Expect(resp["redirect_url"]).To(gomega.Equal("https://tickets.example.com/payments/done?reference=PAY_SAMPLE"))
		})

		ginkgo.It("accepts trxref as the reference", func() {
			svc.payment = samplePayment()

			rec := serve(http.MethodGet, "/payments/callback?trxref=PAY_SAMPLE", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.lastReference).To(gomega.Equal("PAY_SAMPLE"))
		})

		ginkgo.It("reports failures in the body", func() {
			svc.err = &paymentpkg.NotSuccessfulError{Reference: "PAY_SAMPLE", Status: payment.StatusFailed}

			rec := serve(http.MethodGet, "/payments/callback?reference=PAY_SAMPLE", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			var resp map[string]interface{}
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp["success"]).To(gomega.BeFalse())
			gomega.Expect(resp["error"]).ToNot(gomega.BeEmpty())
		})

		ginkgo.It("rejects a callback without a reference", func() {
			rec := serve(http.MethodGet, "/payments/callback", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("listing", func() {
		ginkgo.It("converts the query into a filter", func() {
			svc.payments = []payment.Payment{*samplePayment()}

			rec := serve(http.MethodGet, "/payments?status=success&start_date=2025-01-01&end_date=2025-01-31&limit=20&offset=40", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(*svc.lastFilter.Status).To(gomega.Equal(payment.StatusSuccess))
			gomega.Expect(svc.lastFilter.From.Format("2006-01-02")).To(gomega.Equal("2025-01-01"))
			gomega.Expect(svc.lastFilter.To.Format("2006-01-02")).To(gomega.Equal("2025-02-01"))
			gomega.Expect(svc.lastFilter.Limit).To(gomega.Equal(20))
			gomega.Expect(svc.lastFilter.Offset).To(gomega.Equal(40))

			var views []paymentpkg.PaymentView
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &views)).To(gomega.Succeed())
			gomega.Expect(views).To(gomega.HaveLen(1))
			gomega.Expect(views[0].FormattedAmount).To(gomega.Equal("₦3,000.00"))
		})

		ginkgo.It("rejects an unknown status", func() {
			rec := serve(http.MethodGet, "/payments?status=paid", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("rejects a malformed date", func() {
			rec := serve(http.MethodGet, "/payments/mine?start_date=01/02/2025", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("hides a payment the caller cannot see", func() {
			svc.err = paymentpkg.ErrForbidden

			rec := serve(http.MethodGet, "/payments/"+uuid.NewString(), nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusForbidden))
			gomega.Expect(decodeError(rec).Error.Code).To(gomega.Equal("UNAUTHORIZED_ACCESS"))
		})

		ginkgo.It("rejects a malformed payment id", func() {
			rec := serve(http.MethodGet, "/payments/not-a-uuid", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("returns the audit trail", func() {
			svc.logs = []payment.TransactionLog{{ID: uuid.New(), TransactionType: payment.TransactionVerify, IsSuccessful: true}}

			rec := serve(http.MethodGet, "/payments/"+uuid.NewString()+"/logs", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"transaction_type":"verify"`))
		})

		ginkgo.It("returns the dashboard", func() {
			svc.stats = &paymentpkg.DashboardStats{TotalPayments: 2, SuccessCount: 1, SuccessRate: 50}

			rec := serve(http.MethodGet, "/payments/dashboard", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"success_rate":50`))
		})
	})

	ginkgo.Describe("Refund", func() {
		ginkgo.It("refunds in full when no amount is sent", func() {
			svc.payment = samplePayment()

			rec := serve(http.MethodPost, "/payments/"+uuid.NewString()+"/refund", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.lastRefund).To(gomega.BeNil())
		})

		ginkgo.It("passes a partial amount", func() {
			svc.payment = samplePayment()

			rec := serve(http.MethodPost, "/payments/"+uuid.NewString()+"/refund", []byte(`{"amount":"1500.50"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.lastRefund.String()).To(gomega.Equal("1500.5"))
		})

		ginkgo.It("rejects a negative amount", func() {
			rec := serve(http.MethodPost, "/payments/"+uuid.NewString()+"/refund", []byte(`{"amount":"-5"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("reports an illegal transition as a conflict", func() {
			svc.err = &paymentpkg.InvalidTransitionError{From: payment.StatusPending, To: payment.StatusRefunded}

			rec := serve(http.MethodPost, "/payments/"+uuid.NewString()+"/refund", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
			gomega.Expect(decodeError(rec).Error.Code).To(gomega.Equal("INVALID_TRANSITION"))
		})
	})

	ginkgo.Describe("Cancel", func() {
		ginkgo.It("returns the cancelled payment", func() {
			p := samplePayment()
			p.Status = payment.StatusCancelled
			svc.payment = p

			rec := serve(http.MethodPost, "/payments/"+p.ID.String()+"/cancel", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(`"status":"cancelled"`))
		})
	})
})

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/google/uuid"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/ticket-payments/internal"
)

func errorCode(rec *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(gomega.Succeed())
	return body.Error.Code
}

var _ = ginkgo.Describe("RequireRoles", func() {
	var (
		rec    *httptest.ResponseRecorder
		called bool
		next   http.Handler
	)

	ginkgo.BeforeEach(func() {
		rec = httptest.NewRecorder()
		called = false
		next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		})
	})

	requestAs := func(role internal.Role) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/dashboard", nil)
		if role == "" {
			return req
		}
		user := &internal.User{ID: uuid.New(), Role: role}
		return req.WithContext(internal.ContextWithUser(req.Context(), user))
	}

	ginkgo.It("should allow a user holding the role", func() {
		RequireRoles(internal.RoleAdmin)(next).ServeHTTP(rec, requestAs(internal.RoleAdmin))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(called).To(gomega.BeTrue())
	})

	ginkgo.It("should accept any of several roles", func() {
		RequireRoles(internal.RoleAdmin, internal.RoleCoordinator)(next).ServeHTTP(rec, requestAs(internal.RoleCoordinator))

		gomega.Expect(called).To(gomega.BeTrue())
	})

	ginkgo.It("should forbid other roles", func() {
		RequireRoles(internal.RoleAdmin)(next).ServeHTTP(rec, requestAs(internal.RoleIndividual))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusForbidden))
		gomega.Expect(errorCode(rec)).To(gomega.Equal("UNAUTHORIZED_ACCESS"))
		gomega.Expect(called).To(gomega.BeFalse())
	})

	ginkgo.It("should reject an anonymous request", func() {
		RequireRoles(internal.RoleAdmin)(next).ServeHTTP(rec, requestAs(""))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		gomega.Expect(called).To(gomega.BeFalse())
	})
})

var _ = ginkgo.Describe("RecoveryMiddleware", func() {
	ginkgo.It("should turn a panic into an internal error response", func() {
		rec := httptest.NewRecorder()
		panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})

		RecoveryMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(panicking).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusInternalServerError))
		gomega.Expect(errorCode(rec)).To(gomega.Equal("INTERNAL_ERROR"))
		gomega.Expect(rec.Body.String()).ToNot(gomega.ContainSubstring("boom"))
	})
})

var _ = ginkgo.Describe("RequestID", func() {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	ginkgo.It("should propagate an inbound trace id", func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(TraceIDHeader, "trace-123")

		RequestID(echo).ServeHTTP(rec, req)

		gomega.Expect(rec.Header().Get(TraceIDHeader)).To(gomega.Equal("trace-123"))
	})

	ginkgo.It("should mint a trace id when none is sent", func() {
		rec := httptest.NewRecorder()
		RequestID(echo).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		gomega.Expect(rec.Header().Get(TraceIDHeader)).ToNot(gomega.BeEmpty())
	})
})

var _ = ginkgo.Describe("LoggingMiddleware", func() {
	ginkgo.It("should keep the request body readable for the handler", func() {
		var seen []byte
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusAccepted)
		})
		var logs bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&logs, nil))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(`{"event":"charge.success"}`))
		req.Header.Set("X-Paystack-Signature", "abc123")

		LoggingMiddleware(lg)(handler).ServeHTTP(rec, req)

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusAccepted))
		gomega.Expect(string(seen)).To(gomega.Equal(`{"event":"charge.success"}`))
		gomega.Expect(logs.String()).ToNot(gomega.ContainSubstring("abc123"))
	})

	ginkgo.It("should write one line tagged with the trace id and outcome", func() {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"TICKET_ALREADY_PAID"}}`))
		})
		var logs bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&logs, nil))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewBufferString(`{"ticket_id":"x"}`))

		RequestID(LoggingMiddleware(lg)(handler)).ServeHTTP(httptest.NewRecorder(), req)

		lines := bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n"))
		gomega.Expect(lines).To(gomega.HaveLen(1))
		var entry map[string]any
		gomega.Expect(json.Unmarshal(lines[0], &entry)).To(gomega.Succeed())
		gomega.Expect(entry).To(gomega.HaveKeyWithValue("level", "WARN"))
		gomega.Expect(entry).To(gomega.HaveKeyWithValue("status_code", float64(http.StatusConflict)))
		gomega.Expect(entry).To(gomega.HaveKey("trace_id"))
		gomega.Expect(entry["response_body"]).To(gomega.ContainSubstring("TICKET_ALREADY_PAID"))
	})

	ginkgo.It("should stay silent on quiet paths", func() {
		var logs bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&logs, nil))
		rec := httptest.NewRecorder()

		ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
		LoggingMiddleware(lg, "/metrics")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(logs.Len()).To(gomega.BeZero())
	})

	ginkgo.It("should mask card details returned by the gateway", func() {
		out := filterSensitiveBody([]byte(`{"status":"success","authorization":{"last4":"4081","card_type":"visa"}}`))

		gomega.Expect(out).To(gomega.ContainSubstring(`"status":"success"`))
		gomega.Expect(out).ToNot(gomega.ContainSubstring("4081"))
	})

	ginkgo.It("should mask sensitive JSON fields", func() {
		out := filterSensitiveBody([]byte(`{"email":"ada@example.com","password":"hunter2","data":{"refresh_token":"r"}}`))

		gomega.Expect(out).To(gomega.ContainSubstring("ada@example.com"))
		gomega.Expect(out).ToNot(gomega.ContainSubstring("hunter2"))
		gomega.Expect(out).ToNot(gomega.ContainSubstring(`"r"`))
	})
})

var _ = ginkgo.Describe("CORS", func() {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ginkgo.It("should echo a listed origin", func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://tickets.example.com")

		CORS("https://tickets.example.com, https://admin.example.com")(next).ServeHTTP(rec, req)

		gomega.Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(gomega.Equal("https://tickets.example.com"))
	})

	ginkgo.It("should not allow an unlisted origin", func() {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://evil.example.com")

		CORS("https://tickets.example.com")(next).ServeHTTP(rec, req)

		gomega.Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(gomega.BeEmpty())
	})

	ginkgo.It("should answer preflight without calling the handler", func() {
		rec := httptest.NewRecorder()
		CORS("*")(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNoContent))
		gomega.Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(gomega.Equal("*"))
	})
})

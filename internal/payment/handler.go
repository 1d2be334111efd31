package payment

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/paymentgateway"
	ticketpkg "github.com/frahmantamala/ticket-payments/internal/ticket"
	"github.com/frahmantamala/ticket-payments/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	RedirectURL    string
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, redirectURL string, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		RedirectURL:    redirectURL,
		Logger:         logger,
	}
}

// Initialize handles POST /api/v1/payments/initialize
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r, "Initialize")
	if !ok {
		return
	}

	var req InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Initialize: failed to parse request body", "error", err)
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.Logger.Warn("Initialize: validation error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	userID := user.ID
	payer := Payer{
		UserID: &userID,
		Email:  user.Email,
		Name:   user.FullName,
		Phone:  user.Phone,
	}
	meta := RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}

	initialized, err := h.PaymentService.CreatePayment(r.Context(), payer, req.Target(), meta)
	if err != nil {
		h.Logger.Error("Initialize: service error", "error", err, "user_id", user.ID)
		h.HandleError(w, toAppError(err))
		return
	}

	h.Logger.Info("Initialize: payment initialized",
		"reference", initialized.Payment.Reference,
		"user_id", user.ID,
		"bulk", initialized.Payment.IsBulk())

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payment":           ToView(initialized.Payment),
		"authorization_url": initialized.AuthorizationURL,
		"reference":         initialized.Payment.Reference,
		"access_code":       initialized.AccessCode,
	})
}

// Verify handles POST /api/v1/payments/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r, "Verify"); !ok {
		return
	}

	var req VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Verify: failed to parse request body", "error", err)
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	p, err := h.PaymentService.VerifyAndComplete(r.Context(), req.Reference)
	if err != nil {
		h.Logger.Warn("Verify: payment not completed", "error", err, "reference", req.Reference)
		h.HandleError(w, toAppError(err))
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payment": ToView(p),
		"message": "Payment verified successfully",
	})
}

// Callback handles GET /api/v1/payments/callback, where the gateway sends
// the payer's browser after checkout. Outcomes are reported in the body.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	reference := r.URL.Query().Get("reference")
	if reference == "" {
		reference = r.URL.Query().Get("trxref")
	}
	if reference == "" {
		h.HandleError(w, internal.NewValidationError("Missing payment reference", internal.ErrCodeValidationFailed))
		return
	}

	p, err := h.PaymentService.VerifyAndComplete(r.Context(), reference)
	if err != nil {
		h.Logger.Warn("Callback: payment not completed", "error", err, "reference", reference)
		h.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   toAppError(err).Message,
		})
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"redirect_url": h.redirectURL(p.Reference),
		"payment":      ToView(p),
	})
}

// List handles GET /api/v1/payments
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r, "List")
	if !ok {
		return
	}

	query := ListQueryFromValues(r.URL.Query())
	if err := query.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	payments, err := h.PaymentService.List(r.Context(), user, query.Filter())
	if err != nil {
		h.Logger.Error("List: service error", "error", err, "user_id", user.ID)
		h.HandleError(w, toAppError(err))
		return
	}

	h.WriteJSON(w, http.StatusOK, ToViews(payments))
}

// Mine handles GET /api/v1/payments/mine
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r, "Mine")
	if !ok {
		return
	}

	query := ListQueryFromValues(r.URL.Query())
	if err := query.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	payments, err := h.PaymentService.Mine(r.Context(), user, query.Filter())
	if err != nil {
		h.Logger.Error("Mine: service error", "error", err, "user_id", user.ID)
		h.HandleError(w, toAppError(err))
		return
	}

	h.WriteJSON(w, http.StatusOK, ToViews(payments))
}

// Get handles GET /api/v1/payments/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r, "Get")
	if !ok {
		return
	}

	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	p, err := h.PaymentService.Get(r.Context(), user, id)
	if err != nil {
		h.HandleError(w, toAppError(err))
		return
	}

	h.WriteJSON(w, http.StatusOK, ToView(p))
}

// Refund handles POST /api/v1/payments/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r, "Refund")
	if !ok {
		return
	}

	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	var req RefundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		h.HandleError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	p, err := h.PaymentService.Refund(r.Context(), id, req.RefundAmount())
	if err != nil {
		h.Logger.Error("Refund: service error", "error", err, "payment_id", id, "user_id", user.ID)
		h.HandleError(w, toAppError(err))
		return
	}

	h.Logger.Info("Refund: payment refunded", "payment_id", id, "user_id", user.ID)
	h.WriteJSON(w, http.StatusOK, ToView(p))
}

// Cancel handles POST /api/v1/payments/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r, "Cancel")
	if !ok {
		return
	}

	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	p, err := h.PaymentService.Cancel(r.Context(), user, id)
	if err != nil {
		h.HandleError(w, toAppError(err))
		return
	}

	h.WriteJSON(w, http.StatusOK, ToView(p))
}

// Logs handles GET /api/v1/payments/{id}/logs
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.paymentID(w, r)
	if !ok {
		return
	}

	logs, err := h.PaymentService.Logs(r.Context(), id)
	if err != nil {
		h.HandleError(w, toAppError(err))
		return
	}

	h.WriteJSON(w, http.StatusOK, ToLogViews(logs))
}

// Dashboard handles GET /api/v1/payments/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.PaymentService.Dashboard(r.Context())
	if err != nil {
		h.Logger.Error("Dashboard: service error", "error", err)
		h.HandleError(w, toAppError(err))
		return
	}

	h.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request, op string) (*internal.User, bool) {
	user, ok := internal.UserFromContext(r.Context())
	if !ok || user == nil {
		h.Logger.Error(op + ": user not found in context")
		h.HandleError(w, internal.NewUnauthorizedError("authentication required", internal.ErrCodeInvalidToken))
		return nil, false
	}
	return user, true
}

func (h *Handler) paymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.HandleError(w, internal.NewValidationFieldError("id", "id must be a valid UUID", internal.ErrCodeValidationFailed))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) redirectURL(reference string) string {
	if h.RedirectURL == "" {
		return ""
	}
	u, err := url.Parse(h.RedirectURL)
	if err != nil {
		return h.RedirectURL
	}
	q := u.Query()
	q.Set("reference", reference)
	u.RawQuery = q.Encode()
	return u.String()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// toAppError maps domain errors onto the HTTP error taxonomy.
func toAppError(err error) *internal.AppError {
	if appErr, ok := internal.IsAppError(err); ok {
		return appErr
	}

	var (
		validationErr *ValidationError
		transitionErr *InvalidTransitionError
		notSuccessErr *NotSuccessfulError
		conversionErr *paymentgateway.ConversionError
		gatewayErr    *paymentgateway.GatewayError
	)

	switch {
	case stderrors.As(err, &validationErr):
		if validationErr.Field != "" {
			return internal.NewValidationFieldError(validationErr.Field, validationErr.Message, internal.ErrCodeValidationFailed)
		}
		return internal.NewValidationError(validationErr.Message, internal.ErrCodeValidationFailed)
	case stderrors.Is(err, ErrPaymentNotFound):
		return internal.ErrPaymentNotFound
	case stderrors.Is(err, ticketpkg.ErrTicketNotFound):
		return internal.ErrTicketNotFound
	case stderrors.Is(err, ErrTicketAlreadyPaid):
		return internal.ErrTicketAlreadyPaid
	case stderrors.Is(err, ErrForbidden):
		return internal.ErrUnauthorizedAccess
	case stderrors.As(err, &transitionErr):
		return internal.NewConflictError(transitionErr.Error(), internal.ErrCodeInvalidTransition)
	case stderrors.As(err, &notSuccessErr):
		return internal.NewValidationError(notSuccessErr.Error(), internal.ErrCodePaymentNotSuccessful)
	case stderrors.As(err, &conversionErr):
		return internal.NewValidationError(conversionErr.Error(), internal.ErrCodeAmountConversion)
	case stderrors.As(err, &gatewayErr):
		return internal.NewExternalError("Payment gateway request failed", internal.ErrCodeGatewayError, err)
	default:
		return internal.NewInternalError("Internal server error", err)
	}
}

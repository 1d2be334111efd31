package payment

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/ticket-payments/internal"
	"github.com/frahmantamala/ticket-payments/internal/core/common/validation"
	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
)

// InitializePaymentRequest pays for exactly one of a single ticket or a bulk
// list of tickets.
type InitializePaymentRequest struct {
	TicketID  string   `json:"ticket_id,omitempty" validate:"required_without=TicketIDs,excluded_with=TicketIDs,omitempty,uuid"`
	TicketIDs []string `json:"ticket_ids,omitempty" validate:"omitempty,max=100,dive,uuid"`
}

func (r *InitializePaymentRequest) Validate() error {
	if appErr := validation.Struct(r); appErr != nil {
		return appErr
	}
	return nil
}

func (r *InitializePaymentRequest) Target() Target {
	if r.TicketID != "" {
		id := uuid.MustParse(r.TicketID)
		return Target{TicketID: &id}
	}
	ids := make([]uuid.UUID, 0, len(r.TicketIDs))
	for _, s := range r.TicketIDs {
		ids = append(ids, uuid.MustParse(s))
	}
	return Target{TicketIDs: ids}
}

type VerifyPaymentRequest struct {
	Reference string `json:"reference" validate:"required,max=100"`
}

func (r *VerifyPaymentRequest) Validate() error {
	if appErr := validation.Struct(r); appErr != nil {
		return appErr
	}
	return nil
}

type RefundPaymentRequest struct {
	Amount string `json:"amount,omitempty"`
}

func (r *RefundPaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).PositiveAmount()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// RefundAmount is nil for a full refund.
func (r *RefundPaymentRequest) RefundAmount() *decimal.Decimal {
	if r.Amount == "" {
		return nil
	}
	d := decimal.RequireFromString(r.Amount)
	return &d
}

// ListQuery is parsed from the listing query string.
type ListQuery struct {
	Status    string
	StartDate string
	EndDate   string
	Limit     string
	Offset    string
}

func ListQueryFromValues(v url.Values) ListQuery {
	return ListQuery{
		Status:    v.Get("status"),
		StartDate: v.Get("start_date"),
		EndDate:   v.Get("end_date"),
		Limit:     v.Get("limit"),
		Offset:    v.Get("offset"),
	}
}

func (q ListQuery) Validate() error {
	statuses := make([]string, 0, len(payment.Statuses))
	for _, s := range payment.Statuses {
		statuses = append(statuses, string(s))
	}

	validator := validation.NewValidator()

	validator.Field("status", q.Status).OneOf(statuses...)
	validator.Field("start_date", q.StartDate).Date()
	validator.Field("end_date", q.EndDate).Date()
	validator.Field("limit", q.Limit).Custom(nonNegativeInt("limit"))
	validator.Field("offset", q.Offset).Custom(nonNegativeInt("offset"))

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Filter converts a validated query. end_date is inclusive of the whole day.
func (q ListQuery) Filter() ListFilter {
	var f ListFilter
	if q.Status != "" {
		st := payment.Status(q.Status)
		f.Status = &st
	}
	if q.StartDate != "" {
		from, _ := time.Parse(time.DateOnly, q.StartDate)
		f.From = &from
	}
	if q.EndDate != "" {
		to, _ := time.Parse(time.DateOnly, q.EndDate)
		to = to.AddDate(0, 0, 1)
		f.To = &to
	}
	f.Limit, _ = strconv.Atoi(q.Limit)
	f.Offset, _ = strconv.Atoi(q.Offset)
	return f
}

func nonNegativeInt(field string) func(interface{}) *errors.AppError {
	return func(value interface{}) *errors.AppError {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if n, err := strconv.Atoi(s); err != nil || n < 0 {
			return errors.NewValidationFieldError(field, field+" must be a non-negative integer", errors.ErrCodeValidationFailed)
		}
		return nil
	}
}

type PaymentView struct {
	ID               string          `json:"id"`
	Reference        string          `json:"reference"`
	GatewayReference *string         `json:"gateway_reference,omitempty"`
	Amount           string          `json:"amount"`
	FormattedAmount  string          `json:"formatted_amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	Channel          string          `json:"channel,omitempty"`
	TicketID         *string         `json:"ticket_id,omitempty"`
	TicketIDs        []string        `json:"ticket_ids,omitempty"`
	IsBulk           bool            `json:"is_bulk"`
	Description      string          `json:"description,omitempty"`
	PayerEmail       string          `json:"payer_email"`
	PayerName        string          `json:"payer_name,omitempty"`
	PayerPhone       string          `json:"payer_phone,omitempty"`
	GatewayResponse  json.RawMessage `json:"gateway_response,omitempty"`
	InitiatedAt      time.Time       `json:"initiated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func ToView(p *Payment) PaymentView {
	v := PaymentView{
		ID:               p.ID.String(),
		Reference:        p.Reference,
		GatewayReference: p.GatewayReference,
		Amount:           p.Amount.StringFixed(2),
		FormattedAmount:  p.FormattedAmount(),
		Currency:         p.Currency,
		Status:           string(p.Status),
		PaymentMethod:    p.PaymentMethod,
		Channel:          p.Channel,
		IsBulk:           p.IsBulk(),
		Description:      p.Description,
		PayerEmail:       p.PayerEmail,
		PayerName:        p.PayerName,
		PayerPhone:       p.PayerPhone,
		InitiatedAt:      p.InitiatedAt,
		CompletedAt:      p.CompletedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.TicketID != nil {
		id := p.TicketID.String()
		v.TicketID = &id
	}
	if p.IsBulk() {
		v.TicketIDs = p.Metadata.Data().TicketIDs
	}
	if len(p.GatewayResponse) > 0 {
		v.GatewayResponse = json.RawMessage(p.GatewayResponse)
	}
	return v
}

func ToViews(ps []Payment) []PaymentView {
	views := make([]PaymentView, 0, len(ps))
	for i := range ps {
		views = append(views, ToView(&ps[i]))
	}
	return views
}

type TransactionLogView struct {
	ID              string          `json:"id"`
	TransactionType string          `json:"transaction_type"`
	RequestData     json.RawMessage `json:"request_data,omitempty"`
	ResponseData    json.RawMessage `json:"response_data,omitempty"`
	IsSuccessful    bool            `json:"is_successful"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

func ToLogViews(logs []TransactionLog) []TransactionLogView {
	views := make([]TransactionLogView, 0, len(logs))
	for _, l := range logs {
		v := TransactionLogView{
			ID:              l.ID.String(),
			TransactionType: string(l.TransactionType),
			IsSuccessful:    l.IsSuccessful,
			ErrorMessage:    l.ErrorMessage,
			Timestamp:       l.Timestamp,
		}
		if len(l.RequestData) > 0 {
			v.RequestData = json.RawMessage(l.RequestData)
		}
		if len(l.ResponseData) > 0 {
			v.ResponseData = json.RawMessage(l.ResponseData)
		}
		views = append(views, v)
	}
	return views
}

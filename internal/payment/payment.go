package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/ticket-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/ticket-payments/internal/core/events"
)

type (
	Payment                = payment.Payment
	TransactionLog         = payment.TransactionLog
	Status                 = payment.Status
	InvalidTransitionError = payment.InvalidTransitionError
)

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrTicketAlreadyPaid = errors.New("ticket already paid")
	ErrForbidden         = errors.New("payment not accessible to caller")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotSuccessfulError is returned when verification settles a payment as
// anything other than success.
type NotSuccessfulError struct {
	Reference     string
	Status        Status
	GatewayStatus string
}

func (e *NotSuccessfulError) Error() string {
	if e.GatewayStatus != "" {
		return fmt.Sprintf("payment %s was not successful: gateway reported %q", e.Reference, e.GatewayStatus)
	}
	return fmt.Sprintf("payment %s was not successful: status %s", e.Reference, e.Status)
}

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	SetGatewayReference(ctx context.Context, id uuid.UUID, gatewayReference string) error
	// TransitionStatus persists p's status and settlement fields only if the
	// stored status still equals from. It reports whether the row changed.
	TransitionStatus(ctx context.Context, p *Payment, from Status) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]Payment, error)
	ListStale(ctx context.Context, initiatedBefore time.Time, limit int) ([]Payment, error)
	HasSuccessfulPaymentForTicket(ctx context.Context, ticketID uuid.UUID) (bool, error)
	WithTx(tx *gorm.DB) Repository
}

type TransactionLogRepository interface {
	Create(ctx context.Context, log *TransactionLog) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]TransactionLog, error)
}

type StatsRepository interface {
	Dashboard(ctx context.Context, recentLimit int) (*DashboardStats, error)
}

type Gateway interface {
	NewReference() string
	Initialize(ctx context.Context, req gatewaytypes.InitializeRequest) (*gatewaytypes.InitializeResult, error)
	Verify(ctx context.Context, paymentID *uuid.UUID, reference string) (*gatewaytypes.VerifyResult, error)
	Refund(ctx context.Context, req gatewaytypes.RefundRequest) (*gatewaytypes.RefundResult, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Payer is the contact snapshot captured when a payment is created.
type Payer struct {
	UserID *uuid.UUID
	Email  string
	Name   string
	Phone  string
}

// Target selects what is being paid for: one ticket or a bulk list.
type Target struct {
	TicketID  *uuid.UUID
	TicketIDs []uuid.UUID
}

type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type Initialized struct {
	Payment          *Payment
	AuthorizationURL string
	AccessCode       string
}

// Scope restricts listings to what a viewer may see. The zero value sees
// everything.
type Scope struct {
	PayerEmail string
	Province   string
}

type ListFilter struct {
	Scope  Scope
	Status *Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type MethodBreakdown struct {
	Method string          `db:"method" json:"method"`
	Count  int64           `db:"count" json:"count"`
	Total  decimal.Decimal `db:"total" json:"total"`
}

// RecentPayment is a dashboard row for a recently settled payment.
type RecentPayment struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Reference   string          `db:"reference" json:"reference"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	PayerName   string          `db:"payer_name" json:"payer_name"`
	PayerEmail  string          `db:"payer_email" json:"payer_email"`
	Channel     string          `db:"channel" json:"channel"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at"`
}

type DashboardStats struct {
	TotalPayments    int64             `db:"total" json:"total_payments"`
	SuccessCount     int64             `db:"success" json:"success_count"`
	PendingCount     int64             `db:"pending" json:"pending_count"`
	FailedCount      int64             `db:"failed" json:"failed_count"`
	CancelledCount   int64             `db:"cancelled" json:"cancelled_count"`
	RefundedCount    int64             `db:"refunded" json:"refunded_count"`
	TotalRevenue     decimal.Decimal   `db:"revenue" json:"total_revenue"`
	Methods          []MethodBreakdown `db:"-" json:"payment_methods"`
	RecentSuccessful []RecentPayment   `db:"-" json:"recent_payments"`
	SuccessRate      float64           `db:"-" json:"success_rate"`
	FormattedRevenue string            `db:"-" json:"formatted_revenue"`
}

package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Statuses lists every ledger state in lifecycle order.
var Statuses = []Status{StatusPending, StatusSuccess, StatusFailed, StatusCancelled, StatusRefunded}

// Metadata is stored alongside a payment. Bulk payments carry the full ticket
// list here; single payments carry only the ticket code next to ticket_id.
type Metadata struct {
	IsBulk     bool     `json:"is_bulk,omitempty"`
	TicketIDs  []string `json:"ticket_ids,omitempty"`
	TicketRefs []string `json:"ticket_refs,omitempty"`
	TicketRef  string   `json:"ticket_ref,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	Count      int      `json:"count,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type Payment struct {
	ID                uuid.UUID                    `gorm:"type:uuid;primaryKey"`
	Reference         string                       `gorm:"column:reference;uniqueIndex;not null"`
	GatewayReference  *string                      `gorm:"column:gateway_reference;uniqueIndex"`
	Amount            decimal.Decimal              `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency          string                       `gorm:"column:currency;not null;default:NGN"`
	Status            Status                       `gorm:"column:status;not null;default:pending;index"`
	PaymentMethod     string                       `gorm:"column:payment_method"`
	TicketID          *uuid.UUID                   `gorm:"column:ticket_id;type:uuid;index"`
	Description       string                       `gorm:"column:description"`
	PayerEmail        string                       `gorm:"column:payer_email;not null;index"`
	PayerName         string                       `gorm:"column:payer_name"`
	PayerPhone        string                       `gorm:"column:payer_phone"`
	GatewayResponse   datatypes.JSON               `gorm:"column:gateway_response"`
	AuthorizationCode string                       `gorm:"column:authorization_code"`
	Channel           string                       `gorm:"column:channel"`
	Metadata          datatypes.JSONType[Metadata] `gorm:"column:metadata"`
	IPAddress         string                       `gorm:"column:ip_address"`
	UserAgent         string                       `gorm:"column:user_agent"`
	InitiatedAt       time.Time                    `gorm:"column:initiated_at;autoCreateTime;index"`
	CompletedAt       *time.Time                   `gorm:"column:completed_at"`
	UpdatedAt         time.Time                    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string {
	return "payments"
}

// ErrAmbiguousTarget is returned when a payment names both a single ticket
// and a bulk ticket list.
var ErrAmbiguousTarget = errors.New("payment must target either a single ticket or a bulk ticket list, not both")

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return p.CheckTarget()
}

// CheckTarget enforces that at most one of ticket_id and the bulk ticket
// list is populated.
func (p *Payment) CheckTarget() error {
	md := p.Metadata.Data()
	if p.TicketID != nil && (md.IsBulk || len(md.TicketIDs) > 0 || len(md.TicketRefs) > 0) {
		return ErrAmbiguousTarget
	}
	return nil
}

func (p *Payment) IsBulk() bool {
	return p.TicketID == nil && p.Metadata.Data().IsBulk
}

// TicketIDs returns every ticket this payment settles, single or bulk.
func (p *Payment) TicketIDs() ([]uuid.UUID, error) {
	if p.TicketID != nil {
		return []uuid.UUID{*p.TicketID}, nil
	}
	raw := p.Metadata.Data().TicketIDs
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Payment) FormattedAmount() string {
	return FormatAmount(p.Amount, p.Currency)
}

type TransactionType string

const (
	TransactionInitiate TransactionType = "initiate"
	TransactionVerify   TransactionType = "verify"
	TransactionRefund   TransactionType = "refund"
	TransactionWebhook  TransactionType = "webhook"
)

// TransactionLog is an append-only record of one gateway interaction.
type TransactionLog struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PaymentID       *uuid.UUID      `gorm:"column:payment_id;type:uuid;index"`
	TransactionType TransactionType `gorm:"column:transaction_type;not null"`
	RequestData     datatypes.JSON  `gorm:"column:request_data"`
	ResponseData    datatypes.JSON  `gorm:"column:response_data"`
	IsSuccessful    bool            `gorm:"column:is_successful;not null;default:false"`
	ErrorMessage    string          `gorm:"column:error_message"`
	Timestamp       time.Time       `gorm:"column:timestamp;autoCreateTime;index"`
}

func (TransactionLog) TableName() string {
	return "transaction_logs"
}

func (l *TransactionLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

package ticket

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

type Ticket struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey"`
	TicketCode    string        `gorm:"column:ticket_code;uniqueIndex;not null"`
	FullName      string        `gorm:"column:full_name;not null"`
	Email         string        `gorm:"column:email"`
	Phone         string        `gorm:"column:phone"`
	Province      string        `gorm:"column:province;index"`
	Status        Status        `gorm:"column:status;not null;default:pending"`
	PaymentStatus PaymentStatus `gorm:"column:payment_status;not null;default:unpaid"`
	RegisteredBy  *uuid.UUID    `gorm:"column:registered_by;type:uuid;index"`
	ApprovedBy    *uuid.UUID    `gorm:"column:approved_by;type:uuid"`
	ApprovedAt    *time.Time    `gorm:"column:approved_at"`
	CreatedAt     time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (Ticket) TableName() string {
	return "tickets"
}

func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *Ticket) IsApproved() bool {
	return t.Status == StatusApproved
}

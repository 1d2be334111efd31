package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/ticket"
	ticketpkg "github.com/frahmantamala/ticket-payments/internal/ticket"
)

type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) ticketpkg.Repository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) WithTx(tx *gorm.DB) ticketpkg.Repository {
	if tx == nil {
		return r
	}
	return &TicketRepository{db: tx}
}

func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*ticket.Ticket, error) {
	var t ticket.Ticket
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ticketpkg.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *TicketRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]ticket.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tickets []ticket.Ticket
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at").Find(&tickets).Error
	return tickets, err
}

func (r *TicketRepository) Approve(ctx context.Context, id uuid.UUID, approvedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&ticket.Ticket{}).
		Where("id = ? AND status <> ?", id, ticket.StatusApproved).
		Updates(map[string]interface{}{
			"status":         ticket.StatusApproved,
			"payment_status": ticket.PaymentStatusPaid,
			"approved_by":    gorm.Expr("registered_by"),
			"approved_at":    approvedAt,
			"updated_at":     approvedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to approve ticket %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&ticket.Ticket{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check ticket %s: %w", id, err)
	}
	if n == 0 {
		return ticketpkg.ErrTicketNotFound
	}
	return nil
}

func (r *TicketRepository) ApproveBatch(ctx context.Context, ids []uuid.UUID, approvedAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&ticket.Ticket{}).
		Where("id IN ? AND status <> ?", ids, ticket.StatusApproved).
		Updates(map[string]interface{}{
			"status":         ticket.StatusApproved,
			"payment_status": ticket.PaymentStatusPaid,
			"approved_by":    nil,
			"approved_at":    approvedAt,
			"updated_at":     approvedAt,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to batch approve tickets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/ticket"
	paymentpkg "github.com/frahmantamala/ticket-payments/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.Repository {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) WithTx(tx *gorm.DB) paymentpkg.Repository {
	if tx == nil {
		return r
	}
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) SetGatewayReference(ctx context.Context, id uuid.UUID, gatewayReference string) error {
	res := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"gateway_reference": gatewayReference,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return paymentpkg.ErrPaymentNotFound
	}
	return nil
}

// TransitionStatus is a compare-and-swap on the status column. Settlement
// fields are written only by the caller whose expected status still holds.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, p *payment.Payment, from payment.Status) (bool, error) {
	if !payment.CanTransition(from, p.Status) {
		return false, &payment.InvalidTransitionError{From: from, To: p.Status}
	}
	res := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("id = ? AND status = ?", p.ID, from).
		Updates(map[string]interface{}{
			"status":             p.Status,
			"completed_at":       p.CompletedAt,
			"gateway_reference":  p.GatewayReference,
			"authorization_code": p.AuthorizationCode,
			"channel":            p.Channel,
			"payment_method":     p.PaymentMethod,
			"gateway_response":   p.GatewayResponse,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition payment %s to %s: %w", p.ID, p.Status, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) List(ctx context.Context, filter paymentpkg.ListFilter) ([]payment.Payment, error) {
	q := r.db.WithContext(ctx).Model(&payment.Payment{})

	switch {
	case filter.Scope.Province != "":
		provinceTickets := r.db.Model(&ticket.Ticket{}).Select("id").Where("province = ?", filter.Scope.Province)
		q = q.Where("payer_email = ? OR ticket_id IN (?)", filter.Scope.PayerEmail, provinceTickets)
	case filter.Scope.PayerEmail != "":
		q = q.Where("payer_email = ?", filter.Scope.PayerEmail)
	}

	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.From != nil {
		q = q.Where("initiated_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("initiated_at < ?", *filter.To)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var payments []payment.Payment
	err := q.Order("initiated_at DESC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListStale(ctx context.Context, initiatedBefore time.Time, limit int) ([]payment.Payment, error) {
	var payments []payment.Payment
	q := r.db.WithContext(ctx).
		Where("status = ? AND initiated_at < ?", payment.StatusPending, initiatedBefore).
		Order("initiated_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) HasSuccessfulPaymentForTicket(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&payment.Payment{}).
		Where("ticket_id = ? AND status = ?", ticketID, payment.StatusSuccess).
		Count(&count).Error
	return count > 0, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return paymentpkg.ErrPaymentNotFound
	}
	return err
}

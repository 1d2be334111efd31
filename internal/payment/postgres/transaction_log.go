package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/frahmantamala/ticket-payments/internal/core/datamodel/payment"
)

// TransactionLogRepository is insert-only; rows are never updated.
type TransactionLogRepository struct {
	db *gorm.DB
}

func NewTransactionLogRepository(db *gorm.DB) *TransactionLogRepository {
	return &TransactionLogRepository{db: db}
}

func (r *TransactionLogRepository) Create(ctx context.Context, log *payment.TransactionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *TransactionLogRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]payment.TransactionLog, error) {
	var logs []payment.TransactionLog
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order(`"timestamp"`).
		Find(&logs).Error
	return logs, err
}

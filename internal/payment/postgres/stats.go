package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	paymentpkg "github.com/frahmantamala/ticket-payments/internal/payment"
)

const statusTotalsQuery = `
SELECT
	COUNT(*) AS total,
	COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS success,
	COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
	COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
	COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled,
	COALESCE(SUM(CASE WHEN status = 'refunded' THEN 1 ELSE 0 END), 0) AS refunded,
	COALESCE(SUM(CASE WHEN status = 'success' THEN amount ELSE 0 END), 0) AS revenue
FROM payments`

const methodBreakdownQuery = `
SELECT
	COALESCE(NULLIF(channel, ''), 'unknown') AS method,
	COUNT(*) AS count,
	COALESCE(SUM(amount), 0) AS total
FROM payments
WHERE status = 'success'
GROUP BY 1
ORDER BY count DESC`

const recentSuccessfulQuery = `
SELECT id, reference, amount, payer_name, payer_email, channel, completed_at
FROM payments
WHERE status = 'success'
ORDER BY completed_at DESC
LIMIT ?`

// StatsRepository serves the read-only dashboard aggregates through sqlx.
type StatsRepository struct {
	db *sqlx.DB
}

func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) Dashboard(ctx context.Context, recentLimit int) (*paymentpkg.DashboardStats, error) {
	var stats paymentpkg.DashboardStats
	if err := r.db.GetContext(ctx, &stats, statusTotalsQuery); err != nil {
		return nil, fmt.Errorf("failed to load payment totals: %w", err)
	}

	if err := r.db.SelectContext(ctx, &stats.Methods, methodBreakdownQuery); err != nil {
		return nil, fmt.Errorf("failed to load payment methods: %w", err)
	}

	if err := r.db.SelectContext(ctx, &stats.RecentSuccessful, r.db.Rebind(recentSuccessfulQuery), recentLimit); err != nil {
		return nil, fmt.Errorf("failed to load recent payments: %w", err)
	}

	return &stats, nil
}

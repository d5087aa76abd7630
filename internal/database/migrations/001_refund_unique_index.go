package migrations

import (
	"gorm.io/gorm"
)

// AddRefundUniqueIndex enforces the at-most-one-refund-per-order invariant at
// the database level: even if the application-level refunded_at gate were
// bypassed, a second refund row for the same order cannot be inserted.
func AddRefundUniqueIndex(db *gorm.DB) error {
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_refund_per_order
		 ON transactions(order_id) WHERE type = 'refund'`,
	).Error
}

package wallet

import (
	"errors"

	"github.com/smmkit/panel-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetUser(userID string) (*types.User, error) {
	var user types.User
	if err := d.db.Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) GetTransactionsForUser(userID string) ([]types.Transaction, error) {
	var transactions []types.Transaction
	if err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

// CountRefundsForOrder matches both the canonical refund shape and the legacy
// deposit-with-refund-marker shape written by older cancellation paths.
func (d *Database) CountRefundsForOrder(orderID string) (int64, error) {
	var count int64
	err := d.db.Model(&types.Transaction{}).
		Where("order_id = ? AND (type = ? OR (type = ? AND description LIKE ?))",
			orderID, types.TransactionTypeRefund, types.TransactionTypeDeposit, "%refund%").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

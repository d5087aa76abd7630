package orders

import (
	"errors"

	"github.com/smmkit/panel-api/internal/types"
	"github.com/smmkit/panel-api/internal/wallet"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateOrderWithDebit charges the wallet and creates the order row plus its
// ledger entry in one database transaction. The debit is a conditional update
// guarded by the current balance, so a concurrent spend cannot push the
// wallet negative.
func (d *Database) CreateOrderWithDebit(order *types.Order, txn *types.Transaction) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&types.User{}).
			Where("user_id = ? AND balance >= ?", order.UserID, order.TotalPrice).
			Update("balance", gorm.Expr("balance - ?", order.TotalPrice))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return wallet.ErrInsufficientBalance
		}

		if err := tx.Create(order).Error; err != nil {
			return err
		}

		return tx.Create(txn).Error
	})
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByOrderIDAndUserID(orderID, userID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetUserOrders(userID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) GetAllOrders() ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelPendingUnsent flips a pending, never-sent order to cancelled. The
// predicate doubles as the self-cancel guard: the update affects no rows for
// orders that were already sent to a provider or have moved on.
func (d *Database) CancelPendingUnsent(orderID string) (bool, error) {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status = ? AND is_sent_to_provider = ?",
			orderID, types.OrderStatusPending, false).
		Update("status", types.OrderStatusCancelled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CancelNonTerminal flips any not-yet-finished order to cancelled with a
// reason. Completed and already-cancelled orders are left untouched.
func (d *Database) CancelNonTerminal(orderID, reason string) (bool, error) {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status NOT IN ?", orderID, types.TerminalStatuses).
		Updates(map[string]interface{}{
			"status":        types.OrderStatusCancelled,
			"cancel_reason": reason,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) GetServiceByServiceID(serviceID string) (*types.Service, error) {
	var service types.Service
	if err := d.db.Where("service_id = ?", serviceID).First(&service).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &service, nil
}

package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/smmkit/panel-api/internal/types"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserNotFound        = errors.New("user not found")
)

// Service owns wallet balance mutation and the append-only transaction
// ledger. Every balance change goes through one database transaction that
// adjusts the balance and inserts the matching ledger row together.
type Service struct {
	gormDB *gorm.DB
	db     *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		gormDB: gormDB,
		db:     NewDatabase(gormDB),
	}
}

// GetDB exposes the database layer to collaborators that read wallet state.
func (s *Service) GetDB() *Database {
	return s.db
}

// Deposit credits a user's balance and records a deposit ledger entry.
func (s *Service) Deposit(userID string, amount float64, description string) (*types.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %v", amount)
	}

	txn := &types.Transaction{
		TransactionID: uuid.New().String(),
		UserID:        userID,
		Type:          types.TransactionTypeDeposit,
		Amount:        amount,
		Description:   description,
		Status:        "completed",
		Reference:     newReference(),
	}

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&types.User{}).
			Where("user_id = ?", userID).
			Update("balance", gorm.Expr("balance + ?", amount))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}

	return txn, nil
}

// RefundOrder unwinds an order's financial position at most once, regardless
// of how many times or from which cancellation path it is invoked. The gate
// is a single conditional update of the order's refunded_at column: only the
// caller whose update affects a row proceeds to credit the wallet and write
// the refund transaction, all inside one database transaction. Returns true
// when this call performed the refund, false when the order was already
// refunded.
func (s *Service) RefundOrder(order *types.Order, description string) (bool, error) {
	// Recognize refunds written by older panel versions before the
	// refunded_at column existed.
	legacy, err := s.db.CountRefundsForOrder(order.OrderID)
	if err != nil {
		return false, err
	}
	if legacy > 0 {
		return false, nil
	}

	refunded := false
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&types.Order{}).
			Where("order_id = ? AND refunded_at IS NULL", order.OrderID).
			Update("refunded_at", time.Now())
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		credit := tx.Model(&types.User{}).
			Where("user_id = ?", order.UserID).
			Update("balance", gorm.Expr("balance + ?", order.TotalPrice))
		if credit.Error != nil {
			return credit.Error
		}
		if credit.RowsAffected == 0 {
			return ErrUserNotFound
		}

		txn := &types.Transaction{
			TransactionID: uuid.New().String(),
			UserID:        order.UserID,
			Type:          types.TransactionTypeRefund,
			Amount:        order.TotalPrice,
			Description:   description,
			OrderID:       &order.OrderID,
			Status:        "completed",
			Reference:     newReference(),
		}
		if err := tx.Create(txn).Error; err != nil {
			return err
		}

		refunded = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if refunded {
		log.Info().
			Str("order_id", order.OrderID).
			Str("user_id", order.UserID).
			Float64("amount", order.TotalPrice).
			Msg("order refunded")
	}

	return refunded, nil
}

// HasRefund reports whether any refund-shaped transaction exists for the
// order, including legacy records.
func (s *Service) HasRefund(orderID string) (bool, error) {
	count, err := s.db.CountRefundsForOrder(orderID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetBalance returns the user's current wallet balance.
func (s *Service) GetBalance(userID string) (float64, error) {
	user, err := s.db.GetUser(userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	return user.Balance, nil
}

// TransactionsForUser lists the user's ledger, newest first.
func (s *Service) TransactionsForUser(userID string) ([]types.Transaction, error) {
	return s.db.GetTransactionsForUser(userID)
}

func newReference() string {
	return "TXN_" + uuid.New().String()
}

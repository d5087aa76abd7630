package wallet

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/smmkit/panel-api/internal/database"
	"github.com/smmkit/panel-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, balance float64) *types.User {
	t.Helper()

	user := &types.User{
		UserID:  uuid.New().String(),
		Email:   uuid.New().String() + "@example.com",
		Role:    types.RoleUser,
		Balance: balance,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedOrder(t *testing.T, db *gorm.DB, userID string, totalPrice float64) *types.Order {
	t.Helper()

	order := &types.Order{
		OrderID:    uuid.New().String(),
		UserID:     userID,
		ServiceID:  "svc-1",
		TargetURL:  "https://example.com/p/1",
		Quantity:   1000,
		TotalPrice: totalPrice,
		Status:     types.OrderStatusProcessing,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func balanceOf(t *testing.T, db *gorm.DB, userID string) float64 {
	t.Helper()

	var user types.User
	require.NoError(t, db.Where("user_id = ?", userID).First(&user).Error)
	return user.Balance
}

func refundCount(t *testing.T, db *gorm.DB, orderID string) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&types.Transaction{}).
		Where("order_id = ? AND type = ?", orderID, types.TransactionTypeRefund).
		Count(&count).Error)
	return count
}

func TestDeposit(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	user := seedUser(t, db, 10)

	txn, err := service.Deposit(user.UserID, 25.50, "Top up")
	require.NoError(t, err)
	assert.Equal(t, types.TransactionTypeDeposit, txn.Type)
	assert.Equal(t, 35.50, balanceOf(t, db, user.UserID))

	_, err = service.Deposit(user.UserID, -5, "bogus")
	require.Error(t, err)

	_, err = service.Deposit("missing-user", 5, "nope")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRefundOrderIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	user := seedUser(t, db, 0)
	order := seedOrder(t, db, user.UserID, 50.00)

	refunded, err := service.RefundOrder(order, "Refund: provider cancelled")
	require.NoError(t, err)
	assert.True(t, refunded)
	assert.Equal(t, 50.00, balanceOf(t, db, user.UserID))
	assert.EqualValues(t, 1, refundCount(t, db, order.OrderID))

	// Every further attempt, from any path, is a no-op.
	for i := 0; i < 3; i++ {
		refunded, err = service.RefundOrder(order, "Refund: retried")
		require.NoError(t, err)
		assert.False(t, refunded)
	}
	assert.Equal(t, 50.00, balanceOf(t, db, user.UserID))
	assert.EqualValues(t, 1, refundCount(t, db, order.OrderID))
}

func TestRefundOrderRecognizesLegacyShape(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	user := seedUser(t, db, 0)
	order := seedOrder(t, db, user.UserID, 20.00)

	// Older panel versions recorded refunds as deposits with a textual
	// marker in the description.
	legacy := &types.Transaction{
		TransactionID: uuid.New().String(),
		UserID:        user.UserID,
		Type:          types.TransactionTypeDeposit,
		Amount:        20.00,
		Description:   "Deposit: refund for cancelled order",
		OrderID:       &order.OrderID,
		Status:        "completed",
		Reference:     "TXN_" + uuid.New().String(),
	}
	require.NoError(t, db.Create(legacy).Error)

	refunded, err := service.RefundOrder(order, "Refund: retried")
	require.NoError(t, err)
	assert.False(t, refunded)
	assert.Equal(t, 0.00, balanceOf(t, db, user.UserID))

	has, err := service.HasRefund(order.OrderID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRefundUniqueIndexBlocksSecondRow(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, 0)
	order := seedOrder(t, db, user.UserID, 10.00)

	first := &types.Transaction{
		TransactionID: uuid.New().String(),
		UserID:        user.UserID,
		Type:          types.TransactionTypeRefund,
		Amount:        10.00,
		OrderID:       &order.OrderID,
		Status:        "completed",
		Reference:     "TXN_" + uuid.New().String(),
	}
	require.NoError(t, db.Create(first).Error)

	second := &types.Transaction{
		TransactionID: uuid.New().String(),
		UserID:        user.UserID,
		Type:          types.TransactionTypeRefund,
		Amount:        10.00,
		OrderID:       &order.OrderID,
		Status:        "completed",
		Reference:     "TXN_" + uuid.New().String(),
	}
	assert.Error(t, db.Create(second).Error)
}

func TestHasRefundWithoutAnyRefund(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	user := seedUser(t, db, 0)
	order := seedOrder(t, db, user.UserID, 10.00)

	has, err := service.HasRefund(order.OrderID)
	require.NoError(t, err)
	assert.False(t, has)
}

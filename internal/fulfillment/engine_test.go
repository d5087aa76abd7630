package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smmkit/panel-api/internal/database"
	"github.com/smmkit/panel-api/internal/provider"
	"github.com/smmkit/panel-api/internal/types"
	"github.com/smmkit/panel-api/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeAPI is a scriptable ProviderAPI that records every call.
type fakeAPI struct {
	mu sync.Mutex

	placeResult *provider.PlaceOrderResult
	placeErr    error
	placeCalls  int

	statusResult *provider.OrderStatus
	statusErr    error
	statusCalls  int
}

func (f *fakeAPI) PlaceOrder(ctx context.Context, p *types.Provider, providerServiceID, link string, quantity int) (*provider.PlaceOrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	return f.placeResult, f.placeErr
}

func (f *fakeAPI) CheckStatus(ctx context.Context, p *types.Provider, providerOrderID string) (*provider.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.statusResult, f.statusErr
}

func (f *fakeAPI) calls() (place, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placeCalls, f.statusCalls
}

type fixture struct {
	db     *gorm.DB
	wallet *wallet.Service
	api    *fakeAPI
	engine *Engine

	user     *types.User
	provider *types.Provider
	service  *types.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	walletService := wallet.NewService(db)
	api := &fakeAPI{}

	user := &types.User{
		UserID: uuid.New().String(),
		Email:  uuid.New().String() + "@example.com",
		Role:   types.RoleUser,
	}
	require.NoError(t, db.Create(user).Error)

	prov := &types.Provider{
		ProviderID: uuid.New().String(),
		Name:       "upstream",
		APIURL:     "https://upstream.example",
		APIKey:     "k",
		Active:     true,
	}
	require.NoError(t, db.Create(prov).Error)

	providerServiceID := "42"
	svc := &types.Service{
		ServiceID:         uuid.New().String(),
		Name:              "Followers - HQ",
		Rate:              50,
		MinQuantity:       50,
		MaxQuantity:       50000,
		Active:            true,
		ProviderID:        &prov.ProviderID,
		ProviderServiceID: &providerServiceID,
	}
	require.NoError(t, db.Create(svc).Error)

	return &fixture{
		db:       db,
		wallet:   walletService,
		api:      api,
		engine:   NewEngine(db, walletService, api, time.Minute),
		user:     user,
		provider: prov,
		service:  svc,
	}
}

func (f *fixture) seedOrder(t *testing.T, status types.OrderStatus, sent bool, providerOrderID *string) *types.Order {
	t.Helper()

	order := &types.Order{
		OrderID:          uuid.New().String(),
		UserID:           f.user.UserID,
		ServiceID:        f.service.ServiceID,
		TargetURL:        "https://example.com/p/1",
		Quantity:         1000,
		TotalPrice:       50.00,
		Status:           status,
		IsSentToProvider: sent,
		ProviderOrderID:  providerOrderID,
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func (f *fixture) reload(t *testing.T, orderID string) *types.Order {
	t.Helper()

	var order types.Order
	require.NoError(t, f.db.Where("order_id = ?", orderID).First(&order).Error)
	return &order
}

func (f *fixture) balance(t *testing.T) float64 {
	t.Helper()

	var user types.User
	require.NoError(t, f.db.Where("user_id = ?", f.user.UserID).First(&user).Error)
	return user.Balance
}

func (f *fixture) refundCount(t *testing.T, orderID string) int64 {
	t.Helper()

	var count int64
	require.NoError(t, f.db.Model(&types.Transaction{}).
		Where("order_id = ? AND type = ?", orderID, types.TransactionTypeRefund).
		Count(&count).Error)
	return count
}

func strPtr(s string) *string { return &s }

func TestRetryPendingOrdersSelection(t *testing.T) {
	f := newFixture(t)
	f.api.placeResult = &provider.PlaceOrderResult{ProviderOrderID: "P1"}

	unsent := f.seedOrder(t, types.OrderStatusPending, false, nil)
	alreadySent := f.seedOrder(t, types.OrderStatusPending, true, strPtr("P0"))

	require.NoError(t, f.engine.RetryPendingOrders(context.Background()))

	placeCalls, _ := f.api.calls()
	assert.Equal(t, 1, placeCalls, "only the unsent order is placed")

	got := f.reload(t, unsent.OrderID)
	assert.Equal(t, types.OrderStatusProcessing, got.Status)
	assert.True(t, got.IsSentToProvider)
	require.NotNil(t, got.ProviderOrderID)
	assert.Equal(t, "P1", *got.ProviderOrderID)
	assert.Equal(t, 1, got.SendAttempts)

	untouched := f.reload(t, alreadySent.OrderID)
	assert.Equal(t, "P0", *untouched.ProviderOrderID)
}

func TestRetryPendingOrdersPlacementFailure(t *testing.T) {
	f := newFixture(t)
	f.api.placeErr = errors.New("upstream down")

	order := f.seedOrder(t, types.OrderStatusPending, false, nil)

	require.NoError(t, f.engine.RetryPendingOrders(context.Background()))

	got := f.reload(t, order.OrderID)
	assert.Equal(t, types.OrderStatusPending, got.Status)
	assert.False(t, got.IsSentToProvider)
	assert.Nil(t, got.ProviderOrderID)
	assert.Equal(t, 1, got.SendAttempts)

	// The next tick selects it again.
	f.api.mu.Lock()
	f.api.placeErr = nil
	f.api.placeResult = &provider.PlaceOrderResult{ProviderOrderID: "P2"}
	f.api.mu.Unlock()

	require.NoError(t, f.engine.RetryPendingOrders(context.Background()))
	got = f.reload(t, order.OrderID)
	assert.True(t, got.IsSentToProvider)
	assert.Equal(t, 2, got.SendAttempts)
}

func TestRetryPendingOrdersSkipsUnboundService(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&types.Service{}).
		Where("service_id = ?", f.service.ServiceID).
		Updates(map[string]interface{}{"provider_id": nil, "provider_service_id": nil}).Error)

	order := f.seedOrder(t, types.OrderStatusPending, false, nil)

	require.NoError(t, f.engine.RetryPendingOrders(context.Background()))

	placeCalls, _ := f.api.calls()
	assert.Zero(t, placeCalls)

	got := f.reload(t, order.OrderID)
	assert.Equal(t, types.OrderStatusPending, got.Status)
	assert.False(t, got.IsSentToProvider)
}

func TestSyncOrderStatusesFoldsProgress(t *testing.T) {
	f := newFixture(t)
	f.api.statusResult = &provider.OrderStatus{
		Status:               types.OrderStatusProcessing,
		StartCount:           100,
		Remains:              850,
		DeliveredCount:       150,
		CompletionPercentage: 15.00,
	}

	order := f.seedOrder(t, types.OrderStatusProcessing, true, strPtr("P1"))

	require.NoError(t, f.engine.SyncOrderStatuses(context.Background()))

	got := f.reload(t, order.OrderID)
	assert.Equal(t, types.OrderStatusProcessing, got.Status)
	assert.Equal(t, 100, got.StartCount)
	assert.Equal(t, 850, got.Remains)
	assert.Equal(t, 150, got.DeliveredCount)
	assert.Equal(t, 15.00, got.CompletionPercentage)
}

func TestSyncOrderStatusesCompletesOrder(t *testing.T) {
	f := newFixture(t)
	f.api.statusResult = &provider.OrderStatus{
		Status:               types.OrderStatusCompleted,
		StartCount:           100,
		DeliveredCount:       1000,
		CompletionPercentage: 100,
	}

	order := f.seedOrder(t, types.OrderStatusProcessing, true, strPtr("P1"))

	require.NoError(t, f.engine.SyncOrderStatuses(context.Background()))

	got := f.reload(t, order.OrderID)
	assert.Equal(t, types.OrderStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Zero(t, f.refundCount(t, order.OrderID))
}

func TestTerminalOrdersAreImmutable(t *testing.T) {
	f := newFixture(t)
	f.api.statusResult = &provider.OrderStatus{
		Status:               types.OrderStatusProcessing,
		StartCount:           999,
		DeliveredCount:       999,
		CompletionPercentage: 99.9,
	}

	order := f.seedOrder(t, types.OrderStatusCompleted, true, strPtr("P1"))
	require.NoError(t, f.db.Model(&types.Order{}).
		Where("order_id = ?", order.OrderID).
		Updates(map[string]interface{}{
			"delivered_count":       1000,
			"completion_percentage": 100.0,
		}).Error)

	// Terminal orders are not selected by Duty B at all.
	require.NoError(t, f.engine.SyncOrderStatuses(context.Background()))
	_, statusCalls := f.api.calls()
	assert.Zero(t, statusCalls)

	// Even a direct fold attempt cannot mutate them.
	applied, err := f.engine.db.ApplyStatus(order.OrderID, f.api.statusResult)
	require.NoError(t, err)
	assert.False(t, applied)

	got := f.reload(t, order.OrderID)
	assert.Equal(t, types.OrderStatusCompleted, got.Status)
	assert.Equal(t, 1000, got.DeliveredCount)
	assert.Equal(t, 100.0, got.CompletionPercentage)
}

func TestSyncSingleOrderEligibility(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.engine.SyncSingleOrder(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("never placed with a provider", func(t *testing.T) {
		order := f.seedOrder(t, types.OrderStatusPending, false, nil)
		_, err := f.engine.SyncSingleOrder(context.Background(), order.OrderID)
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("terminal order", func(t *testing.T) {
		order := f.seedOrder(t, types.OrderStatusCancelled, true, strPtr("P1"))
		_, err := f.engine.SyncSingleOrder(context.Background(), order.OrderID)
		assert.ErrorIs(t, err, ErrNotEligible)
	})

	t.Run("unbound service", func(t *testing.T) {
		order := f.seedOrder(t, types.OrderStatusProcessing, true, strPtr("P1"))
		require.NoError(t, f.db.Model(&types.Service{}).
			Where("service_id = ?", f.service.ServiceID).
			Update("provider_id", nil).Error)
		_, err := f.engine.SyncSingleOrder(context.Background(), order.OrderID)
		assert.ErrorIs(t, err, ErrNotEligible)
	})
}

func TestSyncSingleOrderDoesNotRefund(t *testing.T) {
	f := newFixture(t)
	f.api.statusResult = &provider.OrderStatus{Status: types.OrderStatusCancelled}

	order := f.seedOrder(t, types.OrderStatusProcessing, true, strPtr("P1"))

	result, err := f.engine.SyncSingleOrder(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.True(t, result.Synced)
	assert.Equal(t, types.OrderStatusCancelled, result.Status)

	// The on-demand path only reflects provider state; money moves through
	// the batch engine or the admin cancel path.
	assert.Equal(t, 0.00, f.balance(t))
	assert.Zero(t, f.refundCount(t, order.OrderID))
}

func TestEndToEndPlacementCancellationRefund(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&types.User{}).
		Where("user_id = ?", f.user.UserID).
		Update("balance", 0).Error)

	// A freshly placed order: pending, never sent, wallet already debited.
	order := f.seedOrder(t, types.OrderStatusPending, false, nil)

	// Tick 1: Duty A hands it to the provider.
	f.api.placeResult = &provider.PlaceOrderResult{ProviderOrderID: "P1"}
	f.api.statusResult = &provider.OrderStatus{Status: types.OrderStatusProcessing}
	f.engine.RunTick(context.Background())

	got := f.reload(t, order.OrderID)
	assert.True(t, got.IsSentToProvider)
	require.NotNil(t, got.ProviderOrderID)
	assert.Equal(t, "P1", *got.ProviderOrderID)
	assert.Equal(t, types.OrderStatusProcessing, got.Status)

	// Tick 2: the provider reports the order cancelled; the engine folds
	// the status and refunds exactly once.
	f.api.mu.Lock()
	f.api.statusResult = &provider.OrderStatus{Status: types.OrderStatusCancelled}
	f.api.mu.Unlock()
	f.engine.RunTick(context.Background())

	got = f.reload(t, order.OrderID)
	assert.Equal(t, types.OrderStatusCancelled, got.Status)
	assert.Equal(t, 50.00, f.balance(t))
	assert.EqualValues(t, 1, f.refundCount(t, order.OrderID))

	// Tick 3: the order is terminal and no longer selected; nothing moves.
	_, statusCallsBefore := f.api.calls()
	f.engine.RunTick(context.Background())
	_, statusCallsAfter := f.api.calls()
	assert.Equal(t, statusCallsBefore, statusCallsAfter)
	assert.Equal(t, 50.00, f.balance(t))
	assert.EqualValues(t, 1, f.refundCount(t, order.OrderID))
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t)

	f.engine.Start()
	f.engine.Start()

	done := make(chan struct{})
	go func() {
		f.engine.Stop()
		f.engine.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	// A stopped engine can be started again.
	f.engine.Start()
	f.engine.Stop()
}

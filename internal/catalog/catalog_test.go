package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/smmkit/panel-api/internal/database"
	"github.com/smmkit/panel-api/internal/provider"
	"github.com/smmkit/panel-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeCatalogAPI struct {
	balance  *provider.Balance
	services []provider.CatalogService
	err      error
}

func (f *fakeCatalogAPI) FetchBalance(ctx context.Context, p *types.Provider) (*provider.Balance, error) {
	return f.balance, f.err
}

func (f *fakeCatalogAPI) FetchServices(ctx context.Context, p *types.Provider) ([]provider.CatalogService, error) {
	return f.services, f.err
}

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

func TestRefreshBalance(t *testing.T) {
	db := newTestDB(t)
	api := &fakeCatalogAPI{balance: &provider.Balance{Balance: 321.50, Currency: "USD"}}
	service := NewService(db, api)

	p, err := service.RegisterProvider("upstream", "https://upstream.example", "k", true)
	require.NoError(t, err)

	refreshed, err := service.RefreshBalance(context.Background(), p.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, 321.50, refreshed.CachedBalance)
	assert.Equal(t, "USD", refreshed.BalanceCurrency)
	assert.NotNil(t, refreshed.BalanceSyncedAt)

	_, err = service.RefreshBalance(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestImportServices(t *testing.T) {
	db := newTestDB(t)
	api := &fakeCatalogAPI{services: []provider.CatalogService{
		{ServiceID: "101", Name: "Followers - HQ", Category: "Followers", Rate: 2.00, Min: 50, Max: 50000},
		{ServiceID: "102", Name: "Video Views", Category: "Views", Rate: 0.80, Min: 100, Max: 1000000},
	}}
	service := NewService(db, api)

	p, err := service.RegisterProvider("upstream", "https://upstream.example", "k", true)
	require.NoError(t, err)

	imported, err := service.ImportServices(context.Background(), p.ProviderID, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	var followers types.Service
	require.NoError(t, db.Where("provider_id = ? AND provider_service_id = ?", p.ProviderID, "101").
		First(&followers).Error)
	assert.Equal(t, 2.50, followers.Rate)
	assert.False(t, followers.Active, "imported services start inactive")

	// Re-import updates in place instead of duplicating.
	api.services[0].Rate = 3.00
	imported, err = service.ImportServices(context.Background(), p.ProviderID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	var count int64
	require.NoError(t, db.Model(&types.Service{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	require.NoError(t, db.Where("provider_id = ? AND provider_service_id = ?", p.ProviderID, "101").
		First(&followers).Error)
	assert.Equal(t, 3.00, followers.Rate)
}

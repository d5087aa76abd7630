package catalog

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

func (d *Database) CreateProvider(p *types.Provider) error {
	return d.db.Create(p).Error
}

func (d *Database) GetProvider(providerID string) (*types.Provider, error) {
	var p types.Provider
	if err := d.db.Where("provider_id = ?", providerID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (d *Database) ListProviders() ([]types.Provider, error) {
	var providers []types.Provider
	if err := d.db.Order("name ASC").Find(&providers).Error; err != nil {
		return nil, err
	}
	return providers, nil
}

func (d *Database) UpdateProvider(p *types.Provider) error {
	return d.db.Save(p).Error
}

func (d *Database) ListActiveServices() ([]types.Service, error) {
	var services []types.Service
	if err := d.db.Where("active = ?", true).Order("category ASC, name ASC").Find(&services).Error; err != nil {
		return nil, err
	}
	return services, nil
}

// GetServiceByProviderBinding finds the local service mirroring a provider's
// own catalog entry, used to upsert on repeated imports.
func (d *Database) GetServiceByProviderBinding(providerID, providerServiceID string) (*types.Service, error) {
	var service types.Service
	err := d.db.Where("provider_id = ? AND provider_service_id = ?", providerID, providerServiceID).
		First(&service).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &service, nil
}

func (d *Database) CreateService(s *types.Service) error {
	return d.db.Create(s).Error
}

func (d *Database) UpdateService(s *types.Service) error {
	return d.db.Save(s).Error
}

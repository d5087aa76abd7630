package fulfillment

import (
	"errors"
	"time"

	"github.com/smmkit/panel-api/internal/provider"
	"github.com/smmkit/panel-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetPendingUnsent selects the orders Duty A retries: created but never
// successfully handed to a provider.
func (d *Database) GetPendingUnsent() ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("status = ? AND is_sent_to_provider = ?", types.OrderStatusPending, false).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// GetInFlight selects the orders Duty B polls: placed with a provider and not
// yet in a terminal state.
func (d *Database) GetInFlight() ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("provider_order_id IS NOT NULL AND status NOT IN ?", types.TerminalStatuses).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
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

// MarkSentToProvider records a successful placement. The provider order id,
// the sent flag and the processing status are one logical transition and are
// written in a single update; the is_sent_to_provider guard makes the
// transition happen at most once per order.
func (d *Database) MarkSentToProvider(orderID, providerOrderID string) (bool, error) {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND is_sent_to_provider = ?", orderID, false).
		Updates(map[string]interface{}{
			"provider_order_id":   providerOrderID,
			"is_sent_to_provider": true,
			"status":              types.OrderStatusProcessing,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ApplyStatus folds a provider-reported status record into the order. The
// provider is the system of record for the progress fields, so they are
// always overwritten. The terminal-status guard keeps completed and cancelled
// orders immutable no matter how often a tick re-selects them.
func (d *Database) ApplyStatus(orderID string, status *provider.OrderStatus) (bool, error) {
	updates := map[string]interface{}{
		"status":                status.Status,
		"start_count":           status.StartCount,
		"remains":               status.Remains,
		"delivered_count":       status.DeliveredCount,
		"completion_percentage": status.CompletionPercentage,
	}
	if status.Status == types.OrderStatusCompleted {
		updates["completed_at"] = time.Now()
	}

	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status NOT IN ?", orderID, types.TerminalStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// IncrementSendAttempts bumps the visibility counter for Duty A retries.
// Nothing acts on the value; it exists so operators can spot orders stuck on
// a failing provider.
func (d *Database) IncrementSendAttempts(orderID string) error {
	return d.db.Model(&types.Order{}).
		Where("order_id = ?", orderID).
		Update("send_attempts", gorm.Expr("send_attempts + 1")).Error
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

func (d *Database) GetProviderByProviderID(providerID string) (*types.Provider, error) {
	var p types.Provider
	if err := d.db.Where("provider_id = ?", providerID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

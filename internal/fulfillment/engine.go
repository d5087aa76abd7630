package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/smmkit/panel-api/internal/provider"
	"github.com/smmkit/panel-api/internal/types"
	"github.com/smmkit/panel-api/internal/wallet"
	"gorm.io/gorm"
)

// ErrNotEligible marks an order that cannot be synced against a provider:
// it was never placed upstream, its service has no provider binding, or it
// has already reached a terminal state.
var ErrNotEligible = errors.New("order is not eligible for provider sync")

// ProviderAPI is the slice of the provider client the engine uses.
type ProviderAPI interface {
	PlaceOrder(ctx context.Context, p *types.Provider, providerServiceID, link string, quantity int) (*provider.PlaceOrderResult, error)
	CheckStatus(ctx context.Context, p *types.Provider, providerOrderID string) (*provider.OrderStatus, error)
}

// Engine is the recurring reconciliation process. Each tick runs Duty A
// (retry orders never sent to a provider) and then Duty B (poll provider
// status for in-flight orders, folding results back into the local rows and
// auto-refunding provider-side cancellations). One goroutine owns the loop,
// so ticks never overlap; a failure on one order is logged and the loop
// moves on to the next.
type Engine struct {
	db       *Database
	wallet   *wallet.Service
	api      ProviderAPI
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewEngine(gormDB *gorm.DB, walletService *wallet.Service, api ProviderAPI, interval time.Duration) *Engine {
	return &Engine{
		db:       NewDatabase(gormDB),
		wallet:   walletService,
		api:      api,
		interval: interval,
	}
}

// Start launches the periodic loop. Calling Start while already running is a
// no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	go e.loop(e.stop, e.done)

	log.Info().Dur("interval", e.interval).Msg("fulfillment engine started")
}

// Stop halts the periodic loop and waits for an in-flight tick to finish.
// An in-flight provider call is allowed to complete, bounded by its own
// timeout. Calling Stop while not running is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done

	log.Info().Msg("fulfillment engine stopped")
}

func (e *Engine) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.RunTick(context.Background())
		}
	}
}

// RunTick executes one reconciliation pass: Duty A fully completes before
// Duty B starts. Storage-level failures abandon the rest of the duty for
// this tick; the status-based query predicates re-select the same orders on
// the next tick, so nothing is lost.
func (e *Engine) RunTick(ctx context.Context) {
	if err := e.RetryPendingOrders(ctx); err != nil {
		log.Error().Err(err).Msg("retry of pending orders failed")
	}
	if err := e.SyncOrderStatuses(ctx); err != nil {
		log.Error().Err(err).Msg("sync of order statuses failed")
	}
}

// RetryPendingOrders is Duty A: place every pending, never-sent order with
// its provider. Placement failures are expected and transient; the order is
// left untouched for the next tick. A missing provider binding means the
// catalog is misconfigured, which is logged and skipped rather than treated
// as an engine error.
func (e *Engine) RetryPendingOrders(ctx context.Context) error {
	orders, err := e.db.GetPendingUnsent()
	if err != nil {
		return fmt.Errorf("select pending unsent orders: %w", err)
	}

	for i := range orders {
		order := &orders[i]
		logger := log.With().Str("order_id", order.OrderID).Logger()

		svc, prov, err := e.resolveBinding(order)
		if err != nil {
			logger.Error().Err(err).Msg("cannot resolve provider binding")
			continue
		}
		if svc == nil || prov == nil {
			logger.Warn().Str("service_id", order.ServiceID).Msg("order has no usable provider binding, skipping")
			continue
		}

		if err := e.db.IncrementSendAttempts(order.OrderID); err != nil {
			logger.Error().Err(err).Msg("failed to record send attempt")
		}

		result, err := e.api.PlaceOrder(ctx, prov, *svc.ProviderServiceID, order.TargetURL, order.Quantity)
		if err != nil {
			logger.Warn().Err(err).Msg("provider placement failed, will retry next tick")
			continue
		}

		marked, err := e.db.MarkSentToProvider(order.OrderID, result.ProviderOrderID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to mark order as sent")
			continue
		}
		if marked {
			logger.Info().Str("provider_order_id", result.ProviderOrderID).Msg("order placed with provider")
		}
	}

	return nil
}

// SyncOrderStatuses is Duty B: poll provider status for every in-flight
// order and fold the result into the local row. A transition into cancelled
// triggers the idempotent refund protocol.
func (e *Engine) SyncOrderStatuses(ctx context.Context) error {
	orders, err := e.db.GetInFlight()
	if err != nil {
		return fmt.Errorf("select in-flight orders: %w", err)
	}

	for i := range orders {
		order := &orders[i]
		if err := e.syncOrder(ctx, order, true); err != nil {
			log.Warn().Err(err).Str("order_id", order.OrderID).Msg("order sync failed, will retry next tick")
		}
	}

	return nil
}

// SyncSingleOrder is the on-demand variant of Duty B, scoped to one order.
// It reflects provider-reported status only; it does not refund, so a
// user-triggered sync can never move money. Ineligible orders are rejected
// with ErrNotEligible.
func (e *Engine) SyncSingleOrder(ctx context.Context, orderID string) (*types.SyncResult, error) {
	order, err := e.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s not found", ErrNotEligible, orderID)
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrNotEligible, orderID, order.Status)
	}
	if order.ProviderOrderID == nil {
		return nil, fmt.Errorf("%w: order %s was never placed with a provider", ErrNotEligible, orderID)
	}

	if err := e.syncOrder(ctx, order, false); err != nil {
		return nil, err
	}

	updated, err := e.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}

	return &types.SyncResult{
		OrderID: updated.OrderID,
		Status:  updated.Status,
		Synced:  true,
	}, nil
}

// syncOrder polls the provider for one order and applies the result. When
// allowRefund is set and the fold transitions the order into cancelled, the
// user's wallet is credited through the idempotent refund protocol.
func (e *Engine) syncOrder(ctx context.Context, order *types.Order, allowRefund bool) error {
	if order.ProviderOrderID == nil {
		return fmt.Errorf("%w: order %s has no provider order id", ErrNotEligible, order.OrderID)
	}

	svc, prov, err := e.resolveBinding(order)
	if err != nil {
		return err
	}
	if svc == nil || prov == nil {
		return fmt.Errorf("%w: order %s has no usable provider binding", ErrNotEligible, order.OrderID)
	}

	status, err := e.api.CheckStatus(ctx, prov, *order.ProviderOrderID)
	if err != nil {
		return err
	}

	applied, err := e.db.ApplyStatus(order.OrderID, status)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	log.Debug().
		Str("order_id", order.OrderID).
		Str("status", string(status.Status)).
		Float64("completion", status.CompletionPercentage).
		Msg("order status synced")

	if allowRefund && status.Status == types.OrderStatusCancelled && order.Status != types.OrderStatusCancelled {
		desc := fmt.Sprintf("Refund for order %s: cancelled by provider", order.OrderID)
		if _, err := e.wallet.RefundOrder(order, desc); err != nil {
			return fmt.Errorf("refund after provider cancellation: %w", err)
		}
	}

	return nil
}

// resolveBinding loads the order's service and, when the service is bound,
// its active provider. A nil service or provider result means the binding is
// unusable (missing, unbound, or the provider is disabled).
func (e *Engine) resolveBinding(order *types.Order) (*types.Service, *types.Provider, error) {
	svc, err := e.db.GetServiceByServiceID(order.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	if svc == nil || svc.ProviderID == nil || svc.ProviderServiceID == nil {
		return nil, nil, nil
	}

	prov, err := e.db.GetProviderByProviderID(*svc.ProviderID)
	if err != nil {
		return nil, nil, err
	}
	if prov == nil || !prov.Active {
		return svc, nil, nil
	}

	return svc, prov, nil
}

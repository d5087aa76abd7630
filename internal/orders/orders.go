package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/smmkit/panel-api/internal/fulfillment"
	"github.com/smmkit/panel-api/internal/types"
	"github.com/smmkit/panel-api/internal/wallet"
	"github.com/smmkit/panel-api/pkg/response"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrServiceUnavailable = errors.New("service is not available")
	ErrQuantityOutOfRange = errors.New("quantity outside service limits")
	ErrNotCancellable     = errors.New("order can no longer be cancelled by its owner")
	ErrAlreadyTerminal    = errors.New("order is already completed or cancelled")
	ErrReasonRequired     = errors.New("cancellation reason is required")
)

// Syncer is the slice of the reconciliation engine the order handlers need:
// on-demand single-order sync and a manually triggered full tick.
type Syncer interface {
	SyncSingleOrder(ctx context.Context, orderID string) (*types.SyncResult, error)
	RunTick(ctx context.Context)
}

// Service handles order placement and the synchronous cancellation paths.
// Provider placement is deliberately not part of placement: orders are
// created pending and unsent, and the reconciliation engine picks them up on
// its next tick.
type Service struct {
	db     *Database
	wallet *wallet.Service
}

func NewService(gormDB *gorm.DB, walletService *wallet.Service) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		wallet: walletService,
	}
}

// GetDB exposes the database layer for collaborators and tests.
func (s *Service) GetDB() *Database {
	return s.db
}

// PlaceOrder validates the service and quantity, debits the wallet and
// creates the order in one transaction, then returns immediately. The order
// is handed to the provider asynchronously by the engine.
func (s *Service) PlaceOrder(userID, serviceID, targetURL string, quantity int) (*types.Order, error) {
	service, err := s.db.GetServiceByServiceID(serviceID)
	if err != nil {
		return nil, err
	}
	if service == nil || !service.Active {
		return nil, ErrServiceUnavailable
	}
	if quantity < service.MinQuantity || quantity > service.MaxQuantity {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]",
			ErrQuantityOutOfRange, quantity, service.MinQuantity, service.MaxQuantity)
	}

	totalPrice := math.Round(service.Rate*float64(quantity)/1000*100) / 100

	order := &types.Order{
		OrderID:    uuid.New().String(),
		UserID:     userID,
		ServiceID:  serviceID,
		TargetURL:  targetURL,
		Quantity:   quantity,
		TotalPrice: totalPrice,
		Status:     types.OrderStatusPending,
	}

	txn := &types.Transaction{
		TransactionID: uuid.New().String(),
		UserID:        userID,
		Type:          types.TransactionTypeOrder,
		Amount:        totalPrice,
		Description:   fmt.Sprintf("Order %s: %s x%d", order.OrderID, service.Name, quantity),
		OrderID:       &order.OrderID,
		Status:        "completed",
		Reference:     "TXN_" + uuid.New().String(),
	}

	if err := s.db.CreateOrderWithDebit(order, txn); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("user_id", userID).
		Str("service_id", serviceID).
		Int("quantity", quantity).
		Float64("total_price", totalPrice).
		Msg("order placed")

	return order, nil
}

// UserCancel is the self-service cancellation path. It is permitted only
// while the order is pending and has never been sent to a provider; the
// status flip and the guard are one conditional update, and the refund runs
// through the shared idempotent protocol.
func (s *Service) UserCancel(userID, orderID string) (*types.Order, error) {
	order, err := s.db.GetOrderByOrderIDAndUserID(orderID, userID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	cancelled, err := s.db.CancelPendingUnsent(order.OrderID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, ErrNotCancellable
	}

	if _, err := s.wallet.RefundOrder(order, fmt.Sprintf("Refund for order %s: cancelled by user", order.OrderID)); err != nil {
		return nil, err
	}

	return s.db.GetOrder(order.OrderID)
}

// AdminCancel cancels any not-yet-terminal order with a required reason. It
// can cancel orders already sent to the provider; it does not contact the
// provider to cancel upstream, it only unwinds the local financial position
// through the same idempotent refund protocol as the engine's auto-cancel.
func (s *Service) AdminCancel(orderID, reason string) (*types.Order, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	cancelled, err := s.db.CancelNonTerminal(order.OrderID, reason)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, ErrAlreadyTerminal
	}

	if _, err := s.wallet.RefundOrder(order, fmt.Sprintf("Refund for order %s: cancelled by admin (%s)", order.OrderID, reason)); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("reason", reason).
		Msg("order cancelled by admin")

	return s.db.GetOrder(order.OrderID)
}

// GinHandlers contains HTTP handlers for order endpoints.
type GinHandlers struct {
	service *Service
	syncer  Syncer
}

func NewGinHandlers(service *Service, syncer Syncer) *GinHandlers {
	return &GinHandlers{
		service: service,
		syncer:  syncer,
	}
}

// CreateOrderHandler handles POST requests to place a new order.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req types.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.PlaceOrder(userID, req.ServiceID, req.TargetURL, req.Quantity)
		switch {
		case err == nil:
			response.Success(c, order)
		case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrQuantityOutOfRange):
			response.BadRequest(c, err.Error())
		case errors.Is(err, wallet.ErrInsufficientBalance):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, "Failed to place order")
		}
	}
}

// ListOrdersHandler handles GET requests for the caller's orders.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orders, err := h.service.db.GetUserOrders(userID)
		response.Handle(c, orders, err)
	}
}

// GetOrderHandler handles GET requests for one of the caller's orders.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		orderID := c.Param("order_id")

		order, err := h.service.db.GetOrderByOrderIDAndUserID(orderID, userID)
		if err != nil {
			response.InternalError(c, "Failed to fetch order")
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Success(c, order)
	}
}

// CancelOrderHandler handles POST requests for user self-cancellation.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		orderID := c.Param("order_id")

		order, err := h.service.UserCancel(userID, orderID)
		switch {
		case err == nil:
			response.Success(c, order)
		case errors.Is(err, ErrOrderNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrNotCancellable):
			response.Conflict(c, err.Error())
		default:
			response.InternalError(c, "Failed to cancel order")
		}
	}
}

// SyncOrderHandler handles POST requests for on-demand single-order sync.
// The caller must own the order; ineligible orders get an explicit rejection
// rather than a silent no-op.
func (h *GinHandlers) SyncOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		orderID := c.Param("order_id")

		order, err := h.service.db.GetOrderByOrderIDAndUserID(orderID, userID)
		if err != nil {
			response.InternalError(c, "Failed to fetch order")
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		result, err := h.syncer.SyncSingleOrder(c.Request.Context(), order.OrderID)
		switch {
		case err == nil:
			response.Success(c, result)
		case errors.Is(err, fulfillment.ErrNotEligible):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, "Failed to sync order")
		}
	}
}

// AdminCancelOrderHandler handles POST requests for reasoned admin
// cancellation.
func (h *GinHandlers) AdminCancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		var req types.CancelOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.AdminCancel(orderID, req.Reason)
		switch {
		case err == nil:
			response.Success(c, order)
		case errors.Is(err, ErrReasonRequired):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrOrderNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, ErrAlreadyTerminal):
			response.Conflict(c, err.Error())
		default:
			response.InternalError(c, "Failed to cancel order")
		}
	}
}

// AdminListOrdersHandler handles GET requests for all orders.
func (h *GinHandlers) AdminListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.db.GetAllOrders()
		response.Handle(c, orders, err)
	}
}

// AdminSyncHandler triggers a full reconciliation tick immediately. The tick
// runs inline so the admin sees a completed pass when the request returns.
func (h *GinHandlers) AdminSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		h.syncer.RunTick(c.Request.Context())
		response.Success(c, gin.H{
			"synced_at":   time.Now(),
			"duration_ms": time.Since(started).Milliseconds(),
		})
	}
}

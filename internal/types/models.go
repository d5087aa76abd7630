package types

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus is the canonical five-value order state used everywhere
// internally, independent of any provider's own status vocabulary.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPartial    OrderStatus = "partial"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal reports whether no further status-derived mutation is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// TerminalStatuses is used in query predicates that exclude finished orders.
var TerminalStatuses = []OrderStatus{OrderStatusCompleted, OrderStatusCancelled}

// Transaction types for the wallet ledger.
const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeOrder      = "order"
	TransactionTypeRefund     = "refund"
	TransactionTypeReferral   = "referral"
	TransactionTypeWithdrawal = "withdrawal"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	gorm.Model   `json:"-"`
	UserID       string  `gorm:"uniqueIndex" json:"user_id"`
	Email        string  `gorm:"uniqueIndex" json:"email"`
	PasswordHash string  `json:"-"`
	Role         string  `json:"role"`
	Balance      float64 `json:"balance"`
}

// Provider is an upstream reseller account. Orders placed against a
// provider-bound service are fulfilled through its HTTP API.
type Provider struct {
	gorm.Model      `json:"-"`
	ProviderID      string     `gorm:"uniqueIndex" json:"provider_id"`
	Name            string     `json:"name"`
	APIURL          string     `json:"api_url"`
	APIKey          string     `json:"-"`
	Active          bool       `json:"active"`
	CachedBalance   float64    `json:"cached_balance"`
	BalanceCurrency string     `json:"balance_currency"`
	BalanceSyncedAt *time.Time `json:"balance_synced_at,omitempty"`
}

// Service is a sellable catalog item. Rate is the price per 1000 units.
// Services with no provider binding cannot be auto-fulfilled.
type Service struct {
	gorm.Model        `json:"-"`
	ServiceID         string  `gorm:"uniqueIndex" json:"service_id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	Rate              float64 `json:"rate"`
	MinQuantity       int     `json:"min_quantity"`
	MaxQuantity       int     `json:"max_quantity"`
	Active            bool    `json:"active"`
	ProviderID        *string `gorm:"index" json:"provider_id,omitempty"`
	ProviderServiceID *string `json:"provider_service_id,omitempty"`
}

// Order is one user's purchase of one service. TotalPrice is immutable after
// creation. ProviderOrderID is non-nil iff IsSentToProvider is true; both are
// set together, exactly once, when placement with the provider succeeds.
// RefundedAt gates the refund protocol: it is set by a single conditional
// update and an order whose RefundedAt is non-nil is never refunded again.
type Order struct {
	gorm.Model           `json:"-"`
	OrderID              string      `gorm:"uniqueIndex" json:"order_id"`
	UserID               string      `gorm:"index" json:"user_id"`
	ServiceID            string      `gorm:"index" json:"service_id"`
	TargetURL            string      `json:"target_url"`
	Quantity             int         `json:"quantity"`
	TotalPrice           float64     `json:"total_price"`
	Status               OrderStatus `gorm:"index" json:"status"`
	IsSentToProvider     bool        `json:"is_sent_to_provider"`
	ProviderOrderID      *string     `gorm:"index" json:"provider_order_id,omitempty"`
	StartCount           int         `json:"start_count"`
	Remains              int         `json:"remains"`
	DeliveredCount       int         `json:"delivered_count"`
	CompletionPercentage float64     `json:"completion_percentage"`
	CancelReason         *string     `json:"cancel_reason,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
	RefundedAt           *time.Time  `json:"refunded_at,omitempty"`
	SendAttempts         int         `json:"send_attempts"`
}

// Transaction is an append-only ledger entry for a wallet balance change.
// Rows are never edited or deleted after creation.
type Transaction struct {
	gorm.Model    `json:"-"`
	TransactionID string  `gorm:"uniqueIndex" json:"transaction_id"`
	UserID        string  `gorm:"index" json:"user_id"`
	Type          string  `gorm:"index" json:"type"`
	Amount        float64 `json:"amount"`
	Description   string  `json:"description"`
	OrderID       *string `gorm:"index" json:"order_id,omitempty"`
	Status        string  `json:"status"`
	Reference     string  `gorm:"uniqueIndex" json:"reference"`
}

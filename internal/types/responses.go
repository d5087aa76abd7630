package types

// CreateOrderRequest is the payload for placing a new order.
type CreateOrderRequest struct {
	ServiceID string `json:"service_id" binding:"required"`
	TargetURL string `json:"target_url" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

// CancelOrderRequest carries the reason for an admin cancellation.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// ImportServicesRequest configures a provider catalog import.
type ImportServicesRequest struct {
	MarkupPercent float64 `json:"markup_percent"`
}

// CreateProviderRequest registers a new upstream provider account.
type CreateProviderRequest struct {
	Name   string `json:"name" binding:"required"`
	APIURL string `json:"api_url" binding:"required"`
	APIKey string `json:"api_key" binding:"required"`
	Active bool   `json:"active"`
}

// SyncResult reports the outcome of an on-demand single-order sync.
type SyncResult struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Synced  bool        `json:"synced"`
}

package provider

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/smmkit/panel-api/internal/types"
)

// Action is the closed set of operations the upstream provider API supports.
// Every request carries exactly one of these in its "action" form field.
type Action string

const (
	ActionAdd      Action = "add"
	ActionStatus   Action = "status"
	ActionBalance  Action = "balance"
	ActionServices Action = "services"
)

// PlaceOrderResult is the normalized outcome of a successful "add" call.
type PlaceOrderResult struct {
	ProviderOrderID string
}

// OrderStatus is the canonical status record derived from a "status" reply.
// Progress fields default to zero when the provider does not report them.
type OrderStatus struct {
	Status               types.OrderStatus
	StartCount           int
	Remains              int
	DeliveredCount       int
	CompletionPercentage float64
}

// Balance is the normalized outcome of a "balance" call.
type Balance struct {
	Balance  float64
	Currency string
}

// CatalogService is one entry of a provider's service list.
type CatalogService struct {
	ServiceID string
	Name      string
	Category  string
	Rate      float64
	Min       int
	Max       int
}

// Providers disagree on whether numeric fields are JSON numbers or quoted
// strings, so the raw response types decode both.

type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

func (f flexString) String() string { return string(f) }

func (f flexString) Float() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	if err != nil {
		return 0
	}
	return v
}

func (f flexString) Int() int { return int(f.Float()) }

type addResponse struct {
	Order flexString `json:"order"`
	Error flexString `json:"error"`
}

type statusResponse struct {
	Status       flexString `json:"status"`
	StartCount   flexString `json:"start_count"`
	Remains      flexString `json:"remains"`
	Current      flexString `json:"current"`
	CurrentCount flexString `json:"current_count"`
	Charge       flexString `json:"charge"`
	Error        flexString `json:"error"`
}

type balanceResponse struct {
	Balance  flexString `json:"balance"`
	Currency flexString `json:"currency"`
	Error    flexString `json:"error"`
}

type catalogEntry struct {
	Service  flexString `json:"service"`
	Name     flexString `json:"name"`
	Category flexString `json:"category"`
	Rate     flexString `json:"rate"`
	Min      flexString `json:"min"`
	Max      flexString `json:"max"`
}

// MapStatus normalizes an arbitrary provider status string into the five
// canonical states. Unrecognized values map to pending so an order is never
// pushed into a terminal state by a vocabulary the mapper does not know.
func MapStatus(raw string) types.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete":
		return types.OrderStatusCompleted
	case "processing", "in progress", "inprogress", "in_progress":
		return types.OrderStatusProcessing
	case "partial":
		return types.OrderStatusPartial
	case "cancelled", "canceled", "refunded":
		return types.OrderStatusCancelled
	default:
		return types.OrderStatusPending
	}
}

// deriveProgress computes delivered count and completion percentage from the
// provider-reported start count, running current count and total charge.
// Missing inputs yield zero rather than negative or NaN results.
func deriveProgress(startCount, currentCount int, charge float64) (delivered int, percentage float64) {
	delivered = currentCount - startCount
	if delivered < 0 {
		delivered = 0
	}
	if charge > 0 {
		percentage = 100 * float64(delivered) / charge
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	return delivered, math.Round(percentage*100) / 100
}

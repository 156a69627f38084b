package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// OrderStatus enumerates the lifecycle states of a storefront order.
type OrderStatus string

const (
	// OrderStatusConfirmed is the initial state of every persisted order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the kitchen has started on the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is ready for pickup or dispatch.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusCompleted indicates the order was handed over to the customer.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled is terminal and reachable from any non-terminal state.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusConfirmed: {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusCompleted, OrderStatusCancelled},
}

// ParseOrderStatus validates a raw status value supplied by a caller.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return status, true
	}
	return "", false
}

// CanTransition reports whether an order may move from current to target.
// Re-entering the current status is allowed and treated as a no-op by callers.
func CanTransition(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(orderStatusTransitions[current], target)
}

// IsTerminal reports whether no further transitions are possible from status.
func IsTerminal(status OrderStatus) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}

// LineItem is a single priced entry on an order. Amounts are major currency
// units. LineTotal is authoritative when the originating source supplies it;
// otherwise it defaults to Qty*UnitPrice.
type LineItem struct {
	Name      string
	Qty       int64
	UnitPrice int64
	LineTotal int64
}

// NormalizeTotal returns the effective line total, falling back to the
// computed product when no explicit total was supplied.
func (li LineItem) NormalizeTotal() int64 {
	if li.LineTotal > 0 {
		return li.LineTotal
	}
	return li.UnitPrice * li.Qty
}

// CustomerInfo holds optional customer contact details attached to an order.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// FulfilmentInfo describes how the order reaches the customer. A nested
// Customer block may carry contact details collected by the fulfilment flow
// when the primary block is empty.
type FulfilmentInfo struct {
	Method   string
	Address  string
	Notes    string
	Customer *CustomerInfo
}

// StatusEnvelope is the structured sub-record carrying an order's lifecycle
// state and associated metadata. It is validated at write time; no field is
// ever stored as an opaque serialized blob.
type StatusEnvelope struct {
	Status          OrderStatus
	StatusUpdatedAt time.Time
	NotifiedReady   bool
	Items           []LineItem
	Customer        CustomerInfo
	Fulfilment      FulfilmentInfo
}

// Order is the persisted record and single source of truth for an order.
// The flat customer fields are denormalized copies of the envelope contact
// details, backfilled lazily the first time they are discovered.
type Order struct {
	ID            string
	Date          string
	Currency      string
	Revenue       int64
	Cost          int64
	Envelope      StatusEnvelope
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizedOrder is the canonical transient representation of an order,
// rebuilt from the current Order record on every read. It is never persisted.
type NormalizedOrder struct {
	ID          string
	Status      OrderStatus
	Date        string
	Currency    string
	Revenue     int64
	Cost        int64
	Items       []LineItem
	Customer    CustomerInfo
	Fulfilment  FulfilmentInfo
	TrackingURL string
}

// Subtotal sums the effective line totals across all items.
func (o NormalizedOrder) Subtotal() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.NormalizeTotal()
	}
	return sum
}

// TotalPaid reconciles the item subtotal against the captured payment amount.
// The larger of the two wins, guarding against rounding drift between
// processor-side totals and per-line arithmetic.
func (o NormalizedOrder) TotalPaid() int64 {
	if subtotal := o.Subtotal(); subtotal > o.Revenue {
		return subtotal
	}
	return o.Revenue
}

// EstimateCost applies the standing direct-cost heuristic for processor-paid
// orders where the caller supplies no cost figure.
func EstimateCost(revenue int64) int64 {
	return int64(math.Round(float64(revenue) * 0.6))
}

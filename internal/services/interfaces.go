package services

import (
	"context"
	"time"

	"github.com/curryleaf/api/internal/domain"
	"github.com/curryleaf/api/internal/notify"
)

// OrderService reconciles the two order-origination paths into persisted
// records, drives the status lifecycle, and owns the customer notification
// flow around it.
type OrderService interface {
	// ConfirmFromCapture persists the order belonging to a completed payment
	// capture, identified by its processor session handle. Safe under
	// duplicate delivery: the first call creates the record, later calls
	// return the stored state unchanged.
	ConfirmFromCapture(ctx context.Context, sessionID string) (domain.NormalizedOrder, error)
	// ConfirmDirect persists an offline (cash on delivery / walk-in) order
	// submitted without processor involvement. Same idempotency contract.
	ConfirmDirect(ctx context.Context, cmd DirectOrderCommand) (domain.NormalizedOrder, error)
	// GetOrder rebuilds the read model for an existing order.
	GetOrder(ctx context.Context, orderID string) (domain.NormalizedOrder, error)
	// UpdateStatus validates and applies a lifecycle transition, dispatching
	// the ready notification at most once per order.
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (StatusUpdateResult, error)
	// RenderReceipt produces the printable receipt document for an order.
	RenderReceipt(ctx context.Context, orderID string) ([]byte, error)
}

// DirectOrderCommand carries an offline order submission.
type DirectOrderCommand struct {
	OrderID    string
	Date       string
	Currency   string
	Revenue    int64
	Cost       int64
	Items      []domain.LineItem
	Customer   domain.CustomerInfo
	Fulfilment domain.FulfilmentInfo
}

// UpdateStatusCommand requests a lifecycle transition for an order.
type UpdateStatusCommand struct {
	OrderID string
	Status  string
	// EmailOverride routes the notification to an explicit recipient,
	// taking precedence over every stored contact source.
	EmailOverride string
}

// StatusUpdateResult reports the applied transition and the notification
// outcome, which never affects the success of the update itself.
type StatusUpdateResult struct {
	OrderID      string
	Status       domain.OrderStatus
	Notification notify.SendResult
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string             `json:"type"`
	OrderID        string             `json:"orderId"`
	Status         domain.OrderStatus `json:"status,omitempty"`
	PreviousStatus domain.OrderStatus `json:"previousStatus,omitempty"`
	OccurredAt     time.Time          `json:"occurredAt"`
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// ReceiptRenderer turns the order read model into a printable document.
type ReceiptRenderer interface {
	Render(order domain.NormalizedOrder) ([]byte, error)
}

// TrackingProvider derives tracking URLs and their scannable encodings.
type TrackingProvider interface {
	URL(orderID string) string
	QRCode(trackingURL string) ([]byte, error)
}

// NotificationDispatcher sends the composed customer message. Implementations
// fold every failure mode into the SendResult; they never return errors.
type NotificationDispatcher interface {
	Send(ctx context.Context, order domain.NormalizedOrder, recipient string, qrPNG, receiptPDF []byte) notify.SendResult
}

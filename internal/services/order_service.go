package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/curryleaf/api/internal/domain"
	"github.com/curryleaf/api/internal/notify"
	"github.com/curryleaf/api/internal/payments"
	"github.com/curryleaf/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventReadyNotified = "order.ready.notified"

	offlineOrderIDPrefix = "cod_"

	orderDateLayout = "2006-01-02"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderUnavailable indicates a dependency failed and the call may be retried.
	ErrOrderUnavailable = errors.New("order: temporarily unavailable")
	// ErrPaymentNotCompleted indicates the referenced payment session was not paid.
	ErrPaymentNotCompleted = errors.New("order: payment not completed")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    payments.Provider
	Receipts    ReceiptRenderer
	Tracking    TrackingProvider
	Notifier    NotificationDispatcher
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	payments payments.Provider
	receipts ReceiptRenderer
	tracking TrackingProvider
	notifier NotificationDispatcher
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Receipts == nil {
		return nil, errors.New("order service: receipt renderer is required")
	}
	if deps.Tracking == nil {
		return nil, errors.New("order service: tracking provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		payments: deps.Payments,
		receipts: deps.Receipts,
		tracking: deps.Tracking,
		notifier: deps.Notifier,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) ConfirmFromCapture(ctx context.Context, sessionID string) (domain.NormalizedOrder, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.NormalizedOrder{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}
	if s.payments == nil {
		return domain.NormalizedOrder{}, errors.New("order service: payment provider not configured")
	}

	capture, err := s.payments.LookupCapture(ctx, sessionID)
	if err != nil {
		return domain.NormalizedOrder{}, s.mapPaymentError(sessionID, err)
	}

	order := s.fromPaymentCapture(capture)
	return s.confirm(ctx, order)
}

func (s *orderService) ConfirmDirect(ctx context.Context, cmd DirectOrderCommand) (domain.NormalizedOrder, error) {
	order, err := s.fromDirectSubmission(cmd)
	if err != nil {
		return domain.NormalizedOrder{}, err
	}
	return s.confirm(ctx, order)
}

// confirm persists the normalized order atomically. A conflict on create means
// the order already exists, so the stored record wins and is returned as-is.
func (s *orderService) confirm(ctx context.Context, order domain.Order) (domain.NormalizedOrder, error) {
	if err := s.orders.Create(ctx, order); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			existing, findErr := s.orders.FindByID(ctx, order.ID)
			if findErr != nil {
				return domain.NormalizedOrder{}, s.mapRepositoryError(findErr)
			}
			s.logger(ctx, "order.confirm.duplicate", map[string]any{
				"order":  order.ID,
				"status": string(existing.Envelope.Status),
			})
			return s.normalize(existing), nil
		}
		return domain.NormalizedOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventCreated,
		OrderID:    order.ID,
		Status:     order.Envelope.Status,
		OccurredAt: order.CreatedAt,
	})
	s.logger(ctx, "order.confirm.created", map[string]any{
		"order":    order.ID,
		"revenue":  order.Revenue,
		"currency": order.Currency,
		"items":    len(order.Envelope.Items),
	})

	return s.normalize(order), nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.NormalizedOrder, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.NormalizedOrder{}, err
	}
	return s.normalize(order), nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (StatusUpdateResult, error) {
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return StatusUpdateResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return StatusUpdateResult{}, err
	}

	current := order.Envelope.Status
	if !domain.CanTransition(current, target) {
		return StatusUpdateResult{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	// Re-entering the current status is accepted and still bumps the status
	// timestamp; only a real change publishes an event.
	now := s.clock()
	if err := s.orders.UpdateStatus(ctx, order.ID, target, now); err != nil {
		return StatusUpdateResult{}, s.mapRepositoryError(err)
	}
	order.Envelope.Status = target
	order.Envelope.StatusUpdatedAt = now

	if current != target {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			Status:         target,
			PreviousStatus: current,
			OccurredAt:     now,
		})
		s.logger(ctx, "order.status.updated", map[string]any{
			"order": order.ID,
			"from":  string(current),
			"to":    string(target),
		})
	}

	result := StatusUpdateResult{OrderID: order.ID, Status: target}

	// The ready notification goes out at most once per order. The status write
	// above has already landed, so a notification failure here leaves the order
	// ready and the flag unset for a later retry.
	if target == domain.OrderStatusReady && !order.Envelope.NotifiedReady {
		result.Notification = s.notifyReady(ctx, order, cmd.EmailOverride)
	}

	return result, nil
}

func (s *orderService) RenderReceipt(ctx context.Context, orderID string) ([]byte, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.receipts.Render(order)
}

// notifyReady resolves the recipient, renders the receipt and tracking image,
// and dispatches the message. The notify-once flag is only set after the
// transport accepts the message.
func (s *orderService) notifyReady(ctx context.Context, order domain.Order, emailOverride string) notify.SendResult {
	normalized := s.normalize(order)
	recipient := resolveRecipient(order, emailOverride)

	if recipient == "" {
		s.logger(ctx, "order.notify.skipped", map[string]any{
			"order":  order.ID,
			"reason": "no recipient",
		})
		return notify.SendResult{Outcome: notify.OutcomeUnsendable, Reason: "no recipient could be resolved"}
	}

	// Contact details resolved from the stored record are denormalized as soon
	// as they are discovered, regardless of how the send itself turns out.
	s.backfillCustomer(ctx, order)

	if s.notifier == nil {
		return notify.SendResult{Outcome: notify.OutcomeUnsendable, Recipient: recipient, Reason: "mail transport not configured"}
	}

	type rendered struct {
		pdf []byte
		err error
	}
	receiptCh := make(chan rendered, 1)
	go func() {
		pdf, err := s.receipts.Render(normalized)
		receiptCh <- rendered{pdf: pdf, err: err}
	}()

	qrPNG, qrErr := s.tracking.QRCode(normalized.TrackingURL)
	if qrErr != nil {
		s.logger(ctx, "order.notify.qr.failed", map[string]any{
			"order": order.ID,
			"error": qrErr.Error(),
		})
	}

	receipt := <-receiptCh
	if receipt.err != nil {
		s.logger(ctx, "order.notify.receipt.failed", map[string]any{
			"order": order.ID,
			"error": receipt.err.Error(),
		})
	}

	result := s.notifier.Send(ctx, normalized, recipient, qrPNG, receipt.pdf)
	if !result.Sent() {
		return result
	}

	if err := s.orders.MarkNotifiedReady(ctx, order.ID, s.clock()); err != nil {
		// The message went out but the flag write failed; a later ready
		// transition may resend. Preferable to silently dropping notifications.
		s.logger(ctx, "order.notify.flag.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       orderEventReadyNotified,
		OrderID:    order.ID,
		Status:     domain.OrderStatusReady,
		OccurredAt: s.clock(),
	})

	return result
}

// backfillCustomer denormalizes envelope contact details into the flat fields
// the first time they are observed. Best effort.
func (s *orderService) backfillCustomer(ctx context.Context, order domain.Order) {
	if order.CustomerEmail != "" && order.CustomerName != "" && order.CustomerPhone != "" {
		return
	}

	contact := effectiveCustomer(order)
	if contact == (domain.CustomerInfo{}) {
		return
	}

	if err := s.orders.BackfillCustomer(ctx, order.ID, contact); err != nil {
		s.logger(ctx, "order.customer.backfill.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

// fromPaymentCapture maps a completed processor capture into the persisted
// order shape. The session handle doubles as the order ID, which is what makes
// duplicate webhook delivery idempotent.
func (s *orderService) fromPaymentCapture(capture payments.Capture) domain.Order {
	now := s.clock()
	revenue := capture.AmountMajor

	items := make([]domain.LineItem, len(capture.Items))
	copy(items, capture.Items)

	return domain.Order{
		ID:       capture.SessionID,
		Date:     now.Format(orderDateLayout),
		Currency: capture.Currency,
		Revenue:  revenue,
		Cost:     domain.EstimateCost(revenue),
		Envelope: domain.StatusEnvelope{
			Status:          domain.OrderStatusConfirmed,
			StatusUpdatedAt: now,
			Items:           items,
			Customer:        capture.Customer,
		},
		CustomerEmail: capture.Customer.Email,
		CustomerName:  capture.Customer.Name,
		CustomerPhone: capture.Customer.Phone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *orderService) fromDirectSubmission(cmd DirectOrderCommand) (domain.Order, error) {
	if cmd.Revenue < 0 {
		return domain.Order{}, fmt.Errorf("%w: revenue must not be negative", ErrOrderInvalidInput)
	}
	if cmd.Cost < 0 {
		return domain.Order{}, fmt.Errorf("%w: cost must not be negative", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.Name) == "" {
			return domain.Order{}, fmt.Errorf("%w: item %d has no name", ErrOrderInvalidInput, i)
		}
		if item.Qty < 1 {
			return domain.Order{}, fmt.Errorf("%w: item %d has invalid quantity", ErrOrderInvalidInput, i)
		}
	}

	now := s.clock()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = offlineOrderIDPrefix + s.newID()
	}

	date := strings.TrimSpace(cmd.Date)
	if date == "" {
		date = now.Format(orderDateLayout)
	} else if _, err := time.Parse(orderDateLayout, date); err != nil {
		return domain.Order{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrOrderInvalidInput)
	}

	cost := cmd.Cost
	if cost == 0 {
		cost = domain.EstimateCost(cmd.Revenue)
	}

	items := make([]domain.LineItem, len(cmd.Items))
	copy(items, cmd.Items)

	return domain.Order{
		ID:       orderID,
		Date:     date,
		Currency: strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Revenue:  cmd.Revenue,
		Cost:     cost,
		Envelope: domain.StatusEnvelope{
			Status:          domain.OrderStatusConfirmed,
			StatusUpdatedAt: now,
			Items:           items,
			Customer:        cmd.Customer,
			Fulfilment:      cmd.Fulfilment,
		},
		CustomerEmail: cmd.Customer.Email,
		CustomerName:  cmd.Customer.Name,
		CustomerPhone: cmd.Customer.Phone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) normalize(order domain.Order) domain.NormalizedOrder {
	status := order.Envelope.Status
	if status == "" {
		status = domain.OrderStatusConfirmed
	}

	normalized := domain.NormalizedOrder{
		ID:         order.ID,
		Status:     status,
		Date:       order.Date,
		Currency:   order.Currency,
		Revenue:    order.Revenue,
		Cost:       order.Cost,
		Items:      order.Envelope.Items,
		Customer:   effectiveCustomer(order),
		Fulfilment: order.Envelope.Fulfilment,
	}
	normalized.TrackingURL = s.tracking.URL(order.ID)
	return normalized
}

// effectiveCustomer merges the contact sources on the record. Envelope fields
// win over the fulfilment block, which wins over the flat denormalized copies.
func effectiveCustomer(order domain.Order) domain.CustomerInfo {
	contact := order.Envelope.Customer

	if nested := order.Envelope.Fulfilment.Customer; nested != nil {
		if contact.Name == "" {
			contact.Name = nested.Name
		}
		if contact.Email == "" {
			contact.Email = nested.Email
		}
		if contact.Phone == "" {
			contact.Phone = nested.Phone
		}
	}

	if contact.Name == "" {
		contact.Name = order.CustomerName
	}
	if contact.Email == "" {
		contact.Email = order.CustomerEmail
	}
	if contact.Phone == "" {
		contact.Phone = order.CustomerPhone
	}

	contact.Name = strings.TrimSpace(contact.Name)
	contact.Email = strings.TrimSpace(contact.Email)
	contact.Phone = strings.TrimSpace(contact.Phone)
	return contact
}

// resolveRecipient picks the notification address: an explicit override beats
// every stored source.
func resolveRecipient(order domain.Order, override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return effectiveCustomer(order).Email
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"order": event.OrderID,
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func (s *orderService) mapPaymentError(sessionID string, err error) error {
	switch {
	case errors.Is(err, payments.ErrSessionNotFound):
		return fmt.Errorf("%w: session %s", ErrOrderNotFound, sessionID)
	case errors.Is(err, payments.ErrNotCompleted):
		return fmt.Errorf("%w: session %s", ErrPaymentNotCompleted, sessionID)
	case errors.Is(err, payments.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return err
}

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/curryleaf/api/internal/domain"
	"github.com/curryleaf/api/internal/notify"
	"github.com/curryleaf/api/internal/payments"
)

type stubOrderRepo struct {
	createFn       func(context.Context, domain.Order) error
	findFn         func(context.Context, string) (domain.Order, error)
	updateStatusFn func(context.Context, string, domain.OrderStatus, time.Time) error
	markNotifiedFn func(context.Context, string, time.Time) error
	backfillFn     func(context.Context, string, domain.CustomerInfo) error
}

func (s *stubOrderRepo) Create(ctx context.Context, order domain.Order) error {
	if s.createFn != nil {
		return s.createFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, orderID, status, at)
	}
	return nil
}

func (s *stubOrderRepo) MarkNotifiedReady(ctx context.Context, orderID string, at time.Time) error {
	if s.markNotifiedFn != nil {
		return s.markNotifiedFn(ctx, orderID, at)
	}
	return nil
}

func (s *stubOrderRepo) BackfillCustomer(ctx context.Context, orderID string, customer domain.CustomerInfo) error {
	if s.backfillFn != nil {
		return s.backfillFn(ctx, orderID, customer)
	}
	return nil
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubPaymentProvider struct {
	lookupFn func(context.Context, string) (payments.Capture, error)
}

func (s *stubPaymentProvider) LookupCapture(ctx context.Context, sessionID string) (payments.Capture, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, sessionID)
	}
	return payments.Capture{}, errors.New("not implemented")
}

type stubReceiptRenderer struct {
	renderFn func(domain.NormalizedOrder) ([]byte, error)
}

func (s *stubReceiptRenderer) Render(order domain.NormalizedOrder) ([]byte, error) {
	if s.renderFn != nil {
		return s.renderFn(order)
	}
	return []byte("%PDF"), nil
}

type stubTrackingProvider struct {
	urlFn func(string) string
	qrFn  func(string) ([]byte, error)
}

func (s *stubTrackingProvider) URL(orderID string) string {
	if s.urlFn != nil {
		return s.urlFn(orderID)
	}
	return "https://orders.example.com/track/" + orderID
}

func (s *stubTrackingProvider) QRCode(trackingURL string) ([]byte, error) {
	if s.qrFn != nil {
		return s.qrFn(trackingURL)
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

type stubNotifier struct {
	sendFn func(context.Context, domain.NormalizedOrder, string, []byte, []byte) notify.SendResult
}

func (s *stubNotifier) Send(ctx context.Context, order domain.NormalizedOrder, recipient string, qrPNG, receiptPDF []byte) notify.SendResult {
	if s.sendFn != nil {
		return s.sendFn(ctx, order, recipient, qrPNG, receiptPDF)
	}
	return notify.SendResult{Outcome: notify.OutcomeSent, Recipient: recipient}
}

type stubEventPublisher struct {
	publishFn func(context.Context, OrderEvent) error
}

func (s *stubEventPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	if s.publishFn != nil {
		return s.publishFn(ctx, event)
	}
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Receipts == nil {
		deps.Receipts = &stubReceiptRenderer{}
	}
	if deps.Tracking == nil {
		deps.Tracking = &stubTrackingProvider{}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock(time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC))
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func TestConfirmFromCaptureCreatesOrder(t *testing.T) {
	var created domain.Order
	var events []OrderEvent

	repo := &stubOrderRepo{
		createFn: func(_ context.Context, order domain.Order) error {
			created = order
			return nil
		},
	}
	provider := &stubPaymentProvider{
		lookupFn: func(_ context.Context, sessionID string) (payments.Capture, error) {
			if sessionID != "cs_test_123" {
				t.Fatalf("unexpected session id %q", sessionID)
			}
			return payments.Capture{
				SessionID:   "cs_test_123",
				AmountMajor: 1500,
				Currency:    "JPY",
				Items: []domain.LineItem{
					{Name: "Chicken Curry", Qty: 2, UnitPrice: 600, LineTotal: 1200},
					{Name: "Lassi", Qty: 1, UnitPrice: 300, LineTotal: 300},
				},
				Customer: domain.CustomerInfo{Name: "Hana", Email: "hana@example.com"},
			}, nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders:   repo,
		Payments: provider,
		Events: &stubEventPublisher{publishFn: func(_ context.Context, event OrderEvent) error {
			events = append(events, event)
			return nil
		}},
	})

	order, err := svc.ConfirmFromCapture(context.Background(), "cs_test_123")
	if err != nil {
		t.Fatalf("ConfirmFromCapture: %v", err)
	}

	if created.ID != "cs_test_123" {
		t.Fatalf("order id = %q, want session id", created.ID)
	}
	if created.Envelope.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", created.Envelope.Status)
	}
	if created.Revenue != 1500 {
		t.Fatalf("revenue = %d, want 1500", created.Revenue)
	}
	if created.Cost != 900 {
		t.Fatalf("cost = %d, want 900 (0.6 of revenue)", created.Cost)
	}
	if created.CustomerEmail != "hana@example.com" {
		t.Fatalf("flat email = %q", created.CustomerEmail)
	}
	if order.Subtotal() != 1500 {
		t.Fatalf("subtotal = %d, want 1500", order.Subtotal())
	}
	if !strings.HasSuffix(order.TrackingURL, "/track/cs_test_123") {
		t.Fatalf("tracking url = %q", order.TrackingURL)
	}
	if len(events) != 1 || events[0].Type != "order.created" {
		t.Fatalf("events = %+v, want a single order.created", events)
	}
}

func TestConfirmFromCaptureIsIdempotent(t *testing.T) {
	stored := domain.Order{
		ID:       "cs_test_dup",
		Date:     "2025-03-01",
		Currency: "JPY",
		Revenue:  2000,
		Cost:     1200,
		Envelope: domain.StatusEnvelope{
			Status: domain.OrderStatusPreparing,
			Items:  []domain.LineItem{{Name: "Keema", Qty: 1, UnitPrice: 2000, LineTotal: 2000}},
		},
	}

	var eventCount int
	repo := &stubOrderRepo{
		createFn: func(context.Context, domain.Order) error {
			return &stubRepoError{conflict: true}
		},
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != "cs_test_dup" {
				t.Fatalf("unexpected find id %q", orderID)
			}
			return stored, nil
		},
	}
	provider := &stubPaymentProvider{
		lookupFn: func(context.Context, string) (payments.Capture, error) {
			return payments.Capture{SessionID: "cs_test_dup", AmountMajor: 9999, Currency: "JPY"}, nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders:   repo,
		Payments: provider,
		Events: &stubEventPublisher{publishFn: func(context.Context, OrderEvent) error {
			eventCount++
			return nil
		}},
	})

	order, err := svc.ConfirmFromCapture(context.Background(), "cs_test_dup")
	if err != nil {
		t.Fatalf("ConfirmFromCapture: %v", err)
	}

	// The stored record wins; the duplicate capture amount never overwrites it.
	if order.Revenue != 2000 {
		t.Fatalf("revenue = %d, want stored 2000", order.Revenue)
	}
	if order.Status != domain.OrderStatusPreparing {
		t.Fatalf("status = %q, want stored preparing", order.Status)
	}
	if eventCount != 0 {
		t.Fatalf("published %d events on duplicate confirm, want 0", eventCount)
	}
}

func TestConfirmFromCapturePaymentErrors(t *testing.T) {
	cases := []struct {
		name    string
		lookup  error
		wantErr error
	}{
		{name: "not completed", lookup: payments.ErrNotCompleted, wantErr: ErrPaymentNotCompleted},
		{name: "session missing", lookup: payments.ErrSessionNotFound, wantErr: ErrOrderNotFound},
		{name: "provider down", lookup: payments.ErrUnavailable, wantErr: ErrOrderUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t, OrderServiceDeps{
				Payments: &stubPaymentProvider{
					lookupFn: func(context.Context, string) (payments.Capture, error) {
						return payments.Capture{}, tc.lookup
					},
				},
			})

			_, err := svc.ConfirmFromCapture(context.Background(), "cs_test_err")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestConfirmDirectGeneratesOfflineID(t *testing.T) {
	var created domain.Order
	repo := &stubOrderRepo{
		createFn: func(_ context.Context, order domain.Order) error {
			created = order
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders:      repo,
		IDGenerator: func() string { return "01TESTULID" },
	})

	order, err := svc.ConfirmDirect(context.Background(), DirectOrderCommand{
		Currency: "jpy",
		Revenue:  800,
		Items:    []domain.LineItem{{Name: "Samosa", Qty: 2, UnitPrice: 400}},
		Customer: domain.CustomerInfo{Name: "Walk-in"},
	})
	if err != nil {
		t.Fatalf("ConfirmDirect: %v", err)
	}

	if created.ID != "cod_01TESTULID" {
		t.Fatalf("order id = %q, want cod_ prefix", created.ID)
	}
	if created.Currency != "JPY" {
		t.Fatalf("currency = %q, want uppercased", created.Currency)
	}
	if created.Cost != 480 {
		t.Fatalf("cost = %d, want estimated 480", created.Cost)
	}
	if created.Date != "2025-03-14" {
		t.Fatalf("date = %q, want clock date", created.Date)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q", order.Status)
	}
}

func TestConfirmDirectKeepsCallerCost(t *testing.T) {
	var created domain.Order
	repo := &stubOrderRepo{
		createFn: func(_ context.Context, order domain.Order) error {
			created = order
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{Orders: repo})

	_, err := svc.ConfirmDirect(context.Background(), DirectOrderCommand{
		OrderID:  "cod_explicit",
		Date:     "2025-02-28",
		Currency: "JPY",
		Revenue:  1000,
		Cost:     250,
		Items:    []domain.LineItem{{Name: "Naan", Qty: 1, UnitPrice: 1000}},
	})
	if err != nil {
		t.Fatalf("ConfirmDirect: %v", err)
	}
	if created.Cost != 250 {
		t.Fatalf("cost = %d, want caller-supplied 250", created.Cost)
	}
	if created.Date != "2025-02-28" {
		t.Fatalf("date = %q", created.Date)
	}
}

func TestConfirmDirectValidatesInput(t *testing.T) {
	svc := newTestService(t, OrderServiceDeps{})

	cases := []struct {
		name string
		cmd  DirectOrderCommand
	}{
		{name: "negative revenue", cmd: DirectOrderCommand{Revenue: -1}},
		{name: "negative cost", cmd: DirectOrderCommand{Cost: -5}},
		{name: "nameless item", cmd: DirectOrderCommand{Items: []domain.LineItem{{Qty: 1}}}},
		{name: "zero quantity", cmd: DirectOrderCommand{Items: []domain.LineItem{{Name: "Dal", Qty: 0}}}},
		{name: "bad date", cmd: DirectOrderCommand{Date: "14/03/2025"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.ConfirmDirect(context.Background(), tc.cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("error = %v, want ErrOrderInvalidInput", err)
			}
		})
	}
}

func TestUpdateStatusRejectsInvalidTransitions(t *testing.T) {
	cases := []struct {
		current domain.OrderStatus
		target  string
	}{
		{domain.OrderStatusConfirmed, "ready"},
		{domain.OrderStatusConfirmed, "completed"},
		{domain.OrderStatusPreparing, "confirmed"},
		{domain.OrderStatusPreparing, "completed"},
		{domain.OrderStatusReady, "confirmed"},
		{domain.OrderStatusReady, "preparing"},
		{domain.OrderStatusCompleted, "ready"},
		{domain.OrderStatusCompleted, "cancelled"},
		{domain.OrderStatusCancelled, "confirmed"},
		{domain.OrderStatusCancelled, "preparing"},
	}

	for _, tc := range cases {
		t.Run(string(tc.current)+"_to_"+tc.target, func(t *testing.T) {
			repo := &stubOrderRepo{
				findFn: func(context.Context, string) (domain.Order, error) {
					return domain.Order{ID: "ord-1", Envelope: domain.StatusEnvelope{Status: tc.current}}, nil
				},
				updateStatusFn: func(context.Context, string, domain.OrderStatus, time.Time) error {
					t.Fatal("UpdateStatus must not be called for invalid transitions")
					return nil
				},
			}
			svc := newTestService(t, OrderServiceDeps{Orders: repo})

			_, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-1", Status: tc.target})
			if !errors.Is(err, ErrOrderInvalidState) {
				t.Fatalf("error = %v, want ErrOrderInvalidState", err)
			}
		})
	}
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	svc := newTestService(t, OrderServiceDeps{})
	_, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-1", Status: "shipped"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("error = %v, want ErrOrderInvalidInput", err)
	}
}

func TestUpdateStatusSameStatusBumpsTimestampWithoutEvent(t *testing.T) {
	var statusWrites, eventCount int
	var writtenAt time.Time
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord-1", Envelope: domain.StatusEnvelope{Status: domain.OrderStatusPreparing}}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, status domain.OrderStatus, at time.Time) error {
			if status != domain.OrderStatusPreparing {
				t.Fatalf("status write = %q", status)
			}
			statusWrites++
			writtenAt = at
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders: repo,
		Events: &stubEventPublisher{publishFn: func(context.Context, OrderEvent) error {
			eventCount++
			return nil
		}},
	})

	result, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-1", Status: "preparing"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if result.Status != domain.OrderStatusPreparing {
		t.Fatalf("status = %q", result.Status)
	}
	if statusWrites != 1 {
		t.Fatalf("status writes = %d, want 1", statusWrites)
	}
	if writtenAt.IsZero() {
		t.Fatal("timestamp not recorded on re-entry")
	}
	if eventCount != 0 {
		t.Fatalf("events = %d, want 0", eventCount)
	}
}

func TestUpdateStatusReadyReentryWritesTimestampWithoutResend(t *testing.T) {
	var statusWrites, sends int
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID: "ord-re-ready",
				Envelope: domain.StatusEnvelope{
					Status:        domain.OrderStatusReady,
					NotifiedReady: true,
					Customer:      domain.CustomerInfo{Email: "hana@example.com"},
				},
			}, nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, time.Time) error {
			statusWrites++
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders: repo,
		Notifier: &stubNotifier{sendFn: func(context.Context, domain.NormalizedOrder, string, []byte, []byte) notify.SendResult {
			sends++
			return notify.SendResult{Outcome: notify.OutcomeSent}
		}},
	})

	result, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-re-ready", Status: "ready"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if statusWrites != 1 {
		t.Fatalf("status writes = %d, want 1", statusWrites)
	}
	if sends != 0 {
		t.Fatalf("sends = %d, want 0", sends)
	}
	if result.Notification.Outcome != "" {
		t.Fatalf("notification = %+v, want zero value", result.Notification)
	}
}

func TestUpdateStatusReadySendsNotificationOnce(t *testing.T) {
	var sends, flagWrites int
	var sentRecipient string
	var sentQR, sentPDF []byte

	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:   "ord-ready",
				Date: "2025-03-14",
				Envelope: domain.StatusEnvelope{
					Status:   domain.OrderStatusPreparing,
					Customer: domain.CustomerInfo{Name: "Hana", Email: "hana@example.com"},
				},
			}, nil
		},
		markNotifiedFn: func(_ context.Context, orderID string, _ time.Time) error {
			if orderID != "ord-ready" {
				t.Fatalf("flag write for %q", orderID)
			}
			flagWrites++
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders: repo,
		Receipts: &stubReceiptRenderer{renderFn: func(domain.NormalizedOrder) ([]byte, error) {
			return []byte("%PDF-receipt"), nil
		}},
		Notifier: &stubNotifier{sendFn: func(_ context.Context, _ domain.NormalizedOrder, recipient string, qrPNG, receiptPDF []byte) notify.SendResult {
			sends++
			sentRecipient = recipient
			sentQR = qrPNG
			sentPDF = receiptPDF
			return notify.SendResult{Outcome: notify.OutcomeSent, Recipient: recipient}
		}},
	})

	result, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-ready", Status: "ready"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if sends != 1 {
		t.Fatalf("sends = %d, want 1", sends)
	}
	if sentRecipient != "hana@example.com" {
		t.Fatalf("recipient = %q", sentRecipient)
	}
	if len(sentQR) == 0 || len(sentPDF) == 0 {
		t.Fatal("notification is missing the QR image or the receipt")
	}
	if flagWrites != 1 {
		t.Fatalf("flag writes = %d, want 1", flagWrites)
	}
	if !result.Notification.Sent() {
		t.Fatalf("notification outcome = %+v", result.Notification)
	}
}

func TestUpdateStatusReadySkipsWhenAlreadyNotified(t *testing.T) {
	var sends int
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID: "ord-notified",
				Envelope: domain.StatusEnvelope{
					Status:        domain.OrderStatusPreparing,
					NotifiedReady: true,
					Customer:      domain.CustomerInfo{Email: "hana@example.com"},
				},
			}, nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders: repo,
		Notifier: &stubNotifier{sendFn: func(context.Context, domain.NormalizedOrder, string, []byte, []byte) notify.SendResult {
			sends++
			return notify.SendResult{Outcome: notify.OutcomeSent}
		}},
	})

	result, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-notified", Status: "ready"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if sends != 0 {
		t.Fatalf("sends = %d, want 0", sends)
	}
	if result.Notification.Outcome != "" {
		t.Fatalf("notification = %+v, want zero value", result.Notification)
	}
}

func TestUpdateStatusReadyFailedSendLeavesFlagUnset(t *testing.T) {
	var flagWrites, backfills int
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID: "ord-flaky",
				Envelope: domain.StatusEnvelope{
					Status:   domain.OrderStatusPreparing,
					Customer: domain.CustomerInfo{Email: "hana@example.com"},
				},
			}, nil
		},
		markNotifiedFn: func(context.Context, string, time.Time) error {
			flagWrites++
			return nil
		},
		backfillFn: func(context.Context, string, domain.CustomerInfo) error {
			backfills++
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders: repo,
		Notifier: &stubNotifier{sendFn: func(_ context.Context, _ domain.NormalizedOrder, recipient string, _, _ []byte) notify.SendResult {
			return notify.SendResult{Outcome: notify.OutcomeFailed, Recipient: recipient, Reason: "smtp 451"}
		}},
	})

	result, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-flaky", Status: "ready"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if result.Status != domain.OrderStatusReady {
		t.Fatalf("status = %q, want ready despite failed send", result.Status)
	}
	if flagWrites != 0 {
		t.Fatalf("flag writes = %d, want 0 after failed send", flagWrites)
	}
	if backfills != 1 {
		t.Fatalf("backfills = %d, want 1 regardless of send outcome", backfills)
	}
	if result.Notification.Outcome != notify.OutcomeFailed {
		t.Fatalf("notification = %+v", result.Notification)
	}
}

func TestUpdateStatusReadyNoRecipient(t *testing.T) {
	var sends int
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:       "ord-anon",
				Envelope: domain.StatusEnvelope{Status: domain.OrderStatusPreparing},
			}, nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders: repo,
		Notifier: &stubNotifier{sendFn: func(context.Context, domain.NormalizedOrder, string, []byte, []byte) notify.SendResult {
			sends++
			return notify.SendResult{Outcome: notify.OutcomeSent}
		}},
	})

	result, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-anon", Status: "ready"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if sends != 0 {
		t.Fatalf("sends = %d, want 0", sends)
	}
	if result.Notification.Outcome != notify.OutcomeUnsendable {
		t.Fatalf("notification = %+v, want unsendable", result.Notification)
	}
}

func TestRecipientResolutionPrecedence(t *testing.T) {
	base := domain.Order{
		CustomerEmail: "flat@example.com",
		Envelope: domain.StatusEnvelope{
			Customer: domain.CustomerInfo{Email: "envelope@example.com"},
			Fulfilment: domain.FulfilmentInfo{
				Customer: &domain.CustomerInfo{Email: "fulfilment@example.com"},
			},
		},
	}

	if got := resolveRecipient(base, "override@example.com"); got != "override@example.com" {
		t.Fatalf("override: got %q", got)
	}
	if got := resolveRecipient(base, ""); got != "envelope@example.com" {
		t.Fatalf("envelope: got %q", got)
	}

	noEnvelope := base
	noEnvelope.Envelope.Customer.Email = ""
	if got := resolveRecipient(noEnvelope, ""); got != "fulfilment@example.com" {
		t.Fatalf("fulfilment: got %q", got)
	}

	flatOnly := noEnvelope
	flatOnly.Envelope.Fulfilment.Customer = nil
	if got := resolveRecipient(flatOnly, ""); got != "flat@example.com" {
		t.Fatalf("flat: got %q", got)
	}

	if got := resolveRecipient(domain.Order{}, "  "); got != "" {
		t.Fatalf("empty: got %q", got)
	}
}

func TestUpdateStatusReadyBackfillsFlatCustomer(t *testing.T) {
	var backfilled domain.CustomerInfo
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID: "ord-backfill",
				Envelope: domain.StatusEnvelope{
					Status:   domain.OrderStatusPreparing,
					Customer: domain.CustomerInfo{Name: "Hana", Email: "hana@example.com", Phone: "090-0000-0000"},
				},
			}, nil
		},
		backfillFn: func(_ context.Context, orderID string, customer domain.CustomerInfo) error {
			if orderID != "ord-backfill" {
				t.Fatalf("backfill for %q", orderID)
			}
			backfilled = customer
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders:   repo,
		Notifier: &stubNotifier{},
	})

	if _, err := svc.UpdateStatus(context.Background(), UpdateStatusCommand{OrderID: "ord-backfill", Status: "ready"}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if backfilled.Email != "hana@example.com" || backfilled.Name != "Hana" {
		t.Fatalf("backfilled = %+v", backfilled)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &stubRepoError{notFound: true}
		},
	}
	svc := newTestService(t, OrderServiceDeps{Orders: repo})

	if _, err := svc.GetOrder(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestRenderReceiptUsesNormalizedOrder(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:      "ord-pdf",
				Revenue: 1200,
				Envelope: domain.StatusEnvelope{
					Status: domain.OrderStatusCompleted,
					Items:  []domain.LineItem{{Name: "Curry Set", Qty: 1, UnitPrice: 1200, LineTotal: 1200}},
				},
			}, nil
		},
	}

	var rendered domain.NormalizedOrder
	svc := newTestService(t, OrderServiceDeps{
		Orders: repo,
		Receipts: &stubReceiptRenderer{renderFn: func(order domain.NormalizedOrder) ([]byte, error) {
			rendered = order
			return []byte("%PDF"), nil
		}},
	})

	pdf, err := svc.RenderReceipt(context.Background(), "ord-pdf")
	if err != nil {
		t.Fatalf("RenderReceipt: %v", err)
	}
	if len(pdf) == 0 {
		t.Fatal("empty receipt")
	}
	if rendered.ID != "ord-pdf" || rendered.TotalPaid() != 1200 {
		t.Fatalf("rendered = %+v", rendered)
	}
	if rendered.TrackingURL == "" {
		t.Fatal("normalized order is missing the tracking url")
	}
}

func TestOfflineOrderLifecycle(t *testing.T) {
	// End to end over stubs: confirm a cash order, walk it through the
	// lifecycle, and verify the single ready notification.
	store := map[string]domain.Order{}
	var sends int

	repo := &stubOrderRepo{
		createFn: func(_ context.Context, order domain.Order) error {
			if _, exists := store[order.ID]; exists {
				return &stubRepoError{conflict: true}
			}
			store[order.ID] = order
			return nil
		},
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			order, ok := store[orderID]
			if !ok {
				return domain.Order{}, &stubRepoError{notFound: true}
			}
			return order, nil
		},
		updateStatusFn: func(_ context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
			order := store[orderID]
			order.Envelope.Status = status
			order.Envelope.StatusUpdatedAt = at
			store[orderID] = order
			return nil
		},
		markNotifiedFn: func(_ context.Context, orderID string, _ time.Time) error {
			order := store[orderID]
			order.Envelope.NotifiedReady = true
			store[orderID] = order
			return nil
		},
	}

	svc := newTestService(t, OrderServiceDeps{
		Orders:      repo,
		IDGenerator: func() string { return "01LIFECYCLE" },
		Notifier: &stubNotifier{sendFn: func(_ context.Context, _ domain.NormalizedOrder, recipient string, _, _ []byte) notify.SendResult {
			sends++
			return notify.SendResult{Outcome: notify.OutcomeSent, Recipient: recipient}
		}},
	})

	ctx := context.Background()
	order, err := svc.ConfirmDirect(ctx, DirectOrderCommand{
		Currency: "JPY",
		Revenue:  1800,
		Items:    []domain.LineItem{{Name: "Butter Chicken", Qty: 2, UnitPrice: 900}},
		Customer: domain.CustomerInfo{Name: "Ren", Email: "ren@example.com"},
	})
	if err != nil {
		t.Fatalf("ConfirmDirect: %v", err)
	}

	for _, status := range []string{"preparing", "ready", "completed"} {
		if _, err := svc.UpdateStatus(ctx, UpdateStatusCommand{OrderID: order.ID, Status: status}); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", status, err)
		}
	}

	// A second ready is unreachable from completed, but a repeated call on the
	// way there must not resend either.
	if sends != 1 {
		t.Fatalf("sends = %d, want exactly 1", sends)
	}

	final := store[order.ID]
	if final.Envelope.Status != domain.OrderStatusCompleted {
		t.Fatalf("final status = %q", final.Envelope.Status)
	}
	if !final.Envelope.NotifiedReady {
		t.Fatal("notified flag not set")
	}
}

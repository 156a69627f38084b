package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/curryleaf/api/internal/domain"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Sessions stripeSessionAPI
}

// StripeProvider implements Provider against the Stripe Checkout API.
type StripeProvider struct {
	sessions stripeSessionAPI
	logger   StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions: sessions,
		logger:   logger,
	}, nil
}

// LookupCapture retrieves the Checkout Session with expanded line items and
// validates that the payment completed. Read-only against Stripe.
func (p *StripeProvider) LookupCapture(ctx context.Context, sessionID string) (Capture, error) {
	if p == nil || p.sessions == nil {
		return Capture{}, errors.New("stripe: provider is nil")
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Capture{}, errors.New("stripe: session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return Capture{}, mapStripeError(err)
	}

	switch session.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
	default:
		return Capture{}, fmt.Errorf("%w: session %s is %s", ErrNotCompleted, sessionID, session.PaymentStatus)
	}

	capture := Capture{
		SessionID:   session.ID,
		AmountMajor: minorToMajor(session.AmountTotal, session.Currency),
		Currency:    strings.ToUpper(string(session.Currency)),
		Items:       extractLineItems(session.LineItems, session.Currency),
		Customer:    extractCustomer(session.CustomerDetails),
	}

	p.logger(ctx, "payments.stripe.capture.retrieved", map[string]any{
		"sessionId": session.ID,
		"amount":    capture.AmountMajor,
		"currency":  capture.Currency,
		"items":     len(capture.Items),
	})

	return capture, nil
}

func extractLineItems(list *stripe.LineItemList, currency stripe.Currency) []domain.LineItem {
	if list == nil {
		return nil
	}
	items := make([]domain.LineItem, 0, len(list.Data))
	for _, line := range list.Data {
		if line == nil {
			continue
		}
		qty := line.Quantity
		if qty < 1 {
			qty = 1
		}
		unitPrice := int64(0)
		if line.Price != nil {
			unitPrice = minorToMajor(line.Price.UnitAmount, currency)
		}
		total := minorToMajor(line.AmountTotal, currency)
		if total == 0 {
			total = unitPrice * qty
		}
		items = append(items, domain.LineItem{
			Name:      strings.TrimSpace(line.Description),
			Qty:       qty,
			UnitPrice: unitPrice,
			LineTotal: total,
		})
	}
	return items
}

func extractCustomer(details *stripe.CheckoutSessionCustomerDetails) domain.CustomerInfo {
	if details == nil {
		return domain.CustomerInfo{}
	}
	return domain.CustomerInfo{
		Name:  strings.TrimSpace(details.Name),
		Email: strings.TrimSpace(details.Email),
		Phone: strings.TrimSpace(details.Phone),
	}
}

// zeroDecimalCurrencies are reported by Stripe in major units already.
// https://docs.stripe.com/currencies#zero-decimal
var zeroDecimalCurrencies = map[string]bool{
	"bif": true,
	"clp": true,
	"djf": true,
	"gnf": true,
	"jpy": true,
	"kmf": true,
	"krw": true,
	"mga": true,
	"pyg": true,
	"rwf": true,
	"ugx": true,
	"vnd": true,
	"vuv": true,
	"xaf": true,
	"xof": true,
	"xpf": true,
}

// minorToMajor converts processor amounts to major units, rounding to the
// nearest whole unit. Zero-decimal currencies pass through unchanged.
func minorToMajor(amount int64, currency stripe.Currency) int64 {
	if zeroDecimalCurrencies[strings.ToLower(string(currency))] {
		return amount
	}
	return int64(math.Round(float64(amount) / 100))
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
		case stripeErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("stripe: lookup checkout session: %w", err)
}

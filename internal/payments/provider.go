package payments

import (
	"context"
	"errors"

	"github.com/curryleaf/api/internal/domain"
)

var (
	// ErrNotCompleted indicates the referenced capture is not in a paid state.
	ErrNotCompleted = errors.New("payments: payment not completed")
	// ErrSessionNotFound indicates the session handle references nothing at the processor.
	ErrSessionNotFound = errors.New("payments: session not found")
	// ErrUnavailable indicates the processor could not be reached; safe to retry.
	ErrUnavailable = errors.New("payments: processor unavailable")
)

// Capture is the read-only view of a completed payment extracted from the
// external processor. Amounts are major currency units.
type Capture struct {
	SessionID   string
	AmountMajor int64
	Currency    string
	Items       []domain.LineItem
	Customer    domain.CustomerInfo
}

// Provider retrieves payment capture events by session handle. Implementations
// are read-only against the processor.
type Provider interface {
	LookupCapture(ctx context.Context, sessionID string) (Capture, error)
}

package repositories

import (
	"context"
	"time"

	"github.com/curryleaf/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order records. Every mutation is a single atomic
// document operation; services rely on that for correctness under concurrent
// and duplicate delivery rather than on in-process locking.
type OrderRepository interface {
	// Create inserts the order, returning a RepositoryError with IsConflict
	// when a record with the same ID already exists. Callers treat the
	// conflict as "already created" rather than a failure.
	Create(ctx context.Context, order domain.Order) error
	// FindByID loads the order, returning a RepositoryError with IsNotFound
	// when absent.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateStatus atomically writes the new lifecycle status and its
	// timestamp without touching the rest of the envelope.
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error
	// MarkNotifiedReady atomically flips the notify-once flag. The flag never
	// reverts once set.
	MarkNotifiedReady(ctx context.Context, orderID string, at time.Time) error
	// BackfillCustomer populates the flat denormalized contact fields once
	// they are first discovered. Best effort; failures are logged by callers.
	BackfillCustomer(ctx context.Context, orderID string, customer domain.CustomerInfo) error
}

package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/curryleaf/api/internal/domain"
	pfirestore "github.com/curryleaf/api/internal/platform/firestore"
)

const orderCollection = "orders"

// OrderRepository persists order records within Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
	}, nil
}

// Create inserts the order using its ID as document identifier. The insert is
// atomic on the backend; an existing document surfaces as a conflict error.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}

	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	_, err := r.base.Create(ctx, orderID, encodeOrder(order))
	return err
}

// FindByID loads the order record by its external identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// UpdateStatus writes the new status and timestamp as one atomic field update.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	_, err := r.base.Update(ctx, strings.TrimSpace(orderID), []firestore.Update{
		{Path: "envelope.status", Value: string(status)},
		{Path: "envelope.statusUpdatedAt", Value: at.UTC()},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}

// MarkNotifiedReady flips the notify-once flag. Separate from UpdateStatus so
// a failed notification send leaves the flag untouched for later retries.
func (r *OrderRepository) MarkNotifiedReady(ctx context.Context, orderID string, at time.Time) error {
	_, err := r.base.Update(ctx, strings.TrimSpace(orderID), []firestore.Update{
		{Path: "envelope.notifiedReady", Value: true},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}

// BackfillCustomer populates the flat contact fields from the envelope the
// first time they are discovered, keeping lookups cheap on later reads.
func (r *OrderRepository) BackfillCustomer(ctx context.Context, orderID string, customer domain.CustomerInfo) error {
	updates := make([]firestore.Update, 0, 3)
	if email := strings.TrimSpace(customer.Email); email != "" {
		updates = append(updates, firestore.Update{Path: "customerEmail", Value: email})
	}
	if name := strings.TrimSpace(customer.Name); name != "" {
		updates = append(updates, firestore.Update{Path: "customerName", Value: name})
	}
	if phone := strings.TrimSpace(customer.Phone); phone != "" {
		updates = append(updates, firestore.Update{Path: "customerPhone", Value: phone})
	}
	if len(updates) == 0 {
		return nil
	}
	_, err := r.base.Update(ctx, strings.TrimSpace(orderID), updates)
	return err
}

type orderDocument struct {
	Date          string                 `firestore:"date"`
	Currency      string                 `firestore:"currency,omitempty"`
	Revenue       int64                  `firestore:"revenue"`
	Cost          int64                  `firestore:"cost"`
	Envelope      statusEnvelopeDocument `firestore:"envelope"`
	CustomerEmail string                 `firestore:"customerEmail,omitempty"`
	CustomerName  string                 `firestore:"customerName,omitempty"`
	CustomerPhone string                 `firestore:"customerPhone,omitempty"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
}

type statusEnvelopeDocument struct {
	Status          string                  `firestore:"status"`
	StatusUpdatedAt time.Time               `firestore:"statusUpdatedAt"`
	NotifiedReady   bool                    `firestore:"notifiedReady"`
	Items           []lineItemDocument      `firestore:"items,omitempty"`
	Customer        customerDocument        `firestore:"customer,omitempty"`
	Fulfilment      fulfilmentInfoDocument  `firestore:"fulfilment,omitempty"`
}

type lineItemDocument struct {
	Name      string `firestore:"name"`
	Qty       int64  `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	LineTotal int64  `firestore:"lineTotal"`
}

type customerDocument struct {
	Name  string `firestore:"name,omitempty"`
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

type fulfilmentInfoDocument struct {
	Method   string            `firestore:"method,omitempty"`
	Address  string            `firestore:"address,omitempty"`
	Notes    string            `firestore:"notes,omitempty"`
	Customer *customerDocument `firestore:"customer,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Date:          strings.TrimSpace(order.Date),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Revenue:       order.Revenue,
		Cost:          order.Cost,
		CustomerEmail: strings.TrimSpace(order.CustomerEmail),
		CustomerName:  strings.TrimSpace(order.CustomerName),
		CustomerPhone: strings.TrimSpace(order.CustomerPhone),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}

	env := order.Envelope
	doc.Envelope = statusEnvelopeDocument{
		Status:          string(env.Status),
		StatusUpdatedAt: env.StatusUpdatedAt.UTC(),
		NotifiedReady:   env.NotifiedReady,
		Customer:        encodeCustomer(env.Customer),
		Fulfilment: fulfilmentInfoDocument{
			Method:  strings.TrimSpace(env.Fulfilment.Method),
			Address: strings.TrimSpace(env.Fulfilment.Address),
			Notes:   strings.TrimSpace(env.Fulfilment.Notes),
		},
	}
	if env.Fulfilment.Customer != nil {
		nested := encodeCustomer(*env.Fulfilment.Customer)
		doc.Envelope.Fulfilment.Customer = &nested
	}
	for _, item := range env.Items {
		doc.Envelope.Items = append(doc.Envelope.Items, lineItemDocument(item))
	}

	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:            id,
		Date:          doc.Date,
		Currency:      doc.Currency,
		Revenue:       doc.Revenue,
		Cost:          doc.Cost,
		CustomerEmail: doc.CustomerEmail,
		CustomerName:  doc.CustomerName,
		CustomerPhone: doc.CustomerPhone,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		Envelope: domain.StatusEnvelope{
			Status:          domain.OrderStatus(doc.Envelope.Status),
			StatusUpdatedAt: doc.Envelope.StatusUpdatedAt,
			NotifiedReady:   doc.Envelope.NotifiedReady,
			Customer:        domain.CustomerInfo(doc.Envelope.Customer),
			Fulfilment: domain.FulfilmentInfo{
				Method:  doc.Envelope.Fulfilment.Method,
				Address: doc.Envelope.Fulfilment.Address,
				Notes:   doc.Envelope.Fulfilment.Notes,
			},
		},
	}
	if doc.Envelope.Fulfilment.Customer != nil {
		nested := domain.CustomerInfo(*doc.Envelope.Fulfilment.Customer)
		order.Envelope.Fulfilment.Customer = &nested
	}
	for _, item := range doc.Envelope.Items {
		order.Envelope.Items = append(order.Envelope.Items, domain.LineItem(item))
	}
	return order
}

func encodeCustomer(customer domain.CustomerInfo) customerDocument {
	return customerDocument{
		Name:  strings.TrimSpace(customer.Name),
		Email: strings.TrimSpace(customer.Email),
		Phone: strings.TrimSpace(customer.Phone),
	}
}

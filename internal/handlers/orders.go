package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/curryleaf/api/internal/domain"
	"github.com/curryleaf/api/internal/notify"
	"github.com/curryleaf/api/internal/platform/httpx"
	"github.com/curryleaf/api/internal/services"
)

const (
	maxConfirmBodySize = 64 * 1024
	maxStatusBodySize  = 4 * 1024
)

type confirmOrderRequest struct {
	SessionID string              `json:"session_id"`
	Order     *directOrderPayload `json:"order"`
}

type directOrderPayload struct {
	ID         string             `json:"id"`
	Date       string             `json:"date"`
	Currency   string             `json:"currency"`
	Revenue    int64              `json:"revenue"`
	Cost       int64              `json:"cost"`
	Items      []lineItemPayload  `json:"items"`
	Customer   *customerPayload   `json:"customer"`
	Fulfilment *fulfilmentPayload `json:"fulfilment"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Email  string `json:"email"`
}

type lineItemPayload struct {
	Name      string `json:"name"`
	Qty       int64  `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total,omitempty"`
}

type customerPayload struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type fulfilmentPayload struct {
	Method   string           `json:"method,omitempty"`
	Address  string           `json:"address,omitempty"`
	Notes    string           `json:"notes,omitempty"`
	Customer *customerPayload `json:"customer,omitempty"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	Status      string             `json:"status"`
	Date        string             `json:"date,omitempty"`
	Currency    string             `json:"currency,omitempty"`
	Revenue     int64              `json:"revenue"`
	Cost        int64              `json:"cost"`
	Subtotal    int64              `json:"subtotal"`
	TotalPaid   int64              `json:"total_paid"`
	Items       []lineItemPayload  `json:"items"`
	Customer    *customerPayload   `json:"customer,omitempty"`
	Fulfilment  *fulfilmentPayload `json:"fulfilment,omitempty"`
	TrackingURL string             `json:"tracking_url,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type statusResponse struct {
	OrderID      string               `json:"order_id"`
	Status       string               `json:"status"`
	Notification *notificationPayload `json:"notification,omitempty"`
}

type notificationPayload struct {
	Outcome   string `json:"outcome"`
	Recipient string `json:"recipient,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// OrderHandlers exposes the order confirmation and lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/confirm", h.confirmOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.updateStatus)
	r.Get("/{orderID}/receipt", h.getReceipt)
}

func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req confirmOrderRequest
	if err := decodeJSONBody(w, r, maxConfirmBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	switch {
	case sessionID == "" && req.Order == nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "either session_id or order is required", http.StatusBadRequest))
		return
	case sessionID != "" && req.Order != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session_id and order are mutually exclusive", http.StatusBadRequest))
		return
	}

	var (
		order domain.NormalizedOrder
		err   error
	)
	if sessionID != "" {
		order, err = h.orders.ConfirmFromCapture(ctx, sessionID)
	} else {
		order, err = h.orders.ConfirmDirect(ctx, buildDirectCommand(req.Order))
	}
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(w, r, maxStatusBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{
		OrderID:       chi.URLParam(r, "orderID"),
		Status:        req.Status,
		EmailOverride: req.Email,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, statusResponse{
		OrderID:      result.OrderID,
		Status:       string(result.Status),
		Notification: buildNotificationPayload(result.Notification),
	})
}

func (h *OrderHandlers) getReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := chi.URLParam(r, "orderID")
	pdf, err := h.orders.RenderReceipt(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "receipt-"+orderID+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func buildDirectCommand(payload *directOrderPayload) services.DirectOrderCommand {
	cmd := services.DirectOrderCommand{
		OrderID:  payload.ID,
		Date:     payload.Date,
		Currency: payload.Currency,
		Revenue:  payload.Revenue,
		Cost:     payload.Cost,
	}
	for _, item := range payload.Items {
		cmd.Items = append(cmd.Items, domain.LineItem{
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			LineTotal: item.Total,
		})
	}
	if payload.Customer != nil {
		cmd.Customer = domain.CustomerInfo(*payload.Customer)
	}
	if payload.Fulfilment != nil {
		cmd.Fulfilment = domain.FulfilmentInfo{
			Method:  payload.Fulfilment.Method,
			Address: payload.Fulfilment.Address,
			Notes:   payload.Fulfilment.Notes,
		}
		if payload.Fulfilment.Customer != nil {
			nested := domain.CustomerInfo(*payload.Fulfilment.Customer)
			cmd.Fulfilment.Customer = &nested
		}
	}
	return cmd
}

func buildOrderPayload(order domain.NormalizedOrder) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		Status:      string(order.Status),
		Date:        order.Date,
		Currency:    order.Currency,
		Revenue:     order.Revenue,
		Cost:        order.Cost,
		Subtotal:    order.Subtotal(),
		TotalPaid:   order.TotalPaid(),
		Items:       make([]lineItemPayload, 0, len(order.Items)),
		TrackingURL: order.TrackingURL,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, lineItemPayload{
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			Total:     item.NormalizeTotal(),
		})
	}
	if order.Customer != (domain.CustomerInfo{}) {
		customer := customerPayload(order.Customer)
		payload.Customer = &customer
	}
	if order.Fulfilment.Method != "" || order.Fulfilment.Address != "" || order.Fulfilment.Notes != "" || order.Fulfilment.Customer != nil {
		fulfilment := fulfilmentPayload{
			Method:  order.Fulfilment.Method,
			Address: order.Fulfilment.Address,
			Notes:   order.Fulfilment.Notes,
		}
		if order.Fulfilment.Customer != nil {
			nested := customerPayload(*order.Fulfilment.Customer)
			fulfilment.Customer = &nested
		}
		payload.Fulfilment = &fulfilment
	}
	return payload
}

func buildNotificationPayload(result notify.SendResult) *notificationPayload {
	if result.Outcome == "" {
		return nil
	}
	return &notificationPayload{
		Outcome:   string(result.Outcome),
		Recipient: result.Recipient,
		Reason:    result.Reason,
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, maxBytes int64, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_completed", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unavailable", "a dependency is temporarily unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

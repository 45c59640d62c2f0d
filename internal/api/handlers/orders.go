// Package handlers contains the HTTP handler implementations for the
// OrderPulse API: order lifecycle endpoints and the analytics read side.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"orderpulse/internal/core"
	"orderpulse/internal/db"
	"orderpulse/internal/types"
)

// OrdersRepo defines the data access contract for order operations. Mirrors
// the concrete db.OrderRepo methods used by this handler.
type OrdersRepo interface {
	Create(ctx context.Context, params db.CreateOrderParams) (*types.Order, error)
	GetByID(ctx context.Context, orderID int64) (*types.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status types.OrderStatus) (*types.StatusHistoryEntry, error)
}

// CreateOrderRequest is the request body for POST /v1/orders.
type CreateOrderRequest struct {
	ChannelOrderID string                   `json:"channel_order_id" validate:"required,max=100"`
	AccountID      string                   `json:"account_id" validate:"required,max=100"`
	BrandID        string                   `json:"brand_id" validate:"required,max=100"`
	PickupTime     time.Time                `json:"pickup_time" validate:"required"`
	CustomerID     int64                    `json:"customer_id" validate:"required,gt=0"`
	AddressID      int64                    `json:"address_id" validate:"required,gt=0"`
	Items          []CreateOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateOrderItemRequest is one line item in an order creation request.
type CreateOrderItemRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	PLU      string `json:"plu" validate:"required,max=50"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

// UpdateOrderStatusRequest is the request body for PUT /v1/orders/{id}/status.
type UpdateOrderStatusRequest struct {
	Status int `json:"status" validate:"required"`
}

// OrderHandler manages order creation, retrieval, and status transitions.
type OrderHandler struct {
	repo      OrdersRepo
	validator *core.Validator
	logger    *slog.Logger
}

// NewOrderHandler creates a new OrderHandler with the provided dependencies.
func NewOrderHandler(repo OrdersRepo, v *core.Validator, l *slog.Logger) *OrderHandler {
	if l == nil {
		l = slog.Default()
	}
	return &OrderHandler{
		repo:      repo,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts order routes on the provided chi.Router.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/status", h.UpdateStatus)
		})
	})
}

// Create handles POST /v1/orders. The order row, its items, and the initial
// received history entry are written in one transaction; the response is the
// full order view.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	params := db.CreateOrderParams{
		ChannelOrderID: req.ChannelOrderID,
		AccountID:      req.AccountID,
		BrandID:        req.BrandID,
		PickupTime:     req.PickupTime.UTC(),
		CustomerID:     req.CustomerID,
		AddressID:      req.AddressID,
	}
	for _, item := range req.Items {
		params.Items = append(params.Items, db.CreateOrderItemParams{
			Name:     item.Name,
			PLU:      item.PLU,
			Quantity: item.Quantity,
		})
	}

	order, err := h.repo.Create(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "order created",
		"order_id", order.ID,
		"channel_order_id", order.ChannelOrderID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: order})
}

// Get handles GET /v1/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseIDParam(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	order, err := h.repo.GetByID(r.Context(), orderID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: order})
}

// UpdateStatus handles PUT /v1/orders/{id}/status. The new history entry and
// the previous entry's duration back-fill commit atomically; the response is
// the newly created status entry.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := parseIDParam(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateOrderStatusRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	status := types.OrderStatus(req.Status)
	if !status.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidStatus,
			"unknown order status code",
			nil,
			map[string]any{"status": req.Status},
		))
		return
	}

	entry, err := h.repo.UpdateStatus(r.Context(), orderID, status)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "order status updated",
		"order_id", orderID,
		"status", status.String(),
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: entry})
}

// parseIDParam extracts a positive integer URL parameter.
func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"invalid "+name+" parameter",
			err,
			map[string]any{name: raw},
		)
	}
	return id, nil
}

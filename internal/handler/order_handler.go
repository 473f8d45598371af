package handler

import (
	"net/http"

	"commerce-core/internal/model"
	"commerce-core/internal/service"

	"github.com/rs/zerolog"
)

// OrderHandler handles order-related HTTP requests.
type OrderHandler struct {
	service service.OrderService
	logger  zerolog.Logger
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(service service.OrderService, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger.With().Str("handler", "order").Logger(),
	}
}

// Create handles POST /api/orders requests. The order is created in pending
// status with no payment attached.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	var req model.OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err, h.logger)
		return
	}

	order, err := h.service.Create(r.Context(), ident.UserID, &req)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// List handles GET /api/orders requests. Non-admin callers only see their
// own orders; ?status= narrows the result.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	orders, err := h.service.List(r.Context(), ident, r.URL.Query().Get("status"))
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

// Get handles GET /api/orders/{id} requests.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "id")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	order, err := h.service.Get(r.Context(), orderID, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// Cancel handles POST /api/orders/{id}/cancel requests.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "id")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	order, err := h.service.Cancel(r.Context(), orderID, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// AddItem handles POST /api/orders/{id}/items requests.
func (h *OrderHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "id")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	var req model.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err, h.logger)
		return
	}

	order, err := h.service.AddItem(r.Context(), orderID, &req, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// RemoveItem handles DELETE /api/orders/{id}/items/{productID} requests.
func (h *OrderHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "id")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	productID, err := pathUUID(r, "productID")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	order, err := h.service.RemoveItem(r.Context(), orderID, productID, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// UpdateStatus handles PATCH /api/orders/{id}/status requests. Administrators
// move paid orders through fulfillment with it.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "id")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	var req model.UpdateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err, h.logger)
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), orderID, req.Status, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

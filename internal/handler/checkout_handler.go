package handler

import (
	"net/http"

	"commerce-core/internal/model"
	"commerce-core/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CheckoutHandler handles the combined order-plus-payment entry point.
type CheckoutHandler struct {
	service service.CheckoutService
	logger  zerolog.Logger
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(service service.CheckoutService, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		logger:  logger.With().Str("handler", "checkout").Logger(),
	}
}

// checkoutError carries the surviving order id alongside the error payload
// when payment initiation failed after the order was created. The client can
// retry payment against that pending order.
type checkoutError struct {
	model.ErrorResponse
	OrderID uuid.UUID `json:"orderId"`
}

// Checkout handles POST /api/checkout requests.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	var req model.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err, h.logger)
		return
	}

	result, err := h.service.Checkout(r.Context(), ident.UserID, &req)
	if err != nil {
		if result != nil && result.OrderID != uuid.Nil {
			status, body := errorBody(err)
			h.logger.Warn().
				Err(err).
				Str("order_id", result.OrderID.String()).
				Int("status", status).
				Msg("checkout failed after order creation")
			writeJSON(w, status, checkoutError{ErrorResponse: body, OrderID: result.OrderID})
			return
		}
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

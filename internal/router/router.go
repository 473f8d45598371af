package router

import (
	"net/http"

	"commerce-core/internal/handler"
	"commerce-core/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// New assembles the HTTP routing tree. Webhook routes sit outside the API
// key gate because providers authenticate with signatures, not service keys.
func New(
	checkoutHandler *handler.CheckoutHandler,
	orderHandler *handler.OrderHandler,
	paymentHandler *handler.PaymentHandler,
	apiKey string,
	logger zerolog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS)

	// Health check endpoint (no authentication required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/{provider}", paymentHandler.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(apiKey, logger))
			r.Use(middleware.Identity)

			r.Post("/checkout", checkoutHandler.Checkout)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", orderHandler.Create)
				r.Get("/", orderHandler.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", orderHandler.Get)
					r.Post("/cancel", orderHandler.Cancel)
					r.Post("/items", orderHandler.AddItem)
					r.Delete("/items/{productID}", orderHandler.RemoveItem)
					r.Patch("/status", orderHandler.UpdateStatus)
				})
			})

			r.Route("/payments", func(r chi.Router) {
				r.Get("/", paymentHandler.List)
				r.Post("/confirm", paymentHandler.Confirm)
				r.Get("/{id}", paymentHandler.Get)
				r.Get("/{transactionID}/status", paymentHandler.Status)
				r.Post("/{id}/refund", paymentHandler.Refund)
			})
		})
	})

	return r
}

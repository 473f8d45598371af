package handler

import (
	"errors"
	"io"
	"net/http"

	"commerce-core/internal/model"
	"commerce-core/internal/provider"
	"commerce-core/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// PaymentHandler handles payment-related HTTP requests, including webhook
// deliveries from providers.
type PaymentHandler struct {
	service service.PaymentService
	logger  zerolog.Logger
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(service service.PaymentService, logger zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		logger:  logger.With().Str("handler", "payment").Logger(),
	}
}

// List handles GET /api/payments requests. Non-admin callers only see
// payments against their own orders; ?provider= and ?status= narrow the
// result.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	payments, err := h.service.List(r.Context(), ident, q.Get("provider"), q.Get("status"))
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, payments)
}

// Get handles GET /api/payments/{id} requests.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	paymentID, err := pathUUID(r, "id")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	payment, err := h.service.Get(r.Context(), paymentID, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

// Confirm handles POST /api/payments/confirm requests. It executes the
// pending payment with the provider and returns the settled record.
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	var req model.ConfirmPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		renderError(w, err, h.logger)
		return
	}

	payment, err := h.service.Confirm(r.Context(), req.TransactionID, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

// Status handles GET /api/payments/{transactionID}/status requests. It polls
// the provider and reports both the stored record and the provider's view.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.service.Status(r.Context(), chi.URLParam(r, "transactionID"), ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Refund handles POST /api/payments/{id}/refund requests. Administrators
// only. An empty body refunds the full captured amount.
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	ident, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	paymentID, err := pathUUID(r, "id")
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	var req model.RefundRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		renderError(w, err, h.logger)
		return
	}

	refund, err := h.service.Refund(r.Context(), paymentID, &req, ident)
	if err != nil {
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, refund)
}

// Webhook handles POST /api/webhooks/{provider} requests. The route is
// authenticated by provider signature, not the service API key. Unknown
// transactions and conflicting outcomes are acknowledged with 200 so the
// provider does not retry them; only signature or payload rejection earns
// a 400.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		renderError(w, model.WrapDomainError(model.ErrCodeValidation, "Failed to read webhook payload", err), h.logger)
		return
	}

	signature := r.Header.Get(signatureHeader(providerName))
	if err := h.service.HandleWebhook(r.Context(), providerName, payload, signature); err != nil {
		if errors.Is(err, provider.ErrWebhooksUnsupported) {
			h.logger.Warn().Str("provider", providerName).Msg("webhook posted to poll-only provider")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		renderError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// signatureHeader returns the header carrying the provider's webhook
// signature.
func signatureHeader(providerName string) string {
	if providerName == string(model.ProviderStripe) {
		return "Stripe-Signature"
	}
	return "X-Webhook-Signature"
}

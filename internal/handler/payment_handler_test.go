package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"commerce-core/internal/model"
	"commerce-core/internal/provider"
	"commerce-core/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPaymentService is a mock implementation of service.PaymentService.
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) Get(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Payment, error) {
	args := m.Called(ctx, id, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentService) List(ctx context.Context, ident *model.Identity, providerName, status string) ([]model.Payment, error) {
	args := m.Called(ctx, ident, providerName, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Payment), args.Error(1)
}

func (m *MockPaymentService) Confirm(ctx context.Context, transactionID string, ident *model.Identity) (*model.Payment, error) {
	args := m.Called(ctx, transactionID, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentService) Status(ctx context.Context, transactionID string, ident *model.Identity) (*service.PaymentStatusResult, error) {
	args := m.Called(ctx, transactionID, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PaymentStatusResult), args.Error(1)
}

func (m *MockPaymentService) Refund(ctx context.Context, paymentID uuid.UUID, req *model.RefundRequest, ident *model.Identity) (*model.RefundResponse, error) {
	args := m.Called(ctx, paymentID, req, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RefundResponse), args.Error(1)
}

func (m *MockPaymentService) ApplySuccess(ctx context.Context, transactionID string, raw json.RawMessage) (*model.Payment, error) {
	args := m.Called(ctx, transactionID, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentService) ApplyFailure(ctx context.Context, transactionID, errorMessage string, raw json.RawMessage) (*model.Payment, error) {
	args := m.Called(ctx, transactionID, errorMessage, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockPaymentService) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) error {
	args := m.Called(ctx, providerName, payload, signature)
	return args.Error(0)
}

// paymentRouter mounts the handler the way the real router does so path
// parameters resolve.
func paymentRouter(svc service.PaymentService) http.Handler {
	h := NewPaymentHandler(svc, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/api/payments", h.List)
	r.Post("/api/payments/confirm", h.Confirm)
	r.Get("/api/payments/{id}", h.Get)
	r.Get("/api/payments/{transactionID}/status", h.Status)
	r.Post("/api/payments/{id}/refund", h.Refund)
	r.Post("/api/webhooks/{provider}", h.Webhook)
	return r
}

func TestPaymentHandler_Get(t *testing.T) {
	userID := uuid.New()
	ident := &model.Identity{UserID: userID}
	paymentID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		payment := &model.Payment{
			ID:            paymentID,
			OrderID:       uuid.New(),
			Provider:      model.ProviderStripe,
			TransactionID: "pi_123",
			Amount:        decimal.RequireFromString("25.99"),
			Currency:      "USD",
			Status:        model.PaymentStatusSuccess,
		}
		mockService := new(MockPaymentService)
		mockService.On("Get", mock.Anything, paymentID, ident).Return(payment, nil)

		req := authedRequest(http.MethodGet, "/api/payments/"+paymentID.String(), nil, ident)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got model.Payment
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, paymentID, got.ID)
		assert.Equal(t, "pi_123", got.TransactionID)
		mockService.AssertExpectations(t)
	})

	t.Run("Not found", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("Get", mock.Anything, paymentID, ident).Return(nil, model.ErrPaymentNotFound)

		req := authedRequest(http.MethodGet, "/api/payments/"+paymentID.String(), nil, ident)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Anonymous request", func(t *testing.T) {
		mockService := new(MockPaymentService)

		req := authedRequest(http.MethodGet, "/api/payments/"+paymentID.String(), nil, nil)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockService.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPaymentHandler_List(t *testing.T) {
	ident := &model.Identity{UserID: uuid.New()}

	mockService := new(MockPaymentService)
	mockService.On("List", mock.Anything, ident, "stripe", "success").
		Return([]model.Payment{{ID: uuid.New(), Provider: model.ProviderStripe, Status: model.PaymentStatusSuccess}}, nil)

	req := authedRequest(http.MethodGet, "/api/payments?provider=stripe&status=success", nil, ident)
	w := httptest.NewRecorder()
	paymentRouter(mockService).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var got []model.Payment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Len(t, got, 1)
	mockService.AssertExpectations(t)
}

func TestPaymentHandler_Confirm(t *testing.T) {
	ident := &model.Identity{UserID: uuid.New()}

	t.Run("Success", func(t *testing.T) {
		payment := &model.Payment{ID: uuid.New(), TransactionID: "pi_123", Status: model.PaymentStatusSuccess}
		mockService := new(MockPaymentService)
		mockService.On("Confirm", mock.Anything, "pi_123", ident).Return(payment, nil)

		body := []byte(`{"transactionId": "pi_123"}`)
		req := authedRequest(http.MethodPost, "/api/payments/confirm", body, ident)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got model.Payment
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, model.PaymentStatusSuccess, got.Status)
		mockService.AssertExpectations(t)
	})

	t.Run("Provider rejection", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("Confirm", mock.Anything, "pi_bad", ident).
			Return(nil, model.NewDomainError(model.ErrCodeProviderFailure, "stripe confirm failed: card declined"))

		body := []byte(`{"transactionId": "pi_bad"}`)
		req := authedRequest(http.MethodPost, "/api/payments/confirm", body, ident)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, model.ErrCodeProviderFailure, decodeErrorResponse(t, w).Error)
	})

	t.Run("Provider unavailable", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("Confirm", mock.Anything, "pi_123", ident).
			Return(nil, model.NewDomainError(model.ErrCodeProviderUnavailable, "stripe confirm unavailable"))

		body := []byte(`{"transactionId": "pi_123"}`)
		req := authedRequest(http.MethodPost, "/api/payments/confirm", body, ident)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		mockService := new(MockPaymentService)

		req := authedRequest(http.MethodPost, "/api/payments/confirm", []byte("{"), ident)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, model.ErrCodeInvalidJSON, decodeErrorResponse(t, w).Error)
		mockService.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPaymentHandler_Status(t *testing.T) {
	ident := &model.Identity{UserID: uuid.New()}

	payment := &model.Payment{ID: uuid.New(), TransactionID: "trx_1", Status: model.PaymentStatusSuccess}
	mockService := new(MockPaymentService)
	mockService.On("Status", mock.Anything, "trx_1", ident).
		Return(&service.PaymentStatusResult{Payment: payment, ProviderStatus: provider.StatusSucceeded}, nil)

	req := authedRequest(http.MethodGet, "/api/payments/trx_1/status", nil, ident)
	w := httptest.NewRecorder()
	paymentRouter(mockService).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Payment        model.Payment   `json:"payment"`
		ProviderStatus provider.Status `json:"providerStatus"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "trx_1", got.Payment.TransactionID)
	assert.Equal(t, provider.StatusSucceeded, got.ProviderStatus)
	mockService.AssertExpectations(t)
}

func TestPaymentHandler_Refund(t *testing.T) {
	admin := &model.Identity{UserID: uuid.New(), Admin: true}
	paymentID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		amount := decimal.RequireFromString("10.00")
		mockService := new(MockPaymentService)
		mockService.On("Refund", mock.Anything, paymentID, mock.MatchedBy(func(req *model.RefundRequest) bool {
			return req.Amount != nil && req.Amount.Equal(amount) && req.Reason == "requested_by_customer"
		}), admin).Return(&model.RefundResponse{PaymentID: paymentID, RefundID: "re_1", Status: model.PaymentStatusRefunded}, nil)

		body := []byte(`{"amount": "10.00", "reason": "requested_by_customer"}`)
		req := authedRequest(http.MethodPost, "/api/payments/"+paymentID.String()+"/refund", body, admin)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got model.RefundResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, "re_1", got.RefundID)
		mockService.AssertExpectations(t)
	})

	t.Run("Empty body refunds in full", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("Refund", mock.Anything, paymentID, mock.MatchedBy(func(req *model.RefundRequest) bool {
			return req.Amount == nil && req.Reason == ""
		}), admin).Return(&model.RefundResponse{PaymentID: paymentID, RefundID: "re_2", Status: model.PaymentStatusRefunded}, nil)

		req := authedRequest(http.MethodPost, "/api/payments/"+paymentID.String()+"/refund", nil, admin)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("Non-admin forbidden", func(t *testing.T) {
		user := &model.Identity{UserID: uuid.New()}
		mockService := new(MockPaymentService)
		mockService.On("Refund", mock.Anything, paymentID, mock.Anything, user).
			Return(nil, model.ErrAdminRequired)

		req := authedRequest(http.MethodPost, "/api/payments/"+paymentID.String()+"/refund", nil, user)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Not refundable", func(t *testing.T) {
		mockService := new(MockPaymentService)
		mockService.On("Refund", mock.Anything, paymentID, mock.Anything, admin).
			Return(nil, model.NewDomainError(model.ErrCodeInvalidTransition, `Payment cannot be refunded from status "pending"`))

		req := authedRequest(http.MethodPost, "/api/payments/"+paymentID.String()+"/refund", nil, admin)
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestPaymentHandler_Webhook(t *testing.T) {
	t.Run("Processed", func(t *testing.T) {
		payload := []byte(`{"type": "payment_intent.succeeded"}`)
		mockService := new(MockPaymentService)
		mockService.On("HandleWebhook", mock.Anything, "stripe", payload, "t=1,v1=abc").Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status": "processed"}`, w.Body.String())
		mockService.AssertExpectations(t)
	})

	t.Run("Signature rejected", func(t *testing.T) {
		payload := []byte(`{}`)
		mockService := new(MockPaymentService)
		mockService.On("HandleWebhook", mock.Anything, "stripe", payload, "").
			Return(model.NewDomainError(model.ErrCodeValidation, "Missing webhook signature"))

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, model.ErrCodeValidation, decodeErrorResponse(t, w).Error)
	})

	t.Run("Poll-only provider acknowledged", func(t *testing.T) {
		payload := []byte(`{}`)
		mockService := new(MockPaymentService)
		mockService.On("HandleWebhook", mock.Anything, "bkash", payload, "").
			Return(provider.ErrWebhooksUnsupported)

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/bkash", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status": "ignored"}`, w.Body.String())
	})

	t.Run("Unknown provider", func(t *testing.T) {
		payload := []byte(`{}`)
		mockService := new(MockPaymentService)
		mockService.On("HandleWebhook", mock.Anything, "paypal", payload, "").
			Return(model.NewDomainError(model.ErrCodeUnsupportedProvider, `Unsupported payment provider "paypal"`))

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", bytes.NewReader(payload))
		w := httptest.NewRecorder()
		paymentRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

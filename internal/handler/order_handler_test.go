package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"commerce-core/internal/middleware"
	"commerce-core/internal/model"
	"commerce-core/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrderService is a mock implementation of service.OrderService.
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Create(ctx context.Context, userID uuid.UUID, req *model.OrderRequest) (*model.Order, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) Get(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Order, error) {
	args := m.Called(ctx, id, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) List(ctx context.Context, ident *model.Identity, status string) ([]model.Order, error) {
	args := m.Called(ctx, ident, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Order), args.Error(1)
}

func (m *MockOrderService) Cancel(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Order, error) {
	args := m.Called(ctx, id, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) MarkPaid(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	args := m.Called(ctx, tx, orderID)
	return args.Error(0)
}

func (m *MockOrderService) AddItem(ctx context.Context, orderID uuid.UUID, req *model.AddItemRequest, ident *model.Identity) (*model.Order, error) {
	args := m.Called(ctx, orderID, req, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) RemoveItem(ctx context.Context, orderID, productID uuid.UUID, ident *model.Identity) (*model.Order, error) {
	args := m.Called(ctx, orderID, productID, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string, ident *model.Identity) (*model.Order, error) {
	args := m.Called(ctx, orderID, status, ident)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

// orderRouter mounts the handler the way the real router does so path
// parameters resolve.
func orderRouter(svc service.OrderService) http.Handler {
	h := NewOrderHandler(svc, zerolog.Nop())
	r := chi.NewRouter()
	r.Post("/api/orders", h.Create)
	r.Get("/api/orders", h.List)
	r.Get("/api/orders/{id}", h.Get)
	r.Post("/api/orders/{id}/cancel", h.Cancel)
	r.Post("/api/orders/{id}/items", h.AddItem)
	r.Delete("/api/orders/{id}/items/{productID}", h.RemoveItem)
	r.Patch("/api/orders/{id}/status", h.UpdateStatus)
	return r
}

// authedRequest attaches the identity the middleware would have extracted.
func authedRequest(method, target string, body []byte, ident *model.Identity) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if ident != nil {
		req = req.WithContext(middleware.ContextWithIdentity(req.Context(), ident))
	}
	return req
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestOrderHandler_Create(t *testing.T) {
	userID := uuid.New()
	ident := &model.Identity{UserID: userID}

	order := &model.Order{
		ID:          uuid.New(),
		UserID:      userID,
		Status:      model.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("25.50"),
	}

	tests := []struct {
		name           string
		body           []byte
		ident          *model.Identity
		mockReturn     *model.Order
		mockError      error
		expectedStatus int
		expectedCode   string
		expectService  bool
	}{
		{
			name:           "Success",
			body:           []byte(`{"items": [{"productId": "` + uuid.NewString() + `", "quantity": 2}]}`),
			ident:          ident,
			mockReturn:     order,
			expectedStatus: http.StatusCreated,
			expectService:  true,
		},
		{
			name:           "Invalid JSON",
			body:           []byte("not json"),
			ident:          ident,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   model.ErrCodeInvalidJSON,
		},
		{
			name:           "Anonymous request",
			body:           []byte(`{"items": []}`),
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   model.ErrCodeUnauthorised,
		},
		{
			name:           "Validation failure",
			body:           []byte(`{"items": []}`),
			ident:          ident,
			mockError:      model.NewDomainError(model.ErrCodeValidation, "Order must contain at least one item"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   model.ErrCodeValidation,
			expectService:  true,
		},
		{
			name:           "Insufficient stock",
			body:           []byte(`{"items": [{"productId": "` + uuid.NewString() + `", "quantity": 9}]}`),
			ident:          ident,
			mockError:      model.NewDomainError(model.ErrCodeInsufficientStock, "Insufficient stock"),
			expectedStatus: http.StatusConflict,
			expectedCode:   model.ErrCodeInsufficientStock,
			expectService:  true,
		},
		{
			name:           "Internal error is masked",
			body:           []byte(`{"items": [{"productId": "` + uuid.NewString() + `", "quantity": 1}]}`),
			ident:          ident,
			mockError:      errors.New("database connection failed"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   model.ErrCodeInternalError,
			expectService:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			if tt.expectService {
				mockService.On("Create", mock.Anything, userID, mock.AnythingOfType("*model.OrderRequest")).
					Return(tt.mockReturn, tt.mockError)
			}

			req := authedRequest(http.MethodPost, "/api/orders", tt.body, tt.ident)
			w := httptest.NewRecorder()
			orderRouter(mockService).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				resp := decodeErrorResponse(t, w)
				assert.Equal(t, tt.expectedCode, resp.Error)
				if tt.name == "Internal error is masked" {
					assert.NotContains(t, resp.Message, "database")
				}
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_Create_ItemizedErrors(t *testing.T) {
	userID := uuid.New()
	mockService := new(MockOrderService)
	mockService.On("Create", mock.Anything, userID, mock.Anything).
		Return(nil, model.NewValidationError("Order validation failed",
			model.ItemError{Index: 0, Field: "quantity", Code: model.ErrCodeValidation, Message: "Quantity must be positive"},
			model.ItemError{Index: 1, Code: model.ErrCodeNotFound, Message: "Product not found"},
		))

	body := []byte(`{"items": [{"productId": "` + uuid.NewString() + `", "quantity": 0}, {"productId": "` + uuid.NewString() + `", "quantity": 1}]}`)
	req := authedRequest(http.MethodPost, "/api/orders", body, &model.Identity{UserID: userID})
	w := httptest.NewRecorder()
	orderRouter(mockService).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeErrorResponse(t, w)
	assert.Equal(t, model.ErrCodeValidation, resp.Error)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, 0, resp.Items[0].Index)
	assert.Equal(t, "quantity", resp.Items[0].Field)
	assert.Equal(t, model.ErrCodeNotFound, resp.Items[1].Code)
}

func TestOrderHandler_Get(t *testing.T) {
	userID := uuid.New()
	ident := &model.Identity{UserID: userID}
	orderID := uuid.New()

	order := &model.Order{ID: orderID, UserID: userID, Status: model.OrderStatusPending}

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("Get", mock.Anything, orderID, ident).Return(order, nil)

		req := authedRequest(http.MethodGet, "/api/orders/"+orderID.String(), nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got model.Order
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, orderID, got.ID)
		mockService.AssertExpectations(t)
	})

	t.Run("Not found", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("Get", mock.Anything, orderID, ident).Return(nil, model.ErrOrderNotFound)

		req := authedRequest(http.MethodGet, "/api/orders/"+orderID.String(), nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, model.ErrCodeNotFound, decodeErrorResponse(t, w).Error)
	})

	t.Run("Forbidden", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("Get", mock.Anything, orderID, ident).Return(nil, model.ErrForbidden)

		req := authedRequest(http.MethodGet, "/api/orders/"+orderID.String(), nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Invalid id", func(t *testing.T) {
		mockService := new(MockOrderService)

		req := authedRequest(http.MethodGet, "/api/orders/not-a-uuid", nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestOrderHandler_List(t *testing.T) {
	userID := uuid.New()
	ident := &model.Identity{UserID: userID}

	mockService := new(MockOrderService)
	mockService.On("List", mock.Anything, ident, "pending").
		Return([]model.Order{{ID: uuid.New(), UserID: userID, Status: model.OrderStatusPending}}, nil)

	req := authedRequest(http.MethodGet, "/api/orders?status=pending", nil, ident)
	w := httptest.NewRecorder()
	orderRouter(mockService).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var got []model.Order
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Len(t, got, 1)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_Cancel(t *testing.T) {
	userID := uuid.New()
	ident := &model.Identity{UserID: userID}
	orderID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		cancelled := &model.Order{ID: orderID, UserID: userID, Status: model.OrderStatusCancelled}
		mockService := new(MockOrderService)
		mockService.On("Cancel", mock.Anything, orderID, ident).Return(cancelled, nil)

		req := authedRequest(http.MethodPost, "/api/orders/"+orderID.String()+"/cancel", nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got model.Order
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, model.OrderStatusCancelled, got.Status)
	})

	t.Run("Invalid transition", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("Cancel", mock.Anything, orderID, ident).
			Return(nil, model.NewDomainError(model.ErrCodeInvalidTransition, "Order cannot be cancelled"))

		req := authedRequest(http.MethodPost, "/api/orders/"+orderID.String()+"/cancel", nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, model.ErrCodeInvalidTransition, decodeErrorResponse(t, w).Error)
	})
}

func TestOrderHandler_AddItem(t *testing.T) {
	userID := uuid.New()
	ident := &model.Identity{UserID: userID}
	orderID := uuid.New()
	productID := uuid.New()

	mockService := new(MockOrderService)
	mockService.On("AddItem", mock.Anything, orderID, mock.MatchedBy(func(req *model.AddItemRequest) bool {
		return req.ProductID == productID && req.Quantity == 3
	}), ident).Return(&model.Order{ID: orderID, UserID: userID}, nil)

	body := []byte(`{"productId": "` + productID.String() + `", "quantity": 3}`)
	req := authedRequest(http.MethodPost, "/api/orders/"+orderID.String()+"/items", body, ident)
	w := httptest.NewRecorder()
	orderRouter(mockService).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_RemoveItem(t *testing.T) {
	userID := uuid.New()
	ident := &model.Identity{UserID: userID}
	orderID := uuid.New()
	productID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("RemoveItem", mock.Anything, orderID, productID, ident).
			Return(&model.Order{ID: orderID, UserID: userID}, nil)

		req := authedRequest(http.MethodDelete, "/api/orders/"+orderID.String()+"/items/"+productID.String(), nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("Invalid product id", func(t *testing.T) {
		mockService := new(MockOrderService)

		req := authedRequest(http.MethodDelete, "/api/orders/"+orderID.String()+"/items/banana", nil, ident)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "RemoveItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestOrderHandler_UpdateStatus(t *testing.T) {
	orderID := uuid.New()
	admin := &model.Identity{UserID: uuid.New(), Admin: true}

	t.Run("Success", func(t *testing.T) {
		shipped := &model.Order{ID: orderID, Status: model.OrderStatusShipped}
		mockService := new(MockOrderService)
		mockService.On("UpdateStatus", mock.Anything, orderID, "shipped", admin).Return(shipped, nil)

		body := []byte(`{"status": "shipped"}`)
		req := authedRequest(http.MethodPatch, "/api/orders/"+orderID.String()+"/status", body, admin)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("Non-admin forbidden", func(t *testing.T) {
		user := &model.Identity{UserID: uuid.New()}
		mockService := new(MockOrderService)
		mockService.On("UpdateStatus", mock.Anything, orderID, "shipped", user).
			Return(nil, model.ErrAdminRequired)

		body := []byte(`{"status": "shipped"}`)
		req := authedRequest(http.MethodPatch, "/api/orders/"+orderID.String()+"/status", body, user)
		w := httptest.NewRecorder()
		orderRouter(mockService).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

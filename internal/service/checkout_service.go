package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-core/internal/inventory"
	"commerce-core/internal/model"
	"commerce-core/internal/provider"
	"commerce-core/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// checkoutService implements CheckoutService.
type checkoutService struct {
	orders      OrderService
	paymentRepo repository.PaymentRepository
	gateway     inventory.Gateway
	registry    *provider.Registry
	logger      zerolog.Logger
}

// NewCheckoutService creates a new checkout orchestrator.
func NewCheckoutService(
	orders OrderService,
	paymentRepo repository.PaymentRepository,
	gateway inventory.Gateway,
	registry *provider.Registry,
	logger zerolog.Logger,
) CheckoutService {
	return &checkoutService{
		orders:      orders,
		paymentRepo: paymentRepo,
		gateway:     gateway,
		registry:    registry,
		logger:      logger.With().Str("service", "checkout").Logger(),
	}
}

// Checkout creates an order and initiates payment for it. Once the order
// exists, failures no longer roll it back: the pending order is a legitimate
// end state and the returned result carries its id so payment can be retried.
func (s *checkoutService) Checkout(ctx context.Context, userID uuid.UUID, req *model.CheckoutRequest) (*model.CheckoutResult, error) {
	if userID == uuid.Nil {
		return nil, model.NewDomainError(model.ErrCodeValidation, "User id is required")
	}
	if req == nil || len(req.Items) == 0 {
		return nil, model.NewDomainError(model.ErrCodeValidation, "Checkout requires at least one item")
	}
	providerName, err := model.ParsePaymentProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	if _, err := validateItems(ctx, s.gateway, req.Items); err != nil {
		return nil, err
	}

	order, err := s.orders.Create(ctx, userID, &model.OrderRequest{Items: req.Items, Notes: req.Notes})
	if err != nil {
		return nil, err
	}

	result := &model.CheckoutResult{OrderID: order.ID, Amount: order.TotalAmount}

	prov, err := s.registry.Resolve(providerName)
	if err != nil {
		return result, err
	}
	if err := s.ensurePayable(ctx, order); err != nil {
		return result, err
	}

	currency := prov.DefaultCurrency()
	intent, err := prov.CreatePayment(ctx, order, order.TotalAmount, currency)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Str("provider", string(providerName)).
			Msg("payment initiation failed")
		return result, err
	}

	now := time.Now()
	payment := &model.Payment{
		ID:            uuid.New(),
		OrderID:       order.ID,
		Provider:      prov.Name(),
		TransactionID: intent.TransactionID,
		Amount:        order.TotalAmount,
		Currency:      currency,
		Status:        model.PaymentStatusPending,
		RawResponse:   intent.RawResponse,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicateTransactionID) {
			return result, model.WrapDomainError(model.ErrCodeProviderFailure,
				"Provider returned an already-recorded transaction id", err)
		}
		return result, fmt.Errorf("failed to record payment: %w", err)
	}

	result.PaymentID = payment.ID
	result.TransactionID = payment.TransactionID
	result.Currency = payment.Currency
	result.Provider = payment.Provider
	result.Continuation = intent.Continuation

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("payment_id", payment.ID.String()).
		Str("transaction_id", payment.TransactionID).
		Str("provider", string(payment.Provider)).
		Str("amount", payment.Amount.String()).
		Msg("checkout initiated")

	return result, nil
}

// ensurePayable re-checks the freshly created order right before the
// provider call. Stock can move between order creation and payment
// initiation, and a stale cart must fail here rather than at capture time.
func (s *checkoutService) ensurePayable(ctx context.Context, order *model.Order) error {
	if order.Status != model.OrderStatusPending {
		return model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Order cannot be paid from status %q", order.Status))
	}
	if len(order.Items) == 0 {
		return model.NewDomainError(model.ErrCodeValidation, "Order has no items to pay for")
	}
	if !order.TotalAmount.IsPositive() {
		return model.NewDomainError(model.ErrCodeValidation, "Order total must be positive")
	}

	for _, item := range order.Items {
		product, err := s.gateway.Lookup(ctx, item.ProductID)
		if err != nil {
			return fmt.Errorf("failed to verify order items: %w", err)
		}
		if product == nil || !product.IsAvailable() {
			return model.NewDomainError(model.ErrCodeProductUnavailable,
				fmt.Sprintf("Product %s is no longer available", item.ProductID))
		}
		if product.Stock < item.Quantity {
			return model.NewDomainError(model.ErrCodeInsufficientStock,
				fmt.Sprintf("Insufficient stock for %q: requested %d, available %d",
					product.Name, item.Quantity, product.Stock))
		}
	}
	return nil
}

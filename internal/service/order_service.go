package service

import (
	"context"
	"fmt"
	"time"

	"commerce-core/internal/inventory"
	"commerce-core/internal/model"
	"commerce-core/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// orderService implements OrderService.
type orderService struct {
	orderRepo   repository.OrderRepository
	paymentRepo repository.PaymentRepository
	gateway     inventory.Gateway
	logger      zerolog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	gateway inventory.Gateway,
	logger zerolog.Logger,
) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		gateway:     gateway,
		logger:      logger.With().Str("service", "order").Logger(),
	}
}

// validateItems checks the structural rules and the catalog state for the
// requested items. It returns the product snapshots keyed by id so callers
// can capture prices without a second lookup. All item failures are
// collected into one itemized validation error rather than stopping at the
// first.
func validateItems(ctx context.Context, gateway inventory.Gateway, items []model.OrderItemRequest) (map[uuid.UUID]*model.Product, error) {
	products := make(map[uuid.UUID]*model.Product, len(items))
	var itemErrors []model.ItemError
	seen := make(map[uuid.UUID]bool, len(items))

	for i, item := range items {
		if item.ProductID == uuid.Nil {
			itemErrors = append(itemErrors, model.ItemError{
				Index: i, Field: "productId", Code: model.ErrCodeValidation,
				Message: "Product id is required",
			})
			continue
		}
		if seen[item.ProductID] {
			itemErrors = append(itemErrors, model.ItemError{
				Index: i, Field: "productId", Code: model.ErrCodeValidation,
				Message: fmt.Sprintf("Product %s appears more than once", item.ProductID),
			})
			continue
		}
		seen[item.ProductID] = true

		if item.Quantity < 1 {
			itemErrors = append(itemErrors, model.ItemError{
				Index: i, Field: "quantity", Code: model.ErrCodeValidation,
				Message: "Quantity must be at least 1",
			})
			continue
		}

		product, err := gateway.Lookup(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to validate order items: %w", err)
		}
		if product == nil {
			itemErrors = append(itemErrors, model.ItemError{
				Index: i, Field: "productId", Code: model.ErrCodeNotFound,
				Message: fmt.Sprintf("Product %s not found", item.ProductID),
			})
			continue
		}
		if !product.IsAvailable() {
			itemErrors = append(itemErrors, model.ItemError{
				Index: i, Field: "productId", Code: model.ErrCodeProductUnavailable,
				Message: fmt.Sprintf("Product %q is unavailable", product.Name),
			})
			continue
		}
		if product.Stock < item.Quantity {
			itemErrors = append(itemErrors, model.ItemError{
				Index: i, Field: "quantity", Code: model.ErrCodeInsufficientStock,
				Message: fmt.Sprintf("Insufficient stock for %q: requested %d, available %d",
					product.Name, item.Quantity, product.Stock),
			})
			continue
		}

		products[item.ProductID] = product
	}

	if len(itemErrors) > 0 {
		return nil, model.NewValidationError("Order items failed validation", itemErrors...)
	}
	return products, nil
}

// Create validates the requested items, captures prices, and persists the
// order with its items atomically.
func (s *orderService) Create(ctx context.Context, userID uuid.UUID, req *model.OrderRequest) (*model.Order, error) {
	if userID == uuid.Nil {
		return nil, model.NewDomainError(model.ErrCodeValidation, "User id is required")
	}
	if req == nil || len(req.Items) == 0 {
		return nil, model.NewDomainError(model.ErrCodeValidation, "Order must contain at least one item")
	}
	if len(req.Notes) > model.MaxNotesLength {
		return nil, model.NewDomainError(model.ErrCodeValidation,
			fmt.Sprintf("Notes must not exceed %d characters", model.MaxNotesLength))
	}

	products, err := validateItems(ctx, s.gateway, req.Items)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("order validation failed")
		return nil, err
	}

	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	now := time.Now()
	order := &model.Order{
		ID:          uuid.New(),
		UserID:      userID,
		TotalAmount: decimal.Zero,
		Status:      model.OrderStatusPending,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.orderRepo.Create(ctx, tx, order); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to create order")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	items := make([]model.OrderItem, len(req.Items))
	for i, item := range req.Items {
		line := model.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     products[item.ProductID].Price,
			CreatedAt: now,
			UpdatedAt: now,
		}
		line.Subtotal = line.ComputeSubtotal()
		items[i] = line
	}
	if err = s.orderRepo.CreateItems(ctx, tx, items); err != nil {
		s.logger.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Int("item_count", len(items)).
			Msg("failed to create order items")
		return nil, fmt.Errorf("failed to create order items: %w", err)
	}

	var total decimal.Decimal
	if total, err = s.orderRepo.SumItemSubtotals(ctx, tx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to compute order total: %w", err)
	}
	if err = s.orderRepo.UpdateTotal(ctx, tx, order.ID, total); err != nil {
		return nil, fmt.Errorf("failed to store order total: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	order.TotalAmount = total
	order.Items = items

	s.logger.Info().
		Str("order_id", order.ID.String()).
		Str("user_id", userID.String()).
		Str("total", total.String()).
		Int("item_count", len(items)).
		Msg("order created")

	return order, nil
}

// Get retrieves an order with its items and payment attempts.
func (s *orderService) Get(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, model.ErrOrderNotFound
	}
	if !ident.CanAccess(order.UserID) {
		s.logger.Warn().
			Str("order_id", id.String()).
			Str("user_id", ident.UserID.String()).
			Msg("order access denied")
		return nil, model.ErrForbidden
	}

	payments, err := s.paymentRepo.ListByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order payments: %w", err)
	}
	order.Payments = payments

	return order, nil
}

// List retrieves orders matching the optional status filter, scoped to the
// caller unless it is administrative.
func (s *orderService) List(ctx context.Context, ident *model.Identity, status string) ([]model.Order, error) {
	filter := repository.OrderFilter{}
	if status != "" {
		parsed, err := model.ParseOrderStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &parsed
	}
	if !ident.IsAdmin() {
		filter.UserID = &ident.UserID
	}

	orders, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// Cancel cancels a pending or paid order. Cancelling a paid order restores
// the stock its items consumed; the restore and the status flip commit
// together or not at all.
func (s *orderService) Cancel(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Order, error) {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var order *model.Order
	if order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, id); err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	if order == nil {
		err = model.ErrOrderNotFound
		return nil, err
	}
	if !ident.CanAccess(order.UserID) {
		err = model.ErrForbidden
		return nil, err
	}
	if !order.CanBeCancelled() {
		err = model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Cannot cancel order with status %q", order.Status))
		return nil, err
	}

	if order.Status == model.OrderStatusPaid {
		for _, item := range order.Items {
			if err = s.gateway.IncreaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				s.logger.Error().
					Err(err).
					Str("order_id", id.String()).
					Str("product_id", item.ProductID.String()).
					Msg("failed to restore stock")
				return nil, fmt.Errorf("failed to restore stock: %w", err)
			}
		}
	}

	if err = s.orderRepo.UpdateStatus(ctx, tx, id, model.OrderStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	previous := order.Status
	order.Status = model.OrderStatusCancelled

	s.logger.Info().
		Str("order_id", id.String()).
		Str("previous_status", string(previous)).
		Msg("order cancelled")

	return order, nil
}

// MarkPaid transitions a pending order to paid and decrements stock for its
// items within the caller's transaction. A stock shortfall at this point is
// logged and skipped: the payment has already settled and must stand.
func (s *orderService) MarkPaid(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error {
	order, err := s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}
	if order == nil {
		return model.ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(model.OrderStatusPaid) {
		return model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Cannot mark order paid from status %q", order.Status))
	}

	if err := s.orderRepo.UpdateStatus(ctx, tx, orderID, model.OrderStatusPaid); err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	for _, item := range order.Items {
		err := s.gateway.ReduceStock(ctx, tx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}
		if model.CodeOf(err) == model.ErrCodeInsufficientStock {
			s.logger.Warn().
				Str("order_id", orderID.String()).
				Str("product_id", item.ProductID.String()).
				Int("quantity", item.Quantity).
				Msg("stock shortfall on paid order")
			continue
		}
		return fmt.Errorf("failed to reduce stock: %w", err)
	}

	s.logger.Info().Str("order_id", orderID.String()).Msg("order marked paid")
	return nil
}

// AddItem appends a line to a pending order, capturing the current price,
// and recomputes the total.
func (s *orderService) AddItem(ctx context.Context, orderID uuid.UUID, req *model.AddItemRequest, ident *model.Identity) (*model.Order, error) {
	if req == nil || req.ProductID == uuid.Nil {
		return nil, model.NewDomainError(model.ErrCodeValidation, "Product id is required")
	}
	if req.Quantity < 1 {
		return nil, model.NewDomainError(model.ErrCodeValidation, "Quantity must be at least 1")
	}

	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to add item: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var order *model.Order
	if order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID); err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}
	if order == nil {
		err = model.ErrOrderNotFound
		return nil, err
	}
	if !ident.CanAccess(order.UserID) {
		err = model.ErrForbidden
		return nil, err
	}
	if !order.CanBeModified() {
		err = model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Only pending orders can be modified, order is %q", order.Status))
		return nil, err
	}
	for _, line := range order.Items {
		if line.ProductID == req.ProductID {
			err = model.NewDomainError(model.ErrCodeValidation, "Product is already in the order")
			return nil, err
		}
	}

	var product *model.Product
	if product, err = s.gateway.Lookup(ctx, req.ProductID); err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}
	if product == nil {
		err = model.ErrProductNotFound
		return nil, err
	}
	if !product.IsAvailable() {
		err = model.NewDomainError(model.ErrCodeProductUnavailable,
			fmt.Sprintf("Product %q is unavailable", product.Name))
		return nil, err
	}
	if product.Stock < req.Quantity {
		err = model.NewDomainError(model.ErrCodeInsufficientStock,
			fmt.Sprintf("Insufficient stock for %q: requested %d, available %d",
				product.Name, req.Quantity, product.Stock))
		return nil, err
	}

	now := time.Now()
	item := model.OrderItem{
		ID:        uuid.New(),
		OrderID:   orderID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Price:     product.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	item.Subtotal = item.ComputeSubtotal()

	if err = s.orderRepo.InsertItem(ctx, tx, &item); err != nil {
		return nil, fmt.Errorf("failed to add item: %w", err)
	}

	var total decimal.Decimal
	if total, err = s.orderRepo.SumItemSubtotals(ctx, tx, orderID); err != nil {
		return nil, fmt.Errorf("failed to compute order total: %w", err)
	}
	if err = s.orderRepo.UpdateTotal(ctx, tx, orderID, total); err != nil {
		return nil, fmt.Errorf("failed to store order total: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to add item: %w", err)
	}

	order.Items = append(order.Items, item)
	order.TotalAmount = total

	s.logger.Info().
		Str("order_id", orderID.String()).
		Str("product_id", req.ProductID.String()).
		Int("quantity", req.Quantity).
		Str("total", total.String()).
		Msg("item added to order")

	return order, nil
}

// RemoveItem deletes a line from a pending order and recomputes the total.
func (s *orderService) RemoveItem(ctx context.Context, orderID, productID uuid.UUID, ident *model.Identity) (*model.Order, error) {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var order *model.Order
	if order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID); err != nil {
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}
	if order == nil {
		err = model.ErrOrderNotFound
		return nil, err
	}
	if !ident.CanAccess(order.UserID) {
		err = model.ErrForbidden
		return nil, err
	}
	if !order.CanBeModified() {
		err = model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Only pending orders can be modified, order is %q", order.Status))
		return nil, err
	}

	var removed bool
	if removed, err = s.orderRepo.DeleteItem(ctx, tx, orderID, productID); err != nil {
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}
	if !removed {
		err = model.NewDomainError(model.ErrCodeNotFound, "Order item not found")
		return nil, err
	}

	var total decimal.Decimal
	if total, err = s.orderRepo.SumItemSubtotals(ctx, tx, orderID); err != nil {
		return nil, fmt.Errorf("failed to compute order total: %w", err)
	}
	if err = s.orderRepo.UpdateTotal(ctx, tx, orderID, total); err != nil {
		return nil, fmt.Errorf("failed to store order total: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}

	kept := order.Items[:0]
	for _, line := range order.Items {
		if line.ProductID != productID {
			kept = append(kept, line)
		}
	}
	order.Items = kept
	order.TotalAmount = total

	s.logger.Info().
		Str("order_id", orderID.String()).
		Str("product_id", productID.String()).
		Str("total", total.String()).
		Msg("item removed from order")

	return order, nil
}

// UpdateStatus performs an administrative fulfillment move. Paid and
// cancelled are owned by the payment flow and Cancel respectively, so only
// the forward fulfillment statuses are accepted here.
func (s *orderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string, ident *model.Identity) (*model.Order, error) {
	if !ident.IsAdmin() {
		return nil, model.ErrAdminRequired
	}

	next, err := model.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	switch next {
	case model.OrderStatusProcessing, model.OrderStatusShipped, model.OrderStatusDelivered:
	default:
		return nil, model.NewDomainError(model.ErrCodeValidation,
			"Status must be one of processing, shipped, delivered")
	}

	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				s.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var order *model.Order
	if order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if order == nil {
		err = model.ErrOrderNotFound
		return nil, err
	}
	if !order.Status.CanTransitionTo(next) {
		err = model.NewDomainError(model.ErrCodeInvalidTransition,
			fmt.Sprintf("Cannot transition order from %q to %q", order.Status, next))
		return nil, err
	}

	if err = s.orderRepo.UpdateStatus(ctx, tx, orderID, next); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to commit transaction")
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	previous := order.Status
	order.Status = next

	s.logger.Info().
		Str("order_id", orderID.String()).
		Str("from", string(previous)).
		Str("to", string(next)).
		Msg("order status updated")

	return order, nil
}

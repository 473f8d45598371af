package repository

import (
	"context"
	"fmt"
	"strings"

	"commerce-core/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// orderRepository implements the OrderRepository interface using PostgreSQL.
type orderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "order").Logger(),
	}
}

// BeginTx starts a new database transaction.
func (r *orderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Create inserts a new order within the provided transaction.
func (r *orderRepository) Create(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	query := `
		INSERT INTO orders (id, user_id, total_amount, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.Exec(ctx, query,
		order.ID, order.UserID, order.TotalAmount, order.Status, order.Notes,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Debug().
		Str("order_id", order.ID.String()).
		Msg("order created successfully")

	return nil
}

// CreateItems inserts multiple order items within the provided transaction.
func (r *orderRepository) CreateItems(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO order_items (id, order_id, product_id, quantity, price, subtotal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query,
			item.ID, item.OrderID, item.ProductID, item.Quantity,
			item.Price, item.Subtotal, item.CreatedAt, item.UpdatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(items); i++ {
		_, err := results.Exec()
		if err != nil {
			r.logger.Error().
				Err(err).
				Str("order_id", items[i].OrderID.String()).
				Str("product_id", items[i].ProductID.String()).
				Msg("failed to create order item")
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	r.logger.Debug().
		Int("count", len(items)).
		Msg("order items created successfully")

	return nil
}

// InsertItem inserts a single order item within the provided transaction.
func (r *orderRepository) InsertItem(ctx context.Context, tx pgx.Tx, item *model.OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, quantity, price, subtotal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := tx.Exec(ctx, query,
		item.ID, item.OrderID, item.ProductID, item.Quantity,
		item.Price, item.Subtotal, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", item.OrderID.String()).
			Str("product_id", item.ProductID.String()).
			Msg("failed to insert order item")
		return fmt.Errorf("failed to insert order item: %w", err)
	}

	return nil
}

// DeleteItem removes an order line. Returns false when no such line exists.
func (r *orderRepository) DeleteItem(ctx context.Context, tx pgx.Tx, orderID, productID uuid.UUID) (bool, error) {
	query := `
		DELETE FROM order_items
		WHERE order_id = $1 AND product_id = $2
	`

	tag, err := tx.Exec(ctx, query, orderID, productID)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Str("product_id", productID.String()).
			Msg("failed to delete order item")
		return false, fmt.Errorf("failed to delete order item: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves an order by its ID along with its items.
func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	orderQuery := `
		SELECT id, user_id, total_amount, status, notes, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order model.Order
	err := r.pool.QueryRow(ctx, orderQuery, id).Scan(
		&order.ID,
		&order.UserID,
		&order.TotalAmount,
		&order.Status,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			r.logger.Debug().Str("order_id", id.String()).Msg("order not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	items, err := r.queryItems(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

// GetByIDForUpdate locks the order row for the duration of tx and retrieves
// it with its items. Serializes all mutating flows for one order.
func (r *orderRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error) {
	orderQuery := `
		SELECT id, user_id, total_amount, status, notes, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`

	var order model.Order
	err := tx.QueryRow(ctx, orderQuery, id).Scan(
		&order.ID,
		&order.UserID,
		&order.TotalAmount,
		&order.Status,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			r.logger.Debug().Str("order_id", id.String()).Msg("order not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to lock order")
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	items, err := r.queryItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

// queryable covers both the pool and a transaction.
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *orderRepository) queryItems(ctx context.Context, q queryable, orderID uuid.UUID) ([]model.OrderItem, error) {
	itemsQuery := `
		SELECT id, order_id, product_id, quantity, price, subtotal, created_at, updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`

	rows, err := q.Query(ctx, itemsQuery, orderID)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Msg("failed to query order items")
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var item model.OrderItem
		err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.Quantity,
			&item.Price, &item.Subtotal, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order item row")
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order item rows")
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	return items, nil
}

// List retrieves orders matching the filter, newest first, without items.
func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]model.Order, error) {
	query := `
		SELECT id, user_id, total_amount, status, notes, created_at, updated_at
		FROM orders
	`

	var conds []string
	var args []any
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query orders")
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var order model.Order
		err := rows.Scan(
			&order.ID, &order.UserID, &order.TotalAmount, &order.Status,
			&order.Notes, &order.CreatedAt, &order.UpdatedAt,
		)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order row")
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order rows")
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// UpdateStatus sets the order status within the provided transaction.
func (r *orderRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, status)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", id.String()).
			Str("status", string(status)).
			Msg("failed to update order status")
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not found for status update", id)
	}

	r.logger.Debug().
		Str("order_id", id.String()).
		Str("status", string(status)).
		Msg("order status updated")

	return nil
}

// SumItemSubtotals computes the current total from the order's items within
// the provided transaction.
func (r *orderRepository) SumItemSubtotals(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(subtotal), 0)
		FROM order_items
		WHERE order_id = $1
	`

	var total decimal.Decimal
	if err := tx.QueryRow(ctx, query, orderID).Scan(&total); err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", orderID.String()).
			Msg("failed to sum item subtotals")
		return decimal.Zero, fmt.Errorf("failed to sum item subtotals: %w", err)
	}

	return total, nil
}

// UpdateTotal persists a recomputed order total within the provided transaction.
func (r *orderRepository) UpdateTotal(ctx context.Context, tx pgx.Tx, id uuid.UUID, total decimal.Decimal) error {
	query := `
		UPDATE orders
		SET total_amount = $2, updated_at = now()
		WHERE id = $1
	`

	if _, err := tx.Exec(ctx, query, id, total); err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", id.String()).
			Msg("failed to update order total")
		return fmt.Errorf("failed to update order total: %w", err)
	}

	return nil
}

package inventory

import (
	"context"
	"fmt"

	"commerce-core/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Gateway is the order engine's only access to product state. Lookups return
// an availability and price snapshot; stock only ever moves through the
// conditional operations below, which re-check sufficiency at mutation time.
type Gateway interface {
	// Lookup retrieves the current product snapshot. Returns nil when the
	// product does not exist.
	Lookup(ctx context.Context, productID uuid.UUID) (*model.Product, error)

	// ReduceStock decrements stock within the provided transaction. Fails
	// with INSUFFICIENT_STOCK when fewer than quantity units remain at
	// mutation time; stock hitting zero flips the product to out_of_stock.
	ReduceStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error

	// IncreaseStock restores stock within the provided transaction, flipping
	// an out_of_stock product back to active.
	IncreaseStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error
}

// postgresGateway implements Gateway over the products table.
type postgresGateway struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresGateway creates a PostgreSQL-backed inventory gateway.
func NewPostgresGateway(pool *pgxpool.Pool, logger zerolog.Logger) Gateway {
	return &postgresGateway{
		pool:   pool,
		logger: logger.With().Str("gateway", "inventory").Logger(),
	}
}

// Lookup retrieves the current product snapshot.
func (g *postgresGateway) Lookup(ctx context.Context, productID uuid.UUID) (*model.Product, error) {
	query := `
		SELECT id, sku, name, price, stock, status, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p model.Product
	err := g.pool.QueryRow(ctx, query, productID).Scan(
		&p.ID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.Status,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			g.logger.Debug().Str("product_id", productID.String()).Msg("product not found")
			return nil, nil
		}
		g.logger.Error().Err(err).Str("product_id", productID.String()).Msg("failed to query product")
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	return &p, nil
}

// ReduceStock decrements stock, guarding sufficiency in the same statement so
// concurrent checkouts for one product cannot oversell.
func (g *postgresGateway) ReduceStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return model.NewDomainError(model.ErrCodeValidation, "Quantity must be positive")
	}

	query := `
		UPDATE products
		SET stock = stock - $2,
			status = CASE WHEN stock - $2 = 0 THEN 'out_of_stock' ELSE status END,
			updated_at = now()
		WHERE id = $1 AND stock >= $2
	`

	tag, err := tx.Exec(ctx, query, productID, quantity)
	if err != nil {
		g.logger.Error().
			Err(err).
			Str("product_id", productID.String()).
			Int("quantity", quantity).
			Msg("failed to reduce stock")
		return fmt.Errorf("failed to reduce stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		g.logger.Warn().
			Str("product_id", productID.String()).
			Int("quantity", quantity).
			Msg("insufficient stock at mutation time")
		return model.NewDomainError(model.ErrCodeInsufficientStock,
			fmt.Sprintf("Insufficient stock for product %s", productID))
	}

	g.logger.Debug().
		Str("product_id", productID.String()).
		Int("quantity", quantity).
		Msg("stock reduced")

	return nil
}

// IncreaseStock restores stock after a paid order is cancelled.
func (g *postgresGateway) IncreaseStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return model.NewDomainError(model.ErrCodeValidation, "Quantity must be positive")
	}

	query := `
		UPDATE products
		SET stock = stock + $2,
			status = CASE WHEN status = 'out_of_stock' THEN 'active' ELSE status END,
			updated_at = now()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, productID, quantity)
	if err != nil {
		g.logger.Error().
			Err(err).
			Str("product_id", productID.String()).
			Int("quantity", quantity).
			Msg("failed to increase stock")
		return fmt.Errorf("failed to increase stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s not found for stock restore", productID)
	}

	g.logger.Debug().
		Str("product_id", productID.String()).
		Int("quantity", quantity).
		Msg("stock increased")

	return nil
}

package repository

import (
	"context"
	"testing"
	"time"

	"commerce-core/internal/database"
	"commerce-core/internal/model"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a disposable PostgreSQL container with the full schema
// applied and the decimal codec registered, exactly like the production pool.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err)

	require.NoError(t, database.EnsureSchema(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// seedTestProduct inserts a catalog row order items can reference.
func seedTestProduct(t *testing.T, pool *pgxpool.Pool, price string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO products (id, sku, name, price, stock, status) VALUES ($1, $2, $3, $4, $5, 'active')`,
		id, "SKU-"+id.String()[:8], "Test Product", decimal.RequireFromString(price), stock)
	require.NoError(t, err)
	return id
}

// insertTestOrder persists a bare order row and commits it.
func insertTestOrder(t *testing.T, repo OrderRepository, userID uuid.UUID, status model.OrderStatus, total string) *model.Order {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC()
	order := &model.Order{
		ID:          uuid.New(),
		UserID:      userID,
		TotalAmount: decimal.RequireFromString(total),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, tx, order))
	require.NoError(t, tx.Commit(ctx))

	return order
}

// insertTestPayment persists a payment attempt against an order.
func insertTestPayment(t *testing.T, repo PaymentRepository, orderID uuid.UUID, provider model.PaymentProvider, transactionID string, status model.PaymentStatus) *model.Payment {
	t.Helper()

	now := time.Now().UTC()
	payment := &model.Payment{
		ID:            uuid.New(),
		OrderID:       orderID,
		Provider:      provider,
		TransactionID: transactionID,
		Amount:        decimal.RequireFromString("25.99"),
		Currency:      "USD",
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, repo.Create(context.Background(), payment))

	return payment
}

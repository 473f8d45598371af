package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"commerce-core/internal/database"
	"commerce-core/internal/model"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB represents a test database instance.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB creates a PostgreSQL test container with the production schema
// applied and the decimal codec registered, exactly like the real pool.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	// Create PostgreSQL container
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("failed to parse connection string: %v", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	if err := database.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	return &TestDB{
		Container: postgresContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}
}

// Catalog holds the products seeded for a scenario.
type Catalog struct {
	Widget  uuid.UUID // 10.00, stock 5
	Gadget  uuid.UUID // 20.00, stock 10
	Drained uuid.UUID // 30.00, out of stock
}

// SeedCatalog inserts the scenario catalog and returns the product ids.
func SeedCatalog(t *testing.T, pool *pgxpool.Pool) Catalog {
	t.Helper()

	ctx := context.Background()
	catalog := Catalog{
		Widget:  uuid.New(),
		Gadget:  uuid.New(),
		Drained: uuid.New(),
	}

	products := []struct {
		id     uuid.UUID
		sku    string
		name   string
		price  string
		stock  int
		status model.ProductStatus
	}{
		{catalog.Widget, "SKU-WIDGET", "Widget", "10.00", 5, model.ProductStatusActive},
		{catalog.Gadget, "SKU-GADGET", "Gadget", "20.00", 10, model.ProductStatusActive},
		{catalog.Drained, "SKU-DRAINED", "Drained", "30.00", 0, model.ProductStatusOutOfStock},
	}

	for _, p := range products {
		_, err := pool.Exec(ctx,
			`INSERT INTO products (id, sku, name, price, stock, status) VALUES ($1, $2, $3, $4, $5, $6)`,
			p.id, p.sku, p.name, decimal.RequireFromString(p.price), p.stock, p.status,
		)
		if err != nil {
			t.Fatalf("failed to seed product %s: %v", p.sku, err)
		}
	}

	return catalog
}

// CleanupDB cleans all data from test tables.
func CleanupDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()

	tables := []string{"payments", "order_items", "orders", "products"}
	for _, table := range tables {
		_, err := pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			t.Logf("failed to clean table %s: %v", table, err)
		}
	}
}

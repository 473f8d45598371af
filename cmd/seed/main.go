package main

import (
	"context"
	"fmt"
	"os"

	"commerce-core/internal/config"
	"commerce-core/internal/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// seedProduct is one catalog row inserted by the seeder.
type seedProduct struct {
	sku   string
	name  string
	price string
	stock int
}

// seedProducts is a small catalog for local development. SKUs are stable so
// re-running the seeder is a no-op.
var seedProducts = []seedProduct{
	{sku: "SKU-KB-01", name: "Mechanical Keyboard", price: "89.99", stock: 40},
	{sku: "SKU-MS-01", name: "Wireless Mouse", price: "24.50", stock: 120},
	{sku: "SKU-MN-01", name: "27in Monitor", price: "219.00", stock: 15},
	{sku: "SKU-HS-01", name: "USB Headset", price: "45.25", stock: 60},
	{sku: "SKU-DK-01", name: "Laptop Dock", price: "129.99", stock: 0},
	{sku: "SKU-CB-01", name: "USB-C Cable 2m", price: "9.99", stock: 500},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	logger := config.NewLogger(config.LoggerConfig{Level: "info", Format: "console"})
	ctx := context.Background()

	pool, err := database.NewPool(ctx, dbCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to ensure database schema: %w", err)
	}

	query := `
		INSERT INTO products (id, sku, name, price, stock, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sku) DO NOTHING
	`

	inserted := 0
	for _, p := range seedProducts {
		status := "active"
		if p.stock == 0 {
			status = "out_of_stock"
		}

		tag, err := pool.Exec(ctx, query,
			uuid.New(), p.sku, p.name, decimal.RequireFromString(p.price), p.stock, status)
		if err != nil {
			return fmt.Errorf("failed to insert product %s: %w", p.sku, err)
		}
		inserted += int(tag.RowsAffected())
	}

	logger.Info().
		Int("inserted", inserted).
		Int("skipped", len(seedProducts)-inserted).
		Msg("catalog seeded")

	return nil
}

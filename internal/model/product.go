package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductStatus represents catalog availability of a product.
type ProductStatus string

const (
	ProductStatusActive     ProductStatus = "active"
	ProductStatusInactive   ProductStatus = "inactive"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
)

// Product represents inventory state as seen through the inventory gateway.
// The order engine reads it and mutates stock only via the gateway contract.
type Product struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	SKU       string          `json:"sku" db:"sku"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Stock     int             `json:"stock" db:"stock"`
	Status    ProductStatus   `json:"status" db:"status"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// IsAvailable reports whether the product can be ordered at all.
func (p *Product) IsAvailable() bool {
	return p.Status == ProductStatusActive && p.Stock > 0
}

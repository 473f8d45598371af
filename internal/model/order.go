package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// orderTransitions encodes the only legal status moves. Fulfillment runs
// forward only; cancellation is reachable from pending and paid alone.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// ParseOrderStatus validates a raw status string.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return st, nil
	}
	return "", NewDomainError(ErrCodeValidation, fmt.Sprintf("Unknown order status %q", s))
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Order represents a customer order.
type Order struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	UserID      uuid.UUID       `json:"userId" db:"user_id"`
	TotalAmount decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Status      OrderStatus     `json:"status" db:"status"`
	Notes       string          `json:"notes,omitempty" db:"notes"`
	Items       []OrderItem     `json:"items,omitempty"`
	Payments    []Payment       `json:"payments,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// CanBeCancelled reports whether cancellation is a legal transition now.
func (o *Order) CanBeCancelled() bool {
	return o.Status.CanTransitionTo(OrderStatusCancelled)
}

// CanBeModified reports whether the item list may still change.
// Only pending orders are editable; paid stock has already moved.
func (o *Order) CanBeModified() bool {
	return o.Status == OrderStatusPending
}

// OrderItem represents a line item in an order. Price is captured at order
// time and never re-read from the catalog.
type OrderItem struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrderID   uuid.UUID       `json:"-" db:"order_id"`
	ProductID uuid.UUID       `json:"productId" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Subtotal  decimal.Decimal `json:"subtotal" db:"subtotal"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// ComputeSubtotal returns quantity times the captured price.
func (i *OrderItem) ComputeSubtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderRequest represents the request payload for creating an order.
type OrderRequest struct {
	Items []OrderItemRequest `json:"items"`
	Notes string             `json:"notes,omitempty"`
}

// OrderItemRequest represents a single item in an order request.
type OrderItemRequest struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// AddItemRequest represents the payload for adding a line to a pending order.
type AddItemRequest struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// UpdateOrderStatusRequest represents an administrative fulfillment move.
type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

// MaxNotesLength bounds the free-text notes field.
const MaxNotesLength = 1000

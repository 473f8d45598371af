package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutRequest represents the combined create-order-and-initiate-payment
// payload.
type CheckoutRequest struct {
	Items    []OrderItemRequest `json:"items"`
	Provider string             `json:"paymentProvider"`
	Notes    string             `json:"notes,omitempty"`
}

// CheckoutResult is returned on successful checkout. On payment-initiation
// failure after the order was created, handlers receive a result carrying
// only OrderID alongside the error, so callers can retry payment against the
// surviving pending order.
type CheckoutResult struct {
	OrderID       uuid.UUID         `json:"orderId"`
	PaymentID     uuid.UUID         `json:"paymentId,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency,omitempty"`
	Provider      PaymentProvider   `json:"provider,omitempty"`
	Continuation  map[string]string `json:"continuation,omitempty"`
}

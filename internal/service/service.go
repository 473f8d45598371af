package service

import (
	"context"
	"encoding/json"

	"commerce-core/internal/model"
	"commerce-core/internal/provider"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderService defines operations on the order lifecycle. Every read and
// mutation takes the requesting identity; a nil identity is a trusted
// internal caller.
type OrderService interface {
	// Create validates the requested items against the catalog, captures
	// prices, and persists the order atomically in pending status.
	Create(ctx context.Context, userID uuid.UUID, req *model.OrderRequest) (*model.Order, error)

	// Get retrieves an order with its items and payment attempts.
	Get(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Order, error)

	// List retrieves orders, optionally filtered by status. Non-admin
	// callers only see their own.
	List(ctx context.Context, ident *model.Identity, status string) ([]model.Order, error)

	// Cancel cancels a pending or paid order, restoring stock for paid ones.
	Cancel(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Order, error)

	// MarkPaid transitions the order to paid and decrements stock inside the
	// caller's transaction. It locks the order row; callers holding a
	// payment row lock must acquire that lock first.
	MarkPaid(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) error

	// AddItem appends a line to a pending order and recomputes the total.
	AddItem(ctx context.Context, orderID uuid.UUID, req *model.AddItemRequest, ident *model.Identity) (*model.Order, error)

	// RemoveItem deletes a line from a pending order and recomputes the total.
	RemoveItem(ctx context.Context, orderID, productID uuid.UUID, ident *model.Identity) (*model.Order, error)

	// UpdateStatus performs an administrative fulfillment move
	// (processing, shipped, delivered).
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status string, ident *model.Identity) (*model.Order, error)
}

// PaymentStatusResult pairs the recorded payment with the provider's live
// view of it.
type PaymentStatusResult struct {
	Payment        *model.Payment  `json:"payment"`
	ProviderStatus provider.Status `json:"providerStatus"`
}

// PaymentService defines operations on payment records. Webhook, poll, and
// synchronous confirmation all converge on ApplySuccess/ApplyFailure, which
// are idempotent for repeated observations of the same outcome.
type PaymentService interface {
	// Get retrieves a payment. Ownership is checked through the parent order.
	Get(ctx context.Context, id uuid.UUID, ident *model.Identity) (*model.Payment, error)

	// List retrieves payments, optionally filtered by provider and status.
	// Non-admin callers only see payments against their own orders.
	List(ctx context.Context, ident *model.Identity, providerName, status string) ([]model.Payment, error)

	// Confirm executes a pending payment synchronously with the provider and
	// applies the reported outcome.
	Confirm(ctx context.Context, transactionID string, ident *model.Identity) (*model.Payment, error)

	// Status polls the provider for its view of the payment and reconciles
	// the stored record when the provider reports a settled outcome.
	Status(ctx context.Context, transactionID string, ident *model.Identity) (*PaymentStatusResult, error)

	// Refund reverses a successful payment with the provider. Administrators only.
	Refund(ctx context.Context, paymentID uuid.UUID, req *model.RefundRequest, ident *model.Identity) (*model.RefundResponse, error)

	// ApplySuccess records a provider-confirmed success and marks the parent
	// order paid in the same transaction. Re-applying success is a no-op;
	// applying it over a different settled outcome fails.
	ApplySuccess(ctx context.Context, transactionID string, raw json.RawMessage) (*model.Payment, error)

	// ApplyFailure records a provider-confirmed failure. Re-applying failure
	// is a no-op; applying it over a different settled outcome fails.
	ApplyFailure(ctx context.Context, transactionID, errorMessage string, raw json.RawMessage) (*model.Payment, error)

	// HandleWebhook verifies and applies one webhook delivery. Unknown
	// transactions and conflicting outcomes are logged and swallowed so the
	// provider is not asked to retry them.
	HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) error
}

// CheckoutService creates an order and initiates payment for it in one
// operation.
type CheckoutService interface {
	// Checkout validates the items, creates the order, and initiates a
	// payment with the requested provider. When payment initiation fails
	// after the order exists, the returned result still carries the order id
	// so the caller can retry payment against the surviving pending order.
	Checkout(ctx context.Context, userID uuid.UUID, req *model.CheckoutRequest) (*model.CheckoutResult, error)
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"commerce-core/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrDuplicateTransactionID is returned when a payment insert collides with
// an existing provider transaction id. Services map it to a typed failure.
var ErrDuplicateTransactionID = errors.New("transaction id already exists")

// OrderFilter narrows order list queries.
type OrderFilter struct {
	UserID *uuid.UUID
	Status *model.OrderStatus
}

// PaymentFilter narrows payment list queries. UserID scopes through the
// owning order.
type PaymentFilter struct {
	UserID   *uuid.UUID
	Provider *model.PaymentProvider
	Status   *model.PaymentStatus
}

// OrderRepository defines the interface for order data access operations.
// Multi-statement mutations run inside a caller-held transaction.
type OrderRepository interface {
	// BeginTx starts a new database transaction.
	BeginTx(ctx context.Context) (pgx.Tx, error)

	// Create inserts a new order within the provided transaction.
	Create(ctx context.Context, tx pgx.Tx, order *model.Order) error

	// CreateItems inserts multiple order items within the provided transaction.
	CreateItems(ctx context.Context, tx pgx.Tx, items []model.OrderItem) error

	// InsertItem inserts a single order item within the provided transaction.
	InsertItem(ctx context.Context, tx pgx.Tx, item *model.OrderItem) error

	// DeleteItem removes an order line. Returns false when no such line exists.
	DeleteItem(ctx context.Context, tx pgx.Tx, orderID, productID uuid.UUID) (bool, error)

	// GetByID retrieves an order by its ID along with its items. Returns
	// nil when the order does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// GetByIDForUpdate locks the order row for the duration of tx and
	// retrieves it with its items. Returns nil when the order does not exist.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Order, error)

	// List retrieves orders matching the filter, newest first, without items.
	List(ctx context.Context, filter OrderFilter) ([]model.Order, error)

	// UpdateStatus sets the order status within the provided transaction.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status model.OrderStatus) error

	// SumItemSubtotals computes the current total from the order's items
	// within the provided transaction.
	SumItemSubtotals(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (decimal.Decimal, error)

	// UpdateTotal persists a recomputed order total within the provided transaction.
	UpdateTotal(ctx context.Context, tx pgx.Tx, id uuid.UUID, total decimal.Decimal) error
}

// PaymentRepository defines the interface for payment data access operations.
type PaymentRepository interface {
	// BeginTx starts a new database transaction.
	BeginTx(ctx context.Context) (pgx.Tx, error)

	// Create inserts a new payment row. Returns ErrDuplicateTransactionID
	// when the provider transaction id is already recorded.
	Create(ctx context.Context, payment *model.Payment) error

	// GetByID retrieves a payment by its ID. Returns nil when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error)

	// GetByIDForUpdate locks the payment row for the duration of tx.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Payment, error)

	// GetByTransactionID retrieves a payment by the provider transaction id.
	GetByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error)

	// GetByTransactionIDForUpdate locks the payment row for the duration of tx.
	GetByTransactionIDForUpdate(ctx context.Context, tx pgx.Tx, transactionID string) (*model.Payment, error)

	// ListByOrder retrieves all payment attempts for an order, newest first.
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error)

	// List retrieves payments matching the filter, newest first.
	List(ctx context.Context, filter PaymentFilter) ([]model.Payment, error)

	// SetProcessing moves the payment to processing, retaining the previous
	// raw response when raw is nil.
	SetProcessing(ctx context.Context, tx pgx.Tx, id uuid.UUID, raw json.RawMessage) error

	// SetSucceeded moves the payment to success. completedAt is only written
	// the first time a settled status is stored.
	SetSucceeded(ctx context.Context, tx pgx.Tx, id uuid.UUID, raw json.RawMessage, completedAt time.Time) error

	// SetFailed moves the payment to failed and records the provider's error.
	SetFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorMessage string, raw json.RawMessage, completedAt time.Time) error

	// SetRefunded moves the payment to refunded and stores the refund record.
	SetRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID, metadata map[string]any) error

	// ListForReconciliation retrieves unsettled payments of the given
	// providers last touched before olderThan, oldest first.
	ListForReconciliation(ctx context.Context, providers []model.PaymentProvider, olderThan time.Time, limit int) ([]model.Payment, error)
}

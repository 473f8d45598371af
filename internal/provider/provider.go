package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"commerce-core/internal/model"

	"github.com/shopspring/decimal"
)

// Status is the provider-neutral state of a payment as reported by an
// external gateway. Services translate it onto the payment state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusUnknown    Status = "unknown"
)

// ErrWebhooksUnsupported is returned by HandleNotification when the provider
// has no webhook delivery. Payments against such providers settle through
// polling instead.
var ErrWebhooksUnsupported = errors.New("webhooks not supported by this provider")

// Intent is the result of initiating a payment. Continuation carries
// provider-specific material the client needs to complete it, such as a
// client secret or a redirect URL.
type Intent struct {
	TransactionID string
	Status        Status
	Continuation  map[string]string
	RawResponse   json.RawMessage
}

// Confirmation is the result of a synchronous confirm call.
type Confirmation struct {
	TransactionID string
	Status        Status
	RawResponse   json.RawMessage
}

// StatusSnapshot is the provider's current view of a payment. Amount and
// Currency are informational; the recorded payment stays authoritative.
type StatusSnapshot struct {
	TransactionID string
	Status        Status
	Amount        decimal.Decimal
	Currency      string
	RawResponse   json.RawMessage
}

// RefundResult reports the provider-issued refund reference. Status is the
// provider's raw refund state.
type RefundResult struct {
	RefundID    string
	Status      string
	RawResponse json.RawMessage
}

// EventKind classifies a verified webhook notification.
type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventIgnored   EventKind = "ignored"
)

// Notification is a webhook event that passed authenticity verification.
type Notification struct {
	Kind          EventKind
	EventType     string
	TransactionID string
	ErrorMessage  string
	RawData       json.RawMessage
}

// Provider adapts one external payment gateway behind a uniform contract.
// Implementations perform their own HTTP calls and must never be invoked
// while a database transaction is open.
type Provider interface {
	// Name returns the registry name of the provider.
	Name() model.PaymentProvider

	// DefaultCurrency returns the currency payments are charged in.
	DefaultCurrency() string

	// SupportsWebhooks reports whether the provider pushes outcome
	// notifications. Providers without webhooks are settled by polling.
	SupportsWebhooks() bool

	// CreatePayment initiates a payment for the order's captured amount.
	CreatePayment(ctx context.Context, order *model.Order, amount decimal.Decimal, currency string) (*Intent, error)

	// ConfirmPayment executes a previously initiated payment.
	ConfirmPayment(ctx context.Context, transactionID string) (*Confirmation, error)

	// GetStatus queries the provider's current view of a payment.
	GetStatus(ctx context.Context, transactionID string) (*StatusSnapshot, error)

	// Refund reverses a captured payment. A nil amount refunds in full.
	Refund(ctx context.Context, transactionID string, amount *decimal.Decimal, reason string) (*RefundResult, error)

	// HandleNotification verifies and classifies a raw webhook delivery.
	// Verification failures surface as VALIDATION_FAILURE domain errors;
	// providers without webhooks return ErrWebhooksUnsupported.
	HandleNotification(payload []byte, signature string) (*Notification, error)
}

// failureError reports a definitive provider rejection. The payment will not
// complete as initiated.
func failureError(name model.PaymentProvider, op, message string) error {
	return model.NewDomainError(model.ErrCodeProviderFailure,
		fmt.Sprintf("%s %s failed: %s", name, op, message))
}

// unavailableError reports a transport-level fault. The provider-side
// outcome is unknown and the call may be retried.
func unavailableError(name model.PaymentProvider, op string, cause error) error {
	return model.WrapDomainError(model.ErrCodeProviderUnavailable,
		fmt.Sprintf("%s %s unavailable", name, op), cause)
}

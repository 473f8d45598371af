package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentProvider identifies a configured payment provider.
type PaymentProvider string

const (
	ProviderStripe PaymentProvider = "stripe"
	ProviderBkash  PaymentProvider = "bkash"
)

// ParsePaymentProvider validates a raw provider name.
func ParsePaymentProvider(s string) (PaymentProvider, error) {
	switch p := PaymentProvider(s); p {
	case ProviderStripe, ProviderBkash:
		return p, nil
	}
	return "", NewDomainError(ErrCodeUnsupportedProvider, fmt.Sprintf("Unsupported payment provider %q", s))
}

// PaymentStatus represents the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSuccess    PaymentStatus = "success"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// paymentTransitions encodes the legal status moves. Webhook, poll, and user
// confirm all drive the same machine, so re-entering the current outcome is
// handled by callers as a no-op rather than a transition.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusSuccess:    {PaymentStatusRefunded},
}

// ParsePaymentStatus validates a raw status string.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusSuccess,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return st, nil
	}
	return "", NewDomainError(ErrCodeValidation, fmt.Sprintf("Unknown payment status %q", s))
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusCancelled || s == PaymentStatusRefunded
}

// Settled reports whether the payment has reached an outcome. completedAt is
// written the first time a settled status is stored.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusSuccess || s.IsTerminal()
}

// Payment represents one payment attempt against an order.
type Payment struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OrderID       uuid.UUID       `json:"orderId" db:"order_id"`
	Provider      PaymentProvider `json:"provider" db:"provider"`
	TransactionID string          `json:"transactionId" db:"transaction_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	Status        PaymentStatus   `json:"status" db:"status"`
	RawResponse   json.RawMessage `json:"-" db:"raw_response"`
	ErrorMessage  string          `json:"errorMessage,omitempty" db:"error_message"`
	Metadata      map[string]any  `json:"metadata,omitempty" db:"metadata"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// CanBeRefunded reports whether a refund is permitted. Only settled
// successful payments qualify.
func (p *Payment) CanBeRefunded() bool {
	return p.Status == PaymentStatusSuccess
}

// ConfirmPaymentRequest represents the synchronous confirmation payload.
type ConfirmPaymentRequest struct {
	TransactionID string `json:"transactionId"`
}

// RefundRequest represents an administrative refund payload. A nil amount
// refunds the full captured amount.
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// RefundResponse reports the provider-issued refund reference.
type RefundResponse struct {
	PaymentID uuid.UUID     `json:"paymentId"`
	RefundID  string        `json:"refundId"`
	Status    PaymentStatus `json:"status"`
}

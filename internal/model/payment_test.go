package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{"pending to processing", PaymentStatusPending, PaymentStatusProcessing, true},
		{"pending to success", PaymentStatusPending, PaymentStatusSuccess, true},
		{"pending to failed", PaymentStatusPending, PaymentStatusFailed, true},
		{"pending to cancelled", PaymentStatusPending, PaymentStatusCancelled, true},
		{"pending to refunded", PaymentStatusPending, PaymentStatusRefunded, false},
		{"processing to success", PaymentStatusProcessing, PaymentStatusSuccess, true},
		{"processing to failed", PaymentStatusProcessing, PaymentStatusFailed, true},
		{"processing to pending", PaymentStatusProcessing, PaymentStatusPending, false},
		{"success to refunded", PaymentStatusSuccess, PaymentStatusRefunded, true},
		{"success to failed", PaymentStatusSuccess, PaymentStatusFailed, false},
		{"success to success", PaymentStatusSuccess, PaymentStatusSuccess, false},
		{"failed is terminal", PaymentStatusFailed, PaymentStatusSuccess, false},
		{"cancelled is terminal", PaymentStatusCancelled, PaymentStatusSuccess, false},
		{"refunded is terminal", PaymentStatusRefunded, PaymentStatusSuccess, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPaymentStatus_IsTerminal(t *testing.T) {
	assert.True(t, PaymentStatusFailed.IsTerminal())
	assert.True(t, PaymentStatusCancelled.IsTerminal())
	assert.True(t, PaymentStatusRefunded.IsTerminal())
	// success still allows the refund transition
	assert.False(t, PaymentStatusSuccess.IsTerminal())
	assert.False(t, PaymentStatusPending.IsTerminal())
	assert.False(t, PaymentStatusProcessing.IsTerminal())
}

func TestPaymentStatus_Settled(t *testing.T) {
	assert.True(t, PaymentStatusSuccess.Settled())
	assert.True(t, PaymentStatusFailed.Settled())
	assert.True(t, PaymentStatusCancelled.Settled())
	assert.True(t, PaymentStatusRefunded.Settled())
	assert.False(t, PaymentStatusPending.Settled())
	assert.False(t, PaymentStatusProcessing.Settled())
}

func TestPayment_CanBeRefunded(t *testing.T) {
	for status, want := range map[PaymentStatus]bool{
		PaymentStatusPending:    false,
		PaymentStatusProcessing: false,
		PaymentStatusSuccess:    true,
		PaymentStatusFailed:     false,
		PaymentStatusCancelled:  false,
		PaymentStatusRefunded:   false,
	} {
		p := &Payment{Status: status}
		assert.Equal(t, want, p.CanBeRefunded(), "status %s", status)
	}
}

func TestParsePaymentProvider(t *testing.T) {
	p, err := ParsePaymentProvider("stripe")
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, p)

	p, err = ParsePaymentProvider("bkash")
	require.NoError(t, err)
	assert.Equal(t, ProviderBkash, p)

	_, err = ParsePaymentProvider("paypal")
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnsupportedProvider, CodeOf(err))
}

func TestNewValidationError_CodePromotion(t *testing.T) {
	// single shared kind is promoted to the top-level code
	err := NewValidationError("order items failed validation",
		ItemError{Index: 0, Code: ErrCodeInsufficientStock, Message: "Insufficient stock"},
		ItemError{Index: 2, Code: ErrCodeInsufficientStock, Message: "Insufficient stock"},
	)
	assert.Equal(t, ErrCodeInsufficientStock, err.Code)

	// mixed kinds stay generic
	err = NewValidationError("order items failed validation",
		ItemError{Index: 0, Code: ErrCodeInsufficientStock, Message: "Insufficient stock"},
		ItemError{Index: 1, Code: ErrCodeNotFound, Message: "Product not found"},
	)
	assert.Equal(t, ErrCodeValidation, err.Code)

	// no items defaults to the generic code
	err = NewValidationError("order must contain at least one item")
	assert.Equal(t, ErrCodeValidation, err.Code)
}

package model

import "errors"

// ErrorResponse represents a standardised error response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Items   []ItemError `json:"items,omitempty"`
}

// ItemError pinpoints a validation failure to a single order item.
type ItemError struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Standard error codes for API responses
const (
	ErrCodeValidation          = "VALIDATION_FAILURE"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeInsufficientStock   = "INSUFFICIENT_STOCK"
	ErrCodeProductUnavailable  = "PRODUCT_UNAVAILABLE"
	ErrCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrCodeProviderFailure     = "PROVIDER_FAILURE"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInvalidJSON         = "INVALID_JSON"
	ErrCodeUnauthorised        = "UNAUTHORIZED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Domain errors for business logic
type DomainError struct {
	Code    string
	Message string
	Items   []ItemError
	cause   error
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WrapDomainError creates a domain error that preserves the underlying cause
// for errors.Is/errors.As inspection.
func WrapDomainError(code, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// NewValidationError creates an itemized validation error. When every item
// error shares one code, that code is promoted to the top-level error so
// callers can match on the specific failure kind.
func NewValidationError(message string, items ...ItemError) *DomainError {
	code := ErrCodeValidation
	if len(items) > 0 {
		shared := items[0].Code
		for _, it := range items[1:] {
			if it.Code != shared {
				shared = ""
				break
			}
		}
		if shared != "" {
			code = shared
		}
	}
	return &DomainError{
		Code:    code,
		Message: message,
		Items:   items,
	}
}

// CodeOf extracts the domain error code from err, or INTERNAL_ERROR when err
// is not a domain error.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}

// Common domain errors
var (
	ErrOrderNotFound   = NewDomainError(ErrCodeNotFound, "Order not found")
	ErrPaymentNotFound = NewDomainError(ErrCodeNotFound, "Payment not found")
	ErrProductNotFound = NewDomainError(ErrCodeNotFound, "Product not found")
	ErrForbidden       = NewDomainError(ErrCodeForbidden, "You do not have permission to access this resource")
	ErrAdminRequired   = NewDomainError(ErrCodeForbidden, "Administrator privileges required")
)

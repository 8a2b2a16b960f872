// Package errors defines the error kinds surfaced by the checkout workflow.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a draft, order or product does not exist.
	ErrNotFound = stderrors.New("not found")

	// ErrAuthenticationFailed is returned when a gateway callback signature
	// does not match, or when the gateway transaction already failed.
	ErrAuthenticationFailed = stderrors.New("invalid payment signature")

	// ErrGatewayTimeout is returned when the payment provider did not answer
	// within the configured timeout.
	ErrGatewayTimeout = stderrors.New("payment gateway timeout")
)

// ValidationError describes a malformed or missing request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// GatewayError carries the payment provider's rejection.
type GatewayError struct {
	StatusCode  int    `json:"status_code"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *GatewayError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("payment gateway returned status %d: %s", e.StatusCode, e.Description)
	}
	return fmt.Sprintf("payment gateway returned status %d (%s): %s", e.StatusCode, e.Code, e.Description)
}

// InsufficientStockError reports a product whose stock cannot cover an order line.
type InsufficientStockError struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return stderrors.As(err, &v)
}

// IsInsufficientStock reports whether err is an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var s *InsufficientStockError
	return stderrors.As(err, &s)
}

// IsGateway reports whether err came from the payment provider, including timeouts.
func IsGateway(err error) bool {
	var g *GatewayError
	return stderrors.As(err, &g) || stderrors.Is(err, ErrGatewayTimeout)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("resource not found")
	ErrForbidden            = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrInvalidState         = errors.New("escrow record is not in a settleable state")
	ErrAlreadyFunded        = errors.New("escrow already funded for subject")
	ErrAlreadyReleased      = errors.New("escrow already released")
	ErrAlreadyRefunded      = errors.New("escrow already refunded")
	ErrProviderMismatch     = errors.New("provider does not match withdrawal payout method")
	ErrInsufficientBalance  = errors.New("insufficient wallet balance")
	ErrIdempotencyViolation = errors.New("event payload differs from previously processed event")
	ErrNotReady             = errors.New("event subject is not ready")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrUnsupportedProvider  = errors.New("unsupported provider")
)

// Machine-readable validation reasons.
const (
	ReasonEmpty          = "empty"
	ReasonNonDigit       = "non_digit"
	ReasonInvalidLength  = "invalid_length"
	ReasonChecksumFailed = "checksum_failed"
	ReasonInvalidFormat  = "invalid_format"
	ReasonInvalidMonth   = "invalid_month"
	ReasonExpired        = "expired"
	ReasonRequired       = "required"
	ReasonNotPositive    = "not_positive"
	ReasonMismatch       = "mismatch"
	ReasonTooLarge       = "too_large"
)

// ValidationError reports malformed input on a single field. It is never retried.
type ValidationError struct {
	Field   string `json:"field"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func NewValidationError(field, reason, message string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Reason)
}

// AsValidationError extracts a ValidationError from err's chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsStateConflict reports whether err means the subject's current state forbids the operation.
func IsStateConflict(err error) bool {
	for _, target := range []error{
		ErrInvalidTransition,
		ErrInvalidState,
		ErrAlreadyFunded,
		ErrAlreadyReleased,
		ErrAlreadyRefunded,
		ErrProviderMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package market

import "errors"

var (
	// ErrValidation marks a missing or malformed request parameter.
	ErrValidation = errors.New("validation failed")

	// ErrUpstreamUnavailable marks exhaustion of every upstream and fallback.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ValidationError carries the message shown to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed or missing media; never retried
	ErrValidation = errors.New("validation error")

	// ErrProviderUnavailable is returned while the circuit breaker is open
	ErrProviderUnavailable = errors.New("provider unavailable: circuit open")

	// ErrContentBlocked is returned when the provider's safety filter rejects the request
	ErrContentBlocked = errors.New("content blocked by provider safety filters")

	// ErrPipelineExhausted is returned when a stage used up its re-deliveries
	ErrPipelineExhausted = errors.New("pipeline retries exhausted")

	// ErrDeliveryExhausted is returned when every delivery strategy failed
	ErrDeliveryExhausted = errors.New("all delivery strategies failed")

	// ErrMaxProcessingTime is returned when provider-side processing never finishes
	ErrMaxProcessingTime = errors.New("max processing time exceeded")

	// ErrProviderFileFailed is returned when the provider reports a failed file
	ErrProviderFileFailed = errors.New("provider failed to process file")

	// ErrStaleJob is returned for jobs found waiting too long at startup
	ErrStaleJob = errors.New("job stuck in queue")

	// ErrTransactionNotFound is returned when a ledger record does not exist
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrPendingNotFound is returned when a pending notification does not exist
	ErrPendingNotFound = errors.New("pending notification not found")
)

// TransientProviderError wraps timeouts and unavailability that should be retried
type TransientProviderError struct {
	Op  string
	Err error
}

func (e *TransientProviderError) Error() string {
	return "transient provider error in " + e.Op + ": " + e.Err.Error()
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient provider error
func NewTransientError(op string, err error) error {
	return &TransientProviderError{Op: op, Err: err}
}

// NewValidationError creates an error wrapping ErrValidation
func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsTransient reports whether err is a TransientProviderError
func IsTransient(err error) bool {
	var transient *TransientProviderError
	return errors.As(err, &transient)
}

// IsRetryable reports whether a job failing with err may be re-delivered.
// An open circuit is worth retrying later at job level even though the
// gateway itself fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrContentBlocked) {
		return false
	}
	return IsTransient(err) || errors.Is(err, ErrProviderUnavailable)
}

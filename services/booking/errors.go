package booking

import "fmt"

const (
	ReasonSlotRequired = "slot required"
	ReasonSlotNotFound = "slot not found"
	ReasonSlotReserved = "slot already reserved"
	ReasonTimeOverlap  = "time overlap"
)

// BookingConflictError means the requested time cannot be booked. It is a
// legitimate race loss, not a transient failure.
type BookingConflictError struct {
	Reason string
}

func (e *BookingConflictError) Error() string {
	return fmt.Sprintf("booking conflict: %s", e.Reason)
}

// IdempotencyKeyConflictError means an appointment already exists for the
// request's clientRequestId; callers should look it up instead of retrying.
type IdempotencyKeyConflictError struct {
	ClientRequestID string
}

func (e *IdempotencyKeyConflictError) Error() string {
	return fmt.Sprintf("appointment already exists for client request %q", e.ClientRequestID)
}

// BookingTimeoutError means the transaction retry budget ran out under
// contention. The whole request may be retried.
type BookingTimeoutError struct {
	Attempts int
	Cause    error
}

func (e *BookingTimeoutError) Error() string {
	return fmt.Sprintf("booking timed out after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *BookingTimeoutError) Unwrap() error { return e.Cause }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

package models

import "errors"

var (
	ErrCapacityExhausted     = errors.New("capacity exhausted")
	ErrDuplicateClaim        = errors.New("claimant already holds an active reservation")
	ErrDeadlinePassed        = errors.New("deadline passed")
	ErrOptionInactive        = errors.New("option is not active")
	ErrInvalidCapacityEdit   = errors.New("quantity cannot drop below reserved quantity")
	ErrInvalidDeadlineConfig = errors.New("invalid cancellation deadline")
	ErrNotFound              = errors.New("not found")
	ErrAlreadyCancelled      = errors.New("reservation already cancelled")
	ErrForbidden             = errors.New("forbidden")
	ErrTimeout               = errors.New("operation timed out")
	ErrInvalidInput          = errors.New("invalid input")
)

// Retryable reports whether the caller may safely repeat the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

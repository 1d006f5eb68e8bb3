package application

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a record with the same identity exists.
	ErrAlreadyExists = errors.New("application: already exists")
	// ErrInvalidTransition is returned when a status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("application: invalid status transition")
	// ErrConcurrentUpdate is returned when another writer changed the record first.
	ErrConcurrentUpdate = errors.New("application: concurrent update")
	// ErrSubscriptionInactive is returned for revoked or expired calendar feeds.
	ErrSubscriptionInactive = errors.New("application: subscription inactive")
	// ErrConflict matches rejections caused by an overlapping booking.
	ErrConflict = errors.New("application: booking conflict")
	// ErrCapacityReached matches rejections caused by a full resource.
	ErrCapacityReached = errors.New("application: capacity reached")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func newValidationError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// TransientError wraps storage or coordination failures that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("application: transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Temporary marks the error as retryable.
func (e *TransientError) Temporary() bool {
	return true
}

// IsRetryable reports whether err is a TransientError.
func IsRetryable(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// CascadeError reports a series cancellation that stopped partway. Bookings
// cancelled before the failure stay cancelled; retrying the cascade is safe.
type CascadeError struct {
	Succeeded int
	Attempted int
	Err       error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("application: series cancellation stopped after %d of %d bookings: %v", e.Succeeded, e.Attempted, e.Err)
}

func (e *CascadeError) Unwrap() error {
	return e.Err
}

// RejectionError is the error form of a rejected scheduling outcome.
type RejectionError struct {
	Rejection Rejection
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("application: booking rejected (%s) at occurrence %d", e.Rejection.Reason, e.Rejection.OccurrenceIndex)
}

// Is matches ErrConflict or ErrCapacityReached according to the reason.
func (e *RejectionError) Is(target error) bool {
	switch e.Rejection.Reason {
	case RejectionConflict:
		return target == ErrConflict
	case RejectionCapacity:
		return target == ErrCapacityReached
	}
	return false
}

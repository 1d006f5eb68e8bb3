package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a CHECK constraint rejects a write.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a referenced record is missing.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrTransient marks failures that may succeed when retried.
	ErrTransient = errors.New("persistence: transient failure")
	// ErrStaleStatus is returned when a conditional status update finds a
	// different status than expected.
	ErrStaleStatus = errors.New("persistence: booking status changed concurrently")
	// ErrSlotTaken is returned when the in-transaction re-check finds that a
	// slot was claimed after the caller evaluated it.
	ErrSlotTaken = errors.New("persistence: slot taken")
)

// SlotTakenError reports which booking of a batch failed the re-check.
type SlotTakenError struct {
	Index     int
	BookingID string
	Occupied  int
	Limit     int
}

func (e *SlotTakenError) Error() string {
	return fmt.Sprintf("persistence: slot taken for booking %s (index %d, %d/%d occupied)", e.BookingID, e.Index, e.Occupied, e.Limit)
}

func (e *SlotTakenError) Unwrap() error {
	return ErrSlotTaken
}

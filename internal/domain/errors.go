package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure  = errors.New("serialization failure")
	ErrEventNotFound         = errors.New("event not found")
	ErrInsufficientInventory = errors.New("not enough tickets available")
	ErrDuplicateEvent        = errors.New("an event with the same name and date already exists")
	ErrDuplicateIntent       = errors.New("booking intent already recorded")
	ErrInvalidInput          = errors.New("invalid input")
)

// InsufficientInventoryError carries the availability observed when the
// conditional decrement did not apply. The value may already be stale.
type InsufficientInventoryError struct {
	EventID   int64
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("not enough tickets available for event %d: requested %d, available %d", e.EventID, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// InvalidInput wraps ErrInvalidInput with a field level message.
func InvalidInput(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}

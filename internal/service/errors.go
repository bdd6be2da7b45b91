// Package service implements the reservation consistency engine: capacity
// resolution, idempotent customer identity, atomic admission, and the
// reservation lifecycle state machines.  Storage goes through
// repository.Store so the same logic runs against MySQL in production and
// the in-memory store in tests.
package service

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a lifecycle mutation attempts an
// edge the status machine does not allow, including any transition out of
// a terminal state.  It signals caller misuse, not contention; retrying
// the same transition cannot succeed.
var ErrInvalidTransition = errors.New("invalid status transition")

// CapacityError is the expected business outcome of admitting against a
// full (or nearly full) activity instance.  Available carries the exact
// remaining participant count, computed under the instance lock, so the
// caller can present it without a second round trip.
type CapacityError struct {
	Available uint32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity exceeded: %d available", e.Available)
}

package replenishment

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a schedule row or profile does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed or logically inconsistent input. It names
// the offending field so the editor can show an inline message. Validation
// runs before any store mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StoreError wraps a failure from the schedule store. The scheduler does not
// retry and does not roll back mutations already applied in the same logical
// operation; only the remaining steps are abandoned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

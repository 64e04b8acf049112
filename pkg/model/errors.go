package model

import "fmt"

// InvariantError signals that a data-model invariant was violated (e.g.
// applying an event to an order in a terminal state). These represent
// programmer/caller bugs, not recoverable runtime conditions, and should
// propagate rather than be swallowed — matching the teacher's pattern of
// wrapping and returning rather than panicking on venue/IO errors, while
// still using an error, not a panic, since invariant checks here run on
// data paths hit during normal operation (order replay, reconciliation).
type InvariantError struct {
	Component string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("model: invariant violated in %s: %s", e.Component, e.Detail)
}

// NewInvariantError builds an InvariantError.
func NewInvariantError(component, detail string) error {
	return &InvariantError{Component: component, Detail: detail}
}

// ValidationError signals malformed input data (bad identifiers,
// out-of-range fields) distinct from invariant violations on otherwise
// well-formed data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model: validation failed for %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

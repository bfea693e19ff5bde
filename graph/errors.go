package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports a violated graph invariant observed at bind or
// execution time: an unresolved input at dispatch, an output-arity mismatch,
// a duplicate write to a value slot, or a missing graph output. It is always
// fatal to the in-flight execute call and never retried.
type ValidationError struct {
	// Subject names the node or value involved.
	Subject string
	Reason  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph validation: %s: %s", e.Subject, e.Reason)
}

// Validationf builds a ValidationError with a stack trace attached.
func Validationf(subject, format string, args ...any) error {
	return errors.WithStack(&ValidationError{Subject: subject, Reason: fmt.Sprintf(format, args...)})
}

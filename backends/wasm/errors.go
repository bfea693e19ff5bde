package wasm

import (
	"fmt"

	"github.com/pkg/errors"
)

// MarshalingError reports a failure at the native-backend boundary: an
// input name the backend does not declare, a scratch allocation failure, or
// a malformed descriptor coming back. Fatal to the current call.
type MarshalingError struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *MarshalingError) Error() string {
	return fmt.Sprintf("wasm %s: %s", e.Op, e.Reason)
}

// Marshalingf builds a MarshalingError with a stack trace.
func Marshalingf(op, format string, args ...any) error {
	return errors.WithStack(&MarshalingError{Op: op, Reason: fmt.Sprintf(format, args...)})
}

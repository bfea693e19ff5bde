package webgl

import (
	"fmt"

	"github.com/pkg/errors"
)

// ResourceError reports a GPU resource failure: shader compile/link errors
// (with the driver's diagnostic log), a missing device capability, an
// unsupported pixel/element-type combination, or texture allocation beyond
// device limits. It is fatal to the operation that raised it; raised during
// backend initialization it means "backend unavailable" and the caller may
// fall back to a different backend.
type ResourceError struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	return fmt.Sprintf("webgl resource: %s: %s", e.Op, e.Reason)
}

// Resourcef builds a ResourceError with a stack trace.
func Resourcef(op, format string, args ...any) error {
	return errors.WithStack(&ResourceError{Op: op, Reason: fmt.Sprintf(format, args...)})
}

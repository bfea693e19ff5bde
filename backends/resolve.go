package backends

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/texelflow/texelflow/graph"
)

// VersionRange is an inclusive operator-set version interval.
type VersionRange struct {
	Min, Max int
}

// Versions returns the inclusive range [min, max].
func Versions(min, max int) VersionRange { return VersionRange{Min: min, Max: max} }

// Since returns the open-ended range [min, ∞).
func Since(min int) VersionRange { return VersionRange{Min: min, Max: math.MaxInt} }

// Contains reports whether v falls in the range.
func (r VersionRange) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// OpRule binds (op type, domain, version range) to a kernel constructor.
type OpRule struct {
	OpType   string
	Domain   string
	Versions VersionRange
	New      func(node *graph.Node) Operator
}

// OpSet is the kernel resolution table for one backend at one operator-set
// version.
//
// Resolution scans rules in declared order and takes the first whose op
// type, domain and version range match. No most-specific-match is attempted
// beyond declaration order; this mirrors the table as registered and is the
// current, possibly coarse, policy.
type OpSet struct {
	version int
	rules   []OpRule
}

// NewOpSet builds a resolution table for the given operator-set version.
// Rule order is resolution order.
func NewOpSet(version int, rules ...OpRule) *OpSet {
	return &OpSet{version: version, rules: rules}
}

// Version returns the operator-set version this table resolves against.
func (s *OpSet) Version() int { return s.version }

// WithVersion returns a copy of the table resolving at a different version.
func (s *OpSet) WithVersion(version int) *OpSet {
	return &OpSet{version: version, rules: s.rules}
}

// Resolve returns the kernel for the node, throwing
// UnsupportedOperationError when no rule matches.
func (s *OpSet) Resolve(node *graph.Node) Operator {
	for _, rule := range s.rules {
		if rule.OpType != node.OpType || rule.Domain != node.Domain {
			continue
		}
		if !rule.Versions.Contains(s.version) {
			continue
		}
		return rule.New(node)
	}
	panic(Unsupportedf(node.OpType, node.Domain, s.version, "no kernel registered"))
}

// UnsupportedOperationError reports an operator/version/dtype combination no
// kernel can serve, or a configuration (e.g. a broadcast the packing strategy
// cannot express) outside what the backend implements. Fatal to the current
// call.
type UnsupportedOperationError struct {
	OpType, Domain string
	Version        int
	Reason         string
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	domain := e.Domain
	if domain == "" {
		domain = "ai.onnx"
	}
	return fmt.Sprintf("unsupported operation %s (%s, opset %d): %s", e.OpType, domain, e.Version, e.Reason)
}

// Unsupportedf builds an UnsupportedOperationError with a stack trace.
func Unsupportedf(opType, domain string, version int, format string, args ...any) error {
	return errors.WithStack(&UnsupportedOperationError{
		OpType:  opType,
		Domain:  domain,
		Version: version,
		Reason:  errors.Errorf(format, args...).Error(),
	})
}

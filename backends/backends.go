// Package backends defines the contract a texelflow compute backend
// implements, plus the registry used to select one.
//
// A backend provides a SessionHandler (session-lived caches and resources)
// that hands out one InferenceContext per inference call (call-lived
// resources). Kernel implementations are backend-specific Operators selected
// through an OpSet resolution table rather than subclassing.
//
// To simplify error handling across layers, backend functions throw (panic)
// typed error values with stack traces; the session boundary recovers them.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/types/tensor"
)

// Operator is a backend-specific implementation of one graph operator,
// already bound to the rule that resolved it.
type Operator interface {
	// OpType returns the operator type this kernel implements.
	OpType() string
}

// KernelOp pairs a resolved Operator with its graph Node: the unit the
// execution plan dispatches.
type KernelOp struct {
	Op   Operator
	Node *graph.Node
}

// InferenceContext scopes one inference call: it owns the transient resources
// kernels allocate and must be disposed when the call finishes, on success or
// error.
type InferenceContext interface {
	// RunKernel executes one kernel and returns its output tensors. Output
	// data may be lazy (resolved on first access).
	RunKernel(op Operator, node *graph.Node, inputs []*tensor.Tensor) []*tensor.Tensor

	// Dispose releases every transient resource this context created.
	// Session-lived resources (e.g. staged initializers) are untouched.
	Dispose()
}

// SessionHandler is the per-session surface a backend exposes upward.
type SessionHandler interface {
	// Name returns the short backend name, e.g. "webgl".
	Name() string

	// Ops returns the kernel resolution table of this backend.
	Ops() *OpSet

	// OnGraphInitialized is called once, after kernels were resolved:
	// the backend stages initializer tensors into session-lived resources.
	OnGraphInitialized(g *graph.Graph)

	// NewInferenceContext returns a fresh context for one inference call.
	NewInferenceContext() InferenceContext

	// Dispose releases all session-lived resources.
	Dispose()
}

// Constructor builds a SessionHandler from a backend-specific configuration
// string (possibly empty).
type Constructor func(config string) (SessionHandler, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend constructor under the given name. Call during package
// initialization.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// TEXELFLOW_BACKEND is the environment variable selecting the default
// backend. Format: "<name>" or "<name>:<backend configuration>".
const TEXELFLOW_BACKEND = "TEXELFLOW_BACKEND"

// New returns a SessionHandler for the default configuration: the
// TEXELFLOW_BACKEND environment variable if set, otherwise the first
// registered backend with an empty configuration.
func New() (SessionHandler, error) {
	if config, found := os.LookupEnv(TEXELFLOW_BACKEND); found {
		return NewWithConfig(config)
	}
	return NewWithConfig("")
}

// NewWithConfig builds a SessionHandler from "<name>:<configuration>". An
// empty name selects the first registered backend.
func NewWithConfig(config string) (SessionHandler, error) {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered texelflow backends -- import one, e.g. _ "github.com/texelflow/texelflow/backends/webgl"`)
	}
	name := firstRegistered
	backendConfig := ""
	if config != "" {
		name = config
		if idx := strings.Index(config, ":"); idx != -1 {
			name = config[:idx]
			backendConfig = config[idx+1:]
		}
	}
	constructor, found := registeredConstructors[name]
	if !found {
		exceptions.Panicf("backends: no backend %q registered (configuration %q)", name, config)
	}
	return constructor(backendConfig)
}

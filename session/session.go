package session

import (
	"context"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/types/tensor"
)

// Session binds a graph to a backend for repeated inference. Creation does
// the expensive once-per-model work (shape annotation, kernel resolution,
// initializer staging); Run executes the plan once per call.
//
// Run calls are serialized: the backend's device state is globally scoped,
// so two in-flight calls would corrupt each other's bindings.
type Session struct {
	id      uuid.UUID
	graph   *graph.Graph
	handler backends.SessionHandler
	plan    *Plan
	hook    NodeHook

	mu     sync.Mutex
	closed bool
}

// Option configures New.
type Option func(*Session)

// WithHandler runs the session on an explicit backend handler instead of the
// registry default. The session takes ownership and disposes it on Close.
func WithHandler(h backends.SessionHandler) Option {
	return func(s *Session) { s.handler = h }
}

// WithNodeHook installs an observer called after every node completes.
func WithNodeHook(hook NodeHook) Option {
	return func(s *Session) { s.hook = hook }
}

// New creates a session for g. Backend errors thrown during planning or
// initializer staging are recovered and returned.
func New(g *graph.Graph, opts ...Option) (*Session, error) {
	s := &Session{id: uuid.New(), graph: g}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		handler, err := backends.New()
		if err != nil {
			return nil, err
		}
		s.handler = handler
	}
	err := exceptions.TryCatch[error](func() {
		inferShapes(g)
		s.plan = NewPlan(g, s.handler.Ops())
		s.handler.OnGraphInitialized(g)
	})
	if err != nil {
		s.handler.Dispose()
		return nil, errors.WithMessagef(err, "session: creating session for graph %q", g.Name())
	}
	klog.V(1).Infof("session %s: graph %q on backend %q", s.id, g.Name(), s.handler.Name())
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() uuid.UUID { return s.id }

// Graph returns the bound graph.
func (s *Session) Graph() *graph.Graph { return s.graph }

// Handler returns the backend handler the session runs on.
func (s *Session) Handler() backends.SessionHandler { return s.handler }

// Run executes one inference: feeds are bound to the graph inputs in
// declaration order, and the returned tensors correspond to the graph
// outputs. Outputs are fully materialized on the host before Run returns;
// the device resources of the call are released whether it succeeds or not.
func (s *Session) Run(ctx context.Context, feeds ...*tensor.Tensor) (outputs []*tensor.Tensor, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Errorf("session %s: Run after Close", s.id)
	}
	ictx := s.handler.NewInferenceContext()
	defer ictx.Dispose()
	err = exceptions.TryCatch[error](func() {
		outputs = s.plan.Execute(ctx, ictx, feeds, s.hook)
		// Materialize before the scope teardown releases the textures.
		for _, out := range outputs {
			out.Data()
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "session %s: running graph %q", s.id, s.graph.Name())
	}
	return outputs, nil
}

// Close disposes the backend handler and every session-lived resource.
// Subsequent Run calls fail; Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.handler.Dispose()
	klog.V(1).Infof("session %s: closed", s.id)
}

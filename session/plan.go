// Package session drives inference over a graph: it resolves kernels once at
// session creation, schedules nodes by readiness propagation and converts the
// engine's thrown errors back into error returns at its public boundary.
package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/types/tensor"
)

// NodeHook observes node completion during execution; elapsed covers the
// kernel dispatch only, not downstream readbacks of its lazy outputs.
type NodeHook func(node *graph.Node, elapsed time.Duration)

// Plan is the reusable execution strategy for one graph on one backend:
// kernels resolved per node, plus the starter set whose inputs are all
// available before any node runs. Building it is the session-creation half
// of the work; Execute is the per-call half.
type Plan struct {
	graph    *graph.Graph
	kernels  []backends.KernelOp // indexed by node id
	starters []int
}

// NewPlan resolves a kernel for every node through the backend's table,
// throwing UnsupportedOperationError on the first node no rule serves.
func NewPlan(g *graph.Graph, ops *backends.OpSet) *Plan {
	p := &Plan{graph: g, kernels: make([]backends.KernelOp, g.NumNodes())}
	for _, node := range g.Nodes() {
		p.kernels[node.ID] = backends.KernelOp{Op: ops.Resolve(node), Node: node}
	}
	for _, node := range g.Nodes() {
		ready := true
		for _, in := range node.Inputs {
			if g.Value(in).Producer != graph.NoProducer {
				ready = false
				break
			}
		}
		if ready {
			p.starters = append(p.starters, node.ID)
		}
	}
	klog.V(1).Infof("session: plan for %q: %d nodes, %d starters", g.Name(), g.NumNodes(), len(p.starters))
	return p
}

// Kernel returns the resolved kernel for a node id.
func (p *Plan) Kernel(id int) backends.KernelOp { return p.kernels[id] }

// Execute runs the plan once: values are seeded from initializers and feeds,
// the starter nodes enter a FIFO queue, and each completed node decrements
// its consumers' remaining-input counters, enqueueing them at zero. Nodes
// therefore run in a deterministic order for a given graph.
//
// Execute throws typed errors; Session.Run recovers them. It is not
// reentrant: the inference context's device state is call-exclusive.
func (p *Plan) Execute(ctx context.Context, ictx backends.InferenceContext, feeds []*tensor.Tensor, hook NodeHook) []*tensor.Tensor {
	g := p.graph
	if len(feeds) != len(g.Inputs()) {
		panic(graph.Validationf(g.Name(), "graph takes %d inputs, got %d", len(g.Inputs()), len(feeds)))
	}

	values := make([]*tensor.Tensor, g.NumValues())
	for id := 0; id < g.NumValues(); id++ {
		if init := g.Value(id).Initializer; init != nil {
			values[id] = init
		}
	}
	for i, id := range g.Inputs() {
		v := g.Value(id)
		feed := feeds[i]
		if feed == nil {
			panic(graph.Validationf(v.Name, "input %d is nil", i))
		}
		if feed.DType() != v.DType {
			panic(graph.Validationf(v.Name, "input %d has dtype %s, graph declares %s", i, feed.DType(), v.DType))
		}
		if v.Dims != nil && !dimsEqual(feed.Dims(), v.Dims) {
			panic(graph.Validationf(v.Name, "input %d has shape %v, graph declares %v", i, feed.Dims(), v.Dims))
		}
		values[id] = feed
	}

	remaining := make([]int, g.NumNodes())
	for _, node := range g.Nodes() {
		for _, in := range node.Inputs {
			if values[in] == nil {
				remaining[node.ID]++
			}
		}
	}
	queue := append([]int{}, p.starters...)
	executed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node := g.Node(id)

		inputs := make([]*tensor.Tensor, len(node.Inputs))
		for i, in := range node.Inputs {
			t := values[in]
			if t == nil {
				panic(graph.Validationf(node.Name, "input %q unresolved at dispatch", g.Value(in).Name))
			}
			inputs[i] = t
		}

		start := time.Now()
		outs := ictx.RunKernel(p.kernels[id].Op, node, inputs)
		if len(outs) != len(node.Outputs) {
			panic(graph.Validationf(node.Name, "kernel produced %d outputs, node declares %d",
				len(outs), len(node.Outputs)))
		}
		for i, out := range outs {
			vid := node.Outputs[i]
			if values[vid] != nil {
				panic(graph.Validationf(g.Value(vid).Name, "value written twice"))
			}
			values[vid] = out
			for _, consumer := range g.Value(vid).To {
				remaining[consumer]--
				if remaining[consumer] == 0 {
					queue = append(queue, consumer)
				}
			}
		}
		executed++
		if hook != nil {
			hook(node, time.Since(start))
		}
		// Suspension point: the commit above is complete, so a cancelled
		// call leaves no half-written value behind.
		if err := ctx.Err(); err != nil {
			panic(errors.Wrapf(err, "inference interrupted after node %s", node))
		}
	}
	if executed != g.NumNodes() {
		panic(graph.Validationf(g.Name(), "execution stalled: %d of %d nodes ran (unreachable inputs?)",
			executed, g.NumNodes()))
	}

	outputs := make([]*tensor.Tensor, len(g.Outputs()))
	for i, id := range g.Outputs() {
		t := values[id]
		if t == nil {
			panic(graph.Validationf(g.Value(id).Name, "graph output unresolved after execution"))
		}
		outputs[i] = t
	}
	return outputs
}

func dimsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

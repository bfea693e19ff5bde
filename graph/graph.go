// Package graph holds the static computation DAG the engine executes: Nodes
// (operator applications) and Values (named data slots), plus the Builder
// used to construct a graph in process.
//
// A Graph is created once at model-load time and never mutated during
// execution. Model deserialization lives outside this module; the Builder is
// the construction surface it (and tests) target.
package graph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/texelflow/texelflow/types/tensor"
)

// NoProducer marks a Value with no producing Node (graph inputs and
// initializers).
const NoProducer = -1

// Node is one operator application: an op type, domain, attributes and the
// ordered input/output value ids.
type Node struct {
	ID      int
	Name    string
	OpType  string
	Domain  string
	Attrs   Attributes
	Inputs  []int
	Outputs []int
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("#%d %s(%q)", n.ID, n.OpType, n.Name)
}

// Value is a named data slot: its element type, optionally-known dimensions,
// an optional constant tensor (initializer), the producing node and the
// consuming nodes.
type Value struct {
	ID          int
	Name        string
	DType       dtypes.DType
	Dims        []int // nil until known (type inference or initializer)
	Initializer *tensor.Tensor

	// Producer is the node id writing this value, or NoProducer.
	Producer int

	// To lists consumer node ids in declaration order, one entry per
	// consuming input slot (a node reading the value twice appears twice).
	To []int
}

// Graph is the immutable DAG. Build one with a Builder.
type Graph struct {
	name    string
	nodes   []*Node
	values  []*Value
	inputs  []int // value ids fed per inference call
	outputs []int // value ids read after execution
}

// Name returns the graph name given to NewBuilder.
func (g *Graph) Name() string { return g.name }

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumValues returns the value count.
func (g *Graph) NumValues() int { return len(g.values) }

// Node returns the node with the given id.
func (g *Graph) Node(id int) *Node { return g.nodes[id] }

// Nodes returns all nodes in declaration order. Callers must not modify.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Value returns the value with the given id.
func (g *Graph) Value(id int) *Value { return g.values[id] }

// Inputs returns the graph-input value ids.
func (g *Graph) Inputs() []int { return g.inputs }

// Outputs returns the graph-output value ids.
func (g *Graph) Outputs() []int { return g.outputs }

// Builder incrementally constructs a Graph. All methods panic (throw) on
// structural violations, e.g. a second producer for a value.
type Builder struct {
	graph *Graph
	built bool
}

// NewBuilder returns an empty Builder for a graph with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{graph: &Graph{name: name}}
}

func (b *Builder) check() {
	if b.built {
		exceptions.Panicf("graph.Builder: graph %q already built, builders are single-use", b.graph.name)
	}
}

func (b *Builder) newValue(name string, dtype dtypes.DType, dims []int) *Value {
	v := &Value{
		ID:       len(b.graph.values),
		Name:     name,
		DType:    dtype,
		Dims:     dims,
		Producer: NoProducer,
	}
	b.graph.values = append(b.graph.values, v)
	return v
}

// Input declares a graph input and returns its value id. Inputs are fed to
// Session.Run in declaration order.
func (b *Builder) Input(name string, dtype dtypes.DType, dims ...int) int {
	b.check()
	v := b.newValue(name, dtype, dims)
	b.graph.inputs = append(b.graph.inputs, v.ID)
	return v.ID
}

// Initializer declares a constant tensor (model weight) and returns its value
// id. The same *tensor.Tensor may back several values; the backend uploads it
// once.
func (b *Builder) Initializer(name string, t *tensor.Tensor) int {
	b.check()
	v := b.newValue(name, t.DType(), t.Dims())
	v.Initializer = t
	return v.ID
}

// Node appends a single-output node and returns its output value id.
func (b *Builder) Node(opType string, attrs Attributes, inputs ...int) int {
	return b.NodeN(opType, "", attrs, inputs, 1)[0]
}

// NodeN appends a node with numOutputs outputs in the given domain and
// returns the output value ids.
func (b *Builder) NodeN(opType, domain string, attrs Attributes, inputs []int, numOutputs int) []int {
	b.check()
	if numOutputs < 1 {
		exceptions.Panicf("graph.Builder: node %s declared with %d outputs", opType, numOutputs)
	}
	node := &Node{
		ID:     len(b.graph.nodes),
		Name:   fmt.Sprintf("%s_%d", opType, len(b.graph.nodes)),
		OpType: opType,
		Domain: domain,
		Attrs:  attrs,
	}
	for _, in := range inputs {
		if in < 0 || in >= len(b.graph.values) {
			exceptions.Panicf("graph.Builder: node %s references unknown value id %d", opType, in)
		}
		node.Inputs = append(node.Inputs, in)
		v := b.graph.values[in]
		v.To = append(v.To, node.ID)
	}
	for range numOutputs {
		v := b.newValue(fmt.Sprintf("%s_out%d", node.Name, len(node.Outputs)), dtypes.InvalidDType, nil)
		v.Producer = node.ID
		node.Outputs = append(node.Outputs, v.ID)
	}
	b.graph.nodes = append(b.graph.nodes, node)
	return node.Outputs
}

// Output marks a value as a graph output. Order of calls defines the output
// order of Session.Run.
func (b *Builder) Output(valueID int) {
	b.check()
	if valueID < 0 || valueID >= len(b.graph.values) {
		exceptions.Panicf("graph.Builder: output references unknown value id %d", valueID)
	}
	b.graph.outputs = append(b.graph.outputs, valueID)
}

// Build finalizes and returns the immutable Graph. The builder must not be
// used afterwards.
func (b *Builder) Build() *Graph {
	b.check()
	if len(b.graph.outputs) == 0 {
		exceptions.Panicf("graph.Builder: graph %q has no outputs", b.graph.name)
	}
	for _, out := range b.graph.outputs {
		v := b.graph.values[out]
		if v.Producer == NoProducer && v.Initializer == nil && !b.isInput(out) {
			panic(Validationf(v.Name, "graph output has no producer, initializer or input binding"))
		}
	}
	b.built = true
	return b.graph
}

func (b *Builder) isInput(valueID int) bool {
	for _, in := range b.graph.inputs {
		if in == valueID {
			return true
		}
	}
	return false
}

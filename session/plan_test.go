package session

import (
	"context"
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/types/tensor"
)

// stubBackend executes kernels eagerly on the host, recording dispatch
// order. It exists to test scheduling in isolation from any real device.
type stubBackend struct {
	ran      []string
	disposed bool
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Ops() *backends.OpSet {
	return backends.NewOpSet(13,
		backends.OpRule{OpType: "Add", Versions: backends.Since(1), New: func(n *graph.Node) backends.Operator {
			return &stubOp{backend: b, node: n, fn: func(a, x float32) float32 { return a + x }}
		}},
		backends.OpRule{OpType: "Mul", Versions: backends.Since(1), New: func(n *graph.Node) backends.Operator {
			return &stubOp{backend: b, node: n, fn: func(a, x float32) float32 { return a * x }}
		}},
		backends.OpRule{OpType: "BadArity", Versions: backends.Since(1), New: func(n *graph.Node) backends.Operator {
			return &stubOp{backend: b, node: n, badArity: true, fn: func(a, x float32) float32 { return a }}
		}},
	)
}

func (b *stubBackend) OnGraphInitialized(*graph.Graph) {}

func (b *stubBackend) NewInferenceContext() backends.InferenceContext {
	return &stubCtx{backend: b}
}

func (b *stubBackend) Dispose() { b.disposed = true }

type stubCtx struct {
	backend  *stubBackend
	disposed bool
}

func (c *stubCtx) Dispose() { c.disposed = true }

func (c *stubCtx) RunKernel(op backends.Operator, node *graph.Node, inputs []*tensor.Tensor) []*tensor.Tensor {
	c.backend.ran = append(c.backend.ran, node.Name)
	s := op.(*stubOp)
	a, x := inputs[0].Float32s(), inputs[1].Float32s()
	out := make([]float32, len(a))
	for i := range out {
		out[i] = s.fn(a[i], x[i])
	}
	result := tensor.NewTensor(dtypes.Float32, inputs[0].Dims(), out)
	if s.badArity {
		return []*tensor.Tensor{result, result}
	}
	return []*tensor.Tensor{result}
}

type stubOp struct {
	backend  *stubBackend
	node     *graph.Node
	fn       func(a, x float32) float32
	badArity bool
}

func (s *stubOp) OpType() string { return s.node.OpType }

// diamondGraph builds b=a+a, c=a*a, d=b+c.
func diamondGraph() *graph.Graph {
	bld := graph.NewBuilder("diamond")
	a := bld.Input("a", dtypes.Float32, 2)
	b := bld.Node("Add", nil, a, a)
	c := bld.Node("Mul", nil, a, a)
	d := bld.Node("Add", nil, b, c)
	bld.Output(d)
	return bld.Build()
}

func TestExecuteDiamond(t *testing.T) {
	backend := &stubBackend{}
	s, err := New(diamondGraph(), WithHandler(backend))
	require.NoError(t, err)
	defer s.Close()

	out, err := s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{2}, []float32{2, 3}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	// (a+a) + (a*a)
	assert.Equal(t, []float32{8, 15}, out[0].Float32s())

	// Every node ran exactly once, in declaration (FIFO) order.
	assert.Equal(t, []string{"Add_0", "Mul_1", "Add_2"}, backend.ran)

	// Determinism: a second run dispatches in the identical order.
	backend.ran = nil
	_, err = s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{2}, []float32{1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Add_0", "Mul_1", "Add_2"}, backend.ran)
}

func TestStarterSet(t *testing.T) {
	g := diamondGraph()
	p := NewPlan(g, (&stubBackend{}).Ops())
	// Only the two nodes reading the graph input directly are starters.
	assert.Equal(t, []int{0, 1}, p.starters)
}

func TestRunInputArity(t *testing.T) {
	backend := &stubBackend{}
	s, err := New(diamondGraph(), WithHandler(backend))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run(context.Background())
	require.Error(t, err)
	var ve *graph.ValidationError
	require.True(t, errors.As(err, &ve))
	// The call failed before any kernel ran.
	assert.Empty(t, backend.ran)
}

func TestRunInputDTypeMismatch(t *testing.T) {
	backend := &stubBackend{}
	s, err := New(diamondGraph(), WithHandler(backend))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run(context.Background(), tensor.NewTensor(dtypes.Int32, []int{2}, []int32{1, 2}))
	require.Error(t, err)
	var ve *graph.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestRunInputShapeMismatch(t *testing.T) {
	backend := &stubBackend{}
	s, err := New(diamondGraph(), WithHandler(backend))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{3}, []float32{1, 2, 3}))
	require.Error(t, err)
	var ve *graph.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestKernelOutputArity(t *testing.T) {
	bld := graph.NewBuilder("badarity")
	a := bld.Input("a", dtypes.Float32, 1)
	bld.Output(bld.Node("BadArity", nil, a, a))
	g := bld.Build()

	backend := &stubBackend{}
	s, err := New(g, WithHandler(backend))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{1}, []float32{1}))
	require.Error(t, err)
	var ve *graph.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestUnsupportedOperator(t *testing.T) {
	bld := graph.NewBuilder("unsupported")
	a := bld.Input("a", dtypes.Float32, 1)
	bld.Output(bld.Node("Gemm", nil, a, a))
	g := bld.Build()

	// Resolution happens at session creation, not first run.
	_, err := New(g, WithHandler(&stubBackend{}))
	require.Error(t, err)
	var ue *backends.UnsupportedOperationError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Gemm", ue.OpType)
}

func TestRunCancellation(t *testing.T) {
	backend := &stubBackend{}
	s, err := New(diamondGraph(), WithHandler(backend))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx, tensor.NewTensor(dtypes.Float32, []int{2}, []float32{1, 2}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	// Cancellation is observed at the suspension point after a node commits.
	assert.Len(t, backend.ran, 1)
}

func TestNodeHook(t *testing.T) {
	backend := &stubBackend{}
	var observed []string
	s, err := New(diamondGraph(), WithHandler(backend), WithNodeHook(func(n *graph.Node, _ time.Duration) {
		observed = append(observed, n.OpType)
	}))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{2}, []float32{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Add", "Mul", "Add"}, observed)
}

func TestCloseThenRun(t *testing.T) {
	backend := &stubBackend{}
	s, err := New(diamondGraph(), WithHandler(backend))
	require.NoError(t, err)

	s.Close()
	assert.True(t, backend.disposed)
	s.Close() // idempotent

	_, err = s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{2}, []float32{1, 2}))
	require.Error(t, err)
}

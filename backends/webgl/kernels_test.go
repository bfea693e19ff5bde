package webgl

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/types/tensor"
)

func f32(dims []int, flat ...float32) *tensor.Tensor {
	return tensor.NewTensor(dtypes.Float32, dims, flat)
}

// singleNodeGraph builds a graph with one node over anonymous inputs.
func singleNodeGraph(opType string, attrs graph.Attributes, inputDims ...[]int) *graph.Graph {
	b := graph.NewBuilder(opType)
	var ins []int
	for i, dims := range inputDims {
		ins = append(ins, b.Input(string(rune('a'+i)), dtypes.Float32, dims...))
	}
	b.Output(b.Node(opType, attrs, ins...))
	return b.Build()
}

func TestConcatAxis0(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	g := singleNodeGraph("Concat", graph.Attributes{"axis": 0}, []int{2, 3}, []int{2, 3})
	op := s.Ops().Resolve(g.Node(0))

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	a := f32([]int{2, 3}, 1, 2, 3, 4, 5, 6)
	b := f32([]int{2, 3}, 7, 8, 9, 10, 11, 12)
	out := ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{a, b})

	assert.Equal(t, []int{4, 3}, out[0].Dims())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, out[0].Float32s())
}

func TestConcatNegativeAxis(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	g := singleNodeGraph("Concat", graph.Attributes{"axis": -1}, []int{2, 2}, []int{2, 1})
	op := s.Ops().Resolve(g.Node(0))

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	a := f32([]int{2, 2}, 1, 2, 3, 4)
	b := f32([]int{2, 1}, 9, 8)
	out := ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{a, b})

	assert.Equal(t, []int{2, 3}, out[0].Dims())
	assert.Equal(t, []float32{1, 2, 9, 3, 4, 8}, out[0].Float32s())
}

func TestConcatShapeMismatch(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	g := singleNodeGraph("Concat", graph.Attributes{"axis": 0}, []int{2, 3}, []int{2, 4})
	op := s.Ops().Resolve(g.Node(0))

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	err := exceptions.TryCatch[error](func() {
		ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{
			f32([]int{2, 3}, 1, 2, 3, 4, 5, 6),
			f32([]int{2, 4}, 1, 2, 3, 4, 5, 6, 7, 8),
		})
	})
	require.Error(t, err)
	var ve *graph.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestClipAttributeVariant(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	g := singleNodeGraph("Clip", graph.Attributes{"min": float32(0), "max": float32(6)}, []int{5})

	// Up to opset 10 the bounds come from attributes.
	op := s.Ops().WithVersion(9).Resolve(g.Node(0))
	require.IsType(t, &clipOp{}, op)
	assert.False(t, op.(*clipOp).fromInputs)

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	out := ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{f32([]int{5}, -3, 0, 2.5, 6, 100)})
	assert.Equal(t, []float32{0, 0, 2.5, 6, 6}, out[0].Float32s())
}

func TestClipInputVariant(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	b := graph.NewBuilder("clip11")
	x := b.Input("x", dtypes.Float32, 4)
	lo := b.Initializer("min", f32(nil, -1))
	hi := b.Initializer("max", f32(nil, 1))
	b.Output(b.Node("Clip", nil, x, lo, hi))
	g := b.Build()

	// From opset 11 the bounds are tensor inputs, carried as uniforms: two
	// invocations with different bounds share one artifact.
	op := s.Ops().Resolve(g.Node(0))
	require.IsType(t, &clipOp{}, op)
	assert.True(t, op.(*clipOp).fromInputs)

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	in := f32([]int{4}, -5, -0.5, 0.5, 5)
	out := ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{in, f32(nil, -1), f32(nil, 1)})
	assert.Equal(t, []float32{-1, -0.5, 0.5, 1}, out[0].Float32s())
	compiles := s.Programs().CompileCount()

	out = ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{in, f32(nil, 0), f32(nil, 2)})
	assert.Equal(t, []float32{0, 0, 0.5, 2}, out[0].Float32s())
	assert.Equal(t, compiles, s.Programs().CompileCount())
}

func TestBinaryBroadcast(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	g := singleNodeGraph("Mul", nil, []int{2, 3}, []int{3})
	op := s.Ops().Resolve(g.Node(0))

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	a := f32([]int{2, 3}, 1, 2, 3, 4, 5, 6)
	b := f32([]int{3}, 10, 100, 1000)
	out := ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{a, b})

	assert.Equal(t, []int{2, 3}, out[0].Dims())
	assert.Equal(t, []float32{10, 200, 3000, 40, 500, 6000}, out[0].Float32s())
}

func TestBinaryBroadcastScalar(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	g := singleNodeGraph("Sub", nil, []int{2, 2}, nil)
	op := s.Ops().Resolve(g.Node(0))

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	out := ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{
		f32([]int{2, 2}, 5, 6, 7, 8),
		f32(nil, 1),
	})
	assert.Equal(t, []float32{4, 5, 6, 7}, out[0].Float32s())
}

func TestBinaryBroadcastIncompatible(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	g := singleNodeGraph("Add", nil, []int{2, 3}, []int{4})
	op := s.Ops().Resolve(g.Node(0))

	ictx := s.NewInferenceContext()
	defer ictx.Dispose()
	err := exceptions.TryCatch[error](func() {
		ictx.RunKernel(op, g.Node(0), []*tensor.Tensor{
			f32([]int{2, 3}, 1, 2, 3, 4, 5, 6),
			f32([]int{4}, 1, 2, 3, 4),
		})
	})
	require.Error(t, err)
	var ue *backends.UnsupportedOperationError
	require.True(t, errors.As(err, &ue))
}

func TestOpSetResolution(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()

	g := singleNodeGraph("Gemm", nil, []int{2, 2}, []int{2, 2})
	err := exceptions.TryCatch[error](func() { s.Ops().Resolve(g.Node(0)) })
	require.Error(t, err)
	var ue *backends.UnsupportedOperationError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Gemm", ue.OpType)
}

package session_test

import (
	"context"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/backends/webgl"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/internal/glapi/sim"
	"github.com/texelflow/texelflow/session"
	"github.com/texelflow/texelflow/types/tensor"
)

func newWebGLSession(t *testing.T, g *graph.Graph) (*session.Session, *webgl.SessionHandler) {
	t.Helper()
	h, err := webgl.NewSessionHandler(sim.New())
	require.NoError(t, err)
	s, err := session.New(g, session.WithHandler(h))
	require.NoError(t, err)
	return s, h
}

func TestElementwiseChain(t *testing.T) {
	// (a + w) * w with w staged once as a session-lived texture.
	b := graph.NewBuilder("chain")
	a := b.Input("a", dtypes.Float32, 3)
	w := b.Initializer("w", tensor.NewTensor(dtypes.Float32, []int{3}, []float32{1, 2, 3}))
	sum := b.Node("Add", nil, a, w)
	b.Output(b.Node("Mul", nil, sum, w))
	g := b.Build()

	s, h := newWebGLSession(t, g)
	defer s.Close()

	out, err := s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{3}, []float32{1, 2, 3}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []float32{2, 8, 18}, out[0].Float32s())
	assert.Equal(t, tensor.Materialized, out[0].State())
	compiles := h.Programs().CompileCount()

	// Steady state: later calls reuse every compiled artifact.
	out, err = s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{3}, []float32{0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4, 9}, out[0].Float32s())
	assert.Equal(t, compiles, h.Programs().CompileCount())
}

func TestConcatClipPipeline(t *testing.T) {
	// Clip(Concat(a, b, axis=0), [0, 6])
	b := graph.NewBuilder("concatclip")
	x := b.Input("x", dtypes.Float32, 2, 3)
	y := b.Input("y", dtypes.Float32, 2, 3)
	cat := b.Node("Concat", graph.Attributes{"axis": 0}, x, y)
	lo := b.Initializer("min", tensor.NewTensor(dtypes.Float32, nil, []float32{0}))
	hi := b.Initializer("max", tensor.NewTensor(dtypes.Float32, nil, []float32{6}))
	b.Output(b.Node("Clip", nil, cat, lo, hi))
	g := b.Build()

	s, _ := newWebGLSession(t, g)
	defer s.Close()

	out, err := s.Run(context.Background(),
		tensor.NewTensor(dtypes.Float32, []int{2, 3}, []float32{-1, 2, 3, 4, 5, 6}),
		tensor.NewTensor(dtypes.Float32, []int{2, 3}, []float32{7, 8, 0, 1, -2, 9}))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, out[0].Dims())
	assert.Equal(t, []float32{0, 2, 3, 4, 5, 6, 6, 6, 0, 1, 0, 6}, out[0].Float32s())
}

func TestReshapeInPipeline(t *testing.T) {
	// Reshape feeds a downstream Add without copying its texture.
	b := graph.NewBuilder("reshapeadd")
	x := b.Input("x", dtypes.Float32, 2, 6)
	shape := b.Initializer("shape", tensor.NewTensor(dtypes.Int64, []int{2}, []int64{3, 4}))
	r := b.Node("Reshape", nil, x, shape)
	w := b.Initializer("w", tensor.NewTensor(dtypes.Float32, []int{3, 4}, make([]float32, 12)))
	b.Output(b.Node("Add", nil, r, w))
	g := b.Build()

	s, _ := newWebGLSession(t, g)
	defer s.Close()

	flat := make([]float32, 12)
	for i := range flat {
		flat[i] = float32(i)
	}
	out, err := s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{2, 6}, flat))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, out[0].Dims())
	assert.Equal(t, flat, out[0].Float32s())
}

func TestGraphOutputIsInput(t *testing.T) {
	// A graph may route an input straight to an output.
	b := graph.NewBuilder("passthrough")
	x := b.Input("x", dtypes.Float32, 2)
	y := b.Input("y", dtypes.Float32, 2)
	b.Output(b.Node("Add", nil, x, y))
	b.Output(x)
	g := b.Build()

	s, _ := newWebGLSession(t, g)
	defer s.Close()

	in := tensor.NewTensor(dtypes.Float32, []int{2}, []float32{1, 2})
	out, err := s.Run(context.Background(), in, tensor.NewTensor(dtypes.Float32, []int{2}, []float32{10, 20}))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{11, 22}, out[0].Float32s())
	assert.Same(t, in, out[1])
}

func TestBackendErrorSurfacesAsError(t *testing.T) {
	// Incompatible broadcast: thrown inside the backend, recovered at the
	// session boundary.
	b := graph.NewBuilder("badcast")
	x := b.Input("x", dtypes.Float32, 2, 3)
	y := b.Input("y", dtypes.Float32, 4)
	b.Output(b.Node("Add", nil, x, y))
	g := b.Build()

	s, _ := newWebGLSession(t, g)
	defer s.Close()

	_, err := s.Run(context.Background(),
		tensor.NewTensor(dtypes.Float32, []int{2, 3}, make([]float32, 6)),
		tensor.NewTensor(dtypes.Float32, []int{4}, make([]float32, 4)))
	require.Error(t, err)
	var ue *backends.UnsupportedOperationError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "Add", ue.OpType)
}

func TestSessionSurvivesFailedRun(t *testing.T) {
	b := graph.NewBuilder("recover")
	x := b.Input("x", dtypes.Float32, 2)
	y := b.Input("y", dtypes.Float32, 2)
	b.Output(b.Node("Add", nil, x, y))
	g := b.Build()

	s, _ := newWebGLSession(t, g)
	defer s.Close()

	// A failed call releases its device scope and leaves the session usable.
	_, err := s.Run(context.Background(), tensor.NewTensor(dtypes.Float32, []int{3}, make([]float32, 3)), nil)
	require.Error(t, err)

	out, err := s.Run(context.Background(),
		tensor.NewTensor(dtypes.Float32, []int{2}, []float32{1, 2}),
		tensor.NewTensor(dtypes.Float32, []int{2}, []float32{3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 6}, out[0].Float32s())
}

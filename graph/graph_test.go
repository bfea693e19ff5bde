package graph

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texelflow/texelflow/types/tensor"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder("add-mul")
	x := b.Input("x", dtypes.Float32, 3)
	w := b.Initializer("w", tensor.NewTensor(dtypes.Float32, []int{3}, []float32{1, 1, 1}))
	sum := b.Node("Add", nil, x, w)
	prod := b.Node("Mul", nil, sum, w)
	b.Output(prod)
	g := b.Build()

	require.Equal(t, 2, g.NumNodes())
	require.Equal(t, []int{x}, g.Inputs())
	require.Equal(t, []int{prod}, g.Outputs())

	// Consumers recorded per input slot, in declaration order.
	assert.Equal(t, []int{0}, g.Value(x).To)
	assert.Equal(t, []int{0, 1}, g.Value(w).To)
	assert.Equal(t, []int{1}, g.Value(sum).To)

	add := g.Node(0)
	assert.Equal(t, "Add", add.OpType)
	assert.Equal(t, []int{x, w}, add.Inputs)
	assert.Equal(t, add.ID, g.Value(sum).Producer)
	assert.Equal(t, NoProducer, g.Value(x).Producer)
	assert.NotNil(t, g.Value(w).Initializer)
}

func TestBuilder_DuplicateConsumerSlots(t *testing.T) {
	b := NewBuilder("square")
	x := b.Input("x", dtypes.Float32, 2)
	sq := b.Node("Mul", nil, x, x)
	b.Output(sq)
	g := b.Build()
	// A node reading a value twice appears twice in the To list.
	assert.Equal(t, []int{0, 0}, g.Value(x).To)
}

func TestBuilder_Misuse(t *testing.T) {
	b := NewBuilder("bad")
	require.NotNil(t, exceptions.Try(func() { b.Node("Add", nil, 42) }))

	b2 := NewBuilder("no-outputs")
	b2.Input("x", dtypes.Float32, 1)
	require.NotNil(t, exceptions.Try(func() { b2.Build() }))

	b3 := NewBuilder("built-twice")
	x := b3.Input("x", dtypes.Float32, 1)
	b3.Output(x)
	b3.Build()
	require.NotNil(t, exceptions.Try(func() { b3.Build() }))
}

func TestAttributes(t *testing.T) {
	a := Attributes{"axis": int64(1), "pads": []int64{0, 1}, "alpha": 0.5, "mode": "constant"}
	assert.Equal(t, 1, a.Int("axis", -1))
	assert.Equal(t, -1, a.Int("missing", -1))
	assert.Equal(t, []int{0, 1}, a.Ints("pads"))
	assert.InDelta(t, 0.5, a.Float("alpha", 0), 1e-6)
	assert.Equal(t, "constant", a.Str("mode", ""))
	assert.True(t, a.Has("axis"))
	assert.False(t, a.Has("beta"))

	require.NotNil(t, exceptions.Try(func() { a.Int("mode", 0) }))
}

package webgl

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTextureWH(t *testing.T) {
	// Deterministic: identical inputs, identical footprint.
	w1, h1 := ComputeTextureWH([]int{17, 23}, 1, 0, 0, 4096)
	w2, h2 := ComputeTextureWH([]int{17, 23}, 1, 0, 0, 4096)
	assert.Equal(t, w1, w2)
	assert.Equal(t, h1, h2)
	assert.GreaterOrEqual(t, w1*h1, 17*23)

	// Natural placement: last dim across, leading dims down.
	w, h := ComputeTextureWH([]int{3, 5}, 1, 0, 0, 4096)
	assert.Equal(t, 5, w)
	assert.Equal(t, 3, h)

	// Preferences honored when they hold the data.
	w, h = ComputeTextureWH([]int{12}, 1, 4, 3, 4096)
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)

	// Preferences that cannot hold the data are ignored.
	w, h = ComputeTextureWH([]int{100}, 1, 2, 2, 4096)
	assert.GreaterOrEqual(t, w*h, 100)

	// Zero-size shapes still get a placeholder texel.
	w, h = ComputeTextureWH([]int{0, 4}, 1, 0, 0, 4096)
	assert.Equal(t, 1, w*h)
}

func TestComputeTextureWHTooLarge(t *testing.T) {
	err := exceptions.TryCatch[error](func() { ComputeTextureWH([]int{100}, 1, 0, 0, 4) })
	require.Error(t, err)
	var re *ResourceError
	require.True(t, errors.As(err, &re))
}

func TestUnpackedLayoutScalar(t *testing.T) {
	l := NewUnpackedLayout(nil, 0, 0, 4096)
	assert.Empty(t, l.UnpackedShape)
	assert.Equal(t, []int{1}, l.Shape)
	assert.Equal(t, 1, l.TexelCount())
	assert.Equal(t, 1, l.LogicalSize())
}

func TestUnpackedLayoutStrides(t *testing.T) {
	l := NewUnpackedLayout([]int{2, 3, 4}, 0, 0, 4096)
	assert.Equal(t, []int{12, 4, 1}, l.Strides)
	assert.Equal(t, []int{2, 3, 4}, l.Shape)
	assert.Equal(t, []int{2, 3, 4}, l.UnpackedShape)
	assert.GreaterOrEqual(t, l.TexelCount(), 24)
}

func TestPackedLayoutGrid(t *testing.T) {
	l := NewPackedLayout([]int{3, 5}, 4096)
	assert.Equal(t, 4, l.Channels)
	assert.Equal(t, 3, l.Width)  // ceil(5/2)
	assert.Equal(t, 2, l.Height) // ceil(3/2)
	assert.Equal(t, []int{2, 3}, l.Shape)
	assert.Equal(t, []int{3, 5}, l.UnpackedShape)
	assert.Equal(t, 15, l.LogicalSize())

	err := exceptions.TryCatch[error](func() { NewPackedLayout([]int{100, 100}, 16) })
	require.Error(t, err)
}

func TestViewLayout(t *testing.T) {
	src := NewUnpackedLayout([]int{3, 4}, 0, 0, 4096)
	v := viewLayout(src, []int{2, 6})
	assert.Equal(t, src.Width, v.Width)
	assert.Equal(t, src.Height, v.Height)
	assert.Equal(t, []int{2, 6}, v.UnpackedShape)
	assert.Equal(t, []int{6, 1}, v.Strides)

	require.NotNil(t, exceptions.Try(func() { viewLayout(src, []int{5}) }))
}

func TestPackUnpackTexels(t *testing.T) {
	flat := make([]float32, 15) // 3x5: both axes odd, exercises edge padding
	for i := range flat {
		flat[i] = float32(i) + 1
	}
	texels := packTexels(flat, 3, 5)
	require.Len(t, texels, 2*3*4)
	// First texel holds the top-left 2x2 block.
	assert.Equal(t, []float32{1, 2, 6, 7}, texels[:4])
	// Bottom-right texel: only (2,4) is in range.
	assert.Equal(t, []float32{15, 0, 0, 0}, texels[len(texels)-4:])

	assert.Equal(t, flat, unpackTexels(texels, 3, 5))
}

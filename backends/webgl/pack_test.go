package webgl

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texelflow/texelflow/types/tensor"
)

func TestPackUnpackOnDevice(t *testing.T) {
	s, ctx := newTestSession(t)
	defer s.Dispose()
	ictx := s.NewInferenceContext().(*InferenceHandler)
	defer ictx.Dispose()

	// 3x5: both axes odd, so the packed grid has padded block cells.
	flat := make([]float32, 15)
	for i := range flat {
		flat[i] = float32(i) * 1.5
	}
	x := tensor.NewTensor(dtypes.Float32, []int{3, 5}, flat)
	src := ictx.GetOrCreateTextureData(x)

	packed := ictx.PackTexture(src)
	assert.Equal(t, 4, packed.Layout.Channels)
	assert.Equal(t, 3, packed.Layout.Width)
	assert.Equal(t, 2, packed.Layout.Height)
	assert.Equal(t, []int{3, 5}, packed.Layout.UnpackedShape)

	unpacked := ictx.UnpackTexture(packed)
	require.NotSame(t, src, unpacked)
	assert.Equal(t, 1, unpacked.Layout.Channels)

	// The device roundtrip preserves every element exactly.
	got := s.Device().ReadTextureData(unpacked)
	assert.Equal(t, flat, got)

	// Pass-throughs do not draw.
	draws := ctx.Stats().Draws
	assert.Same(t, packed, ictx.PackTexture(packed))
	assert.Same(t, unpacked, ictx.UnpackTexture(unpacked))
	assert.Equal(t, draws, ctx.Stats().Draws)
}

func TestPackProgramsCached(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	ictx := s.NewInferenceContext().(*InferenceHandler)
	defer ictx.Dispose()

	x := tensor.NewTensor(dtypes.Float32, []int{4, 4}, make([]float32, 16))
	y := tensor.NewTensor(dtypes.Float32, []int{4, 4}, make([]float32, 16))

	ictx.PackTexture(ictx.GetOrCreateTextureData(x))
	compiles := s.Programs().CompileCount()
	require.Equal(t, 1, compiles)

	// Same logical shape resolves to the cached pack program.
	ictx.PackTexture(ictx.GetOrCreateTextureData(y))
	assert.Equal(t, compiles, s.Programs().CompileCount())

	// A different shape is a different artifact.
	z := tensor.NewTensor(dtypes.Float32, []int{2, 8}, make([]float32, 16))
	ictx.PackTexture(ictx.GetOrCreateTextureData(z))
	assert.Equal(t, compiles+1, s.Programs().CompileCount())
}

func TestReadPackedDirectly(t *testing.T) {
	s, _ := newTestSession(t)
	defer s.Dispose()
	ictx := s.NewInferenceContext().(*InferenceHandler)
	defer ictx.Dispose()

	flat := []float32{1, 2, 3, 4, 5, 6}
	x := tensor.NewTensor(dtypes.Float32, []int{2, 3}, flat)
	packed := ictx.PackTexture(ictx.GetOrCreateTextureData(x))

	// Reading a packed texture de-interleaves on the host.
	assert.Equal(t, flat, s.Device().ReadTextureData(packed))
}

package webgl

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/texelflow/texelflow/internal/glapi"
)

func TestFloat32EncoderRoundTrip(t *testing.T) {
	enc := float32Encoder{}
	assert.Equal(t, glapi.R32F, enc.Format(1))
	assert.Equal(t, glapi.RGBA32F, enc.Format(4))

	in := []float32{0, 1, -1, 0.5, 3.14159, -12345.678}
	assert.Equal(t, in, enc.Decode(enc.Encode(in)))
}

func TestFloat32EncoderHalfDegrade(t *testing.T) {
	enc := float32Encoder{half: true}
	assert.Equal(t, glapi.R16F, enc.Format(1))
	assert.Equal(t, glapi.RGBA16F, enc.Format(4))

	in := []float32{1, 0.1, -2.5}
	out := enc.Decode(enc.Encode(in))
	require.Len(t, out, 3)
	for i, v := range in {
		want := float16.Fromfloat32(v).Float32()
		assert.Equal(t, want, out[i], "element %d quantizes through fp16", i)
	}
}

func TestByteEncoderPassThrough(t *testing.T) {
	enc := byteEncoder{}
	assert.Equal(t, glapi.R8, enc.Format(1))
	in := []float32{0, 1, 127, 255}
	assert.Equal(t, in, enc.Decode(enc.Encode(in)))
}

func TestStreamConversions(t *testing.T) {
	assert.Equal(t, []float32{1, 2, 3}, toStream([]int32{1, 2, 3}))
	assert.Equal(t, []float32{7, 8}, toStream([]int64{7, 8}))
	assert.Nil(t, toStream("not a buffer"))

	assert.Equal(t, []int64{1, 2}, fromStream([]float32{1, 2, 99}, dtypes.Int64, 2))
	assert.Equal(t, []int32{-4}, fromStream([]float32{-4}, dtypes.Int32, 1))
	require.NotNil(t, exceptions.Try(func() { fromStream([]float32{1}, dtypes.Complex64, 1) }))
}

func TestIntExactnessCheck(t *testing.T) {
	checkIntExactness([]int32{1 << 24, -(1 << 24)}) // boundary is still exact
	require.NotNil(t, exceptions.Try(func() { checkIntExactness([]int32{1<<24 + 1}) }))
	require.NotNil(t, exceptions.Try(func() { checkIntExactness([]int64{-(1<<24 + 1)}) }))
}

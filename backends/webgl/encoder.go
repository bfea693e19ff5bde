package webgl

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"

	"github.com/texelflow/texelflow/internal/glapi"
)

// DataEncoder converts between a numeric element type and a physical pixel
// format. The device selects one encoder per element type once, at backend
// initialization, from the capability probe.
type DataEncoder interface {
	// Name identifies the encoder in logs and errors.
	Name() string

	// Format returns the pixel format for a 1- or 4-channel layout.
	Format(channels int) glapi.PixelFormat

	// Encode converts per-channel values into pixel bytes.
	Encode(stream []float32) []byte

	// Decode converts pixel bytes back into per-channel values.
	Decode(pixels []byte) []float32
}

// float32Encoder uploads float32 data. When the device cannot render to a
// full-float target it degrades to a half-float render target while still
// accepting float32 on upload (quantizing through fp16).
type float32Encoder struct {
	half bool
}

func (e float32Encoder) Name() string {
	if e.half {
		return "float32(half-float target)"
	}
	return "float32"
}

func (e float32Encoder) Format(channels int) glapi.PixelFormat {
	if e.half {
		if channels == 1 {
			return glapi.R16F
		}
		return glapi.RGBA16F
	}
	if channels == 1 {
		return glapi.R32F
	}
	return glapi.RGBA32F
}

func (e float32Encoder) Encode(stream []float32) []byte {
	if e.half {
		out := make([]byte, 2*len(stream))
		for i, v := range stream {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
		return out
	}
	out := make([]byte, 4*len(stream))
	for i, v := range stream {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func (e float32Encoder) Decode(pixels []byte) []float32 {
	if e.half {
		out := make([]float32, len(pixels)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(pixels[i*2:])).Float32()
		}
		return out
	}
	out := make([]float32, len(pixels)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(pixels[i*4:]))
	}
	return out
}

// byteEncoder is a direct pass-through for 8-bit data.
type byteEncoder struct{}

func (byteEncoder) Name() string { return "uint8" }

func (byteEncoder) Format(channels int) glapi.PixelFormat {
	if channels == 1 {
		return glapi.R8
	}
	return glapi.RGBA8
}

func (byteEncoder) Encode(stream []float32) []byte {
	out := make([]byte, len(stream))
	for i, v := range stream {
		out[i] = byte(min(max(v, 0), 255))
	}
	return out
}

func (byteEncoder) Decode(pixels []byte) []float32 {
	out := make([]float32, len(pixels))
	for i, b := range pixels {
		out[i] = float32(b)
	}
	return out
}

// toStream casts a flat typed buffer to the per-channel float stream the
// encoders work on. Integer types ride the float path; values beyond 2^24
// would lose precision, which the device rejects at upload.
func toStream(flat any) []float32 {
	switch v := flat.(type) {
	case []float32:
		return v
	case []uint8:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out
	case []int32:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out
	case []int64:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out
	}
	return nil
}

// fromStream casts the first n stream values back to a flat buffer of dtype.
func fromStream(stream []float32, dtype dtypes.DType, n int) any {
	switch dtype {
	case dtypes.Float32:
		out := make([]float32, n)
		copy(out, stream[:n])
		return out
	case dtypes.Uint8:
		out := make([]uint8, n)
		for i := range out {
			out[i] = uint8(stream[i])
		}
		return out
	case dtypes.Int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(math.Round(float64(stream[i])))
		}
		return out
	case dtypes.Int64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(math.Round(float64(stream[i])))
		}
		return out
	}
	panic(Resourcef("fromStream", "unsupported element type %s", dtype))
}

const maxExactIntFloat = 1 << 24

// checkIntExactness rejects integer uploads the float texture path cannot
// represent exactly.
func checkIntExactness(flat any) {
	switch v := flat.(type) {
	case []int32:
		for _, x := range v {
			if x > maxExactIntFloat || x < -maxExactIntFloat {
				panic(Resourcef("upload", "int32 value %d exceeds float-exact range ±2^24", x))
			}
		}
	case []int64:
		for _, x := range v {
			if x > maxExactIntFloat || x < -maxExactIntFloat {
				panic(Resourcef("upload", "int64 value %d exceeds float-exact range ±2^24", x))
			}
		}
	}
}

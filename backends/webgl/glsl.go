package webgl

import (
	"fmt"
	"strings"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/internal/glapi"
)

// GLSL ES 1.0 generation. Shapes, strides and texture dimensions are baked
// into the source as constants (GLSL ES loops want constant bounds, and
// constant folding is what the driver compiler optimizes best); this is why
// a shape change invalidates a cached artifact.

// glslProgram assembles a fragment program from the shared preamble, the
// sampler declarations, helper functions and the main body.
func glslProgram(samplers []string, helpers, mainBody string) string {
	var sb strings.Builder
	sb.WriteString("precision highp float;\nvarying vec2 TexCoords;\n")
	for _, s := range samplers {
		fmt.Fprintf(&sb, "uniform sampler2D %s;\n", s)
	}
	sb.WriteString(helpers)
	fmt.Fprintf(&sb, "void main() {\n%s}\n", mainBody)
	return sb.String()
}

// glslFetch emits `float fetch<Name>(int index)` reading the red channel of
// an unpacked layout by flat physical index.
func glslFetch(name string, l *TextureLayout) string {
	return fmt.Sprintf(`
float fetch%[1]s(int index) {
  int y = index / %[2]d;
  int x = index - y * %[2]d;
  vec2 uv = (vec2(float(x), float(y)) + 0.5) / vec2(%[2]d.0, %[3]d.0);
  return texture2D(%[1]s, uv).r;
}
`, name, l.Width, l.Height)
}

// glslOutIndex emits `int outIndex()` recovering the output flat index from
// the interpolated texture coordinates.
func glslOutIndex(l *TextureLayout) string {
	return fmt.Sprintf(`
int outIndex() {
  int x = int(TexCoords.x * %[1]d.0);
  int y = int(TexCoords.y * %[2]d.0);
  return y * %[1]d + x;
}
`, l.Width, l.Height)
}

// glslBroadcastIndex emits `int index<Name>(int index)` mapping an output
// flat index to the input's flat index under broadcasting, fully unrolled
// with baked strides.
func glslBroadcastIndex(name string, outDims, inDims []int) string {
	outStrides := rowMajorStrides(outDims)
	inStrides := broadcastStrides(inDims, outDims)
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nint index%s(int index) {\n  int rem = index;\n  int acc = 0;\n  int d = 0;\n", name)
	for i := range outDims {
		fmt.Fprintf(&sb, "  d = rem / %d; rem -= d * %d; acc += d * %d;\n",
			outStrides[i], outStrides[i], inStrides[i])
	}
	sb.WriteString("  return acc;\n}\n")
	return sb.String()
}

// fetchTexel reads the red channel of an unpacked layout at a flat physical
// index: the Go mirror of glslFetch.
func fetchTexel(s glapi.SamplerView, l *TextureLayout, index int) float32 {
	x := index % l.Width
	y := index / l.Width
	return s.Fetch(x, y)[0]
}

// broadcastShapes applies numpy-style broadcasting to two shapes, throwing
// UnsupportedOperationError when they are incompatible (a configuration the
// layout strategy cannot express).
func broadcastShapes(opType string, a, b []int) []int {
	rank := max(len(a), len(b))
	out := make([]int, rank)
	for i := 0; i < rank; i++ {
		da, db := 1, 1
		if i >= rank-len(a) {
			da = a[i-(rank-len(a))]
		}
		if i >= rank-len(b) {
			db = b[i-(rank-len(b))]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			panic(backends.Unsupportedf(opType, "", 0, "cannot broadcast %v with %v", a, b))
		}
	}
	return out
}

// broadcastStrides returns inDims' strides aligned to outDims' rank, with 0
// on broadcast axes.
func broadcastStrides(inDims, outDims []int) []int {
	inStrides := rowMajorStrides(inDims)
	out := make([]int, len(outDims))
	offset := len(outDims) - len(inDims)
	for i := range outDims {
		if i < offset {
			continue
		}
		j := i - offset
		if inDims[j] == 1 && outDims[i] != 1 {
			continue
		}
		out[i] = inStrides[j]
	}
	return out
}

// broadcastIndex maps an output flat index to an input flat index using
// pre-aligned strides: the Go mirror of glslBroadcastIndex.
func broadcastIndex(index int, outStrides, inStrides []int) int {
	acc := 0
	rem := index
	for i, os := range outStrides {
		d := rem / os
		rem -= d * os
		acc += d * inStrides[i]
	}
	return acc
}

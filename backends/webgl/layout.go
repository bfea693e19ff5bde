package webgl

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
)

// TextureLayout describes how a logical tensor shape is placed on a 2-D
// texture: the texture footprint, the channel count, the physical shape laid
// row-major over the texels, and the logical shape consumers should see.
//
// Two packing modes exist:
//
//   - unpacked (1 channel): one element per texel, red channel only; the
//     physical shape is the logical shape.
//   - packed (4 channels): 2x2 blocks of the last two logical dimensions are
//     stored per texel across the RGBA channels, halving the footprint; the
//     physical shape is the packed block grid, so UnpackedShape carries the
//     logical shape separately.
type TextureLayout struct {
	Width, Height int
	Channels      int // 1 or 4

	// Shape is the physical shape laid row-major over the texel grid.
	Shape   []int
	Strides []int

	// UnpackedShape is the logical shape consumers see. It equals Shape for
	// unpacked layouts and differs when packing or view reuse is applied.
	UnpackedShape []int
}

// String implements fmt.Stringer.
func (l *TextureLayout) String() string {
	return fmt.Sprintf("TextureLayout(%dx%d c%d, shape=%v, unpacked=%v)",
		l.Width, l.Height, l.Channels, l.Shape, l.UnpackedShape)
}

// TexelCount returns Width*Height.
func (l *TextureLayout) TexelCount() int { return l.Width * l.Height }

// LogicalSize returns the element count of UnpackedShape.
func (l *TextureLayout) LogicalSize() int { return sizeOf(l.UnpackedShape) }

func sizeOf(shape []int) int {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return size
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// rowMajorStrides returns standard row-major strides over shape.
func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// ComputeTextureWH maps a physical shape to texture dimensions. channels is
// the number of elements stored per texel. prefW/prefH are caller
// preferences, honored when they hold the data and fit the device; pass 0 to
// let the strategy choose. The result is deterministic and always satisfies
// w*h*channels >= product(shape), w <= maxSize, h <= maxSize; it throws
// ResourceError when no such footprint exists.
func ComputeTextureWH(shape []int, channels, prefW, prefH, maxSize int) (w, h int) {
	texels := ceilDiv(sizeOf(shape), channels)
	if texels == 0 {
		texels = 1 // zero-size tensors still get a 1x1 placeholder
	}
	if prefW > 0 && prefH > 0 {
		if prefW <= maxSize && prefH <= maxSize && prefW*prefH >= texels {
			return prefW, prefH
		}
	}
	// Natural placement: last axis across, leading axes down.
	if channels == 1 && len(shape) >= 2 {
		cols := shape[len(shape)-1]
		rows := texels / max(cols, 1)
		if cols >= 1 && cols <= maxSize && rows <= maxSize && rows*cols >= texels {
			return cols, rows
		}
	}
	// Squarish fallback.
	w = int(math.Ceil(math.Sqrt(float64(texels))))
	h = ceilDiv(texels, w)
	if w > maxSize || h > maxSize {
		panic(Resourcef("ComputeTextureWH", "shape %v (%d texels) exceeds maximum texture size %d",
			shape, texels, maxSize))
	}
	return w, h
}

// NewUnpackedLayout lays shape out one element per texel. A rank-0 (scalar)
// shape is placed as a single-element [1] layout while UnpackedShape
// preserves the empty shape, so scalar semantics survive for consumers.
func NewUnpackedLayout(shape []int, prefW, prefH, maxSize int) *TextureLayout {
	physical := shape
	if len(physical) == 0 {
		physical = []int{1}
	}
	w, h := ComputeTextureWH(physical, 1, prefW, prefH, maxSize)
	l := &TextureLayout{
		Width:         w,
		Height:        h,
		Channels:      1,
		Shape:         slices.Clone(physical),
		Strides:       rowMajorStrides(physical),
		UnpackedShape: slices.Clone(shape),
	}
	l.assertFootprint()
	return l
}

// foldTo2D collapses a logical shape to (rows, cols): cols is the last
// dimension, rows the product of the rest. Scalars fold to 1x1.
func foldTo2D(shape []int) (rows, cols int) {
	if len(shape) == 0 {
		return 1, 1
	}
	cols = shape[len(shape)-1]
	rows = 1
	for _, d := range shape[:len(shape)-1] {
		rows *= d
	}
	return rows, cols
}

// NewPackedLayout stores 2x2 blocks of the last two logical dimensions per
// texel. unpackedShape is required because the physical shape is the packed
// block grid, not the logical shape. The block addressing fixes the texture
// footprint to the grid itself, so oversized grids cannot be expressed by
// this strategy.
func NewPackedLayout(unpackedShape []int, maxSize int) *TextureLayout {
	rows, cols := foldTo2D(unpackedShape)
	gridH, gridW := ceilDiv(max(rows, 1), 2), ceilDiv(max(cols, 1), 2)
	if gridW > maxSize || gridH > maxSize {
		panic(Resourcef("NewPackedLayout", "packed grid %dx%d for shape %v exceeds maximum texture size %d",
			gridW, gridH, unpackedShape, maxSize))
	}
	grid := []int{gridH, gridW}
	l := &TextureLayout{
		Width:         gridW,
		Height:        gridH,
		Channels:      4,
		Shape:         grid,
		Strides:       rowMajorStrides(grid),
		UnpackedShape: slices.Clone(unpackedShape),
	}
	l.assertFootprint()
	return l
}

// viewLayout reinterprets an existing layout under a new logical shape
// without moving data: same texture footprint, new shape/strides. Valid only
// for unpacked layouts with identical element counts.
func viewLayout(src *TextureLayout, shape []int) *TextureLayout {
	if src.Channels != 1 {
		exceptions.Panicf("webgl: view over packed layout %s", src)
	}
	if sizeOf(shape) != src.LogicalSize() {
		exceptions.Panicf("webgl: view shape %v has %d elements, source %s has %d",
			shape, sizeOf(shape), src, src.LogicalSize())
	}
	physical := shape
	if len(physical) == 0 {
		physical = []int{1}
	}
	return &TextureLayout{
		Width:         src.Width,
		Height:        src.Height,
		Channels:      1,
		Shape:         slices.Clone(physical),
		Strides:       rowMajorStrides(physical),
		UnpackedShape: slices.Clone(shape),
	}
}

func (l *TextureLayout) assertFootprint() {
	if l.Width*l.Height*l.Channels < sizeOf(l.Shape) {
		exceptions.Panicf("webgl: layout %s cannot hold its physical shape", l)
	}
	if l.Width*l.Height*l.Channels < l.LogicalSize() {
		exceptions.Panicf("webgl: layout %s cannot hold its logical shape", l)
	}
}

// packTexels interleaves logical row-major values (rows x cols) into the
// packed RGBA texel stream: texel (gx, gy) holds the 2x2 block at
// (2gy, 2gx) as (r, g, b, a) = (top-left, top-right, bottom-left,
// bottom-right), zero-padded past the edges.
func packTexels(flat []float32, rows, cols int) []float32 {
	gridH, gridW := ceilDiv(max(rows, 1), 2), ceilDiv(max(cols, 1), 2)
	out := make([]float32, gridH*gridW*4)
	at := func(r, c int) float32 {
		if r >= rows || c >= cols {
			return 0
		}
		return flat[r*cols+c]
	}
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			base := (gy*gridW + gx) * 4
			r, c := gy*2, gx*2
			out[base+0] = at(r, c)
			out[base+1] = at(r, c+1)
			out[base+2] = at(r+1, c)
			out[base+3] = at(r+1, c+1)
		}
	}
	return out
}

// unpackTexels is the inverse of packTexels.
func unpackTexels(texels []float32, rows, cols int) []float32 {
	gridW := ceilDiv(max(cols, 1), 2)
	out := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			base := ((r/2)*gridW + c/2) * 4
			ch := (r%2)*2 + c%2
			out[r*cols+c] = texels[base+ch]
		}
	}
	return out
}

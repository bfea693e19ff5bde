package webgl

import (
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/types/tensor"
)

// texRef owns one GL texture and counts the TextureData instances holding
// it. Reshape-style views share the GL object across distinct TextureData;
// the texture is deleted exactly once, when the last holder releases.
type texRef struct {
	id            glapi.TextureID
	width, height int
	format        glapi.PixelFormat
	holders       int
}

// TextureData pairs a TextureLayout with the GPU texture holding the data
// and the Tensor it backs. Exactly one TextureData exists per live tensor
// identity within a cache scope; ownership is exclusive and Release through
// the owning scope deletes the GL texture exactly once.
type TextureData struct {
	Layout *TextureLayout

	dtype    dtypes.DType
	ref      *texRef
	bound    *tensor.Tensor
	released bool
}

// TextureID returns the underlying GL texture handle.
func (td *TextureData) TextureID() glapi.TextureID { return td.ref.id }

// DType returns the element type of the backed tensor.
func (td *TextureData) DType() dtypes.DType { return td.dtype }

// Tensor returns the tensor this texture backs, nil before binding.
func (td *TextureData) Tensor() *tensor.Tensor { return td.bound }

// SharesTextureWith reports whether two TextureData use the same GL object.
func (td *TextureData) SharesTextureWith(other *TextureData) bool { return td.ref == other.ref }

// NewTextureData allocates a texture for layout and uploads flat when
// non-nil (packed layouts interleave 2x2 blocks first). Pass a nil flat for
// render targets.
func (d *Device) NewTextureData(layout *TextureLayout, dtype dtypes.DType, flat any) *TextureData {
	enc := d.encoderFor(dtype)
	format := enc.Format(layout.Channels)
	id := d.allocTexture(layout.Width, layout.Height, format)
	td := &TextureData{
		Layout: layout,
		dtype:  dtype,
		ref:    &texRef{id: id, width: layout.Width, height: layout.Height, format: format, holders: 1},
	}
	if flat != nil {
		checkIntExactness(flat)
		stream := toStream(flat)
		if stream == nil {
			panic(Resourcef("upload", "unsupported flat buffer type %T for element type %s", flat, dtype))
		}
		d.upload(id, layout.Width, layout.Height, format, enc.Encode(d.layoutStream(layout, stream)))
	}
	return td
}

// layoutStream arranges logical values into the per-channel texel stream of
// the layout, padding the texel capacity with zeros.
func (d *Device) layoutStream(layout *TextureLayout, logical []float32) []float32 {
	if layout.Channels == 4 {
		rows, cols := foldTo2D(layout.UnpackedShape)
		return packTexels(logical, rows, cols)
	}
	stream := make([]float32, layout.TexelCount())
	copy(stream, logical)
	return stream
}

// ShareTextureData builds a new TextureData over the same GL texture with a
// reinterpreted layout: the reshape/view fast path. No allocation, no draw.
func (d *Device) ShareTextureData(src *TextureData, layout *TextureLayout) *TextureData {
	src.ref.holders++
	return &TextureData{Layout: layout, dtype: src.dtype, ref: src.ref}
}

// ReleaseTextureData drops td's hold; the GL texture is deleted when the
// last holder releases. Releasing twice is a no-op at this layer so that a
// scope teardown cannot double-delete a shared object.
func (d *Device) ReleaseTextureData(td *TextureData) {
	if td.released {
		return
	}
	td.released = true
	td.ref.holders--
	if td.ref.holders == 0 {
		d.freeTexture(td.ref.id, td.ref.width, td.ref.height, td.ref.format)
	}
}

// ReadTextureData reads the texture back and returns the flat buffer of the
// layout's logical shape. This is the only place device data crosses back to
// the host; callers memoize through the tensor state machine.
func (d *Device) ReadTextureData(td *TextureData) any {
	enc := d.encoderFor(td.dtype)
	texels := d.readTexels(td.ref.id, td.Layout.Width, td.Layout.Height, td.ref.format, enc)
	logical := texels
	if td.Layout.Channels == 4 {
		rows, cols := foldTo2D(td.Layout.UnpackedShape)
		logical = unpackTexels(texels, rows, cols)
	}
	return fromStream(logical, td.dtype, td.Layout.LogicalSize())
}

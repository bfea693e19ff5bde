package webgl

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/internal/glapi"
)

// Device is the GPU resource layer: it owns the rendering context and
// exposes texture/framebuffer/program lifecycle, pixel encode/decode and
// draw dispatch to the rest of the backend.
//
// Access is strictly serial; the context's global state (bound units, bound
// framebuffer, current program) is never shared between two in-flight
// inference calls.
type Device struct {
	ctx  glapi.Context
	caps glapi.Capabilities

	// debug enables a context error check after GPU calls. Off by default:
	// the check forces a driver sync per operation.
	debug bool

	// fbo is the one framebuffer used for every attach/read/draw; WebGL
	// engines conventionally reuse a single FBO and rebind attachments.
	fbo glapi.FramebufferID

	encoders map[dtypes.DType]DataEncoder

	// uint8Fallback re-encodes float values into packed uint8 channels on
	// the GPU before framebuffer reads. Selected once, at initialization,
	// for devices whose float readback is unreliable.
	uint8Fallback bool
	encodeFloat   *encodeFloatProgram

	allocatedBytes uint64
	liveTextures   int
}

// DeviceOption configures NewDevice.
type DeviceOption func(*Device)

// WithDebug enables context error checking after every GPU call.
func WithDebug() DeviceOption {
	return func(d *Device) { d.debug = true }
}

// NewDevice probes the context and selects the encoder family. A context
// that can render to neither float32 nor half-float targets cannot host this
// backend; the ResourceError returned then means "backend unavailable".
func NewDevice(ctx glapi.Context, opts ...DeviceOption) (*Device, error) {
	caps := ctx.Caps()
	d := &Device{ctx: ctx, caps: caps}
	for _, opt := range opts {
		opt(d)
	}
	if !caps.RenderFloat32 && !caps.RenderFloat16 {
		return nil, Resourcef("init", "device renders to neither float32 nor half-float targets; backend unavailable")
	}
	floatEnc := float32Encoder{half: !caps.RenderFloat32}
	d.encoders = map[dtypes.DType]DataEncoder{
		dtypes.Float32: floatEnc,
		dtypes.Uint8:   byteEncoder{},
		dtypes.Int32:   floatEnc,
		dtypes.Int64:   floatEnc,
	}
	d.uint8Fallback = !caps.ReadFloatPixels
	fbo, err := ctx.CreateFramebuffer()
	if err != nil {
		return nil, Resourcef("init", "framebuffer allocation failed: %v", err)
	}
	d.fbo = fbo
	klog.V(1).Infof("webgl device: max texture %d, float32 render=%v, half render=%v, uint8 readback fallback=%v",
		caps.MaxTextureSize, caps.RenderFloat32, caps.RenderFloat16, d.uint8Fallback)
	return d, nil
}

// Caps returns the capability probe taken at initialization.
func (d *Device) Caps() glapi.Capabilities { return d.caps }

// MaxTextureSize returns the maximum texture dimension.
func (d *Device) MaxTextureSize() int { return d.caps.MaxTextureSize }

// AllocatedBytes returns the bytes currently held in live textures.
func (d *Device) AllocatedBytes() uint64 { return d.allocatedBytes }

func (d *Device) encoderFor(dtype dtypes.DType) DataEncoder {
	enc, ok := d.encoders[dtype]
	if !ok {
		panic(Resourcef("encoder", "no pixel encoding for element type %s", dtype))
	}
	return enc
}

func (d *Device) allocTexture(w, h int, format glapi.PixelFormat) glapi.TextureID {
	id, err := d.ctx.CreateTexture(w, h, format)
	if err != nil {
		panic(Resourcef("allocTexture", "%dx%d %s: %v", w, h, format, err))
	}
	bytes := uint64(w * h * format.TexelBytes())
	d.allocatedBytes += bytes
	d.liveTextures++
	if klog.V(2).Enabled() {
		klog.Infof("webgl: +texture %dx%d %s (%s, %d live, %s total)",
			w, h, format, humanize.IBytes(bytes), d.liveTextures, humanize.IBytes(d.allocatedBytes))
	}
	d.CheckError("CreateTexture")
	return id
}

func (d *Device) freeTexture(id glapi.TextureID, w, h int, format glapi.PixelFormat) {
	d.ctx.DeleteTexture(id)
	d.allocatedBytes -= uint64(w * h * format.TexelBytes())
	d.liveTextures--
	d.CheckError("DeleteTexture")
}

func (d *Device) upload(id glapi.TextureID, w, h int, format glapi.PixelFormat, pixels []byte) {
	if err := d.ctx.UpdateTexture(id, w, h, format, pixels); err != nil {
		panic(Resourcef("upload", "%dx%d %s: %v", w, h, format, err))
	}
	d.CheckError("UpdateTexture")
}

// readTexels reads a texture back as per-channel float values, applying the
// uint8 bit-packing fallback for float formats when selected.
func (d *Device) readTexels(id glapi.TextureID, w, h int, format glapi.PixelFormat, enc DataEncoder) []float32 {
	if d.uint8Fallback && isFloatFormat(format) {
		if format.Channels() != 1 {
			panic(Resourcef("readTexels",
				"uint8 readback fallback cannot express %s (4-channel float); unpack first", format))
		}
		return d.readFloatViaBytes(id, w, h)
	}
	if err := d.ctx.AttachTexture(d.fbo, id); err != nil {
		panic(Resourcef("readTexels", "attach: %v", err))
	}
	pixels, err := d.ctx.ReadPixels(d.fbo, w, h, format)
	if err != nil {
		panic(Resourcef("readTexels", "%dx%d %s: %v", w, h, format, err))
	}
	d.CheckError("ReadPixels")
	return enc.Decode(pixels)
}

func isFloatFormat(format glapi.PixelFormat) bool {
	switch format {
	case glapi.R16F, glapi.RGBA16F, glapi.R32F, glapi.RGBA32F:
		return true
	}
	return false
}

// CheckError throws ResourceError on a pending context error. Active only
// under the debug flag to avoid per-operation driver syncs in production.
func (d *Device) CheckError(op string) {
	if !d.debug {
		return
	}
	if err := d.ctx.Err(); err != nil {
		panic(Resourcef(op, "context error: %v", err))
	}
}

// UnbindTextures clears every bound texture unit.
func (d *Device) UnbindTextures() { d.ctx.UnbindTextures() }

// Dispose releases the shared framebuffer, the fallback program and the
// context itself.
func (d *Device) Dispose() {
	if d.encodeFloat != nil {
		d.encodeFloat.dispose(d.ctx)
		d.encodeFloat = nil
	}
	d.ctx.DeleteFramebuffer(d.fbo)
	if d.liveTextures > 0 {
		klog.Warningf("webgl: device disposed with %d textures still live (%s)",
			d.liveTextures, humanize.IBytes(d.allocatedBytes))
	}
	d.ctx.Destroy()
}

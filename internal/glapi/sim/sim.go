// Package sim is a software implementation of the glapi.Context contract: a
// single-threaded rasterizer that stores textures as float32 texels and
// executes the Go form of each fragment stage per output texel.
//
// It is the portable sibling of the hardware driver, in the same way a
// pure-Go reference backend sits beside a native one: tests and GPU-less
// hosts run on it, and its capability options (no float rendering, no float
// readback) reproduce the degraded device classes the engine must handle.
package sim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/texelflow/texelflow/internal/glapi"
)

// Stats counts context activity; tests use it to pin down cache behavior and
// resource lifetimes.
type Stats struct {
	CompiledShaders  int
	LinkedPrograms   int
	Draws            int
	LiveTextures     int
	LiveFramebuffers int
	BoundUnits       int
}

// Option configures the simulated device.
type Option func(*Context)

// WithMaxTextureSize caps texture dimensions, default 4096.
func WithMaxTextureSize(n int) Option {
	return func(c *Context) { c.caps.MaxTextureSize = n }
}

// WithoutFloatRender simulates a device that cannot attach float32 textures
// as render targets, forcing the half-float degradation.
func WithoutFloatRender() Option {
	return func(c *Context) { c.caps.RenderFloat32 = false }
}

// WithoutFloatRead simulates a device with unreliable float readback,
// forcing the uint8 bit-packing fallback.
func WithoutFloatRead() Option {
	return func(c *Context) { c.caps.ReadFloatPixels = false }
}

type texture struct {
	w, h   int
	format glapi.PixelFormat
	// texels holds w*h*4 values in the format's numeric range; unused
	// channels of 1-channel formats stay zero.
	texels []float32
}

type shader struct {
	kind glapi.ShaderKind
	src  glapi.FragmentShader
}

type program struct {
	vertex, fragment *shader
}

// Context implements glapi.Context in software.
type Context struct {
	caps glapi.Capabilities

	nextHandle uint32
	textures   map[glapi.TextureID]*texture
	fbos       map[glapi.FramebufferID]glapi.TextureID
	shaders    map[glapi.ShaderID]*shader
	programs   map[glapi.ProgramID]*program

	boundUnits []glapi.TextureID
	stats      Stats
	stickyErr  error
	destroyed  bool
}

var _ glapi.Context = (*Context)(nil)

// New creates a simulated context. By default every capability is present.
func New(options ...Option) *Context {
	c := &Context{
		caps: glapi.Capabilities{
			MaxTextureSize:  4096,
			RenderFloat32:   true,
			RenderFloat16:   true,
			ReadFloatPixels: true,
		},
		textures: make(map[glapi.TextureID]*texture),
		fbos:     make(map[glapi.FramebufferID]glapi.TextureID),
		shaders:  make(map[glapi.ShaderID]*shader),
		programs: make(map[glapi.ProgramID]*program),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Stats returns a snapshot of context activity counters.
func (c *Context) Stats() Stats {
	s := c.stats
	s.LiveTextures = len(c.textures)
	s.LiveFramebuffers = len(c.fbos)
	s.BoundUnits = len(c.boundUnits)
	return s
}

func (c *Context) record(err error) {
	if c.stickyErr == nil {
		c.stickyErr = err
	}
}

func (c *Context) handle() uint32 {
	c.nextHandle++
	return c.nextHandle
}

// Caps implements glapi.Context.
func (c *Context) Caps() glapi.Capabilities { return c.caps }

// CreateTexture implements glapi.Context.
func (c *Context) CreateTexture(w, h int, format glapi.PixelFormat) (glapi.TextureID, error) {
	if w <= 0 || h <= 0 || w > c.caps.MaxTextureSize || h > c.caps.MaxTextureSize {
		return 0, errors.Errorf("sim: texture %dx%d outside [1, %d]", w, h, c.caps.MaxTextureSize)
	}
	id := glapi.TextureID(c.handle())
	c.textures[id] = &texture{w: w, h: h, format: format, texels: make([]float32, w*h*4)}
	return id, nil
}

// UpdateTexture implements glapi.Context.
func (c *Context) UpdateTexture(tex glapi.TextureID, w, h int, format glapi.PixelFormat, pixels []byte) error {
	t, ok := c.textures[tex]
	if !ok {
		return errors.Errorf("sim: UpdateTexture of unknown texture %d", tex)
	}
	if t.w != w || t.h != h || t.format != format {
		return errors.Errorf("sim: UpdateTexture %dx%d %s does not match texture %dx%d %s",
			w, h, format, t.w, t.h, t.format)
	}
	if want := w * h * format.TexelBytes(); len(pixels) != want {
		return errors.Errorf("sim: UpdateTexture expected %d bytes, got %d", want, len(pixels))
	}
	decodeTexels(t.texels, pixels, format)
	return nil
}

// DeleteTexture implements glapi.Context.
func (c *Context) DeleteTexture(tex glapi.TextureID) {
	if _, ok := c.textures[tex]; !ok {
		c.record(errors.Errorf("sim: delete of unknown texture %d (double delete?)", tex))
		return
	}
	delete(c.textures, tex)
}

// CreateFramebuffer implements glapi.Context.
func (c *Context) CreateFramebuffer() (glapi.FramebufferID, error) {
	id := glapi.FramebufferID(c.handle())
	c.fbos[id] = 0
	return id, nil
}

// AttachTexture implements glapi.Context.
func (c *Context) AttachTexture(fb glapi.FramebufferID, tex glapi.TextureID) error {
	if _, ok := c.fbos[fb]; !ok {
		return errors.Errorf("sim: attach to unknown framebuffer %d", fb)
	}
	t, ok := c.textures[tex]
	if !ok {
		return errors.Errorf("sim: attach of unknown texture %d", tex)
	}
	switch t.format {
	case glapi.R32F, glapi.RGBA32F:
		if !c.caps.RenderFloat32 {
			return errors.Errorf("sim: device cannot render to float32 target")
		}
	case glapi.R16F, glapi.RGBA16F:
		if !c.caps.RenderFloat16 {
			return errors.Errorf("sim: device cannot render to half-float target")
		}
	}
	c.fbos[fb] = tex
	return nil
}

// ReadPixels implements glapi.Context.
func (c *Context) ReadPixels(fb glapi.FramebufferID, w, h int, format glapi.PixelFormat) ([]byte, error) {
	tex, ok := c.fbos[fb]
	if !ok {
		return nil, errors.Errorf("sim: read from unknown framebuffer %d", fb)
	}
	t, ok := c.textures[tex]
	if !ok {
		return nil, errors.Errorf("sim: framebuffer %d has no attachment", fb)
	}
	if format != t.format {
		return nil, errors.Errorf("sim: ReadPixels format %s does not match attachment %s", format, t.format)
	}
	switch format {
	case glapi.R16F, glapi.RGBA16F, glapi.R32F, glapi.RGBA32F:
		if !c.caps.ReadFloatPixels {
			return nil, errors.Errorf("sim: device cannot read float pixels back")
		}
	}
	if w != t.w || h != t.h {
		return nil, errors.Errorf("sim: ReadPixels %dx%d does not match attachment %dx%d", w, h, t.w, t.h)
	}
	out := make([]byte, w*h*format.TexelBytes())
	encodeTexels(out, t.texels, format)
	return out, nil
}

// DeleteFramebuffer implements glapi.Context.
func (c *Context) DeleteFramebuffer(fb glapi.FramebufferID) {
	if _, ok := c.fbos[fb]; !ok {
		c.record(errors.Errorf("sim: delete of unknown framebuffer %d", fb))
		return
	}
	delete(c.fbos, fb)
}

// CompileShader implements glapi.Context. Fragment stages must carry both
// forms; the "driver log" names what is missing.
func (c *Context) CompileShader(kind glapi.ShaderKind, src glapi.FragmentShader) (glapi.ShaderID, error) {
	var log string
	switch kind {
	case glapi.KindVertex:
		if src.Source == "" {
			log = "ERROR: 0:1: empty vertex source"
		}
	case glapi.KindFragment:
		if src.Main == nil {
			log = "ERROR: 0:1: fragment stage has no software main"
		} else if src.Source == "" {
			log = "ERROR: 0:1: empty fragment source"
		} else if !containsMain(src.Source) {
			log = "ERROR: 0:1: 'main' : function definition not found"
		}
	default:
		log = fmt.Sprintf("ERROR: unknown shader kind %d", kind)
	}
	if log != "" {
		return 0, errors.Errorf("sim: shader compile failed: %s", log)
	}
	id := glapi.ShaderID(c.handle())
	c.shaders[id] = &shader{kind: kind, src: src}
	c.stats.CompiledShaders++
	return id, nil
}

func containsMain(source string) bool {
	// The cheapest possible syntax check; real validation is the hardware
	// driver's job.
	for i := 0; i+9 <= len(source); i++ {
		if source[i:i+9] == "void main" {
			return true
		}
	}
	return false
}

// DeleteShader implements glapi.Context.
func (c *Context) DeleteShader(s glapi.ShaderID) {
	if _, ok := c.shaders[s]; !ok {
		c.record(errors.Errorf("sim: delete of unknown shader %d", s))
		return
	}
	delete(c.shaders, s)
}

// LinkProgram implements glapi.Context.
func (c *Context) LinkProgram(vertex, fragment glapi.ShaderID) (glapi.ProgramID, error) {
	vs, ok := c.shaders[vertex]
	if !ok || vs.kind != glapi.KindVertex {
		return 0, errors.Errorf("sim: link failed: %d is not a vertex shader", vertex)
	}
	fs, ok := c.shaders[fragment]
	if !ok || fs.kind != glapi.KindFragment {
		return 0, errors.Errorf("sim: link failed: %d is not a fragment shader", fragment)
	}
	id := glapi.ProgramID(c.handle())
	c.programs[id] = &program{vertex: vs, fragment: fs}
	c.stats.LinkedPrograms++
	return id, nil
}

// DeleteProgram implements glapi.Context.
func (c *Context) DeleteProgram(p glapi.ProgramID) {
	if _, ok := c.programs[p]; !ok {
		c.record(errors.Errorf("sim: delete of unknown program %d", p))
		return
	}
	delete(c.programs, p)
}

type samplerView struct{ t *texture }

func (s samplerView) Size() (int, int) { return s.t.w, s.t.h }

func (s samplerView) Fetch(x, y int) [4]float32 {
	x = min(max(x, 0), s.t.w-1)
	y = min(max(y, 0), s.t.h-1)
	base := (y*s.t.w + x) * 4
	return [4]float32{s.t.texels[base], s.t.texels[base+1], s.t.texels[base+2], s.t.texels[base+3]}
}

// Draw implements glapi.Context: runs the fragment main over every viewport
// texel and writes the result through the target format's quantization.
func (c *Context) Draw(call glapi.DrawCall) error {
	p, ok := c.programs[call.Program]
	if !ok {
		return errors.Errorf("sim: draw with unknown program %d", call.Program)
	}
	targetTex, ok := c.fbos[call.Target]
	if !ok {
		return errors.Errorf("sim: draw to unknown framebuffer %d", call.Target)
	}
	target, ok := c.textures[targetTex]
	if !ok {
		return errors.Errorf("sim: draw target framebuffer %d has no attachment", call.Target)
	}
	if call.Width != target.w || call.Height != target.h {
		return errors.Errorf("sim: viewport %dx%d does not match attachment %dx%d",
			call.Width, call.Height, target.w, target.h)
	}

	env := &glapi.FragEnv{
		W:        call.Width,
		H:        call.Height,
		Samplers: make([]glapi.SamplerView, len(call.Samplers)),
		Uniforms: make(map[string]glapi.Uniform, len(call.Uniforms)),
	}
	c.boundUnits = c.boundUnits[:0]
	for i, binding := range call.Samplers {
		t, ok := c.textures[binding.Texture]
		if !ok {
			return errors.Errorf("sim: sampler %q bound to unknown texture %d", binding.Name, binding.Texture)
		}
		env.Samplers[i] = samplerView{t: t}
		c.boundUnits = append(c.boundUnits, binding.Texture)
	}
	for _, u := range call.Uniforms {
		env.Uniforms[u.Name] = u
	}

	main := p.fragment.src.Main
	for y := 0; y < call.Height; y++ {
		for x := 0; x < call.Width; x++ {
			env.X, env.Y = x, y
			rgba := main(env)
			base := (y*target.w + x) * 4
			storeTexel(target.texels[base:base+4], rgba, target.format)
		}
	}
	c.stats.Draws++
	return nil
}

// UnbindTextures implements glapi.Context.
func (c *Context) UnbindTextures() { c.boundUnits = c.boundUnits[:0] }

// Err implements glapi.Context: returns and clears the sticky error.
func (c *Context) Err() error {
	err := c.stickyErr
	c.stickyErr = nil
	return err
}

// Destroy implements glapi.Context.
func (c *Context) Destroy() {
	c.textures = map[glapi.TextureID]*texture{}
	c.fbos = map[glapi.FramebufferID]glapi.TextureID{}
	c.shaders = map[glapi.ShaderID]*shader{}
	c.programs = map[glapi.ProgramID]*program{}
	c.boundUnits = nil
	c.destroyed = true
}

// storeTexel writes rgba through the format's quantization: bytes are
// clamped and rounded to 0..255, half-floats round-trip through float16, and
// float32 is stored as-is. 1-channel formats keep only red.
func storeTexel(dst []float32, rgba [4]float32, format glapi.PixelFormat) {
	n := format.Channels()
	for i := 0; i < 4; i++ {
		if i >= n {
			dst[i] = 0
			continue
		}
		v := rgba[i]
		switch format {
		case glapi.R8, glapi.RGBA8:
			v = float32(math.Round(float64(min32(max32(v, 0), 255))))
		case glapi.R16F, glapi.RGBA16F:
			v = float16.Fromfloat32(v).Float32()
		}
		dst[i] = v
	}
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// decodeTexels fills texels (stride 4) from little-endian pixel bytes.
func decodeTexels(texels []float32, pixels []byte, format glapi.PixelFormat) {
	n := format.Channels()
	stride := format.TexelBytes()
	for i := 0; i < len(pixels)/stride; i++ {
		base := i * stride
		for ch := 0; ch < 4; ch++ {
			var v float32
			if ch < n {
				switch format {
				case glapi.R8, glapi.RGBA8:
					v = float32(pixels[base+ch])
				case glapi.R16F, glapi.RGBA16F:
					bits := binary.LittleEndian.Uint16(pixels[base+ch*2:])
					v = float16.Frombits(bits).Float32()
				default:
					bits := binary.LittleEndian.Uint32(pixels[base+ch*4:])
					v = math.Float32frombits(bits)
				}
			}
			texels[i*4+ch] = v
		}
	}
}

// encodeTexels is the inverse of decodeTexels.
func encodeTexels(pixels []byte, texels []float32, format glapi.PixelFormat) {
	n := format.Channels()
	stride := format.TexelBytes()
	for i := 0; i < len(pixels)/stride; i++ {
		base := i * stride
		for ch := 0; ch < n; ch++ {
			v := texels[i*4+ch]
			switch format {
			case glapi.R8, glapi.RGBA8:
				pixels[base+ch] = byte(min32(max32(v, 0), 255))
			case glapi.R16F, glapi.RGBA16F:
				binary.LittleEndian.PutUint16(pixels[base+ch*2:], float16.Fromfloat32(v).Bits())
			default:
				binary.LittleEndian.PutUint32(pixels[base+ch*4:], math.Float32bits(v))
			}
		}
	}
}

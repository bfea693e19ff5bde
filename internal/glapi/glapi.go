// Package glapi defines the rendering-context contract the webgl backend is
// written against: a WebGL-shaped object model of opaque texture,
// framebuffer, shader and program handles over a single, process-wide,
// mutable context.
//
// The contract follows the host graphics API it abstracts: handles are
// opaque, deletion of an unknown handle is undefined (the software
// implementation records it as a context error), and context state (bound
// texture units, bound framebuffer, current program) is global.
//
// Fragment stages are carried in dual form (see FragmentShader): GLSL ES
// source for hardware drivers, plus an equivalent Go function executed by
// the software rasterizer in package sim. Kernels must keep the two in sync.
package glapi

// Opaque object handles. Zero is never a valid handle.
type (
	TextureID     uint32
	FramebufferID uint32
	ShaderID      uint32
	ProgramID     uint32
)

// PixelFormat is the physical texel format of a texture or render target.
type PixelFormat int

const (
	// R8: one uint8 per texel.
	R8 PixelFormat = iota
	// RGBA8: four uint8 per texel.
	RGBA8
	// R16F: one half-float per texel.
	R16F
	// RGBA16F: four half-floats per texel.
	RGBA16F
	// R32F: one float32 per texel.
	R32F
	// RGBA32F: four float32 per texel.
	RGBA32F
)

// Channels returns 1 or 4.
func (f PixelFormat) Channels() int {
	switch f {
	case R8, R16F, R32F:
		return 1
	}
	return 4
}

// TexelBytes returns the byte width of one texel.
func (f PixelFormat) TexelBytes() int {
	switch f {
	case R8:
		return 1
	case RGBA8:
		return 4
	case R16F:
		return 2
	case RGBA16F:
		return 8
	case R32F:
		return 4
	}
	return 16
}

// String implements fmt.Stringer.
func (f PixelFormat) String() string {
	switch f {
	case R8:
		return "R8"
	case RGBA8:
		return "RGBA8"
	case R16F:
		return "R16F"
	case RGBA16F:
		return "RGBA16F"
	case R32F:
		return "R32F"
	}
	return "RGBA32F"
}

// Capabilities is the device capability probe, taken once at context
// creation.
type Capabilities struct {
	// MaxTextureSize is the maximum width/height of a texture.
	MaxTextureSize int

	// RenderFloat32 reports whether a float32 texture can be attached as a
	// render target.
	RenderFloat32 bool

	// RenderFloat16 reports whether a half-float texture can be attached as
	// a render target.
	RenderFloat16 bool

	// ReadFloatPixels reports whether reading float pixels from a
	// framebuffer is reliable on this device.
	ReadFloatPixels bool
}

// ShaderKind discriminates the two pipeline stages.
type ShaderKind int

const (
	KindVertex ShaderKind = iota
	KindFragment
)

// FragmentShader is the dual-form fragment stage: Source is the GLSL ES text
// a hardware driver compiles; Main is the equivalent Go function the
// software rasterizer runs per output texel. Main is ignored by hardware
// drivers and Source is ignored by the rasterizer, but both must be present
// for a fragment stage to compile anywhere.
type FragmentShader struct {
	Source string
	Main   FragmentFunc
}

// FragmentFunc computes the RGBA value of one output texel.
type FragmentFunc func(e *FragEnv) [4]float32

// SamplerView is read access to one bound input texture.
type SamplerView interface {
	// Size returns the texture dimensions.
	Size() (w, h int)

	// Fetch returns the texel at (x, y), clamping coordinates to the edge.
	// Values are in the format's numeric range (e.g. 0..255 for RGBA8).
	Fetch(x, y int) [4]float32
}

// FragEnv is the per-texel environment handed to a FragmentFunc.
type FragEnv struct {
	// X, Y are the output texel coordinates; W, H the render-target size.
	X, Y, W, H int

	// Samplers are the bound input textures, in DrawCall binding order.
	Samplers []SamplerView

	// Uniforms are the scalar/array uniforms of the draw, keyed by name.
	Uniforms map[string]Uniform
}

// Int returns a scalar int uniform, 0 when absent.
func (e *FragEnv) Int(name string) int32 { return e.Uniforms[name].Int }

// Float returns a scalar float uniform, 0 when absent.
func (e *FragEnv) Float(name string) float32 { return e.Uniforms[name].Float }

// Ints returns an int-array uniform, nil when absent.
func (e *FragEnv) Ints(name string) []int32 { return e.Uniforms[name].Ints }

// Floats returns a float-array uniform, nil when absent.
func (e *FragEnv) Floats(name string) []float32 { return e.Uniforms[name].Floats }

// UniformKind tags the payload of a Uniform.
type UniformKind int

const (
	UniformInt UniformKind = iota
	UniformFloat
	UniformInts
	UniformFloats
)

// Uniform is one scalar or array uniform value.
type Uniform struct {
	Name   string
	Kind   UniformKind
	Int    int32
	Float  float32
	Ints   []int32
	Floats []float32
}

// IntUniform builds a scalar int uniform.
func IntUniform(name string, v int32) Uniform { return Uniform{Name: name, Kind: UniformInt, Int: v} }

// FloatUniform builds a scalar float uniform.
func FloatUniform(name string, v float32) Uniform {
	return Uniform{Name: name, Kind: UniformFloat, Float: v}
}

// IntsUniform builds an int-array uniform.
func IntsUniform(name string, v []int32) Uniform {
	return Uniform{Name: name, Kind: UniformInts, Ints: v}
}

// FloatsUniform builds a float-array uniform.
func FloatsUniform(name string, v []float32) Uniform {
	return Uniform{Name: name, Kind: UniformFloats, Floats: v}
}

// SamplerBinding binds a texture to a named sampler uniform.
type SamplerBinding struct {
	Name    string
	Texture TextureID
}

// DrawCall is one full-quad draw: a program, its input textures and
// uniforms, and the render target with its viewport.
type DrawCall struct {
	Program  ProgramID
	Samplers []SamplerBinding
	Uniforms []Uniform
	Target   FramebufferID
	// Width, Height is the viewport; it must match the attached texture.
	Width, Height int
}

// Context is the rendering context. Implementations: sim.Context (portable
// software rasterizer) and gles.Context (GLES2 hardware driver, build tag
// "gles"). Access is single-threaded; the engine never interleaves calls
// from two inference runs.
type Context interface {
	// Caps returns the capability probe taken at creation.
	Caps() Capabilities

	// CreateTexture allocates a w×h texture of the given format, contents
	// undefined.
	CreateTexture(w, h int, format PixelFormat) (TextureID, error)

	// UpdateTexture replaces the full contents of a texture. pixels must
	// hold exactly w*h*format.TexelBytes() bytes, rows bottom-up,
	// little-endian texels.
	UpdateTexture(tex TextureID, w, h int, format PixelFormat, pixels []byte) error

	// DeleteTexture frees a texture. Double delete is undefined.
	DeleteTexture(tex TextureID)

	// CreateFramebuffer allocates a framebuffer object.
	CreateFramebuffer() (FramebufferID, error)

	// AttachTexture binds a texture as the framebuffer's color attachment.
	AttachTexture(fb FramebufferID, tex TextureID) error

	// ReadPixels reads w×h texels from the framebuffer's attachment in the
	// given format, which must match the attachment's format.
	ReadPixels(fb FramebufferID, w, h int, format PixelFormat) ([]byte, error)

	// DeleteFramebuffer frees a framebuffer object.
	DeleteFramebuffer(fb FramebufferID)

	// CompileShader compiles one stage. The returned error carries the
	// driver's diagnostic log on failure.
	CompileShader(kind ShaderKind, src FragmentShader) (ShaderID, error)

	// DeleteShader frees a shader object.
	DeleteShader(s ShaderID)

	// LinkProgram links a vertex and a fragment shader. The returned error
	// carries the driver's link log on failure.
	LinkProgram(vertex, fragment ShaderID) (ProgramID, error)

	// DeleteProgram frees a program object.
	DeleteProgram(p ProgramID)

	// Draw binds the call's program, samplers and uniforms, attaches the
	// target and rasterizes a full quad over the viewport.
	Draw(call DrawCall) error

	// UnbindTextures clears every bound texture unit. Used when disposing
	// an inference scope.
	UnbindTextures()

	// Err returns and clears the sticky context error, nil when clean.
	// Only consulted when the engine runs with the debug flag set.
	Err() error

	// Destroy releases the context itself.
	Destroy()
}

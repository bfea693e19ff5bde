//go:build gles

// Package gles implements glapi.Context on a real OpenGL ES 2.0 context
// created through GLFW (hidden window). It needs cgo, a display and GLES
// drivers, so it is gated behind the "gles" build tag; the portable
// software context lives in package sim.
//
// Texture formats follow the WebGL1 convention: 1-channel data uses
// LUMINANCE, float and half-float textures rely on the OES_texture_float /
// OES_texture_half_float extensions, and renderability is probed by
// attaching a probe texture and checking framebuffer completeness.
package gles

import (
	"runtime"
	"strings"

	gl "github.com/go-gl/gl/v3.1/gles2"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"

	"github.com/texelflow/texelflow/internal/glapi"
)

const (
	halfFloatOES                = 0x8D61
	implementationColorReadType = 0x8B9A
)

// Context implements glapi.Context over GLES2.
type Context struct {
	window *glfw.Window
	caps   glapi.Capabilities

	quad      uint32 // VBO with a full-screen triangle strip
	shaders   map[glapi.ShaderID]uint32
	programs  map[glapi.ProgramID]uint32
	texFormat map[glapi.TextureID]glapi.PixelFormat
	maxUnits  int
}

var _ glapi.Context = (*Context)(nil)

// New creates a hidden-window GLES2 context and probes its capabilities.
// The calling goroutine is locked to its OS thread: GL contexts are
// thread-affine.
func New() (*Context, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "gles: glfw init")
	}
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLESAPI)
	glfw.WindowHint(glfw.ContextVersionMajor, 2)
	glfw.WindowHint(glfw.ContextVersionMinor, 0)
	window, err := glfw.CreateWindow(16, 16, "texelflow", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "gles: create context")
	}
	window.MakeContextCurrent()
	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, errors.Wrap(err, "gles: load GL functions")
	}

	c := &Context{
		window:    window,
		shaders:   make(map[glapi.ShaderID]uint32),
		programs:  make(map[glapi.ProgramID]uint32),
		texFormat: make(map[glapi.TextureID]glapi.PixelFormat),
	}
	c.probe()
	c.initQuad()
	return c, nil
}

func (c *Context) probe() {
	var maxSize, maxUnits int32
	gl.GetIntegerv(gl.MAX_TEXTURE_SIZE, &maxSize)
	gl.GetIntegerv(gl.MAX_TEXTURE_IMAGE_UNITS, &maxUnits)
	c.maxUnits = int(maxUnits)
	extensions := gl.GoStr(gl.GetString(gl.EXTENSIONS))
	hasFloat := strings.Contains(extensions, "OES_texture_float")
	hasHalf := strings.Contains(extensions, "OES_texture_half_float")

	c.caps = glapi.Capabilities{
		MaxTextureSize: int(maxSize),
		RenderFloat32:  hasFloat && c.probeRenderable(gl.FLOAT),
		RenderFloat16:  hasHalf && c.probeRenderable(halfFloatOES),
	}
	var readType int32
	gl.GetIntegerv(implementationColorReadType, &readType)
	c.caps.ReadFloatPixels = c.caps.RenderFloat32 && uint32(readType) == gl.FLOAT
}

// probeRenderable checks framebuffer completeness with a 1x1 attachment of
// the given texel type. This is the standard capability probe: the
// extension strings alone do not promise renderability.
func (c *Context) probeRenderable(texelType uint32) bool {
	var tex, fb uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA, 1, 1, 0, gl.RGBA, texelType, nil)
	gl.GenFramebuffers(1, &fb)
	gl.BindFramebuffer(gl.FRAMEBUFFER, fb)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex, 0)
	complete := gl.CheckFramebufferStatus(gl.FRAMEBUFFER) == gl.FRAMEBUFFER_COMPLETE
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.DeleteFramebuffers(1, &fb)
	gl.DeleteTextures(1, &tex)
	return complete
}

func (c *Context) initQuad() {
	verts := []float32{-1, -1, 1, -1, -1, 1, 1, 1}
	gl.GenBuffers(1, &c.quad)
	gl.BindBuffer(gl.ARRAY_BUFFER, c.quad)
	gl.BufferData(gl.ARRAY_BUFFER, len(verts)*4, gl.Ptr(verts), gl.STATIC_DRAW)
}

func formatEnums(format glapi.PixelFormat) (glFormat, glType uint32) {
	switch format {
	case glapi.R8:
		return gl.LUMINANCE, gl.UNSIGNED_BYTE
	case glapi.RGBA8:
		return gl.RGBA, gl.UNSIGNED_BYTE
	case glapi.R16F:
		return gl.LUMINANCE, halfFloatOES
	case glapi.RGBA16F:
		return gl.RGBA, halfFloatOES
	case glapi.R32F:
		return gl.LUMINANCE, gl.FLOAT
	}
	return gl.RGBA, gl.FLOAT
}

// Caps implements glapi.Context.
func (c *Context) Caps() glapi.Capabilities { return c.caps }

// CreateTexture implements glapi.Context.
func (c *Context) CreateTexture(w, h int, format glapi.PixelFormat) (glapi.TextureID, error) {
	if w <= 0 || h <= 0 || w > c.caps.MaxTextureSize || h > c.caps.MaxTextureSize {
		return 0, errors.Errorf("gles: texture %dx%d outside [1, %d]", w, h, c.caps.MaxTextureSize)
	}
	var tex uint32
	gl.GenTextures(1, &tex)
	gl.BindTexture(gl.TEXTURE_2D, tex)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	glFormat, glType := formatEnums(format)
	gl.TexImage2D(gl.TEXTURE_2D, 0, int32(glFormat), int32(w), int32(h), 0, glFormat, glType, nil)
	if err := c.glErr("TexImage2D"); err != nil {
		gl.DeleteTextures(1, &tex)
		return 0, err
	}
	id := glapi.TextureID(tex)
	c.texFormat[id] = format
	return id, nil
}

// UpdateTexture implements glapi.Context.
func (c *Context) UpdateTexture(tex glapi.TextureID, w, h int, format glapi.PixelFormat, pixels []byte) error {
	if want := w * h * format.TexelBytes(); len(pixels) != want {
		return errors.Errorf("gles: UpdateTexture expected %d bytes, got %d", want, len(pixels))
	}
	gl.BindTexture(gl.TEXTURE_2D, uint32(tex))
	glFormat, glType := formatEnums(format)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(w), int32(h), glFormat, glType, gl.Ptr(pixels))
	return c.glErr("TexSubImage2D")
}

// DeleteTexture implements glapi.Context.
func (c *Context) DeleteTexture(tex glapi.TextureID) {
	t := uint32(tex)
	gl.DeleteTextures(1, &t)
	delete(c.texFormat, tex)
}

// CreateFramebuffer implements glapi.Context.
func (c *Context) CreateFramebuffer() (glapi.FramebufferID, error) {
	var fb uint32
	gl.GenFramebuffers(1, &fb)
	return glapi.FramebufferID(fb), nil
}

// AttachTexture implements glapi.Context.
func (c *Context) AttachTexture(fb glapi.FramebufferID, tex glapi.TextureID) error {
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(fb))
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, uint32(tex), 0)
	if status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER); status != gl.FRAMEBUFFER_COMPLETE {
		return errors.Errorf("gles: framebuffer incomplete, status 0x%x (format %s)",
			status, c.texFormat[tex])
	}
	return nil
}

// ReadPixels implements glapi.Context.
func (c *Context) ReadPixels(fb glapi.FramebufferID, w, h int, format glapi.PixelFormat) ([]byte, error) {
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(fb))
	glFormat, glType := formatEnums(format)
	out := make([]byte, w*h*format.TexelBytes())
	gl.ReadPixels(0, 0, int32(w), int32(h), glFormat, glType, gl.Ptr(out))
	if err := c.glErr("ReadPixels"); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteFramebuffer implements glapi.Context.
func (c *Context) DeleteFramebuffer(fb glapi.FramebufferID) {
	f := uint32(fb)
	gl.DeleteFramebuffers(1, &f)
}

// CompileShader implements glapi.Context. The software Main of fragment
// stages is ignored here; the GLSL source is what the driver sees.
func (c *Context) CompileShader(kind glapi.ShaderKind, src glapi.FragmentShader) (glapi.ShaderID, error) {
	glKind := uint32(gl.VERTEX_SHADER)
	if kind == glapi.KindFragment {
		glKind = gl.FRAGMENT_SHADER
	}
	shader := gl.CreateShader(glKind)
	csources, free := gl.Strs(src.Source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)
	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		log := c.shaderLog(shader)
		gl.DeleteShader(shader)
		return 0, errors.Errorf("gles: shader compile failed: %s", log)
	}
	id := glapi.ShaderID(shader)
	c.shaders[id] = shader
	return id, nil
}

func (c *Context) shaderLog(shader uint32) string {
	var length int32
	gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &length)
	if length == 0 {
		return "(no log)"
	}
	log := strings.Repeat("\x00", int(length+1))
	gl.GetShaderInfoLog(shader, length, nil, gl.Str(log))
	return strings.TrimRight(log, "\x00")
}

// DeleteShader implements glapi.Context.
func (c *Context) DeleteShader(s glapi.ShaderID) {
	gl.DeleteShader(uint32(s))
	delete(c.shaders, s)
}

// LinkProgram implements glapi.Context.
func (c *Context) LinkProgram(vertex, fragment glapi.ShaderID) (glapi.ProgramID, error) {
	program := gl.CreateProgram()
	gl.AttachShader(program, uint32(vertex))
	gl.AttachShader(program, uint32(fragment))
	gl.BindAttribLocation(program, 0, gl.Str("aPosition\x00"))
	gl.LinkProgram(program)
	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var length int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &length)
		log := strings.Repeat("\x00", int(length+1))
		gl.GetProgramInfoLog(program, length, nil, gl.Str(log))
		gl.DeleteProgram(program)
		return 0, errors.Errorf("gles: program link failed: %s", strings.TrimRight(log, "\x00"))
	}
	id := glapi.ProgramID(program)
	c.programs[id] = program
	return id, nil
}

// DeleteProgram implements glapi.Context.
func (c *Context) DeleteProgram(p glapi.ProgramID) {
	gl.DeleteProgram(uint32(p))
	delete(c.programs, p)
}

func uniformLocation(program uint32, name string) int32 {
	return gl.GetUniformLocation(program, gl.Str(name+"\x00"))
}

// Draw implements glapi.Context.
func (c *Context) Draw(call glapi.DrawCall) error {
	program, ok := c.programs[call.Program]
	if !ok {
		return errors.Errorf("gles: draw with unknown program %d", call.Program)
	}
	gl.UseProgram(program)
	gl.BindFramebuffer(gl.FRAMEBUFFER, uint32(call.Target))
	gl.Viewport(0, 0, int32(call.Width), int32(call.Height))

	for i, binding := range call.Samplers {
		gl.ActiveTexture(uint32(gl.TEXTURE0 + i))
		gl.BindTexture(gl.TEXTURE_2D, uint32(binding.Texture))
		gl.Uniform1i(uniformLocation(program, binding.Name), int32(i))
	}
	for _, u := range call.Uniforms {
		loc := uniformLocation(program, u.Name)
		switch u.Kind {
		case glapi.UniformInt:
			gl.Uniform1i(loc, u.Int)
		case glapi.UniformFloat:
			gl.Uniform1f(loc, u.Float)
		case glapi.UniformInts:
			gl.Uniform1iv(loc, int32(len(u.Ints)), &u.Ints[0])
		case glapi.UniformFloats:
			gl.Uniform1fv(loc, int32(len(u.Floats)), &u.Floats[0])
		}
	}

	gl.BindBuffer(gl.ARRAY_BUFFER, c.quad)
	gl.EnableVertexAttribArray(0)
	gl.VertexAttribPointerWithOffset(0, 2, gl.FLOAT, false, 0, 0)
	gl.DrawArrays(gl.TRIANGLE_STRIP, 0, 4)
	gl.DisableVertexAttribArray(0)
	return c.glErr("DrawArrays")
}

// UnbindTextures implements glapi.Context.
func (c *Context) UnbindTextures() {
	for i := 0; i < c.maxUnits; i++ {
		gl.ActiveTexture(uint32(gl.TEXTURE0 + i))
		gl.BindTexture(gl.TEXTURE_2D, 0)
	}
}

// Err implements glapi.Context.
func (c *Context) Err() error { return c.glErr("") }

func (c *Context) glErr(op string) error {
	code := gl.GetError()
	if code == gl.NO_ERROR {
		return nil
	}
	if op == "" {
		return errors.Errorf("gles: GL error 0x%x", code)
	}
	return errors.Errorf("gles: %s: GL error 0x%x", op, code)
}

// no sticky-error bookkeeping here: glGetError is the driver's own sticky
// error, cleared by the read above.

// Destroy implements glapi.Context.
func (c *Context) Destroy() {
	gl.DeleteBuffers(1, &c.quad)
	c.window.Destroy()
	glfw.Terminate()
	runtime.UnlockOSThread()
}

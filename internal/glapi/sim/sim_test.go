package sim

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texelflow/texelflow/internal/glapi"
)

const vertexSrc = "void main() { gl_Position = vec4(0.); }"

func floatPixels(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestContext_TextureRoundTrip(t *testing.T) {
	c := New()
	tex, err := c.CreateTexture(2, 2, glapi.R32F)
	require.NoError(t, err)
	require.NoError(t, c.UpdateTexture(tex, 2, 2, glapi.R32F, floatPixels(1, 2, 3, 4)))

	fb, err := c.CreateFramebuffer()
	require.NoError(t, err)
	require.NoError(t, c.AttachTexture(fb, tex))
	pixels, err := c.ReadPixels(fb, 2, 2, glapi.R32F)
	require.NoError(t, err)
	assert.Equal(t, floatPixels(1, 2, 3, 4), pixels)

	c.DeleteFramebuffer(fb)
	c.DeleteTexture(tex)
	assert.Equal(t, 0, c.Stats().LiveTextures)
	assert.NoError(t, c.Err())
}

func TestContext_RGBA8Exactness(t *testing.T) {
	c := New()
	tex, err := c.CreateTexture(1, 1, glapi.RGBA8)
	require.NoError(t, err)
	require.NoError(t, c.UpdateTexture(tex, 1, 1, glapi.RGBA8, []byte{0, 1, 128, 255}))
	fb, _ := c.CreateFramebuffer()
	require.NoError(t, c.AttachTexture(fb, tex))
	pixels, err := c.ReadPixels(fb, 1, 1, glapi.RGBA8)
	require.NoError(t, err)
	// Byte payloads survive storage bit-exactly; the uint8 float-packing
	// fallback depends on this.
	assert.Equal(t, []byte{0, 1, 128, 255}, pixels)
}

func TestContext_Draw(t *testing.T) {
	c := New()
	src, err := c.CreateTexture(2, 1, glapi.R32F)
	require.NoError(t, err)
	require.NoError(t, c.UpdateTexture(src, 2, 1, glapi.R32F, floatPixels(10, 20)))
	dst, err := c.CreateTexture(2, 1, glapi.R32F)
	require.NoError(t, err)
	fb, _ := c.CreateFramebuffer()
	require.NoError(t, c.AttachTexture(fb, dst))

	vs, err := c.CompileShader(glapi.KindVertex, glapi.FragmentShader{Source: vertexSrc})
	require.NoError(t, err)
	fs, err := c.CompileShader(glapi.KindFragment, glapi.FragmentShader{
		Source: "void main() { gl_FragColor = vec4(texture2D(A, TexCoords).r + uBias, 0., 0., 0.); }",
		Main: func(e *glapi.FragEnv) [4]float32 {
			v := e.Samplers[0].Fetch(e.X, e.Y)
			return [4]float32{v[0] + e.Float("uBias")}
		},
	})
	require.NoError(t, err)
	prog, err := c.LinkProgram(vs, fs)
	require.NoError(t, err)

	require.NoError(t, c.Draw(glapi.DrawCall{
		Program:  prog,
		Samplers: []glapi.SamplerBinding{{Name: "A", Texture: src}},
		Uniforms: []glapi.Uniform{glapi.FloatUniform("uBias", 0.5)},
		Target:   fb,
		Width:    2,
		Height:   1,
	}))
	pixels, err := c.ReadPixels(fb, 2, 1, glapi.R32F)
	require.NoError(t, err)
	assert.Equal(t, floatPixels(10.5, 20.5), pixels)

	assert.Equal(t, 1, c.Stats().BoundUnits)
	c.UnbindTextures()
	assert.Equal(t, 0, c.Stats().BoundUnits)
}

func TestContext_CompileAndLinkFailures(t *testing.T) {
	c := New()
	_, err := c.CompileShader(glapi.KindFragment, glapi.FragmentShader{
		Source: "not a shader",
		Main:   func(*glapi.FragEnv) [4]float32 { return [4]float32{} },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main")

	_, err = c.CompileShader(glapi.KindFragment, glapi.FragmentShader{Source: "void main() {}"})
	require.Error(t, err)

	vs, err := c.CompileShader(glapi.KindVertex, glapi.FragmentShader{Source: vertexSrc})
	require.NoError(t, err)
	_, err = c.LinkProgram(vs, vs)
	require.Error(t, err)
}

func TestContext_CapabilityOptions(t *testing.T) {
	c := New(WithoutFloatRender(), WithMaxTextureSize(8))
	assert.False(t, c.Caps().RenderFloat32)
	assert.Equal(t, 8, c.Caps().MaxTextureSize)

	_, err := c.CreateTexture(9, 1, glapi.R32F)
	require.Error(t, err)

	tex, err := c.CreateTexture(1, 1, glapi.R32F)
	require.NoError(t, err)
	fb, _ := c.CreateFramebuffer()
	require.Error(t, c.AttachTexture(fb, tex), "float32 render target must be rejected")

	half, err := c.CreateTexture(1, 1, glapi.RGBA16F)
	require.NoError(t, err)
	require.NoError(t, c.AttachTexture(fb, half))

	cNoRead := New(WithoutFloatRead())
	tex2, err := cNoRead.CreateTexture(1, 1, glapi.R32F)
	require.NoError(t, err)
	fb2, _ := cNoRead.CreateFramebuffer()
	require.NoError(t, cNoRead.AttachTexture(fb2, tex2))
	_, err = cNoRead.ReadPixels(fb2, 1, 1, glapi.R32F)
	require.Error(t, err)
}

func TestContext_StickyError(t *testing.T) {
	c := New()
	c.DeleteTexture(123) // double delete is undefined; sim records it
	require.Error(t, c.Err())
	assert.NoError(t, c.Err(), "Err clears the sticky error")
}

func TestContext_HalfFloatQuantization(t *testing.T) {
	c := New()
	tex, err := c.CreateTexture(1, 1, glapi.R16F)
	require.NoError(t, err)
	pixels := make([]byte, 2)
	// 1.0009765625 is exactly representable in fp16 (1 + 2^-10).
	binary.LittleEndian.PutUint16(pixels, 0x3C01)
	require.NoError(t, c.UpdateTexture(tex, 1, 1, glapi.R16F, pixels))
	fb, _ := c.CreateFramebuffer()
	require.NoError(t, c.AttachTexture(fb, tex))
	back, err := c.ReadPixels(fb, 1, 1, glapi.R16F)
	require.NoError(t, err)
	assert.Equal(t, pixels, back)
}

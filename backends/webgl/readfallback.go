package webgl

import (
	"encoding/binary"
	"math"

	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/internal/glapi"
)

// Float readback fallback: some devices render to float targets but cannot
// read float pixels back. Those read through a device-owned program that
// re-encodes each float texel's IEEE 754 bits into the four uint8 channels
// of an RGBA8 target, which every device can read. Selected once at device
// initialization and used for every readback thereafter.

// encodeFloatSource splits a float into its four little-endian bytes. The
// bit surgery is done in float arithmetic, the only kind GLSL ES 1.0 has.
const encodeFloatSource = `
precision highp float;
varying vec2 TexCoords;
uniform sampler2D X;

float modPow2(float v, float p) {
  return v - p * floor(v / p);
}

vec4 encodeFloat(float v) {
  if (v == 0.0) {
    return vec4(0.0);
  }
  float s = v > 0.0 ? 0.0 : 1.0;
  v = abs(v);
  float exponent = floor(log2(v));
  float mantissa = v / exp2(exponent) - 1.0;
  float bits23 = mantissa * 8388608.0;
  float biased = exponent + 127.0;
  float b0 = modPow2(bits23, 256.0);
  float b1 = modPow2(floor(bits23 / 256.0), 256.0);
  float b2 = modPow2(biased, 2.0) * 128.0 + floor(bits23 / 65536.0);
  float b3 = s * 128.0 + floor(biased / 2.0);
  return vec4(b0, b1, b2, b3) / 255.0;
}

void main() {
  gl_FragColor = encodeFloat(texture2D(X, TexCoords).r);
}
`

// encodeFloatMain mirrors encodeFloatSource: the simulated rasterizer stores
// RGBA8 channels in 0..255.
func encodeFloatMain(e *glapi.FragEnv) [4]float32 {
	bits := math.Float32bits(e.Samplers[0].Fetch(e.X, e.Y)[0])
	return [4]float32{
		float32(bits & 0xFF),
		float32(bits >> 8 & 0xFF),
		float32(bits >> 16 & 0xFF),
		float32(bits >> 24 & 0xFF),
	}
}

type encodeFloatProgram struct {
	program  glapi.ProgramID
	vertex   glapi.ShaderID
	fragment glapi.ShaderID
}

func (p *encodeFloatProgram) dispose(ctx glapi.Context) {
	ctx.DeleteProgram(p.program)
	ctx.DeleteShader(p.fragment)
	ctx.DeleteShader(p.vertex)
}

func (d *Device) encodeFloatProgram() *encodeFloatProgram {
	if d.encodeFloat != nil {
		return d.encodeFloat
	}
	vs, err := d.ctx.CompileShader(glapi.KindVertex, glapi.FragmentShader{Source: vertexSource})
	if err != nil {
		panic(Resourcef("encodeFloat", "vertex stage: %v", err))
	}
	fs, err := d.ctx.CompileShader(glapi.KindFragment, glapi.FragmentShader{
		Source: encodeFloatSource,
		Main:   encodeFloatMain,
	})
	if err != nil {
		panic(Resourcef("encodeFloat", "fragment stage: %v", err))
	}
	program, err := d.ctx.LinkProgram(vs, fs)
	if err != nil {
		panic(Resourcef("encodeFloat", "link: %v", err))
	}
	klog.V(1).Info("webgl: compiled uint8 float-readback program")
	d.encodeFloat = &encodeFloatProgram{program: program, vertex: vs, fragment: fs}
	return d.encodeFloat
}

// readFloatViaBytes reads a 1-channel float texture by drawing it through the
// encode program into a same-sized RGBA8 target and reassembling the bytes on
// the host.
func (d *Device) readFloatViaBytes(id glapi.TextureID, w, h int) []float32 {
	p := d.encodeFloatProgram()
	target := d.allocTexture(w, h, glapi.RGBA8)
	defer d.freeTexture(target, w, h, glapi.RGBA8)
	if err := d.ctx.AttachTexture(d.fbo, target); err != nil {
		panic(Resourcef("encodeFloat", "attach target: %v", err))
	}
	err := d.ctx.Draw(glapi.DrawCall{
		Program:  p.program,
		Samplers: []glapi.SamplerBinding{{Name: "X", Texture: id}},
		Target:   d.fbo,
		Width:    w,
		Height:   h,
	})
	if err != nil {
		panic(Resourcef("encodeFloat", "draw: %v", err))
	}
	pixels, err := d.ctx.ReadPixels(d.fbo, w, h, glapi.RGBA8)
	if err != nil {
		panic(Resourcef("encodeFloat", "read: %v", err))
	}
	d.CheckError("ReadPixels")
	out := make([]float32, w*h)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(pixels[i*4:]))
	}
	return out
}

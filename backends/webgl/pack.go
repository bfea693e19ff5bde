package webgl

import (
	"fmt"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/internal/glapi"
)

// Pack/unpack conversion programs. Packed textures carry a 2x2 block of the
// logical 2D fold per texel in RGBA order (tl, tr, bl, br); these programs
// convert between the two physical arrangements on the device, without a
// host roundtrip. They are session-cached like kernel programs, keyed by the
// logical shape.

type opTag string

func (t opTag) OpType() string { return string(t) }

var (
	packTag   backends.Operator = opTag("__pack")
	unpackTag backends.Operator = opTag("__unpack")
)

// packProgramInfo converts an unpacked source layout to its packed
// counterpart. Out-of-range block cells render as zero.
func packProgramInfo(src, packed *TextureLayout) *ProgramInfo {
	rows, cols := foldTo2D(src.UnpackedShape)
	helpers := glslFetch("X", src) + fmt.Sprintf(`
float at(int r, int c) {
  if (r >= %[1]d || c >= %[2]d) {
    return 0.0;
  }
  return fetchX(r * %[2]d + c);
}
`, rows, cols)
	mainBody := fmt.Sprintf(`  int gx = int(TexCoords.x * %d.0);
  int gy = int(TexCoords.y * %d.0);
  int r = 2 * gy;
  int c = 2 * gx;
  gl_FragColor = vec4(at(r, c), at(r, c + 1), at(r + 1, c), at(r + 1, c + 1));
`, packed.Width, packed.Height)

	at := func(e *glapi.FragEnv, r, c int) float32 {
		if r >= rows || c >= cols {
			return 0
		}
		return fetchTexel(e.Samplers[0], src, r*cols+c)
	}
	main := func(e *glapi.FragEnv) [4]float32 {
		r, c := 2*e.Y, 2*e.X
		return [4]float32{at(e, r, c), at(e, r, c+1), at(e, r+1, c), at(e, r+1, c+1)}
	}

	return &ProgramInfo{
		Name:           fmt.Sprintf("pack%v", src.UnpackedShape),
		FragmentSource: glslProgram([]string{"X"}, helpers, mainBody),
		FragmentMain:   main,
		Samplers:       []string{"X"},
		InputLayouts:   []*TextureLayout{src},
		OutputLayout:   packed,
		PackedOutput:   true,
	}
}

// unpackProgramInfo converts a packed source layout back to the unpacked
// destination layout over the same logical shape.
func unpackProgramInfo(packed, dst *TextureLayout) *ProgramInfo {
	_, cols := foldTo2D(dst.UnpackedShape)
	helpers := glslOutIndex(dst)
	mainBody := fmt.Sprintf(`  int index = outIndex();
  int r = index / %[1]d;
  int c = index - r * %[1]d;
  vec2 uv = (vec2(float(c / 2), float(r / 2)) + 0.5) / vec2(%[2]d.0, %[3]d.0);
  vec4 t = texture2D(X, uv);
  float v = t.r;
  if (r - 2 * (r / 2) == 0) {
    if (c - 2 * (c / 2) == 1) { v = t.g; }
  } else {
    v = t.b;
    if (c - 2 * (c / 2) == 1) { v = t.a; }
  }
  gl_FragColor = vec4(v, 0.0, 0.0, 0.0);
`, cols, packed.Width, packed.Height)

	size := dst.LogicalSize()
	main := func(e *glapi.FragEnv) [4]float32 {
		index := e.Y*dst.Width + e.X
		if index >= size {
			return [4]float32{}
		}
		r, c := index/cols, index%cols
		t := e.Samplers[0].Fetch(c/2, r/2)
		return [4]float32{t[2*(r%2)+c%2]}
	}

	return &ProgramInfo{
		Name:           fmt.Sprintf("unpack%v", dst.UnpackedShape),
		FragmentSource: glslProgram([]string{"X"}, helpers, mainBody),
		FragmentMain:   main,
		Samplers:       []string{"X"},
		InputLayouts:   []*TextureLayout{packed},
		OutputLayout:   dst,
		PackedInputs:   true,
	}
}

// PackTexture converts an unpacked texture to the packed arrangement on the
// device. Already-packed inputs pass through.
func (h *InferenceHandler) PackTexture(src *TextureData) *TextureData {
	if src.Layout.Channels == 4 {
		return src
	}
	d := h.Device()
	packed := NewPackedLayout(src.Layout.UnpackedShape, d.MaxTextureSize())
	pm := h.session.programs
	a := pm.artifactFor(packTag, fmt.Sprintf("%v", src.Layout.UnpackedShape), func() *ProgramInfo {
		return packProgramInfo(src.Layout, packed)
	})
	out := h.NewOutputTexture(packed, src.DType())
	pm.Run(a, &RunData{Inputs: []*TextureData{src}, Output: out})
	return out
}

// UnpackTexture converts a packed texture back to the unpacked arrangement.
// Already-unpacked inputs pass through.
func (h *InferenceHandler) UnpackTexture(src *TextureData) *TextureData {
	if src.Layout.Channels == 1 {
		return src
	}
	d := h.Device()
	dst := NewUnpackedLayout(src.Layout.UnpackedShape, 0, 0, d.MaxTextureSize())
	pm := h.session.programs
	a := pm.artifactFor(unpackTag, fmt.Sprintf("%v", src.Layout.UnpackedShape), func() *ProgramInfo {
		return unpackProgramInfo(src.Layout, dst)
	})
	out := h.NewOutputTexture(dst, src.DType())
	pm.Run(a, &RunData{Inputs: []*TextureData{src}, Output: out})
	return out
}

package webgl

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/types/tensor"
)

// clipOp clamps every element to [min, max]. The bounds travel as uniforms
// rather than baked constants, so all invocations of the node share one
// artifact regardless of bound values. Two rule variants exist: up to opset
// 10 the bounds are node attributes; from 11 they are optional tensor inputs.
type clipOp struct {
	node       *graph.Node
	fromInputs bool

	// attribute-variant bounds, resolved at construction.
	min, max float32
}

var _ Kernel = (*clipOp)(nil)

func newClipAttrs(node *graph.Node) *clipOp {
	return &clipOp{
		node: node,
		min:  node.Attrs.Float("min", -math32.MaxFloat32),
		max:  node.Attrs.Float("max", math32.MaxFloat32),
	}
}

func newClipInputs(node *graph.Node) *clipOp {
	return &clipOp{node: node, fromInputs: true}
}

func (k *clipOp) OpType() string { return "Clip" }

func (k *clipOp) CreateProgramInfo(h *InferenceHandler, inputs []*tensor.Tensor) *ProgramInfo {
	if len(inputs) < 1 {
		panic(graph.Validationf(k.node.Name, "Clip takes at least 1 input"))
	}
	dims := inputs[0].Dims()
	l := NewUnpackedLayout(dims, 0, 0, h.Device().MaxTextureSize())

	helpers := glslFetch("X", l) + glslOutIndex(l) +
		"\nuniform float uMin;\nuniform float uMax;\n"
	mainBody := `  float v = fetchX(outIndex());
  gl_FragColor = vec4(clamp(v, uMin, uMax), 0.0, 0.0, 0.0);
`
	size := l.LogicalSize()
	main := func(e *glapi.FragEnv) [4]float32 {
		index := e.Y*l.Width + e.X
		if index >= size {
			return [4]float32{}
		}
		v := fetchTexel(e.Samplers[0], l, index)
		v = math32.Min(math32.Max(v, e.Float("uMin")), e.Float("uMax"))
		return [4]float32{v}
	}

	return &ProgramInfo{
		Name:           fmt.Sprintf("Clip%v", dims),
		FragmentSource: glslProgram([]string{"X"}, helpers, mainBody),
		FragmentMain:   main,
		Samplers:       []string{"X"},
		InputLayouts:   []*TextureLayout{l},
		OutputLayout:   l,
	}
}

// bounds resolves the effective clamp range for one invocation.
func (k *clipOp) bounds(inputs []*tensor.Tensor) (lo, hi float32) {
	if !k.fromInputs {
		return k.min, k.max
	}
	lo, hi = -math32.MaxFloat32, math32.MaxFloat32
	if len(inputs) > 1 && inputs[1] != nil && inputs[1].Size() > 0 {
		lo = inputs[1].Float32s()[0]
	}
	if len(inputs) > 2 && inputs[2] != nil && inputs[2].Size() > 0 {
		hi = inputs[2].Float32s()[0]
	}
	return lo, hi
}

func (k *clipOp) CreateRunData(h *InferenceHandler, info *ProgramInfo, inputs []*tensor.Tensor) *RunData {
	lo, hi := k.bounds(inputs)
	return &RunData{
		Inputs: []*TextureData{h.GetOrCreateTextureData(inputs[0])},
		Output: h.NewOutputTexture(info.OutputLayout, inputs[0].DType()),
		Uniforms: []glapi.Uniform{
			glapi.FloatUniform("uMin", lo),
			glapi.FloatUniform("uMax", hi),
		},
	}
}

package webgl

import (
	"fmt"
	"strings"

	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/types/tensor"
)

// concatOp joins its inputs along one axis. Ownership of an output
// coordinate is found by a linear scan over the inputs' accumulated extents
// along the axis, in both generated forms; inputs arrive in declaration
// order, so the scan is deterministic.
type concatOp struct {
	node *graph.Node
}

var _ Kernel = (*concatOp)(nil)

func newConcat(node *graph.Node) *concatOp { return &concatOp{node: node} }

func (k *concatOp) OpType() string { return "Concat" }

// shapePlan validates the input shapes and returns the normalized axis, the
// output dims and the per-input start offsets along the axis.
func (k *concatOp) shapePlan(inputs []*tensor.Tensor) (axis int, outDims []int, offsets []int) {
	if len(inputs) == 0 {
		panic(graph.Validationf(k.node.Name, "Concat takes at least 1 input"))
	}
	if !k.node.Attrs.Has("axis") {
		panic(graph.Validationf(k.node.Name, "Concat requires the axis attribute"))
	}
	axis = k.node.Attrs.Int("axis", 0)
	rank := inputs[0].Rank()
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		panic(graph.Validationf(k.node.Name, "Concat axis %d out of range for rank %d",
			k.node.Attrs.Int("axis", 0), rank))
	}
	outDims = append([]int{}, inputs[0].Dims()...)
	offsets = make([]int, len(inputs))
	total := 0
	for i, in := range inputs {
		dims := in.Dims()
		if len(dims) != rank {
			panic(graph.Validationf(k.node.Name, "Concat input %d has rank %d, want %d", i, len(dims), rank))
		}
		for j, d := range dims {
			if j != axis && d != outDims[j] {
				panic(graph.Validationf(k.node.Name,
					"Concat input %d dim %d is %d, want %d", i, j, d, outDims[j]))
			}
		}
		offsets[i] = total
		total += dims[axis]
	}
	outDims[axis] = total
	return axis, outDims, offsets
}

func (k *concatOp) CreateProgramInfo(h *InferenceHandler, inputs []*tensor.Tensor) *ProgramInfo {
	axis, outDims, offsets := k.shapePlan(inputs)
	maxSize := h.Device().MaxTextureSize()
	outL := NewUnpackedLayout(outDims, 0, 0, maxSize)
	outStrides := rowMajorStrides(outDims)

	samplers := make([]string, len(inputs))
	layouts := make([]*TextureLayout, len(inputs))
	strides := make([][]int, len(inputs))
	var helpers strings.Builder
	for i, in := range inputs {
		samplers[i] = fmt.Sprintf("A%d", i)
		layouts[i] = NewUnpackedLayout(in.Dims(), 0, 0, maxSize)
		strides[i] = rowMajorStrides(in.Dims())
		helpers.WriteString(glslFetch(samplers[i], layouts[i]))
	}
	helpers.WriteString(glslOutIndex(outL))

	var mb strings.Builder
	mb.WriteString("  int index = outIndex();\n  int rem = index;\n")
	for j := range outDims {
		fmt.Fprintf(&mb, "  int c%d = rem / %d; rem -= c%d * %d;\n", j, outStrides[j], j, outStrides[j])
	}
	mb.WriteString("  float v = 0.0;\n")
	for i := range inputs {
		var expr []string
		for j := range outDims {
			coord := fmt.Sprintf("c%d", j)
			if j == axis && offsets[i] != 0 {
				coord = fmt.Sprintf("(c%d - %d)", j, offsets[i])
			}
			expr = append(expr, fmt.Sprintf("%s * %d", coord, strides[i][j]))
		}
		cond := ""
		if i < len(inputs)-1 {
			cond = fmt.Sprintf("if (c%d < %d) ", axis, offsets[i]+inputs[i].Dims()[axis])
		}
		prefix := "  "
		if i > 0 {
			prefix = "  else "
		}
		fmt.Fprintf(&mb, "%s%s{ v = fetch%s(%s); }\n", prefix, cond, samplers[i], strings.Join(expr, " + "))
	}
	mb.WriteString("  gl_FragColor = vec4(v, 0.0, 0.0, 0.0);\n")

	size := outL.LogicalSize()
	axisDims := make([]int, len(inputs))
	for i, in := range inputs {
		axisDims[i] = in.Dims()[axis]
	}
	main := func(e *glapi.FragEnv) [4]float32 {
		index := e.Y*outL.Width + e.X
		if index >= size {
			return [4]float32{}
		}
		coords := make([]int, len(outDims))
		rem := index
		for j, s := range outStrides {
			coords[j] = rem / s
			rem -= coords[j] * s
		}
		src := 0
		for coords[axis] >= offsets[src]+axisDims[src] {
			src++
		}
		in := 0
		for j := range coords {
			c := coords[j]
			if j == axis {
				c -= offsets[src]
			}
			in += c * strides[src][j]
		}
		return [4]float32{fetchTexel(e.Samplers[src], layouts[src], in)}
	}

	return &ProgramInfo{
		Name:           fmt.Sprintf("Concat%v@%d", outDims, axis),
		FragmentSource: glslProgram(samplers, helpers.String()+"\n", mb.String()),
		FragmentMain:   main,
		Samplers:       samplers,
		InputLayouts:   layouts,
		OutputLayout:   outL,
	}
}

func (k *concatOp) CreateRunData(h *InferenceHandler, info *ProgramInfo, inputs []*tensor.Tensor) *RunData {
	rd := &RunData{Output: h.NewOutputTexture(info.OutputLayout, inputs[0].DType())}
	for _, in := range inputs {
		rd.Inputs = append(rd.Inputs, h.GetOrCreateTextureData(in))
	}
	return rd
}

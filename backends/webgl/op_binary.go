package webgl

import (
	"fmt"

	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/types/tensor"
)

// binaryOp implements the elementwise arithmetic operators with numpy-style
// broadcasting. One instance per graph node; the broadcast strides are baked
// into the generated program, so distinct input shapes produce distinct
// artifacts.
type binaryOp struct {
	node   *graph.Node
	opType string
	symbol string // GLSL infix operator
	fn     func(a, b float32) float32
}

var _ Kernel = (*binaryOp)(nil)

func newBinaryOp(node *graph.Node, opType, symbol string, fn func(a, b float32) float32) *binaryOp {
	return &binaryOp{node: node, opType: opType, symbol: symbol, fn: fn}
}

func (k *binaryOp) OpType() string { return k.opType }

func (k *binaryOp) CreateProgramInfo(h *InferenceHandler, inputs []*tensor.Tensor) *ProgramInfo {
	if len(inputs) != 2 {
		panic(graph.Validationf(k.node.Name, "%s takes 2 inputs, got %d", k.opType, len(inputs)))
	}
	maxSize := h.Device().MaxTextureSize()
	aDims, bDims := inputs[0].Dims(), inputs[1].Dims()
	outDims := broadcastShapes(k.opType, aDims, bDims)
	aL := NewUnpackedLayout(aDims, 0, 0, maxSize)
	bL := NewUnpackedLayout(bDims, 0, 0, maxSize)
	outL := NewUnpackedLayout(outDims, 0, 0, maxSize)

	helpers := glslFetch("A", aL) + glslFetch("B", bL) + glslOutIndex(outL) +
		glslBroadcastIndex("A", outDims, aDims) + glslBroadcastIndex("B", outDims, bDims)
	mainBody := fmt.Sprintf(`  int index = outIndex();
  float a = fetchA(indexA(index));
  float b = fetchB(indexB(index));
  gl_FragColor = vec4(a %s b, 0.0, 0.0, 0.0);
`, k.symbol)

	outStrides := rowMajorStrides(outDims)
	aStrides := broadcastStrides(aDims, outDims)
	bStrides := broadcastStrides(bDims, outDims)
	size := outL.LogicalSize()
	fn := k.fn
	main := func(e *glapi.FragEnv) [4]float32 {
		index := e.Y*outL.Width + e.X
		if index >= size {
			return [4]float32{}
		}
		a := fetchTexel(e.Samplers[0], aL, broadcastIndex(index, outStrides, aStrides))
		b := fetchTexel(e.Samplers[1], bL, broadcastIndex(index, outStrides, bStrides))
		return [4]float32{fn(a, b)}
	}

	return &ProgramInfo{
		Name:           fmt.Sprintf("%s%v", k.opType, outDims),
		FragmentSource: glslProgram([]string{"A", "B"}, helpers, mainBody),
		FragmentMain:   main,
		Samplers:       []string{"A", "B"},
		InputLayouts:   []*TextureLayout{aL, bL},
		OutputLayout:   outL,
	}
}

func (k *binaryOp) CreateRunData(h *InferenceHandler, info *ProgramInfo, inputs []*tensor.Tensor) *RunData {
	return &RunData{
		Inputs: []*TextureData{
			h.GetOrCreateTextureData(inputs[0]),
			h.GetOrCreateTextureData(inputs[1]),
		},
		Output: h.NewOutputTexture(info.OutputLayout, inputs[0].DType()),
	}
}

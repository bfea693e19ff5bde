package webgl

import (
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/types/tensor"
)

// reshapeOp reinterprets its input's shape without touching data. It is a
// view kernel: the output tensor is backed by the input's GL texture under a
// reinterpreted layout, so no program is compiled and no draw is issued.
type reshapeOp struct {
	node *graph.Node
}

var _ viewKernel = (*reshapeOp)(nil)

func newReshape(node *graph.Node) *reshapeOp { return &reshapeOp{node: node} }

func (k *reshapeOp) OpType() string { return "Reshape" }

// targetDims resolves the requested shape (second input tensor, or the shape
// attribute for older opsets), applying the 0 (copy input dim) and -1 (infer)
// conventions.
func (k *reshapeOp) targetDims(inputs []*tensor.Tensor) []int {
	srcDims := inputs[0].Dims()
	var req []int
	switch {
	case len(inputs) > 1 && inputs[1] != nil:
		for _, d := range inputs[1].Int64s() {
			req = append(req, int(d))
		}
	case k.node.Attrs.Has("shape"):
		req = k.node.Attrs.Ints("shape")
	default:
		panic(graph.Validationf(k.node.Name, "Reshape has neither a shape input nor a shape attribute"))
	}
	infer := -1
	known := 1
	dims := make([]int, len(req))
	for i, d := range req {
		switch {
		case d == 0:
			if i >= len(srcDims) {
				panic(graph.Validationf(k.node.Name, "Reshape dim %d copies a source dim that does not exist", i))
			}
			d = srcDims[i]
		case d == -1:
			if infer != -1 {
				panic(graph.Validationf(k.node.Name, "Reshape allows at most one -1 dim"))
			}
			infer = i
			dims[i] = -1
			continue
		case d < 0:
			panic(graph.Validationf(k.node.Name, "Reshape dim %d is negative (%d)", i, d))
		}
		dims[i] = d
		known *= d
	}
	size := inputs[0].Size()
	if infer >= 0 {
		if known == 0 || size%known != 0 {
			panic(graph.Validationf(k.node.Name, "Reshape cannot infer dim: %d elements over %v", size, req))
		}
		dims[infer] = size / known
	} else if known != size {
		panic(graph.Validationf(k.node.Name, "Reshape to %v changes element count %d -> %d", dims, size, known))
	}
	return dims
}

func (k *reshapeOp) createView(h *InferenceHandler, inputs []*tensor.Tensor) *tensor.Tensor {
	if len(inputs) < 1 {
		panic(graph.Validationf(k.node.Name, "Reshape takes at least 1 input"))
	}
	dims := k.targetDims(inputs)
	src := h.GetOrCreateTextureData(inputs[0])
	view := h.ShareTexture(src, viewLayout(src.Layout, dims))
	return h.bindOutput(view)
}

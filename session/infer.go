package session

import (
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/graph"
)

// inferShapes annotates node output values with dtypes and, where derivable,
// dimensions. It is deliberately lenient: kernels re-derive exact layouts
// from the concrete input tensors at run time, so an unknown operator or an
// underdetermined shape simply stays nil here. The annotations feed
// diagnostics and let Execute validate fed inputs early.
func inferShapes(g *graph.Graph) {
	for _, node := range g.Nodes() {
		// Builder order is topological, so input annotations are already
		// as complete as they will get.
		out := g.Value(node.Outputs[0])
		if len(node.Inputs) == 0 {
			continue
		}
		first := g.Value(node.Inputs[0])
		if out.DType != dtypes.InvalidDType {
			continue
		}
		out.DType = first.DType

		switch node.OpType {
		case "Add", "Sub", "Mul", "Div":
			if len(node.Inputs) == 2 {
				a, b := first.Dims, g.Value(node.Inputs[1]).Dims
				if a != nil && b != nil {
					out.Dims = broadcastDims(a, b)
				}
			}
		case "Clip":
			out.Dims = first.Dims
		case "Concat":
			out.Dims = concatDims(g, node)
		case "Reshape":
			if len(node.Inputs) > 1 {
				if shape := g.Value(node.Inputs[1]).Initializer; shape != nil && first.Dims != nil {
					out.Dims = reshapeDims(first.Dims, shape.Int64s())
				}
			}
		default:
			klog.V(2).Infof("session: no shape rule for %s, leaving %q unannotated", node.OpType, out.Name)
		}
	}
}

// broadcastDims applies numpy-style broadcasting, nil when incompatible
// (execution will reject it with a precise error).
func broadcastDims(a, b []int) []int {
	rank := max(len(a), len(b))
	out := make([]int, rank)
	for i := 0; i < rank; i++ {
		da, db := 1, 1
		if i >= rank-len(a) {
			da = a[i-(rank-len(a))]
		}
		if i >= rank-len(b) {
			db = b[i-(rank-len(b))]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil
		}
	}
	return out
}

func concatDims(g *graph.Graph, node *graph.Node) []int {
	first := g.Value(node.Inputs[0]).Dims
	if first == nil {
		return nil
	}
	axis := node.Attrs.Int("axis", 0)
	if axis < 0 {
		axis += len(first)
	}
	if axis < 0 || axis >= len(first) {
		return nil
	}
	out := append([]int{}, first...)
	out[axis] = 0
	for _, in := range node.Inputs {
		dims := g.Value(in).Dims
		if dims == nil || len(dims) != len(first) {
			return nil
		}
		out[axis] += dims[axis]
	}
	return out
}

func reshapeDims(src []int, req []int64) []int {
	size := 1
	for _, d := range src {
		size *= d
	}
	out := make([]int, len(req))
	infer := -1
	known := 1
	for i, d := range req {
		switch {
		case d == 0:
			if i >= len(src) {
				return nil
			}
			out[i] = src[i]
		case d == -1:
			if infer != -1 {
				return nil
			}
			infer = i
			continue
		case d < 0:
			return nil
		default:
			out[i] = int(d)
		}
		known *= out[i]
	}
	if infer >= 0 {
		if known == 0 || size%known != 0 {
			return nil
		}
		out[infer] = size / known
	}
	return out
}

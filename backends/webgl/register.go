package webgl

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/internal/glapi/sim"
)

// DefaultOpsetVersion is the operator-set version the kernel table resolves
// against.
const DefaultOpsetVersion = 13

func add(a, b float32) float32 { return a + b }
func sub(a, b float32) float32 { return a - b }
func mul(a, b float32) float32 { return a * b }
func div(a, b float32) float32 { return a / b }

// Rules returns the kernel table in resolution order: first matching rule
// wins, so version-narrow variants must precede their open-ended fallbacks.
func Rules() []backends.OpRule {
	return []backends.OpRule{
		{OpType: "Add", Versions: backends.Since(7),
			New: func(n *graph.Node) backends.Operator { return newBinaryOp(n, "Add", "+", add) }},
		{OpType: "Sub", Versions: backends.Since(7),
			New: func(n *graph.Node) backends.Operator { return newBinaryOp(n, "Sub", "-", sub) }},
		{OpType: "Mul", Versions: backends.Since(7),
			New: func(n *graph.Node) backends.Operator { return newBinaryOp(n, "Mul", "*", mul) }},
		{OpType: "Div", Versions: backends.Since(7),
			New: func(n *graph.Node) backends.Operator { return newBinaryOp(n, "Div", "/", div) }},
		{OpType: "Clip", Versions: backends.Versions(1, 10),
			New: func(n *graph.Node) backends.Operator { return newClipAttrs(n) }},
		{OpType: "Clip", Versions: backends.Since(11),
			New: func(n *graph.Node) backends.Operator { return newClipInputs(n) }},
		{OpType: "Concat", Versions: backends.Since(4),
			New: func(n *graph.Node) backends.Operator { return newConcat(n) }},
		{OpType: "Reshape", Versions: backends.Since(5),
			New: func(n *graph.Node) backends.Operator { return newReshape(n) }},
	}
}

// Ops returns a fresh kernel resolution table at DefaultOpsetVersion.
func Ops() *backends.OpSet {
	return backends.NewOpSet(DefaultOpsetVersion, Rules()...)
}

// newHardwareContext is installed by the driver file built under the "gles"
// tag; nil means this binary carries only the software context.
var newHardwareContext func() (glapi.Context, error)

func init() {
	backends.Register("webgl", newBackend)
}

// newBackend builds a SessionHandler from a comma-separated configuration:
// "sim" (default), "hardware", "debug".
func newBackend(config string) (backends.SessionHandler, error) {
	var opts []DeviceOption
	hardware := false
	for _, part := range strings.Split(config, ",") {
		switch strings.TrimSpace(part) {
		case "", "sim":
		case "hardware":
			hardware = true
		case "debug":
			opts = append(opts, WithDebug())
		default:
			return nil, errors.Errorf("webgl: unknown configuration option %q in %q", part, config)
		}
	}
	var ctx glapi.Context
	if hardware {
		if newHardwareContext == nil {
			return nil, errors.New(`webgl: hardware context not compiled in (build with -tags gles)`)
		}
		var err error
		ctx, err = newHardwareContext()
		if err != nil {
			return nil, errors.Wrap(err, "webgl: hardware context")
		}
	} else {
		ctx = sim.New()
	}
	return NewSessionHandler(ctx, opts...)
}

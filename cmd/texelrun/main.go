// texelrun runs a small elementwise pipeline for a number of inferences and
// reports throughput and device-memory numbers. It is a smoke benchmark for
// the engine, not a model runner: the graph is built in process.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/backends/webgl"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/session"
	"github.com/texelflow/texelflow/types/tensor"
)

var (
	flagIters   = flag.Int("iters", 200, "number of inferences to run")
	flagSize    = flag.Int("size", 4096, "elements per input tensor")
	flagBackend = flag.String("backend", "", `backend configuration, e.g. "webgl" or "webgl:debug"; empty uses TEXELFLOW_BACKEND or the default`)
	flagTrace   = flag.Bool("trace", false, "log per-node dispatch times at -v=2")
)

// buildGraph assembles Concat(Clip((x+w)*w, [0,1e6]), (x+w)*w): enough to
// exercise binary ops, uniforms, concat and initializer staging.
func buildGraph(n int) *graph.Graph {
	b := graph.NewBuilder("texelrun")
	x := b.Input("x", dtypes.Float32, n)

	ramp := make([]float32, n)
	for i := range ramp {
		ramp[i] = float32(i%7) + 1
	}
	w := b.Initializer("w", tensor.NewTensor(dtypes.Float32, []int{n}, ramp))
	lo := b.Initializer("lo", tensor.NewTensor(dtypes.Float32, nil, []float32{0}))
	hi := b.Initializer("hi", tensor.NewTensor(dtypes.Float32, nil, []float32{1e6}))

	sum := b.Node("Add", nil, x, w)
	prod := b.Node("Mul", nil, sum, w)
	clipped := b.Node("Clip", nil, prod, lo, hi)
	b.Output(b.Node("Concat", graph.Attributes{"axis": 0}, clipped, prod))
	return b.Build()
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	handler := must.M1(backends.NewWithConfig(*flagBackend))
	opts := []session.Option{session.WithHandler(handler)}
	if *flagTrace {
		opts = append(opts, session.WithNodeHook(func(node *graph.Node, elapsed time.Duration) {
			klog.V(2).Infof("node %s: %s", node, elapsed)
		}))
	}
	s := must.M1(session.New(buildGraph(*flagSize), opts...))
	defer s.Close()
	fmt.Printf("session %s on backend %q, %s elements per input\n",
		s.ID(), handler.Name(), humanize.Comma(int64(*flagSize)))

	feed := make([]float32, *flagSize)
	for i := range feed {
		feed[i] = float32(i) * 0.25
	}
	in := tensor.NewTensor(dtypes.Float32, []int{*flagSize}, feed)

	bar := progressbar.Default(int64(*flagIters), "inferences")
	ctx := context.Background()
	start := time.Now()
	var checksum float32
	for i := 0; i < *flagIters; i++ {
		out := must.M1(s.Run(ctx, in))
		checksum += out[0].Float32s()[0]
		must.M(bar.Add(1))
	}
	elapsed := time.Since(start)

	fmt.Printf("%d inferences in %s (%.1f/s), checksum %g\n",
		*flagIters, elapsed.Round(time.Millisecond),
		float64(*flagIters)/elapsed.Seconds(), checksum)
	if h, ok := handler.(*webgl.SessionHandler); ok {
		fmt.Printf("compiled programs: %d, device memory now: %s\n",
			h.Programs().CompileCount(), humanize.IBytes(h.Device().AllocatedBytes()))
	}
}

// Package tensor defines the Tensor type used throughout texelflow: a logical
// array with dimensions, an element type and a data payload that is either an
// eagerly materialized flat buffer or a lazily-resolved producer.
//
// Lazy tensors carry an explicit state machine (Unmaterialized ->
// Materializing -> Materialized): the resolver runs at most once, on first
// access to the data, and its result is memoized. This is how the engine
// guarantees that a tensor backed by a GPU texture is read back from the
// device at most once.
package tensor

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DataState tracks the materialization of a Tensor's payload.
type DataState int

const (
	// Unmaterialized means the data lives elsewhere (typically a GPU
	// texture) and the resolver has not run yet.
	Unmaterialized DataState = iota

	// Materializing means the resolver is in flight. Observing this state
	// from Data is a bug: the engine is single-threaded per inference and
	// resolvers must not recurse into their own tensor.
	Materializing

	// Materialized means the flat buffer is available and memoized.
	Materialized
)

// String implements fmt.Stringer.
func (s DataState) String() string {
	switch s {
	case Unmaterialized:
		return "Unmaterialized"
	case Materializing:
		return "Materializing"
	case Materialized:
		return "Materialized"
	}
	return fmt.Sprintf("DataState(%d)", int(s))
}

// Resolver produces the flat data of a lazy Tensor. It is invoked at most
// once. The returned value must be a flat slice of the tensor's Go element
// type with exactly Size() elements.
type Resolver func() (flat any, err error)

// Tensor is a logical array: ordered dimensions, an element type, and a flat
// row-major payload. Instances are created either eagerly (NewTensor) or
// lazily (NewLazy). Dims and DType never change after creation.
type Tensor struct {
	dims  []int
	dtype dtypes.DType

	mu       sync.Mutex
	state    DataState
	flat     any
	resolver Resolver
}

// NewTensor creates an eagerly materialized tensor. flat must be a flat slice
// of dtype's Go type with exactly the product of dims elements (1 for a
// scalar).
func NewTensor(dtype dtypes.DType, dims []int, flat any) *Tensor {
	t := &Tensor{dims: cloneDims(dims), dtype: dtype, state: Materialized, flat: flat}
	checkFlat(t, flat)
	return t
}

// NewLazy creates a tensor whose data is produced by resolver on first
// access.
func NewLazy(dtype dtypes.DType, dims []int, resolver Resolver) *Tensor {
	if resolver == nil {
		exceptions.Panicf("tensor.NewLazy: nil resolver for shape %v", dims)
	}
	return &Tensor{dims: cloneDims(dims), dtype: dtype, state: Unmaterialized, resolver: resolver}
}

func cloneDims(dims []int) []int {
	out := make([]int, len(dims))
	copy(out, dims)
	return out
}

func checkFlat(t *Tensor, flat any) {
	n := flatLen(flat)
	if n < 0 {
		exceptions.Panicf("tensor: unsupported flat buffer type %T for dtype %s", flat, t.dtype)
	}
	if n != t.Size() {
		exceptions.Panicf("tensor: flat buffer has %d elements, shape %v requires %d", n, t.dims, t.Size())
	}
}

func flatLen(flat any) int {
	switch v := flat.(type) {
	case []float32:
		return len(v)
	case []uint8:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	}
	return -1
}

// Dims returns the tensor dimensions. The returned slice must not be
// modified.
func (t *Tensor) Dims() []int { return t.dims }

// Rank returns the number of axes. Scalars have rank 0.
func (t *Tensor) Rank() int { return len(t.dims) }

// DType returns the element type.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Size returns the number of elements: the product of the dimensions, or 1
// for a scalar.
func (t *Tensor) Size() int {
	size := 1
	for _, d := range t.dims {
		size *= d
	}
	return size
}

// State returns the current materialization state.
func (t *Tensor) State() DataState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Data returns the flat payload, running the resolver on first access and
// memoizing its result. It panics (throws) if the resolver fails or if called
// reentrantly while the resolver is in flight.
func (t *Tensor) Data() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case Materialized:
		return t.flat
	case Materializing:
		exceptions.Panicf("tensor: Data() called while materialization is in flight for shape %v", t.dims)
	}
	t.state = Materializing
	flat, err := t.resolver()
	if err != nil {
		t.state = Unmaterialized
		panic(errors.WithMessagef(err, "tensor: resolving data for shape %v", t.dims))
	}
	if n := flatLen(flat); n != t.Size() {
		t.state = Unmaterialized
		exceptions.Panicf("tensor: resolver returned %T with %d elements, shape %v requires %d",
			flat, n, t.dims, t.Size())
	}
	t.resolver = nil
	t.flat = flat
	t.state = Materialized
	return t.flat
}

// Float32s returns the payload as []float32, materializing if needed.
func (t *Tensor) Float32s() []float32 {
	flat, ok := t.Data().([]float32)
	if !ok {
		exceptions.Panicf("tensor: Float32s() on dtype %s", t.dtype)
	}
	return flat
}

// Bytes returns the payload as []uint8, materializing if needed.
func (t *Tensor) Bytes() []uint8 {
	flat, ok := t.Data().([]uint8)
	if !ok {
		exceptions.Panicf("tensor: Bytes() on dtype %s", t.dtype)
	}
	return flat
}

// Int32s returns the payload as []int32, materializing if needed.
func (t *Tensor) Int32s() []int32 {
	flat, ok := t.Data().([]int32)
	if !ok {
		exceptions.Panicf("tensor: Int32s() on dtype %s", t.dtype)
	}
	return flat
}

// Int64s returns the payload as []int64, materializing if needed.
func (t *Tensor) Int64s() []int64 {
	flat, ok := t.Data().([]int64)
	if !ok {
		exceptions.Panicf("tensor: Int64s() on dtype %s", t.dtype)
	}
	return flat
}

// String implements fmt.Stringer without forcing materialization.
func (t *Tensor) String() string {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	return fmt.Sprintf("Tensor(%s%v, %s)", t.dtype, t.dims, state)
}

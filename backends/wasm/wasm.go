// Package wasm marshals calls to the native-binary compute backend: an
// opaque service living in its own linear memory that parses a serialized
// model once and runs the whole graph per call. This package owns only the
// boundary: copying the model in, writing tensor descriptors into scratch
// memory, issuing the single run call, and copying the borrowed outputs back
// out before they are invalidated.
package wasm

import (
	"github.com/gomlx/gopjrt/dtypes"
)

// Instance is the loaded native module: linear memory plus its exported
// allocator and entry points. How the module is instantiated (runtime,
// path, imports) is the embedder's concern.
type Instance interface {
	// Memory returns the current linear memory. The slice may be
	// invalidated by Alloc (memory growth); callers must not hold views
	// across allocation calls.
	Memory() []byte

	// Alloc reserves n bytes inside the module and returns the offset.
	Alloc(n uint32) (uint32, error)

	// Free releases an Alloc'd block.
	Free(ptr uint32)

	// Call invokes an exported function with 32-bit arguments.
	Call(fn string, args ...uint32) (uint32, error)
}

// Exported entry points of the native module's call contract.
const (
	fnCreate      = "session_create"
	fnInputCount  = "session_input_count"
	fnInputName   = "session_input_name"
	fnOutputCount = "session_output_count"
	fnOutputName  = "session_output_name"
	fnRun         = "session_run"
	fnDestroy     = "session_destroy"
)

// Tensor descriptors are written as 4 little-endian 32-bit words:
// data pointer, dims pointer, rank, element-type code.
const descWords = 4
const descBytes = descWords * 4

// dtypeCode maps element types to the wire codes of the call contract
// (ONNX TensorProto numbering for the types the engine carries).
func dtypeCode(dt dtypes.DType) (uint32, bool) {
	switch dt {
	case dtypes.Float32:
		return 1, true
	case dtypes.Uint8:
		return 2, true
	case dtypes.Int32:
		return 6, true
	case dtypes.Int64:
		return 7, true
	}
	return 0, false
}

func dtypeFromCode(code uint32) (dtypes.DType, bool) {
	switch code {
	case 1:
		return dtypes.Float32, true
	case 2:
		return dtypes.Uint8, true
	case 6:
		return dtypes.Int32, true
	case 7:
		return dtypes.Int64, true
	}
	return dtypes.InvalidDType, false
}

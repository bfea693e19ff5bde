package webgl

import (
	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/types/tensor"
)

// Kernel is the contract every WebGL operator implements. Creation of the
// program info (shape-specialized, compiled once) is split from creation of
// the run data (bound per invocation) so the artifact cache can skip the
// first step entirely on a hit.
type Kernel interface {
	backends.Operator

	// CreateProgramInfo builds the shape-specialized program description.
	// Called only on an artifact cache miss.
	CreateProgramInfo(h *InferenceHandler, inputs []*tensor.Tensor) *ProgramInfo

	// CreateRunData binds concrete textures and uniform values for one
	// invocation of the (possibly cached) program.
	CreateRunData(h *InferenceHandler, info *ProgramInfo, inputs []*tensor.Tensor) *RunData
}

// viewKernel is the texture-reuse escape hatch: operators that only
// reinterpret their input's shape (reshape) produce their output over the
// same GL texture, with no program and no draw.
type viewKernel interface {
	backends.Operator
	createView(h *InferenceHandler, inputs []*tensor.Tensor) *tensor.Tensor
}

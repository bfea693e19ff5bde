package wasm

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/types/tensor"
)

// Handler is one live session inside the native backend: the module
// instance, the session handle, and the input/output names the backend
// declared at create time.
type Handler struct {
	inst   Instance
	handle uint32

	inputs     []string
	outputs    []string
	inputIndex map[string]int
	closed     bool
}

// Create copies the serialized model into the backend's memory, creates a
// session and reads back its declared input/output names. The model scratch
// is released before Create returns; the backend keeps its own parsed copy.
func Create(inst Instance, model []byte) (h *Handler, err error) {
	err = exceptions.TryCatch[error](func() {
		h = create(inst, model)
	})
	return h, err
}

func create(inst Instance, model []byte) *Handler {
	h := &Handler{inst: inst, inputIndex: make(map[string]int)}
	withArena(inst, func(a *arena) {
		ptr := a.writeBytes(model)
		handle, err := inst.Call(fnCreate, ptr, uint32(len(model)))
		if err != nil {
			panic(Marshalingf("create", "%s: %v", fnCreate, err))
		}
		if handle == 0 {
			panic(Marshalingf("create", "backend rejected the model (%d bytes)", len(model)))
		}
		h.handle = handle
	})
	h.inputs = h.readNames(fnInputCount, fnInputName)
	h.outputs = h.readNames(fnOutputCount, fnOutputName)
	for i, name := range h.inputs {
		h.inputIndex[name] = i
	}
	klog.V(1).Infof("wasm: session %d created, inputs=%v outputs=%v", h.handle, h.inputs, h.outputs)
	return h
}

// readNames reads the declared tensor names: a count call, then one C-string
// pointer per index.
func (h *Handler) readNames(countFn, nameFn string) []string {
	n, err := h.inst.Call(countFn, h.handle)
	if err != nil {
		panic(Marshalingf("create", "%s: %v", countFn, err))
	}
	names := make([]string, n)
	for i := range names {
		ptr, err := h.inst.Call(nameFn, h.handle, uint32(i))
		if err != nil || ptr == 0 {
			panic(Marshalingf("create", "%s(%d): ptr=%d err=%v", nameFn, i, ptr, err))
		}
		names[i] = readCString(h.inst, ptr)
	}
	return names
}

// InputNames returns the backend's declared input names, in order.
func (h *Handler) InputNames() []string { return h.inputs }

// OutputNames returns the backend's declared output names, in order.
func (h *Handler) OutputNames() []string { return h.outputs }

// Run executes the whole graph once inside the backend. Inputs are keyed by
// declared name; every declared input must be present and no unknown name is
// accepted. The returned tensors own their data: borrowed output pointers
// are copied out before the scratch scope closes.
func (h *Handler) Run(inputs map[string]*tensor.Tensor) (outputs map[string]*tensor.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		outputs = h.run(inputs)
	})
	return outputs, err
}

func (h *Handler) run(inputs map[string]*tensor.Tensor) map[string]*tensor.Tensor {
	if h.closed {
		panic(Marshalingf("run", "session %d is closed", h.handle))
	}
	for name := range inputs {
		if _, ok := h.inputIndex[name]; !ok {
			panic(Marshalingf("run", "unknown input %q, backend declares %v", name, h.inputs))
		}
	}
	for _, name := range h.inputs {
		if inputs[name] == nil {
			panic(Marshalingf("run", "missing input %q", name))
		}
	}

	outputs := make(map[string]*tensor.Tensor, len(h.outputs))
	withArena(h.inst, func(a *arena) {
		// Input descriptors: data and dims land in scratch, then the
		// descriptor table points at them.
		inDesc := make([]uint32, 0, len(h.inputs)*descWords)
		for _, name := range h.inputs {
			t := inputs[name]
			code, ok := dtypeCode(t.DType())
			if !ok {
				panic(Marshalingf("run", "input %q: no wire code for dtype %s", name, t.DType()))
			}
			dataPtr := a.writeBytes(encodeFlat(t))
			dims := make([]uint32, t.Rank())
			for i, d := range t.Dims() {
				dims[i] = uint32(d)
			}
			dimsPtr := a.writeUint32s(dims)
			inDesc = append(inDesc, dataPtr, dimsPtr, uint32(t.Rank()), code)
		}
		inDescPtr := a.writeUint32s(inDesc)

		// Output descriptor table: zeroed, filled by the backend.
		outDescPtr := a.alloc(uint32(len(h.outputs) * descBytes))
		for i := 0; i < len(h.outputs)*descWords; i++ {
			a.putUint32(outDescPtr+uint32(i*4), 0)
		}

		status, err := h.inst.Call(fnRun, h.handle,
			inDescPtr, uint32(len(h.inputs)), outDescPtr, uint32(len(h.outputs)))
		if err != nil {
			panic(Marshalingf("run", "%s: %v", fnRun, err))
		}
		if status != 0 {
			panic(Marshalingf("run", "backend returned status %d", status))
		}

		// Copy borrowed outputs out now: the pointers die with the next
		// backend call.
		for i, name := range h.outputs {
			base := outDescPtr + uint32(i*descBytes)
			dataPtr := readUint32(h.inst, base)
			dimsPtr := readUint32(h.inst, base+4)
			rank := readUint32(h.inst, base+8)
			code := readUint32(h.inst, base+12)
			dt, ok := dtypeFromCode(code)
			if !ok {
				panic(Marshalingf("run", "output %q: unknown dtype code %d", name, code))
			}
			dims := make([]int, rank)
			size := 1
			for j := range dims {
				dims[j] = int(readUint32(h.inst, dimsPtr+uint32(j*4)))
				size *= dims[j]
			}
			raw := h.inst.Memory()[dataPtr : dataPtr+uint32(size*dt.Size())]
			outputs[name] = tensor.NewTensor(dt, dims, decodeFlat(raw, dt, size))
		}
	})
	return outputs
}

// Close destroys the backend session. Idempotent.
func (h *Handler) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if _, err := h.inst.Call(fnDestroy, h.handle); err != nil {
		return Marshalingf("close", "%s: %v", fnDestroy, err)
	}
	klog.V(1).Infof("wasm: session %d destroyed", h.handle)
	return nil
}

// encodeFlat serializes a tensor's flat payload as little-endian bytes.
func encodeFlat(t *tensor.Tensor) []byte {
	switch flat := t.Data().(type) {
	case []float32:
		out := make([]byte, 4*len(flat))
		for i, v := range flat {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out
	case []uint8:
		out := make([]byte, len(flat))
		copy(out, flat)
		return out
	case []int32:
		out := make([]byte, 4*len(flat))
		for i, v := range flat {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out
	case []int64:
		out := make([]byte, 8*len(flat))
		for i, v := range flat {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
		return out
	}
	panic(Marshalingf("run", "unsupported flat buffer type %T", t.Data()))
}

// decodeFlat deserializes little-endian bytes into a flat payload of dtype.
func decodeFlat(raw []byte, dt dtypes.DType, n int) any {
	switch dt {
	case dtypes.Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	case dtypes.Uint8:
		out := make([]uint8, n)
		copy(out, raw)
		return out
	case dtypes.Int32:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	case dtypes.Int64:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out
	}
	panic(Marshalingf("run", "unsupported dtype %s", dt))
}

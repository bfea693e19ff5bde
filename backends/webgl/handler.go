package webgl

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/graph"
	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/types/tensor"
)

// SessionHandler owns the session-lived GPU state: the device, the program
// artifact cache and the staged initializer textures. It hands out one
// InferenceHandler per inference call.
type SessionHandler struct {
	device   *Device
	programs *ProgramManager
	opset    *backends.OpSet

	// initializers is the session tier of the texture cache: one staged
	// texture per distinct weight tensor, alive until the session closes.
	initializers map[*tensor.Tensor]*TextureData
}

var _ backends.SessionHandler = (*SessionHandler)(nil)

// NewSessionHandler builds a handler over a rendering context. The handler
// takes ownership of ctx and destroys it on Dispose.
func NewSessionHandler(ctx glapi.Context, opts ...DeviceOption) (*SessionHandler, error) {
	device, err := NewDevice(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &SessionHandler{
		device:       device,
		programs:     NewProgramManager(device),
		opset:        Ops(),
		initializers: make(map[*tensor.Tensor]*TextureData),
	}, nil
}

// Name implements backends.SessionHandler.
func (s *SessionHandler) Name() string { return "webgl" }

// Ops implements backends.SessionHandler.
func (s *SessionHandler) Ops() *backends.OpSet { return s.opset }

// Device returns the underlying GPU resource layer.
func (s *SessionHandler) Device() *Device { return s.device }

// Programs returns the session program cache.
func (s *SessionHandler) Programs() *ProgramManager { return s.programs }

// OnGraphInitialized stages every distinct initializer tensor into a
// session-lived texture. A weight referenced by several values uploads once.
func (s *SessionHandler) OnGraphInitialized(g *graph.Graph) {
	staged := 0
	for id := 0; id < g.NumValues(); id++ {
		t := g.Value(id).Initializer
		if t == nil {
			continue
		}
		if _, ok := s.initializers[t]; ok {
			continue
		}
		layout := NewUnpackedLayout(t.Dims(), 0, 0, s.device.MaxTextureSize())
		td := s.device.NewTextureData(layout, t.DType(), t.Data())
		td.bound = t
		s.initializers[t] = td
		staged++
	}
	klog.V(1).Infof("webgl: staged %d initializer textures for graph %q", staged, g.Name())
}

// NewInferenceContext implements backends.SessionHandler.
func (s *SessionHandler) NewInferenceContext() backends.InferenceContext {
	return &InferenceHandler{
		session: s,
		cache:   make(map[*tensor.Tensor]*TextureData),
	}
}

// Dispose releases the staged initializers, the compiled programs and the
// device (which destroys the rendering context).
func (s *SessionHandler) Dispose() {
	for _, td := range s.initializers {
		s.device.ReleaseTextureData(td)
	}
	s.initializers = nil
	s.programs.Dispose()
	s.device.Dispose()
}

// InferenceHandler scopes one inference call. Every texture created through
// it is tracked and released on Dispose; textures resolved from the session
// tier are not.
type InferenceHandler struct {
	session *SessionHandler

	// cache is the transient tier: tensor identity to texture, for this
	// call only.
	cache   map[*tensor.Tensor]*TextureData
	created []*TextureData
}

var _ backends.InferenceContext = (*InferenceHandler)(nil)

// Device returns the GPU resource layer, for kernels.
func (h *InferenceHandler) Device() *Device { return h.session.device }

// RunKernel implements backends.InferenceContext. View kernels bypass the
// program pipeline entirely; everything else resolves an artifact (compiling
// on first use), binds run data and draws.
func (h *InferenceHandler) RunKernel(op backends.Operator, node *graph.Node, inputs []*tensor.Tensor) []*tensor.Tensor {
	if vk, ok := op.(viewKernel); ok {
		return []*tensor.Tensor{vk.createView(h, inputs)}
	}
	k, ok := op.(Kernel)
	if !ok {
		panic(backends.Unsupportedf(op.OpType(), node.Domain, 0,
			"operator does not implement the webgl kernel contract"))
	}
	pm := h.session.programs
	a := pm.GetArtifact(op, inputs)
	if a == nil {
		info := k.CreateProgramInfo(h, inputs)
		a = pm.Build(info)
		pm.SetArtifact(op, inputs, a)
	}
	rd := k.CreateRunData(h, a.Info, inputs)
	pm.Run(a, rd)
	return []*tensor.Tensor{h.bindOutput(rd.Output)}
}

// GetTextureData resolves a tensor to its texture through both cache tiers:
// session initializers first, then this call's transients. Nil when absent.
func (h *InferenceHandler) GetTextureData(t *tensor.Tensor) *TextureData {
	if td, ok := h.session.initializers[t]; ok {
		return td
	}
	return h.cache[t]
}

// GetOrCreateTextureData resolves a tensor's texture, uploading it with a
// default unpacked layout on a miss. The upload materializes the tensor.
func (h *InferenceHandler) GetOrCreateTextureData(t *tensor.Tensor) *TextureData {
	if td := h.GetTextureData(t); td != nil {
		return td
	}
	d := h.session.device
	layout := NewUnpackedLayout(t.Dims(), 0, 0, d.MaxTextureSize())
	td := d.NewTextureData(layout, t.DType(), t.Data())
	td.bound = t
	h.cache[t] = td
	h.created = append(h.created, td)
	return td
}

// NewOutputTexture allocates an uninitialized render target owned by this
// call, to be bound to its tensor after the draw.
func (h *InferenceHandler) NewOutputTexture(layout *TextureLayout, dtype dtypes.DType) *TextureData {
	td := h.session.device.NewTextureData(layout, dtype, nil)
	h.created = append(h.created, td)
	return td
}

// ShareTexture wraps src's GL texture under a reinterpreted layout, tracked
// by this call.
func (h *InferenceHandler) ShareTexture(src *TextureData, layout *TextureLayout) *TextureData {
	td := h.session.device.ShareTextureData(src, layout)
	h.created = append(h.created, td)
	return td
}

// bindOutput wires a freshly drawn texture to a lazy tensor: data stays on
// the device until someone asks for it, and downstream kernels find the
// texture through the transient cache without a readback.
func (h *InferenceHandler) bindOutput(td *TextureData) *tensor.Tensor {
	d := h.session.device
	out := tensor.NewLazy(td.DType(), td.Layout.UnpackedShape, func() (flat any, err error) {
		err = exceptions.TryCatch[error](func() { flat = d.ReadTextureData(td) })
		return
	})
	td.bound = out
	h.cache[out] = td
	return out
}

// Dispose implements backends.InferenceContext: releases every texture this
// call created (session-tier textures survive) and clears texture bindings.
func (h *InferenceHandler) Dispose() {
	for _, td := range h.created {
		h.session.device.ReleaseTextureData(td)
	}
	h.created = nil
	h.cache = nil
	h.session.device.UnbindTextures()
}

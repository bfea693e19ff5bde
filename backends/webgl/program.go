package webgl

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/texelflow/texelflow/backends"
	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/types/tensor"
)

// vertexSource is the vertex stage shared by every kernel: a full-screen
// quad with the texture-coordinate convention TexCoords in [0,1]^2, origin
// at the first texel.
const vertexSource = `
precision highp float;
attribute vec2 aPosition;
varying vec2 TexCoords;
void main() {
  TexCoords = (aPosition + 1.0) / 2.0;
  gl_Position = vec4(aPosition, 0.0, 1.0);
}
`

// ProgramInfo is everything needed to compile one kernel program: the
// fragment stage (dual form), the sampler names with their input layouts,
// the output layout, and the packing flags. Created at most once per kernel
// instance; its result is what gets compiled and cached.
type ProgramInfo struct {
	Name string

	FragmentSource string
	FragmentMain   glapi.FragmentFunc

	// Samplers names the input textures, parallel to InputLayouts.
	Samplers     []string
	InputLayouts []*TextureLayout
	OutputLayout *TextureLayout

	PackedInputs bool
	PackedOutput bool
}

// RunData binds one invocation: concrete input textures (parallel to the
// ProgramInfo's samplers), the output render target, and uniform values.
type RunData struct {
	Inputs   []*TextureData
	Output   *TextureData
	Uniforms []glapi.Uniform
}

// Artifact is a compiled program plus the ProgramInfo that produced it.
type Artifact struct {
	Info *ProgramInfo

	program  glapi.ProgramID
	vertex   glapi.ShaderID
	fragment glapi.ShaderID
}

// artifactKey memoizes artifacts by originating kernel instance. Input
// shapes participate because kernels bake shapes into their program info; a
// shape change invalidates the layout and forces a distinct artifact.
type artifactKey struct {
	op     backends.Operator
	shapes string
}

func newArtifactKey(op backends.Operator, inputs []*tensor.Tensor) artifactKey {
	var sb strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&sb, "%v;", in.Dims())
	}
	return artifactKey{op: op, shapes: sb.String()}
}

// ProgramManager compiles and caches kernel programs for one session. The
// vertex stage is compiled once and linked into every program.
type ProgramManager struct {
	device    *Device
	vertex    glapi.ShaderID
	artifacts map[artifactKey]*Artifact
	built     []*Artifact
	compiles  int
}

// NewProgramManager creates an empty manager over device.
func NewProgramManager(device *Device) *ProgramManager {
	return &ProgramManager{device: device, artifacts: make(map[artifactKey]*Artifact)}
}

// CompileCount returns how many fragment programs were compiled. Tests use
// it to verify cache reuse.
func (pm *ProgramManager) CompileCount() int { return pm.compiles }

func (pm *ProgramManager) sharedVertex() glapi.ShaderID {
	if pm.vertex != 0 {
		return pm.vertex
	}
	vs, err := pm.device.ctx.CompileShader(glapi.KindVertex, glapi.FragmentShader{Source: vertexSource})
	if err != nil {
		panic(Resourcef("vertex", "shared vertex stage failed to compile: %v", err))
	}
	pm.vertex = vs
	return vs
}

// Build compiles and links info into an Artifact, throwing ResourceError
// with the driver's diagnostic log on failure.
func (pm *ProgramManager) Build(info *ProgramInfo) *Artifact {
	fs, err := pm.device.ctx.CompileShader(glapi.KindFragment, glapi.FragmentShader{
		Source: info.FragmentSource,
		Main:   info.FragmentMain,
	})
	if err != nil {
		panic(Resourcef("compile", "kernel %s: %v", info.Name, err))
	}
	program, err := pm.device.ctx.LinkProgram(pm.sharedVertex(), fs)
	if err != nil {
		pm.device.ctx.DeleteShader(fs)
		panic(Resourcef("link", "kernel %s: %v", info.Name, err))
	}
	pm.compiles++
	klog.V(2).Infof("webgl: compiled program for %s (%d total)", info.Name, pm.compiles)
	a := &Artifact{Info: info, program: program, vertex: pm.sharedVertex(), fragment: fs}
	pm.built = append(pm.built, a)
	return a
}

// Run binds the artifact's samplers and uniforms, attaches the output as
// the render target sized by the output layout, and issues a full-quad
// draw.
func (pm *ProgramManager) Run(a *Artifact, rd *RunData) {
	info := a.Info
	if len(rd.Inputs) != len(info.Samplers) {
		panic(Resourcef("run", "kernel %s: %d textures bound to %d samplers",
			info.Name, len(rd.Inputs), len(info.Samplers)))
	}
	d := pm.device
	if err := d.ctx.AttachTexture(d.fbo, rd.Output.TextureID()); err != nil {
		panic(Resourcef("run", "kernel %s: attach output: %v", info.Name, err))
	}
	call := glapi.DrawCall{
		Program:  a.program,
		Uniforms: rd.Uniforms,
		Target:   d.fbo,
		Width:    rd.Output.Layout.Width,
		Height:   rd.Output.Layout.Height,
	}
	for i, in := range rd.Inputs {
		call.Samplers = append(call.Samplers, glapi.SamplerBinding{
			Name:    info.Samplers[i],
			Texture: in.TextureID(),
		})
	}
	if err := d.ctx.Draw(call); err != nil {
		panic(Resourcef("run", "kernel %s: draw: %v", info.Name, err))
	}
	d.CheckError("Draw")
}

// GetArtifact returns the cached artifact for the kernel instance and input
// shapes, nil when absent.
func (pm *ProgramManager) GetArtifact(op backends.Operator, inputs []*tensor.Tensor) *Artifact {
	return pm.artifacts[newArtifactKey(op, inputs)]
}

// SetArtifact memoizes an artifact under the kernel instance and shapes.
func (pm *ProgramManager) SetArtifact(op backends.Operator, inputs []*tensor.Tensor, a *Artifact) {
	pm.artifacts[newArtifactKey(op, inputs)] = a
}

// artifactFor memoizes under an explicit shapes key, building on the first
// miss. Used by programs that are not bound to graph nodes (pack/unpack).
func (pm *ProgramManager) artifactFor(op backends.Operator, shapes string, build func() *ProgramInfo) *Artifact {
	key := artifactKey{op: op, shapes: shapes}
	if a := pm.artifacts[key]; a != nil {
		return a
	}
	a := pm.Build(build())
	pm.artifacts[key] = a
	return a
}

// Dispose deletes every built program and the shared vertex stage.
func (pm *ProgramManager) Dispose() {
	for _, a := range pm.built {
		pm.device.ctx.DeleteProgram(a.program)
		pm.device.ctx.DeleteShader(a.fragment)
	}
	pm.built = nil
	pm.artifacts = map[artifactKey]*Artifact{}
	if pm.vertex != 0 {
		pm.device.ctx.DeleteShader(pm.vertex)
		pm.vertex = 0
	}
}

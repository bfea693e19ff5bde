//go:build gles

package webgl

import (
	"github.com/texelflow/texelflow/internal/glapi"
	"github.com/texelflow/texelflow/internal/glapi/gles"
)

func init() {
	newHardwareContext = func() (glapi.Context, error) { return gles.New() }
}

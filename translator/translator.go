// Package translator holds the process-wide ANGLE shader translator used to
// turn WebGL2 fragment shaders into desktop GLSL.
package translator

import (
	"context"
	"fmt"
	"sync"

	gst "github.com/richinsley/goshadertranslator"
)

var (
	once       sync.Once
	translator *gst.ShaderTranslator
	initErr    error
)

// GetTranslator returns the shared translator, creating it on first use.
func GetTranslator() (*gst.ShaderTranslator, error) {
	once.Do(func() {
		translator, initErr = gst.NewShaderTranslator(context.Background())
		if initErr != nil {
			initErr = fmt.Errorf("failed to create shader translator: %w", initErr)
		}
	})
	return translator, initErr
}

// Translated is a fragment shader ready for a GL 4.1 core context.
type Translated struct {
	Code string
	// Uniforms maps source uniform names to the names the translator emitted.
	Uniforms map[string]string
}

// Fragment translates an ESSL 300 fragment shader to GLSL 410. The returned
// error text is the translator's info log, which uses the
// "ERROR: 0:<line>: <message>" convention.
func Fragment(src string) (*Translated, error) {
	t, err := GetTranslator()
	if err != nil {
		return nil, err
	}
	out, err := t.TranslateShader(src, "fragment", gst.ShaderSpecWebGL2, gst.OutputFormatGLSL410)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(out.Variables))
	for name, v := range out.Variables {
		names[name] = v.MappedName
	}
	return &Translated{Code: out.Code, Uniforms: names}, nil
}

// Package graphics defines the GPU abstraction every renderer draws through.
// The production implementation lives in graphics/gldevice; tests use the
// recording fake in graphics/graphicstest.
package graphics

import "fmt"

// Program, Texture and Surface are opaque device handles. The zero value is
// never a live object; for Surface it names the default framebuffer.
type (
	Program uint32
	Texture uint32
	Surface uint32
)

// TextureFormat selects the texel layout of a texture upload.
type TextureFormat int

const (
	RGBA8 TextureFormat = iota
	R8
)

// BytesPerPixel returns the upload stride of one texel.
func (f TextureFormat) BytesPerPixel() int {
	if f == R8 {
		return 1
	}
	return 4
}

// Device is the fixed set of GPU operations the engine needs. All methods
// must be called from the goroutine that owns the GL context.
type Device interface {
	// Init (re)creates the shared full-screen quad. It is called once at
	// startup and again after a context restore.
	Init() error
	IsContextLost() bool

	// CompileProgram builds a program from a GLSL 410 vertex shader and an
	// ESSL 300 fragment shader. Compile failures are *CompileError.
	CompileProgram(vertex, fragment string) (Program, error)
	DeleteProgram(p Program)
	UseProgram(p Program)
	// UniformLocation resolves a source-level uniform name, including array
	// elements such as "iChannelResolution[2]". Missing uniforms yield -1.
	UniformLocation(p Program, name string) int32
	Uniform1i(loc int32, v int32)
	Uniform1f(loc int32, v float32)
	Uniform2f(loc int32, x, y float32)
	Uniform3f(loc int32, x, y, z float32)
	Uniform4f(loc int32, x, y, z, w float32)

	CreateTexture(width, height int, format TextureFormat, pixels []byte) (Texture, error)
	UpdateTexture(t Texture, width, height int, format TextureFormat, pixels []byte)
	DeleteTexture(t Texture)
	BindTexture(unit int, t Texture)

	CreateSurface(width, height int) (Surface, error)
	ResizeSurface(s Surface, width, height int) error
	// BindSurface directs drawing to s; 0 selects the default framebuffer.
	BindSurface(s Surface)
	DeleteSurface(s Surface)
	SurfaceTexture(s Surface) Texture

	Viewport(x, y, width, height int)
	// Scissor enables clipping to the rect, or disables it when width or
	// height is zero.
	Scissor(x, y, width, height int)
	Clear(r, g, b, a float32)
	DrawQuad()
	// ReadPixels reads RGBA8 from the bound surface into dst, bottom row
	// first, as GL does.
	ReadPixels(x, y, width, height int, dst []byte) error
}

// CompileError is a shader compile failure carrying the driver or
// translator log. Link failures are reported as plain errors.
type CompileError struct {
	Stage string
	Log   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s shader compile failed: %s", e.Stage, e.Log)
}

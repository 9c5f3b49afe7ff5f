// Package gldevice implements graphics.Device on an OpenGL 4.1 core context.
package gldevice

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/golang/glog"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/translator"
)

var quadVertices = []float32{
	-1.0, 1.0, -1.0, -1.0, 1.0, -1.0,
	-1.0, 1.0, 1.0, -1.0, 1.0, 1.0,
}

type surface struct {
	fbo     uint32
	texture uint32
	width   int
	height  int
}

type texture struct {
	width, height int
	format        graphics.TextureFormat
}

// Device is a graphics.Device backed by go-gl. It must be created and used
// on the thread that owns the current GL context.
type Device struct {
	quadVAO  uint32
	quadVBO  uint32
	uniforms map[graphics.Program]map[string]string
	surfaces map[graphics.Surface]*surface
	textures map[graphics.Texture]texture
	nextSurf graphics.Surface
}

// New loads the GL function pointers for the current context.
func New() (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize gl: %w", err)
	}
	glog.Infof("OpenGL version %s", gl.GoStr(gl.GetString(gl.VERSION)))
	return &Device{
		uniforms: make(map[graphics.Program]map[string]string),
		surfaces: make(map[graphics.Surface]*surface),
		textures: make(map[graphics.Texture]texture),
	}, nil
}

func (d *Device) Init() error {
	if d.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &d.quadVAO)
		gl.DeleteBuffers(1, &d.quadVBO)
	}
	gl.GenVertexArrays(1, &d.quadVAO)
	gl.BindVertexArray(d.quadVAO)
	gl.GenBuffers(1, &d.quadVBO)
	gl.BindBuffer(gl.ARRAY_BUFFER, d.quadVBO)
	gl.BufferData(gl.ARRAY_BUFFER, len(quadVertices)*4, gl.Ptr(quadVertices), gl.STATIC_DRAW)
	gl.VertexAttribPointer(0, 2, gl.FLOAT, false, 2*4, gl.PtrOffset(0))
	gl.EnableVertexAttribArray(0)
	gl.BindVertexArray(0)
	if e := gl.GetError(); e != gl.NO_ERROR {
		return fmt.Errorf("failed to create quad geometry: gl error 0x%x", e)
	}
	return nil
}

// GL_CONTEXT_LOST is core only from 4.5; the 4.1 bindings lack the constant.
const glContextLost = 0x0507

// maxPendingErrors bounds the drain; without a current context GetError
// may keep returning the same code.
const maxPendingErrors = 8

// IsContextLost reports a reset reported by the driver. Desktop contexts
// created without robustness never report one. Other pending errors are
// logged.
func (d *Device) IsContextLost() bool {
	return drainErrors(gl.GetError)
}

// drainErrors reads error flags from next until it reports none, logging
// everything but GL_CONTEXT_LOST, and reports whether that was among them.
func drainErrors(next func() uint32) bool {
	lost := false
	for i := 0; i < maxPendingErrors; i++ {
		code := next()
		switch code {
		case gl.NO_ERROR:
			return lost
		case glContextLost:
			lost = true
		default:
			glog.Warningf("gl error 0x%04x", code)
		}
	}
	return lost
}

func (d *Device) CompileProgram(vertex, fragment string) (graphics.Program, error) {
	xl, err := translator.Fragment(fragment)
	if err != nil {
		return 0, &graphics.CompileError{Stage: "fragment", Log: err.Error()}
	}

	vs, err := compileShader(vertex, gl.VERTEX_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vs)
	fs, err := compileShader(xl.Code, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fs)

	program := gl.CreateProgram()
	gl.AttachShader(program, vs)
	gl.AttachShader(program, fs)
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("failed to link program: %v", strings.TrimRight(log, "\x00"))
	}

	p := graphics.Program(program)
	d.uniforms[p] = xl.Uniforms
	return p, nil
}

func compileShader(source string, shaderType uint32) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		logText := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(logText))
		gl.DeleteShader(shader)
		stage := "fragment"
		if shaderType == gl.VERTEX_SHADER {
			stage = "vertex"
		}
		return 0, &graphics.CompileError{Stage: stage, Log: strings.TrimRight(logText, "\x00")}
	}
	return shader, nil
}

func (d *Device) DeleteProgram(p graphics.Program) {
	if p == 0 {
		return
	}
	delete(d.uniforms, p)
	gl.DeleteProgram(uint32(p))
}

func (d *Device) UseProgram(p graphics.Program) {
	gl.UseProgram(uint32(p))
}

func (d *Device) UniformLocation(p graphics.Program, name string) int32 {
	base, index, _ := strings.Cut(name, "[")
	mapped, ok := d.uniforms[p][base]
	if !ok {
		return -1
	}
	if index != "" {
		mapped += "[" + index
	}
	return gl.GetUniformLocation(uint32(p), gl.Str(mapped+"\x00"))
}

func (d *Device) Uniform1i(loc int32, v int32) {
	if loc >= 0 {
		gl.Uniform1i(loc, v)
	}
}

func (d *Device) Uniform1f(loc int32, v float32) {
	if loc >= 0 {
		gl.Uniform1f(loc, v)
	}
}

func (d *Device) Uniform2f(loc int32, x, y float32) {
	if loc >= 0 {
		gl.Uniform2f(loc, x, y)
	}
}

func (d *Device) Uniform3f(loc int32, x, y, z float32) {
	if loc >= 0 {
		gl.Uniform3f(loc, x, y, z)
	}
}

func (d *Device) Uniform4f(loc int32, x, y, z, w float32) {
	if loc >= 0 {
		gl.Uniform4f(loc, x, y, z, w)
	}
}

func glFormat(f graphics.TextureFormat) (internal int32, format uint32) {
	if f == graphics.R8 {
		return gl.R8, gl.RED
	}
	return gl.RGBA8, gl.RGBA
}

func (d *Device) CreateTexture(width, height int, format graphics.TextureFormat, pixels []byte) (graphics.Texture, error) {
	if want := width * height * format.BytesPerPixel(); pixels != nil && len(pixels) < want {
		return 0, fmt.Errorf("texture data too short: got %d bytes, want %d", len(pixels), want)
	}
	var id uint32
	gl.GenTextures(1, &id)
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	internal, f := glFormat(format)
	var ptr = gl.Ptr(nil)
	if pixels != nil {
		ptr = gl.Ptr(pixels)
	}
	gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(width), int32(height), 0, f, gl.UNSIGNED_BYTE, ptr)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	t := graphics.Texture(id)
	d.textures[t] = texture{width: width, height: height, format: format}
	return t, nil
}

// UpdateTexture replaces the texel data, reallocating storage when the size
// or format changed.
func (d *Device) UpdateTexture(t graphics.Texture, width, height int, format graphics.TextureFormat, pixels []byte) {
	if len(pixels) < width*height*format.BytesPerPixel() {
		glog.Warningf("UpdateTexture: short buffer for %dx%d, skipping", width, height)
		return
	}
	gl.BindTexture(gl.TEXTURE_2D, uint32(t))
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	internal, f := glFormat(format)
	if cur, ok := d.textures[t]; ok && cur.width == width && cur.height == height && cur.format == format {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(width), int32(height), f, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
	} else {
		gl.TexImage2D(gl.TEXTURE_2D, 0, internal, int32(width), int32(height), 0, f, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
		d.textures[t] = texture{width: width, height: height, format: format}
	}
	gl.BindTexture(gl.TEXTURE_2D, 0)
}

func (d *Device) DeleteTexture(t graphics.Texture) {
	if t == 0 {
		return
	}
	delete(d.textures, t)
	id := uint32(t)
	gl.DeleteTextures(1, &id)
}

func (d *Device) BindTexture(unit int, t graphics.Texture) {
	gl.ActiveTexture(gl.TEXTURE0 + uint32(unit))
	gl.BindTexture(gl.TEXTURE_2D, uint32(t))
}

func (d *Device) CreateSurface(width, height int) (graphics.Surface, error) {
	s := &surface{}
	gl.GenFramebuffers(1, &s.fbo)
	gl.GenTextures(1, &s.texture)
	if err := d.allocSurface(s, width, height); err != nil {
		gl.DeleteFramebuffers(1, &s.fbo)
		gl.DeleteTextures(1, &s.texture)
		return 0, err
	}
	d.nextSurf++
	d.surfaces[d.nextSurf] = s
	return d.nextSurf, nil
}

func (d *Device) allocSurface(s *surface, width, height int) error {
	gl.BindFramebuffer(gl.FRAMEBUFFER, s.fbo)
	gl.BindTexture(gl.TEXTURE_2D, s.texture)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, int32(width), int32(height), 0, gl.RGBA, gl.UNSIGNED_BYTE, nil)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, s.texture, 0)
	status := gl.CheckFramebufferStatus(gl.FRAMEBUFFER)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	if status != gl.FRAMEBUFFER_COMPLETE {
		return fmt.Errorf("framebuffer %dx%d is not complete: 0x%x", width, height, status)
	}
	s.width, s.height = width, height
	return nil
}

func (d *Device) ResizeSurface(id graphics.Surface, width, height int) error {
	s, ok := d.surfaces[id]
	if !ok {
		return fmt.Errorf("unknown surface %d", id)
	}
	if s.width == width && s.height == height {
		return nil
	}
	return d.allocSurface(s, width, height)
}

func (d *Device) BindSurface(id graphics.Surface) {
	if s, ok := d.surfaces[id]; ok {
		gl.BindFramebuffer(gl.FRAMEBUFFER, s.fbo)
		return
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}

func (d *Device) DeleteSurface(id graphics.Surface) {
	s, ok := d.surfaces[id]
	if !ok {
		return
	}
	delete(d.surfaces, id)
	gl.DeleteFramebuffers(1, &s.fbo)
	gl.DeleteTextures(1, &s.texture)
}

func (d *Device) SurfaceTexture(id graphics.Surface) graphics.Texture {
	if s, ok := d.surfaces[id]; ok {
		return graphics.Texture(s.texture)
	}
	return 0
}

func (d *Device) Viewport(x, y, width, height int) {
	gl.Viewport(int32(x), int32(y), int32(width), int32(height))
}

func (d *Device) Scissor(x, y, width, height int) {
	if width <= 0 || height <= 0 {
		gl.Disable(gl.SCISSOR_TEST)
		return
	}
	gl.Enable(gl.SCISSOR_TEST)
	gl.Scissor(int32(x), int32(y), int32(width), int32(height))
}

func (d *Device) Clear(r, g, b, a float32) {
	gl.ClearColor(r, g, b, a)
	gl.Clear(gl.COLOR_BUFFER_BIT)
}

func (d *Device) DrawQuad() {
	gl.BindVertexArray(d.quadVAO)
	gl.DrawArrays(gl.TRIANGLES, 0, 6)
	gl.BindVertexArray(0)
}

func (d *Device) ReadPixels(x, y, width, height int, dst []byte) error {
	if len(dst) < width*height*4 {
		return fmt.Errorf("read buffer too short: got %d bytes, want %d", len(dst), width*height*4)
	}
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(int32(x), int32(y), int32(width), int32(height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(dst))
	if e := gl.GetError(); e != gl.NO_ERROR {
		return fmt.Errorf("glReadPixels failed: 0x%x", e)
	}
	return nil
}

// Close releases the quad geometry and any surfaces still alive.
func (d *Device) Close() {
	for id := range d.surfaces {
		d.DeleteSurface(id)
	}
	if d.quadVAO != 0 {
		gl.DeleteVertexArrays(1, &d.quadVAO)
		gl.DeleteBuffers(1, &d.quadVBO)
		d.quadVAO, d.quadVBO = 0, 0
	}
}

var _ graphics.Device = (*Device)(nil)

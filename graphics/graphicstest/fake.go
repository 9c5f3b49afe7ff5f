// Package graphicstest provides an in-memory graphics.Device for tests. It
// keeps real pixel buffers for surfaces so render output can be inspected,
// and records every uniform write by name.
package graphicstest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/richinsley/shadervj/graphics"
)

// ErrorMarker placed anywhere in a fragment shader makes compilation fail
// with an ANGLE style log pointing at the marker's line.
const ErrorMarker = "#error"

var uniformDeclRe = regexp.MustCompile(`(?m)^\s*uniform\s+\w+\s+(\w+)(?:\[(\d+)\])?\s*;`)

type program struct {
	fragment string
	names    map[string]bool
}

type texture struct {
	Width, Height int
	Format        graphics.TextureFormat
	Pixels        []byte
}

type surface struct {
	width, height int
	pixels        []byte
	texture       graphics.Texture
}

type rect struct{ x, y, w, h int }

// ShadeFunc decides the colour DrawQuad writes for the bound program, given
// the uniform values set on it so far.
type ShadeFunc func(p graphics.Program, uniforms map[string][]float32) [4]uint8

// Device is a fake graphics.Device. The zero value is not usable; call New.
type Device struct {
	mu sync.Mutex

	// DefaultWidth and DefaultHeight size the default framebuffer.
	DefaultWidth, DefaultHeight int
	// Shade colours quad draws. Nil draws opaque white.
	Shade ShadeFunc

	lost      bool
	nextID    uint32
	programs  map[graphics.Program]*program
	current   graphics.Program
	locations map[int32]uniformKey
	uniforms  map[graphics.Program]map[string][]float32
	textures  map[graphics.Texture]*texture
	surfaces  map[graphics.Surface]*surface
	bound     graphics.Surface
	units     map[int]graphics.Texture
	viewport  rect
	scissor   *rect

	InitCalls int
	Draws     int
	Compiles  int
}

type uniformKey struct {
	program graphics.Program
	name    string
}

// New returns a fake device with a default framebuffer of the given size.
func New(width, height int) *Device {
	d := &Device{
		DefaultWidth:  width,
		DefaultHeight: height,
		programs:      make(map[graphics.Program]*program),
		locations:     make(map[int32]uniformKey),
		uniforms:      make(map[graphics.Program]map[string][]float32),
		textures:      make(map[graphics.Texture]*texture),
		surfaces:      make(map[graphics.Surface]*surface),
		units:         make(map[int]graphics.Texture),
	}
	d.surfaces[0] = &surface{width: width, height: height, pixels: make([]byte, width*height*4)}
	return d
}

func (d *Device) id() uint32 {
	d.nextID++
	return d.nextID
}

func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InitCalls++
	return nil
}

// LoseContext simulates a GPU reset; RestoreContext ends it.
func (d *Device) LoseContext() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

func (d *Device) RestoreContext() {
	d.mu.Lock()
	d.lost = false
	d.mu.Unlock()
}

func (d *Device) IsContextLost() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

func (d *Device) CompileProgram(vertex, fragment string) (graphics.Program, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Compiles++
	for i, line := range strings.Split(fragment, "\n") {
		if strings.Contains(line, ErrorMarker) {
			return 0, &graphics.CompileError{
				Stage: "fragment",
				Log:   fmt.Sprintf("ERROR: 0:%d: '%s' : simulated failure\n", i+1, ErrorMarker),
			}
		}
	}
	if !strings.Contains(fragment, "void main") {
		return 0, fmt.Errorf("failed to link program: missing main")
	}
	p := &program{fragment: fragment, names: make(map[string]bool)}
	for _, m := range uniformDeclRe.FindAllStringSubmatch(fragment, -1) {
		p.names[m[1]] = true
		if m[2] != "" {
			n, _ := strconv.Atoi(m[2])
			for i := 0; i < n; i++ {
				p.names[fmt.Sprintf("%s[%d]", m[1], i)] = true
			}
		}
	}
	id := graphics.Program(d.id())
	d.programs[id] = p
	d.uniforms[id] = make(map[string][]float32)
	return id, nil
}

func (d *Device) DeleteProgram(p graphics.Program) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, p)
	delete(d.uniforms, p)
}

func (d *Device) UseProgram(p graphics.Program) {
	d.mu.Lock()
	d.current = p
	d.mu.Unlock()
}

func (d *Device) UniformLocation(p graphics.Program, name string) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	prog, ok := d.programs[p]
	if !ok || !prog.names[name] {
		return -1
	}
	for loc, k := range d.locations {
		if k.program == p && k.name == name {
			return loc
		}
	}
	loc := int32(d.id())
	d.locations[loc] = uniformKey{program: p, name: name}
	return loc
}

func (d *Device) set(loc int32, v ...float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if loc < 0 {
		return
	}
	k, ok := d.locations[loc]
	if !ok || k.program != d.current {
		return
	}
	if u, ok := d.uniforms[k.program]; ok {
		u[k.name] = v
	}
}

func (d *Device) Uniform1i(loc int32, v int32)            { d.set(loc, float32(v)) }
func (d *Device) Uniform1f(loc int32, v float32)          { d.set(loc, v) }
func (d *Device) Uniform2f(loc int32, x, y float32)       { d.set(loc, x, y) }
func (d *Device) Uniform3f(loc int32, x, y, z float32)    { d.set(loc, x, y, z) }
func (d *Device) Uniform4f(loc int32, x, y, z, w float32) { d.set(loc, x, y, z, w) }

// Uniform returns the last value written to the named uniform of p.
func (d *Device) Uniform(p graphics.Program, name string) ([]float32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.uniforms[p][name]
	return v, ok
}

// HasUniform reports whether p declares name.
func (d *Device) HasUniform(p graphics.Program, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prog, ok := d.programs[p]
	return ok && prog.names[name]
}

// FragmentSource returns the source p was compiled from.
func (d *Device) FragmentSource(p graphics.Program) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prog, ok := d.programs[p]; ok {
		return prog.fragment
	}
	return ""
}

// LivePrograms counts programs not yet deleted.
func (d *Device) LivePrograms() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.programs)
}

func (d *Device) CreateTexture(width, height int, format graphics.TextureFormat, pixels []byte) (graphics.Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if want := width * height * format.BytesPerPixel(); pixels != nil && len(pixels) < want {
		return 0, fmt.Errorf("texture data too short: got %d bytes, want %d", len(pixels), want)
	}
	t := graphics.Texture(d.id())
	d.textures[t] = &texture{Width: width, Height: height, Format: format, Pixels: append([]byte(nil), pixels...)}
	return t, nil
}

func (d *Device) UpdateTexture(t graphics.Texture, width, height int, format graphics.TextureFormat, pixels []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tex, ok := d.textures[t]; ok {
		*tex = texture{Width: width, Height: height, Format: format, Pixels: append([]byte(nil), pixels...)}
	}
}

func (d *Device) DeleteTexture(t graphics.Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.textures, t)
}

func (d *Device) BindTexture(unit int, t graphics.Texture) {
	d.mu.Lock()
	d.units[unit] = t
	d.mu.Unlock()
}

// TextureInfo returns a copy of a live texture's state.
func (d *Device) TextureInfo(t graphics.Texture) (width, height int, format graphics.TextureFormat, pixels []byte, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tex, ok := d.textures[t]
	if !ok {
		return 0, 0, 0, nil, false
	}
	return tex.Width, tex.Height, tex.Format, append([]byte(nil), tex.Pixels...), true
}

// LiveTextures counts textures not yet deleted, including surface textures.
func (d *Device) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

// BoundTexture returns the texture last bound to unit.
func (d *Device) BoundTexture(unit int) graphics.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.units[unit]
}

func (d *Device) CreateSurface(width, height int) (graphics.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("framebuffer %dx%d is not complete", width, height)
	}
	tex := graphics.Texture(d.id())
	d.textures[tex] = &texture{Width: width, Height: height, Format: graphics.RGBA8}
	s := graphics.Surface(d.id())
	d.surfaces[s] = &surface{width: width, height: height, pixels: make([]byte, width*height*4), texture: tex}
	return s, nil
}

func (d *Device) ResizeSurface(id graphics.Surface, width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.surfaces[id]
	if !ok || id == 0 {
		return fmt.Errorf("unknown surface %d", id)
	}
	if s.width != width || s.height != height {
		s.width, s.height = width, height
		s.pixels = make([]byte, width*height*4)
	}
	return nil
}

func (d *Device) BindSurface(id graphics.Surface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.surfaces[id]; !ok {
		id = 0
	}
	d.bound = id
}

func (d *Device) DeleteSurface(id graphics.Surface) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.surfaces[id]; ok && id != 0 {
		delete(d.textures, s.texture)
		delete(d.surfaces, id)
	}
}

func (d *Device) SurfaceTexture(id graphics.Surface) graphics.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.surfaces[id]; ok {
		return s.texture
	}
	return 0
}

// LiveSurfaces counts offscreen surfaces not yet deleted.
func (d *Device) LiveSurfaces() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.surfaces) - 1
}

func (d *Device) Viewport(x, y, width, height int) {
	d.mu.Lock()
	d.viewport = rect{x, y, width, height}
	d.mu.Unlock()
}

func (d *Device) Scissor(x, y, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if width <= 0 || height <= 0 {
		d.scissor = nil
		return
	}
	d.scissor = &rect{x, y, width, height}
}

// fill writes c into r clipped to the bound surface and scissor. Callers
// hold d.mu.
func (d *Device) fill(r rect, c [4]uint8) {
	s := d.surfaces[d.bound]
	if d.scissor != nil {
		r = intersect(r, *d.scissor)
	}
	r = intersect(r, rect{0, 0, s.width, s.height})
	for y := r.y; y < r.y+r.h; y++ {
		for x := r.x; x < r.x+r.w; x++ {
			copy(s.pixels[(y*s.width+x)*4:], c[:])
		}
	}
}

func intersect(a, b rect) rect {
	x0, y0 := max(a.x, b.x), max(a.y, b.y)
	x1, y1 := min(a.x+a.w, b.x+b.w), min(a.y+a.h, b.y+b.h)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return rect{x0, y0, x1 - x0, y1 - y0}
}

func toByte(f float32) uint8 {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return uint8(f*255 + 0.5)
}

func (d *Device) Clear(r, g, b, a float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.surfaces[d.bound]
	d.fill(rect{0, 0, s.width, s.height}, [4]uint8{toByte(r), toByte(g), toByte(b), toByte(a)})
}

func (d *Device) DrawQuad() {
	d.mu.Lock()
	p := d.current
	vp := d.viewport
	shade := d.Shade
	var snapshot map[string][]float32
	if shade != nil {
		snapshot = make(map[string][]float32, len(d.uniforms[p]))
		for k, v := range d.uniforms[p] {
			snapshot[k] = v
		}
	}
	d.mu.Unlock()

	c := [4]uint8{255, 255, 255, 255}
	if shade != nil {
		c = shade(p, snapshot)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.Draws++
	d.fill(vp, c)
}

func (d *Device) ReadPixels(x, y, width, height int, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(dst) < width*height*4 {
		return fmt.Errorf("read buffer too short: got %d bytes, want %d", len(dst), width*height*4)
	}
	s := d.surfaces[d.bound]
	if x < 0 || y < 0 || x+width > s.width || y+height > s.height {
		return fmt.Errorf("read %dx%d+%d+%d outside %dx%d surface", width, height, x, y, s.width, s.height)
	}
	for row := 0; row < height; row++ {
		src := s.pixels[((y+row)*s.width+x)*4:]
		copy(dst[row*width*4:(row+1)*width*4], src[:width*4])
	}
	return nil
}

// Pixel returns the RGBA at (x, y) of surface s, bottom-left origin.
func (d *Device) Pixel(s graphics.Surface, x, y int) [4]uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	surf, ok := d.surfaces[s]
	if !ok || x < 0 || y < 0 || x >= surf.width || y >= surf.height {
		return [4]uint8{}
	}
	var c [4]uint8
	copy(c[:], surf.pixels[(y*surf.width+x)*4:])
	return c
}

// SetPixel writes one pixel of surface s directly.
func (d *Device) SetPixel(s graphics.Surface, x, y int, c [4]uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if surf, ok := d.surfaces[s]; ok {
		copy(surf.pixels[(y*surf.width+x)*4:], c[:])
	}
}

var _ graphics.Device = (*Device)(nil)

package renderer

import (
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/shader"
)

// TileOffsetUniform holds a Region's origin on the shared surface.
const TileOffsetUniform = "iTileOffset"

var regionExtras = &shader.WrapperExtras{
	Uniforms: []string{"uniform vec2 " + TileOffsetUniform + ";"},
	Entry:    "mainImage(outColor, gl_FragCoord.xy - " + TileOffsetUniform + ")",
}

// Rect is a pixel rectangle with a bottom-left origin.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// FrameState is produced once per frame by whoever drives a set of Regions
// and is read-only for them.
type FrameState struct {
	Time, Delta float64
	Frame       int32
	// Mouse is encoded as iMouse in shared surface pixels.
	Mouse    [4]float32
	BPM      float64
	Channels [inputs.NumChannels]inputs.Binding
}

// Region renders into a rectangle of a shared surface. Time, mouse and
// channels come from the FrameState; channels loaded on the Region itself
// take precedence over the shared ones.
type Region struct {
	*Instance
	surface graphics.Surface
	rect    Rect
}

// NewRegion creates an instance drawing into rect of surface.
func NewRegion(dev graphics.Device, surface graphics.Surface, rect Rect, cfg Config) (*Region, error) {
	in, err := newInstance(dev, cfg, regionExtras)
	if err != nil {
		return nil, err
	}
	return &Region{Instance: in, surface: surface, rect: rect}, nil
}

func (r *Region) Rect() Rect { return r.rect }

func (r *Region) SetRect(rect Rect) { r.rect = rect }

func (r *Region) SetSurface(s graphics.Surface) { r.surface = s }

// tileMouse moves m into tile coordinates, keeping the sign convention of
// the click pair.
func tileMouse(m [4]float32, rect Rect) [4]float32 {
	if m == ([4]float32{}) {
		return m
	}
	ox, oy := float32(rect.X), float32(rect.Y)
	rel := func(v, o float32) float32 {
		if v < 0 {
			return -(-v - o)
		}
		return v - o
	}
	return [4]float32{m[0] - ox, m[1] - oy, rel(m[2], ox), rel(m[3], oy)}
}

// Bindings merges the shared channels of fs with this Region's overrides.
func (r *Region) Bindings(fs *FrameState) [inputs.NumChannels]inputs.Binding {
	b := fs.Channels
	own := r.channels.Bindings()
	for i := range b {
		if r.channels.Channel(i).Source.Kind() != inputs.KindEmpty {
			b[i] = own[i]
		}
	}
	return b
}

// Render draws one frame into the Region's rectangle. Scissoring is left
// enabled for the rectangle.
func (r *Region) Render(fs *FrameState) (info FrameInfo) {
	defer r.recoverFrame()
	r.channels.ProcessPending()
	t, dt := fs.Time*r.speed, fs.Delta*r.speed
	r.frame = fs.Frame
	if r.program == 0 || r.rect.Empty() {
		return r.info(t, fs.BPM)
	}
	r.channels.Update()

	bindings := r.Bindings(fs)
	rect := r.rect
	f := r.frameUniforms(rect.W, rect.H, t, dt, fs.Frame, tileMouse(fs.Mouse, rect), fs.BPM, bindings)
	r.dev.BindSurface(r.surface)
	r.dev.Viewport(rect.X, rect.Y, rect.W, rect.H)
	r.dev.Scissor(rect.X, rect.Y, rect.W, rect.H)
	for i, b := range bindings {
		r.dev.BindTexture(i, b.Texture)
	}
	r.draw(&f, func(u *shader.StandardUniforms) {
		r.dev.Uniform2f(u.Extra[TileOffsetUniform], float32(rect.X), float32(rect.Y))
	})
	return r.info(t, fs.BPM)
}

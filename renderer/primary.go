package renderer

import (
	"fmt"
	"image"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/beat"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/shader"
)

// Primary is the full instance behind the editor preview and the main
// output. It renders into its own surface, tracks the mouse, feeds a beat
// detector from its first audio channel and survives GL context loss.
type Primary struct {
	*Instance

	surface       graphics.Surface
	width, height int

	mouse     [4]float32
	click     [2]float32
	mouseDown bool

	beat *beat.Detector
	lost bool
}

// NewPrimary creates a primary instance drawing into a width x height
// surface.
func NewPrimary(dev graphics.Device, width, height int, cfg Config) (*Primary, error) {
	in, err := newInstance(dev, cfg, nil)
	if err != nil {
		return nil, err
	}
	s, err := dev.CreateSurface(width, height)
	if err != nil {
		in.Dispose()
		return nil, fmt.Errorf("failed to create render surface: %w", err)
	}
	return &Primary{
		Instance: in,
		surface:  s,
		width:    width,
		height:   height,
		beat:     beat.NewDetector(),
	}, nil
}

// Surface returns the surface the instance renders into.
func (p *Primary) Surface() graphics.Surface { return p.surface }

// Texture returns the colour texture of the render surface.
func (p *Primary) Texture() graphics.Texture { return p.dev.SurfaceTexture(p.surface) }

func (p *Primary) Size() (int, int) { return p.width, p.height }

// Resize changes the render surface size.
func (p *Primary) Resize(width, height int) error {
	if width == p.width && height == p.height {
		return nil
	}
	if err := p.dev.ResizeSurface(p.surface, width, height); err != nil {
		return err
	}
	p.width, p.height = width, height
	return nil
}

// SetMouse records the pointer position in surface pixels with a
// bottom-left origin. The click position is captured on press and negated
// while the button is up.
func (p *Primary) SetMouse(x, y float32, down bool) {
	if down && !p.mouseDown {
		p.click = [2]float32{x, y}
	}
	p.mouseDown = down
	cx, cy := p.click[0], p.click[1]
	if !down {
		cx, cy = -cx, -cy
	}
	p.mouse = [4]float32{x, y, cx, cy}
}

// SetMouseInput sets an already encoded iMouse value, as returned by
// graphics.Context.GetMouseInput.
func (p *Primary) SetMouseInput(m [4]float32) {
	p.mouse = m
	p.mouseDown = m[2] > 0 || m[3] > 0
}

func (p *Primary) Mouse() [4]float32 { return p.mouse }

// BPM returns the beat detector's current estimate.
func (p *Primary) BPM() float64 { return p.beat.BPM() }

// Valid reports whether the instance can render, i.e. the context is not
// lost.
func (p *Primary) Valid() bool { return !p.lost }

// ContextLost suspends rendering until ContextRestored.
func (p *Primary) ContextLost() {
	if p.lost {
		return
	}
	p.lost = true
	glog.Warningf("GL context lost; rendering suspended")
}

// ContextRestored rebuilds every GPU resource and recompiles the last
// source that compiled, keeping parameter values it still declares.
func (p *Primary) ContextRestored() error {
	if err := p.dev.Init(); err != nil {
		return fmt.Errorf("failed to reinitialize device: %w", err)
	}
	if err := p.channels.Restore(); err != nil {
		return fmt.Errorf("failed to restore channels: %w", err)
	}
	s, err := p.dev.CreateSurface(p.width, p.height)
	if err != nil {
		return fmt.Errorf("failed to recreate render surface: %w", err)
	}
	p.surface = s
	p.program = 0
	p.lost = false
	p.beat.Reset()
	glog.Infof("GL context restored")

	if p.source == "" {
		return nil
	}
	saved := p.values.Clone()
	if err := p.Compile(p.source); err != nil {
		return err
	}
	p.SetParams(saved)
	return nil
}

// checkContext follows the device's lost state and reports whether
// rendering is suspended.
func (p *Primary) checkContext() bool {
	lost := p.dev.IsContextLost()
	switch {
	case lost && !p.lost:
		p.ContextLost()
	case !lost && p.lost:
		if err := p.ContextRestored(); err != nil {
			p.reporter.Report(err)
		}
	}
	return p.lost
}

// Render draws one frame into the instance surface. Errors and panics are
// reported through the throttled reporter, never returned.
func (p *Primary) Render() (info FrameInfo) {
	defer p.recoverFrame()
	if p.checkContext() {
		return p.info(p.clock.Time(), p.beat.BPM())
	}
	p.channels.ProcessPending()
	t, dt := p.tick()
	p.channels.Update()
	if a, ok := p.channels.FirstAudio(); ok {
		p.beat.UpdateAt(a.FrequencyData(), p.cfg.Now())
	}
	bpm := p.beat.BPM()
	if p.program == 0 {
		return p.info(t, bpm)
	}

	bindings := p.channels.Bindings()
	f := p.frameUniforms(p.width, p.height, t, dt, p.frame, p.mouse, bpm, bindings)
	p.dev.BindSurface(p.surface)
	p.dev.Viewport(0, 0, p.width, p.height)
	p.dev.Scissor(0, 0, 0, 0)
	p.channels.Bind()
	p.draw(&f, nil)

	info = p.info(t, bpm)
	if p.clock.Playing() {
		p.frame++
	}
	return info
}

// ReadFrame returns the last rendered frame with the top row first.
func (p *Primary) ReadFrame() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	p.dev.BindSurface(p.surface)
	if err := ReadFrame(p.dev, 0, 0, p.width, p.height, img.Pix); err != nil {
		return nil, err
	}
	return img, nil
}

// Dispose releases the program, channels and surface.
func (p *Primary) Dispose() {
	p.Instance.Dispose()
	p.dev.DeleteSurface(p.surface)
	p.surface = 0
}

func (in *Instance) frameUniforms(width, height int, t, dt float64, frame int32, mouse [4]float32, bpm float64, b [inputs.NumChannels]inputs.Binding) shader.FrameUniforms {
	f := shader.FrameUniforms{
		Width:     width,
		Height:    height,
		Time:      float32(t),
		TimeDelta: float32(dt),
		Frame:     frame,
		Mouse:     mouse,
		Date:      shader.DateUniform(in.cfg.Now()),
		BPM:       bpm,
	}
	for i := range b {
		f.ChannelResolution[i] = b[i].Resolution
	}
	return f
}

package renderer

import (
	"image"
	"sync"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/beat"
	"github.com/richinsley/shadervj/graphics"
)

// SharedSurface is the one offscreen surface all Lightweight instances of a
// device render through. Use follows Acquire, render, read back, Release;
// a second Acquire before Release fails with ErrSurfaceBusy.
type SharedSurface struct {
	dev graphics.Device

	mu            sync.Mutex
	surface       graphics.Surface
	width, height int
	holder        uint64
	nextToken     uint64
}

var (
	sharedMu       sync.Mutex
	sharedSurfaces = map[graphics.Device]*SharedSurface{}
)

// SharedSurfaceFor returns the shared surface of dev, creating the manager
// on first use.
func SharedSurfaceFor(dev graphics.Device) *SharedSurface {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	s, ok := sharedSurfaces[dev]
	if !ok {
		s = NewSharedSurface(dev)
		sharedSurfaces[dev] = s
	}
	return s
}

// NewSharedSurface returns an unshared manager for dev. Most callers want
// SharedSurfaceFor.
func NewSharedSurface(dev graphics.Device) *SharedSurface {
	return &SharedSurface{dev: dev}
}

// Lease is exclusive use of the shared surface until Release.
type Lease struct {
	s     *SharedSurface
	token uint64
}

// Acquire reserves the surface, growing it to at least width x height.
func (s *SharedSurface) Acquire(width, height int) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder != 0 {
		return nil, ErrSurfaceBusy
	}
	w, h := max(width, s.width), max(height, s.height)
	switch {
	case s.surface == 0:
		surf, err := s.dev.CreateSurface(w, h)
		if err != nil {
			return nil, err
		}
		s.surface = surf
		glog.V(1).Infof("shared surface created at %dx%d", w, h)
	case w != s.width || h != s.height:
		if err := s.dev.ResizeSurface(s.surface, w, h); err != nil {
			return nil, err
		}
		glog.V(1).Infof("shared surface grown to %dx%d", w, h)
	}
	s.width, s.height = w, h
	s.nextToken++
	s.holder = s.nextToken
	return &Lease{s: s, token: s.holder}, nil
}

// Surface returns the leased surface.
func (l *Lease) Surface() graphics.Surface {
	return l.s.surface
}

// Release ends the lease. Releasing twice is harmless.
func (l *Lease) Release() {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.holder == l.token {
		l.s.holder = 0
	}
}

// Busy reports whether a lease is outstanding.
func (s *SharedSurface) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder != 0
}

// Close deletes the surface. The manager can be reused afterwards.
func (s *SharedSurface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surface != 0 {
		s.dev.DeleteSurface(s.surface)
	}
	s.surface, s.width, s.height, s.holder = 0, 0, 0, 0
}

// Lightweight renders small previews through a SharedSurface and copies
// each frame into its own image.
type Lightweight struct {
	*Instance
	shared *SharedSurface
	img    *image.RGBA
}

// NewLightweight creates an instance producing width x height images.
func NewLightweight(dev graphics.Device, shared *SharedSurface, width, height int, cfg Config) (*Lightweight, error) {
	in, err := newInstance(dev, cfg, nil)
	if err != nil {
		return nil, err
	}
	return &Lightweight{
		Instance: in,
		shared:   shared,
		img:      image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// Image is the destination of every Render. It is reused across frames.
func (l *Lightweight) Image() *image.RGBA { return l.img }

// Resize replaces the destination image.
func (l *Lightweight) Resize(width, height int) {
	if l.img.Rect.Dx() != width || l.img.Rect.Dy() != height {
		l.img = image.NewRGBA(image.Rect(0, 0, width, height))
	}
}

// Render draws one frame on the shared surface and reads it back into
// Image. The only error is ErrSurfaceBusy or a failure to set up the
// surface; draw failures go to the throttled reporter.
func (l *Lightweight) Render() (info FrameInfo, err error) {
	defer l.recoverFrame()
	w, h := l.img.Rect.Dx(), l.img.Rect.Dy()
	lease, err := l.shared.Acquire(w, h)
	if err != nil {
		return FrameInfo{}, err
	}
	defer lease.Release()

	l.channels.ProcessPending()
	t, dt := l.tick()
	if l.program == 0 {
		return l.info(t, beat.DefaultBPM), nil
	}
	l.channels.Update()
	bindings := l.channels.Bindings()
	f := l.frameUniforms(w, h, t, dt, l.frame, [4]float32{}, beat.DefaultBPM, bindings)
	l.dev.BindSurface(lease.Surface())
	l.dev.Viewport(0, 0, w, h)
	l.dev.Scissor(0, 0, 0, 0)
	l.channels.Bind()
	l.draw(&f, nil)
	if rerr := ReadFrame(l.dev, 0, 0, w, h, l.img.Pix); rerr != nil {
		l.reporter.Report(rerr)
	}

	info = l.info(t, beat.DefaultBPM)
	if l.clock.Playing() {
		l.frame++
	}
	return info, nil
}

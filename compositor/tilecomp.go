package compositor

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/beat"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/renderer"
)

// Library resolves grid slot indices to shader source.
type Library interface {
	Shader(slot int) (string, bool)
}

// Slots is a Library backed by a slice. Empty strings are unassigned slots.
type Slots []string

func (s Slots) Shader(slot int) (string, bool) {
	if slot < 0 || slot >= len(s) || s[slot] == "" {
		return "", false
	}
	return s[slot], true
}

// TileCompositor draws one Region per grid cell into a single surface.
// All tiles share its clock, mouse, beat detector and channels; channels
// loaded on a tile's own Region override the shared ones for that tile.
type TileCompositor struct {
	dev graphics.Device
	cfg renderer.Config
	lib Library

	surface       graphics.Surface
	width, height int
	aspect        float64

	config  TileConfig
	regions []*renderer.Region

	channels *inputs.Set
	clock    *renderer.Clock
	beat     *beat.Detector
	frame    int32
	mouse    [4]float32
}

// NewTileCompositor creates a compositor drawing into its own width x
// height surface. It starts with a 1x1 grid holding an empty tile.
func NewTileCompositor(dev graphics.Device, width, height int, lib Library, cfg renderer.Config) (*TileCompositor, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if lib == nil {
		lib = Slots(nil)
	}
	set, err := inputs.NewSet(dev, cfg.Inputs)
	if err != nil {
		return nil, err
	}
	s, err := dev.CreateSurface(width, height)
	if err != nil {
		set.Close()
		return nil, fmt.Errorf("failed to create tile surface: %w", err)
	}
	return &TileCompositor{
		dev:      dev,
		cfg:      cfg,
		lib:      lib,
		surface:  s,
		width:    width,
		height:   height,
		config:   NewTileConfig(1, 1, 0),
		regions:  make([]*renderer.Region, 1),
		channels: set,
		clock:    renderer.NewClock(cfg.Now),
		beat:     beat.NewDetector(),
	}, nil
}

// source returns the shader a tile shows, if any.
func (tc *TileCompositor) source(t Tile) (string, bool) {
	if t.ShaderCode != "" {
		return t.ShaderCode, true
	}
	if t.GridSlot != nil {
		return tc.lib.Shader(*t.GridSlot)
	}
	return "", false
}

// Apply makes c the current configuration. Regions already showing the
// same shader are reused without recompiling. A tile whose shader changed
// recompiles its own region, so a failed compile leaves the previous program
// drawing; a tile without one gets a fresh region and draws nothing until it
// compiles. Regions no longer needed are disposed. Per-tile compile and
// parameter errors are joined into the result.
func (tc *TileCompositor) Apply(c TileConfig) error {
	c.Normalize()
	c.Tiles = append([]Tile(nil), c.Tiles...)

	pool := map[string][]*renderer.Region{}
	for _, r := range tc.regions {
		if r != nil && r.Compiled() {
			pool[r.Source()] = append(pool[r.Source()], r)
		}
	}

	claimed := map[*renderer.Region]bool{}
	regions := make([]*renderer.Region, len(c.Tiles))
	sources := make([]string, len(c.Tiles))
	shown := make([]bool, len(c.Tiles))
	for i, t := range c.Tiles {
		sources[i], shown[i] = tc.source(t)
		if !shown[i] {
			continue
		}
		if rs := pool[sources[i]]; len(rs) > 0 {
			regions[i], pool[sources[i]] = rs[0], rs[1:]
			claimed[rs[0]] = true
		}
	}

	var errs []error
	for i, t := range c.Tiles {
		if !shown[i] {
			continue
		}
		if regions[i] == nil {
			r, err := tc.regionFor(i, claimed)
			if err != nil {
				errs = append(errs, fmt.Errorf("tile %d: %w", i, err))
				continue
			}
			claimed[r] = true
			regions[i] = r
			if err := r.Compile(sources[i]); err != nil {
				errs = append(errs, fmt.Errorf("tile %d: %w", i, err))
			}
		}
		if err := t.Overrides.apply(regions[i].Instance); err != nil {
			errs = append(errs, fmt.Errorf("tile %d: %w", i, err))
		}
	}

	for _, r := range tc.regions {
		if r != nil && !claimed[r] {
			r.Dispose()
		}
	}
	tc.config = c
	tc.regions = regions
	tc.layout()
	glog.V(1).Infof("tile layout %dx%d gap %d, %d tiles", c.Layout.Rows, c.Layout.Cols, c.Layout.Gap, len(c.Tiles))
	return errors.Join(errs...)
}

// regionFor picks the region a tile recompiles into: its current one if no
// other tile took it, else a region that never compiled, else a new one.
func (tc *TileCompositor) regionFor(i int, claimed map[*renderer.Region]bool) (*renderer.Region, error) {
	if i < len(tc.regions) {
		if r := tc.regions[i]; r != nil && !claimed[r] {
			return r, nil
		}
	}
	for _, r := range tc.regions {
		if r != nil && !claimed[r] && !r.Compiled() {
			return r, nil
		}
	}
	return renderer.NewRegion(tc.dev, tc.surface, renderer.Rect{}, tc.cfg)
}

// Config returns a copy of the current configuration with each tile's
// live parameter values.
func (tc *TileCompositor) Config() TileConfig {
	c := tc.config
	c.Tiles = append([]Tile(nil), c.Tiles...)
	for i, r := range tc.regions {
		if r == nil || !r.Compiled() {
			continue
		}
		o, err := snapshot(r.Instance)
		if err != nil {
			glog.Warningf("tile %d: %v", i, err)
			continue
		}
		c.Tiles[i].Overrides = o
	}
	return c
}

// SetLayout changes the grid, keeping tiles whose row and column survive.
func (tc *TileCompositor) SetLayout(rows, cols, gap int) error {
	c := tc.config.Resize(rows, cols)
	c.Layout.Gap = gap
	return tc.Apply(c)
}

// SetTile replaces the tile at (row, col).
func (tc *TileCompositor) SetTile(row, col int, t Tile) error {
	c := tc.config
	c.Tiles = append([]Tile(nil), c.Tiles...)
	dst := c.Tile(row, col)
	if dst == nil {
		return fmt.Errorf("tile (%d, %d) outside %dx%d layout", row, col, c.Layout.Rows, c.Layout.Cols)
	}
	*dst = t
	return tc.Apply(c)
}

// SetVisible shows or hides a tile without touching its region.
func (tc *TileCompositor) SetVisible(i int, visible bool) {
	if i >= 0 && i < len(tc.config.Tiles) {
		tc.config.Tiles[i].Visible = visible
	}
}

// SetAspect keeps the grid inside a centred rectangle of the given
// width/height ratio. Zero uses the whole surface.
func (tc *TileCompositor) SetAspect(aspect float64) {
	tc.aspect = aspect
	tc.layout()
}

func (tc *TileCompositor) layout() {
	bounds := AspectFit(tc.width, tc.height, tc.aspect)
	rects := tc.config.Layout.Rects(bounds)
	for i, r := range tc.regions {
		if r != nil && i < len(rects) {
			r.SetRect(rects[i])
		}
	}
}

// Rects returns the current cell rectangles.
func (tc *TileCompositor) Rects() []renderer.Rect {
	return tc.config.Layout.Rects(AspectFit(tc.width, tc.height, tc.aspect))
}

// Region returns the region of tile i, nil for empty tiles.
func (tc *TileCompositor) Region(i int) *renderer.Region {
	if i < 0 || i >= len(tc.regions) {
		return nil
	}
	return tc.regions[i]
}

// Resize changes the surface size and recomputes the cell rectangles.
func (tc *TileCompositor) Resize(width, height int) error {
	if width == tc.width && height == tc.height {
		return nil
	}
	if err := tc.dev.ResizeSurface(tc.surface, width, height); err != nil {
		return err
	}
	tc.width, tc.height = width, height
	tc.layout()
	return nil
}

// Channels returns the channels shared by every tile.
func (tc *TileCompositor) Channels() *inputs.Set { return tc.channels }

// SetMouseInput sets the encoded iMouse value in surface pixels. Each tile
// receives it relative to its own origin.
func (tc *TileCompositor) SetMouseInput(m [4]float32) { tc.mouse = m }

func (tc *TileCompositor) Play() { tc.clock.Play() }

func (tc *TileCompositor) Pause() { tc.clock.Pause() }

func (tc *TileCompositor) TogglePlayback() bool { return tc.clock.Toggle() }

// ResetTime zeroes the shared clock and frame counter.
func (tc *TileCompositor) ResetTime() {
	tc.clock.Reset()
	tc.frame = 0
}

// Render clears the surface and draws every visible tile.
func (tc *TileCompositor) Render() renderer.FrameInfo {
	tc.channels.ProcessPending()
	t, dt := tc.clock.Tick()
	tc.channels.Update()
	if a, ok := tc.channels.FirstAudio(); ok {
		tc.beat.UpdateAt(a.FrequencyData(), tc.cfg.Now())
	}
	fs := &renderer.FrameState{
		Time:     t,
		Delta:    dt,
		Frame:    tc.frame,
		Mouse:    tc.mouse,
		BPM:      tc.beat.BPM(),
		Channels: tc.channels.Bindings(),
	}

	tc.dev.BindSurface(tc.surface)
	tc.dev.Scissor(0, 0, 0, 0)
	tc.dev.Viewport(0, 0, tc.width, tc.height)
	tc.dev.Clear(0, 0, 0, 1)
	for i, r := range tc.regions {
		if r == nil || !tc.config.Tiles[i].Visible {
			continue
		}
		r.Render(fs)
	}
	tc.dev.Scissor(0, 0, 0, 0)

	if tc.clock.Playing() {
		tc.frame++
	}
	return renderer.FrameInfo{Time: t, Frame: fs.Frame, BPM: fs.BPM}
}

// Surface returns the surface the tiles are drawn into.
func (tc *TileCompositor) Surface() graphics.Surface { return tc.surface }

// Texture returns the colour texture of the tile surface.
func (tc *TileCompositor) Texture() graphics.Texture { return tc.dev.SurfaceTexture(tc.surface) }

func (tc *TileCompositor) Size() (int, int) { return tc.width, tc.height }

// ReadFrame returns the last composited frame with the top row first.
func (tc *TileCompositor) ReadFrame() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, tc.width, tc.height))
	tc.dev.BindSurface(tc.surface)
	if err := renderer.ReadFrame(tc.dev, 0, 0, tc.width, tc.height, img.Pix); err != nil {
		return nil, err
	}
	return img, nil
}

// Dispose releases every region, the shared channels and the surface.
func (tc *TileCompositor) Dispose() {
	for _, r := range tc.regions {
		if r != nil {
			r.Dispose()
		}
	}
	tc.regions = nil
	tc.channels.Close()
	tc.dev.DeleteSurface(tc.surface)
	tc.surface = 0
}

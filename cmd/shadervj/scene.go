package main

import (
	"errors"
	"fmt"
	"image"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/compositor"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/renderer"
)

// scene is what the frame loop drives in each mode.
type scene interface {
	// render draws a frame and returns the texture to present. flipped
	// textures hold their top row first.
	render() (tex graphics.Texture, flipped bool, info renderer.FrameInfo)
	readFrame() (*image.RGBA, error)
	setMouse(m [4]float32)
	applyParams(target int, data []byte) error
	// reload recompiles the watched shader file.
	reload(src string) error
	togglePlayback() bool
	resetTime()
	dispose()
}

// logCompileError logs a shader compile failure with its line.
func logCompileError(name string, err error) {
	var ce *renderer.CompileError
	if errors.As(err, &ce) && ce.Line > 0 {
		glog.Errorf("%s:%d: %s", name, ce.Line, ce.Message)
		return
	}
	glog.Errorf("%s: %v", name, err)
}

type previewScene struct {
	*renderer.Primary
}

func (s previewScene) render() (graphics.Texture, bool, renderer.FrameInfo) {
	info := s.Render()
	return s.Texture(), false, info
}

func (s previewScene) readFrame() (*image.RGBA, error) { return s.ReadFrame() }
func (s previewScene) setMouse(m [4]float32)           { s.SetMouseInput(m) }
func (s previewScene) reload(src string) error         { return s.Compile(src) }
func (s previewScene) togglePlayback() bool            { return s.TogglePlayback() }
func (s previewScene) resetTime()                      { s.ResetTime() }
func (s previewScene) dispose()                        { s.Dispose() }

func (s previewScene) applyParams(target int, data []byte) error {
	if target != 0 {
		return fmt.Errorf("preview has no target %d", target)
	}
	return s.ApplyParamMessage(data)
}

type tileScene struct {
	*compositor.TileCompositor
}

func (s tileScene) render() (graphics.Texture, bool, renderer.FrameInfo) {
	info := s.Render()
	return s.Texture(), false, info
}

func (s tileScene) readFrame() (*image.RGBA, error) { return s.ReadFrame() }
func (s tileScene) setMouse(m [4]float32)           { s.SetMouseInput(m) }
func (s tileScene) togglePlayback() bool            { return s.TogglePlayback() }
func (s tileScene) resetTime()                      { s.ResetTime() }
func (s tileScene) dispose()                        { s.Dispose() }

// reload puts src in tile 0.
func (s tileScene) reload(src string) error {
	t := compositor.NewTile()
	t.ShaderCode = src
	return s.SetTile(0, 0, t)
}

func (s tileScene) applyParams(target int, data []byte) error {
	r := s.Region(target)
	if r == nil {
		return fmt.Errorf("no tile %d", target)
	}
	return r.ApplyParamMessage(data)
}

// mixScene composites on the CPU and uploads the canvas for presentation.
type mixScene struct {
	*compositor.Mixer
	dev graphics.Device
	tex graphics.Texture
}

func newMixScene(dev graphics.Device, m *compositor.Mixer) (*mixScene, error) {
	w, h := m.Size()
	tex, err := dev.CreateTexture(w, h, graphics.RGBA8, m.Frame().Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to create mixer texture: %w", err)
	}
	return &mixScene{Mixer: m, dev: dev, tex: tex}, nil
}

func (s *mixScene) render() (graphics.Texture, bool, renderer.FrameInfo) {
	canvas := s.Render()
	w, h := s.Size()
	s.dev.UpdateTexture(s.tex, w, h, graphics.RGBA8, canvas.Pix)
	return s.tex, true, renderer.FrameInfo{}
}

func (s *mixScene) readFrame() (*image.RGBA, error) { return s.Frame(), nil }

// The mixer's shader layers have no pointer input.
func (s *mixScene) setMouse([4]float32) {}

func (s *mixScene) togglePlayback() bool { return s.TogglePlayback() }
func (s *mixScene) resetTime()           { s.ResetTime() }

// reload puts src on channel 0.
func (s *mixScene) reload(src string) error { return s.SetShader(0, src) }

func (s *mixScene) applyParams(target int, data []byte) error {
	return s.ApplyParams(target, data)
}

func (s *mixScene) dispose() {
	s.Dispose()
	s.dev.DeleteTexture(s.tex)
}

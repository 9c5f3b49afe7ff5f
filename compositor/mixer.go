package compositor

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/renderer"
)

// MaxMixerChannels is the number of layers a Mixer can hold.
const MaxMixerChannels = 8

// ErrTooManyChannels is returned when adding a channel to a full Mixer.
var ErrTooManyChannels = errors.New("mixer channel limit reached")

// MixerChannel is one layer slot of a Mixer.
type MixerChannel struct {
	// Opacity in [0, 1] is applied as globalAlpha when compositing.
	Opacity float64
	// Layer is nil for an empty channel.
	Layer Layer
	// Slot is the library slot the shader was taken from, if any.
	Slot *int
}

func newMixerChannel() *MixerChannel { return &MixerChannel{Opacity: 1} }

func (c *MixerChannel) reset() {
	if c.Layer != nil {
		c.Layer.Dispose()
	}
	*c = MixerChannel{Opacity: 1}
}

// Mixer blends up to MaxMixerChannels layers into one RGBA canvas. Each
// frame the canvas is cleared to opaque black and every channel with a
// layer and a non-zero opacity is composited onto it in channel order.
type Mixer struct {
	dev    graphics.Device
	shared *renderer.SharedSurface
	cfg    renderer.Config
	lib    Library

	width, height int
	mode          BlendMode
	canvas        *image.RGBA
	channels      []*MixerChannel
	reporter      *renderer.ErrorReporter
	paused        bool
}

// NewMixer returns a mixer with one empty channel. Shader layers render
// through shared.
func NewMixer(dev graphics.Device, shared *renderer.SharedSurface, width, height int, lib Library, cfg renderer.Config) *Mixer {
	if lib == nil {
		lib = Slots(nil)
	}
	return &Mixer{
		dev:      dev,
		shared:   shared,
		cfg:      cfg,
		lib:      lib,
		width:    width,
		height:   height,
		mode:     DefaultBlendMode,
		canvas:   image.NewRGBA(image.Rect(0, 0, width, height)),
		channels: []*MixerChannel{newMixerChannel()},
		reporter: renderer.NewErrorReporter(renderer.DefaultReportInterval, cfg.OnError),
	}
}

// Len is the number of channels, always at least one.
func (m *Mixer) Len() int { return len(m.channels) }

// Channel returns channel i or nil.
func (m *Mixer) Channel(i int) *MixerChannel {
	if i < 0 || i >= len(m.channels) {
		return nil
	}
	return m.channels[i]
}

func (m *Mixer) channel(i int) (*MixerChannel, error) {
	c := m.Channel(i)
	if c == nil {
		return nil, fmt.Errorf("mixer channel %d out of range [0, %d)", i, len(m.channels))
	}
	return c, nil
}

// AddChannel appends an empty channel and returns its index.
func (m *Mixer) AddChannel() (int, error) {
	if len(m.channels) >= MaxMixerChannels {
		return 0, ErrTooManyChannels
	}
	m.channels = append(m.channels, newMixerChannel())
	return len(m.channels) - 1, nil
}

// ClearChannel disposes channel i's layer and removes the channel. The
// last remaining channel is reset in place instead.
func (m *Mixer) ClearChannel(i int) error {
	c, err := m.channel(i)
	if err != nil {
		return err
	}
	c.reset()
	if len(m.channels) > 1 {
		m.channels = append(m.channels[:i], m.channels[i+1:]...)
	}
	return nil
}

// SetLayer replaces channel i's layer, disposing the previous one.
func (m *Mixer) SetLayer(i int, l Layer) error {
	c, err := m.channel(i)
	if err != nil {
		return err
	}
	if c.Layer != nil {
		c.Layer.Dispose()
	}
	if sl, ok := l.(*ShaderLayer); ok && m.paused {
		sl.Pause()
	}
	c.Layer = l
	c.Slot = nil
	return nil
}

func (m *Mixer) shaderLayers() []*ShaderLayer {
	var out []*ShaderLayer
	for _, c := range m.channels {
		if sl, ok := c.Layer.(*ShaderLayer); ok {
			out = append(out, sl)
		}
	}
	return out
}

// TogglePlayback pauses or resumes every shader layer and reports whether
// the mixer is now playing. Layers added while paused start paused.
func (m *Mixer) TogglePlayback() bool {
	m.paused = !m.paused
	for _, sl := range m.shaderLayers() {
		if m.paused {
			sl.Pause()
		} else {
			sl.Play()
		}
	}
	return !m.paused
}

// ResetTime rewinds every shader layer.
func (m *Mixer) ResetTime() {
	for _, sl := range m.shaderLayers() {
		sl.ResetTime()
	}
}

// SetShader compiles src into a new shader layer for channel i. On a
// compile error the channel keeps its current layer.
func (m *Mixer) SetShader(i int, src string) error {
	if _, err := m.channel(i); err != nil {
		return err
	}
	l, err := NewShaderLayer(m.dev, m.shared, src, m.cfg)
	if err != nil {
		return fmt.Errorf("mixer channel %d: %w", i, err)
	}
	return m.SetLayer(i, l)
}

// SetSlot loads library slot into channel i.
func (m *Mixer) SetSlot(i, slot int) error {
	src, ok := m.lib.Shader(slot)
	if !ok {
		return fmt.Errorf("shader slot %d is empty", slot)
	}
	if err := m.SetShader(i, src); err != nil {
		return err
	}
	m.channels[i].Slot = &slot
	return nil
}

// SetAsset loads an image or video file into channel i.
func (m *Mixer) SetAsset(i int, assetType, path string) error {
	if _, err := m.channel(i); err != nil {
		return err
	}
	var (
		l   Layer
		err error
	)
	switch assetType {
	case AssetImage:
		l, err = NewImageLayer(path)
	case AssetVideo:
		l, err = NewVideoLayer(path, m.cfg.Inputs.FFmpegPath)
	default:
		return fmt.Errorf("unknown asset type %q", assetType)
	}
	if err != nil {
		return fmt.Errorf("mixer channel %d: %w", i, err)
	}
	return m.SetLayer(i, l)
}

// SetOpacity sets channel i's opacity, clamped to [0, 1].
func (m *Mixer) SetOpacity(i int, a float64) error {
	c, err := m.channel(i)
	if err != nil {
		return err
	}
	c.Opacity = max(0, min(1, a))
	return nil
}

// ApplyParams applies a JSON parameter message to channel i's shader.
// Other layer types ignore it.
func (m *Mixer) ApplyParams(i int, data []byte) error {
	c, err := m.channel(i)
	if err != nil {
		return err
	}
	if sl, ok := c.Layer.(*ShaderLayer); ok {
		return sl.ApplyParamMessage(data)
	}
	return nil
}

func (m *Mixer) BlendMode() BlendMode { return m.mode }

func (m *Mixer) SetBlendMode(mode BlendMode) { m.mode = mode }

// Resize changes the canvas size.
func (m *Mixer) Resize(width, height int) {
	if width == m.width && height == m.height {
		return
	}
	m.width, m.height = width, height
	m.canvas = image.NewRGBA(image.Rect(0, 0, width, height))
}

func (m *Mixer) Size() (int, int) { return m.width, m.height }

// Frame returns the canvas holding the last mix, top row first.
func (m *Mixer) Frame() *image.RGBA { return m.canvas }

// Render mixes one frame into the canvas and returns it. Layer failures
// are reported through the throttled reporter and the layer is skipped.
func (m *Mixer) Render() *image.RGBA {
	pix := m.canvas.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = 0, 0, 0, 255
	}
	for i, c := range m.channels {
		if c.Layer == nil || c.Opacity <= 0 {
			continue
		}
		img, err := c.Layer.Render(m.width, m.height)
		if err != nil {
			m.reporter.Report(fmt.Errorf("mixer channel %d: %w", i, err))
			continue
		}
		Composite(m.canvas, img, m.mode, float32(c.Opacity))
	}
	return m.canvas
}

// Dispose releases every layer.
func (m *Mixer) Dispose() {
	for _, c := range m.channels {
		c.reset()
	}
	m.channels = []*MixerChannel{newMixerChannel()}
}

// PresetChannel is the JSON form of one mixer channel. A channel has
// either ShaderCode or AssetType and MediaPath.
type PresetChannel struct {
	Alpha      float64 `json:"alpha"`
	ShaderCode string  `json:"shaderCode,omitempty"`
	AssetType  string  `json:"assetType,omitempty"`
	MediaPath  string  `json:"mediaPath,omitempty"`
	Overrides
}

// MixPreset is the JSON form of a whole mixer setup.
type MixPreset struct {
	Name      string          `json:"name"`
	BlendMode BlendMode       `json:"blendMode"`
	Channels  []PresetChannel `json:"channels"`
}

// ParseMixPreset decodes and validates a preset.
func ParseMixPreset(data []byte) (MixPreset, error) {
	var p MixPreset
	if err := json.Unmarshal(data, &p); err != nil {
		return MixPreset{}, fmt.Errorf("invalid mix preset: %w", err)
	}
	mode, err := ParseBlendMode(string(p.BlendMode))
	if err != nil {
		return MixPreset{}, err
	}
	p.BlendMode = mode
	if len(p.Channels) > MaxMixerChannels {
		return MixPreset{}, fmt.Errorf("mix preset %q has %d channels, at most %d allowed", p.Name, len(p.Channels), MaxMixerChannels)
	}
	return p, nil
}

// Preset captures the current mixer setup. Layers that are neither shaders
// nor file assets are stored as empty channels.
func (m *Mixer) Preset(name string) (MixPreset, error) {
	p := MixPreset{Name: name, BlendMode: m.mode}
	for i, c := range m.channels {
		pc := PresetChannel{Alpha: c.Opacity}
		switch l := c.Layer.(type) {
		case *ShaderLayer:
			o, err := snapshot(l.Instance)
			if err != nil {
				return MixPreset{}, fmt.Errorf("mixer channel %d: %w", i, err)
			}
			pc.ShaderCode = l.Source()
			pc.Overrides = o
		case *ImageLayer:
			pc.AssetType, pc.MediaPath = AssetImage, l.Path
		case *VideoLayer:
			pc.AssetType, pc.MediaPath = AssetVideo, l.Path
		}
		p.Channels = append(p.Channels, pc)
	}
	return p, nil
}

// ApplyPreset replaces every channel with the preset's. Channels that fail
// to load stay empty and their errors are joined into the result.
func (m *Mixer) ApplyPreset(p MixPreset) error {
	if len(p.Channels) > MaxMixerChannels {
		return fmt.Errorf("mix preset %q has %d channels, at most %d allowed", p.Name, len(p.Channels), MaxMixerChannels)
	}
	mode, err := ParseBlendMode(string(p.BlendMode))
	if err != nil {
		return err
	}
	m.Dispose()
	m.mode = mode
	for len(m.channels) < len(p.Channels) {
		m.channels = append(m.channels, newMixerChannel())
	}

	var errs []error
	for i, pc := range p.Channels {
		m.channels[i].Opacity = max(0, min(1, pc.Alpha))
		switch {
		case pc.ShaderCode != "":
			if err := m.SetShader(i, pc.ShaderCode); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := pc.Overrides.apply(m.channels[i].Layer.(*ShaderLayer).Instance); err != nil {
				errs = append(errs, fmt.Errorf("mixer channel %d: %w", i, err))
			}
		case pc.AssetType != "":
			if err := m.SetAsset(i, pc.AssetType, pc.MediaPath); err != nil {
				errs = append(errs, err)
			}
		}
	}
	glog.Infof("mix preset %q applied: %d channels, %s", p.Name, len(m.channels), m.mode)
	return errors.Join(errs...)
}

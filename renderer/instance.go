package renderer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/params"
	"github.com/richinsley/shadervj/shader"
)

// SpeedParam is the legacy playback speed parameter every instance accepts.
const SpeedParam = "speed"

// FrameInfo reports the state of an instance after a frame.
type FrameInfo struct {
	Time  float64
	FPS   float64
	Frame int32
	BPM   float64
}

// FileTextureResolver maps the name in a `texture:<name>` directive to an
// image file.
type FileTextureResolver interface {
	ResolveTexture(name string) (string, error)
}

// DirResolver looks texture names up in a directory, trying the common
// image extensions in order.
type DirResolver string

var textureExts = []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".gif"}

func (d DirResolver) ResolveTexture(name string) (string, error) {
	for _, ext := range textureExts {
		p := filepath.Join(string(d), name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("texture %q not found in %s", name, string(d))
}

// Config holds what every instance variant needs besides its device.
type Config struct {
	Inputs   inputs.Config
	Resolver FileTextureResolver
	// Now drives the playback clock. Nil uses time.Now.
	Now func() time.Time
	// OnError receives throttled runtime errors. Nil logs them.
	OnError func(error)
}

// Instance is the shared core of every renderer variant: one program, its
// uniform caches, custom parameter values, a playback clock and four
// channels. Variants differ only in where they draw and which extra
// uniforms they declare.
type Instance struct {
	dev      graphics.Device
	cfg      Config
	extras   *shader.WrapperExtras
	channels *inputs.Set
	clock    *Clock
	reporter *ErrorReporter

	program    graphics.Program
	wrapped    shader.Wrapped
	std        *shader.StandardUniforms
	custom     shader.CustomUniforms
	defs       []params.ParamDef
	values     params.Values
	directives []params.TextureDirective
	source     string

	speed    float64
	frame    int32
	fps      float64
	lastDraw time.Time
}

func newInstance(dev graphics.Device, cfg Config, extras *shader.WrapperExtras) (*Instance, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	set, err := inputs.NewSet(dev, cfg.Inputs)
	if err != nil {
		return nil, err
	}
	return &Instance{
		dev:      dev,
		cfg:      cfg,
		extras:   extras,
		channels: set,
		clock:    NewClock(cfg.Now),
		reporter: NewErrorReporter(DefaultReportInterval, cfg.OnError),
		values:   params.Values{},
		speed:    1,
	}, nil
}

// Compile replaces the program with one built from src. On failure the
// previous program stays in use and the error is a *CompileError. On
// success custom parameters are reset to their declared defaults and the
// source's texture directives are applied.
func (in *Instance) Compile(src string) error {
	defs := params.ParseShaderParams(src)
	wrapped := shader.BuildFragmentWrapper(src, params.GenerateUniformDeclarations(defs), in.extras)
	p, err := in.dev.CompileProgram(shader.VertexShader, wrapped.Source)
	if err != nil {
		var ce *graphics.CompileError
		if errors.As(err, &ce) {
			line, msg, _ := shader.ParseShaderError(ce.Log, wrapped.UserLineOffset)
			return &CompileError{Message: msg, Line: line, Raw: ce.Log}
		}
		return &CompileError{Message: err.Error(), Raw: err.Error()}
	}

	if in.program != 0 {
		in.dev.DeleteProgram(in.program)
	}
	in.program = p
	in.wrapped = wrapped
	var extra []string
	if in.extras != nil {
		extra = extraNames(in.extras.Uniforms)
	}
	in.std = shader.CacheStandardUniforms(in.dev, p, extra...)
	in.custom = shader.CacheCustomParamUniforms(in.dev, p, defs)
	in.defs = defs
	in.values = params.CreateParamValues(defs)
	in.directives = params.ParseTextureDirectives(src)
	in.source = src
	glog.V(1).Infof("compiled program %d: %d params, %d texture directives", p, len(defs), len(in.directives))

	in.applyDirectives()
	return nil
}

// extraNames pulls the uniform names out of "uniform <type> <name>;" lines.
func extraNames(decls []string) []string {
	names := make([]string, 0, len(decls))
	for _, d := range decls {
		var typ, name string
		if _, err := fmt.Sscanf(d, "uniform %s %s", &typ, &name); err == nil {
			if n := len(name); n > 0 && name[n-1] == ';' {
				name = name[:n-1]
			}
			names = append(names, name)
		}
	}
	return names
}

func (in *Instance) applyDirectives() {
	for _, d := range in.directives {
		current := in.channels.Channel(d.Channel).Source
		switch d.Type {
		case params.DirectiveBuiltin:
			if err := in.channels.LoadBuiltin(d.Channel, d.TextureName); err != nil {
				glog.Warningf("iChannel%d: %v", d.Channel, err)
			}
		case params.DirectiveAudio:
			if a, ok := current.(*inputs.AudioSource); ok && a.FFTSize == d.FFTSize {
				continue
			}
			go logLoad(d.Channel, in.channels.LoadAudio(d.Channel, d.FFTSize))
		case params.DirectiveFile:
			if in.cfg.Resolver == nil {
				glog.V(1).Infof("iChannel%d: no resolver for texture %q", d.Channel, d.TextureName)
				continue
			}
			path, err := in.cfg.Resolver.ResolveTexture(d.TextureName)
			if err != nil {
				glog.Warningf("iChannel%d: %v", d.Channel, err)
				continue
			}
			if img, ok := current.(inputs.ImageSource); ok && img.Path == path {
				continue
			}
			go logLoad(d.Channel, in.channels.LoadImage(d.Channel, path))
		}
	}
}

func logLoad(ch int, res <-chan inputs.LoadResult) {
	r := <-res
	switch {
	case r.Err == nil:
		glog.Infof("iChannel%d: %s %dx%d ready", ch, r.Kind, r.Width, r.Height)
	case errors.Is(r.Err, inputs.ErrSuperseded):
		glog.V(1).Infof("iChannel%d: %s load superseded", ch, r.Kind)
	default:
		glog.Warningf("iChannel%d: %s load failed: %v", ch, r.Kind, r.Err)
	}
}

// Compiled reports whether a program is bound.
func (in *Instance) Compiled() bool { return in.program != 0 }

// Source returns the last source that compiled.
func (in *Instance) Source() string { return in.source }

// ParamDefs returns the parameters declared by the current program.
func (in *Instance) ParamDefs() []params.ParamDef { return in.defs }

// TextureDirectives returns the directives of the current program.
func (in *Instance) TextureDirectives() []params.TextureDirective { return in.directives }

// Channels returns the instance's own channels.
func (in *Instance) Channels() *inputs.Set { return in.channels }

// SetParam stores v for a declared custom parameter, clamped into its
// range. Otherwise "speed" sets the playback speed. Unknown names and
// values of the wrong shape are ignored.
func (in *Instance) SetParam(name string, v params.Value) {
	if def, ok := params.Find(in.defs, name); ok {
		if len(v) != def.Len() {
			glog.V(1).Infof("param %s: got %d components, want %d", name, len(v), def.Len())
			return
		}
		in.values[name] = params.ClampParamValue(def, v)
		return
	}
	if name == SpeedParam && len(v) == 1 {
		in.speed = v[0]
		in.clock.SetSpeed(v[0])
	}
}

// SetParams applies SetParam to every entry of vs.
func (in *Instance) SetParams(vs params.Values) {
	for name, v := range vs {
		in.SetParam(name, v)
	}
}

// Params returns a copy of the current custom parameter values.
func (in *Instance) Params() params.Values {
	return in.values.Clone()
}

// Speed returns the legacy playback speed.
func (in *Instance) Speed() float64 { return in.speed }

type paramMessage struct {
	Name  *string         `json:"name"`
	Value json.RawMessage `json:"value"`
}

// ApplyParamMessage applies a JSON parameter update of either the form
// {"name": n, "value": v} or {n1: v1, n2: v2, ...}.
func (in *Instance) ApplyParamMessage(data []byte) error {
	var single paramMessage
	if err := json.Unmarshal(data, &single); err == nil && single.Name != nil && single.Value != nil {
		return in.applyRaw(map[string]json.RawMessage{*single.Name: single.Value})
	}
	var batch map[string]json.RawMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("invalid param message: %w", err)
	}
	return in.applyRaw(batch)
}

func (in *Instance) applyRaw(raw map[string]json.RawMessage) error {
	var errs []error
	for name, msg := range raw {
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			errs = append(errs, fmt.Errorf("param %s: %w", name, err))
			continue
		}
		def, ok := params.Find(in.defs, name)
		if !ok {
			if name != SpeedParam {
				continue
			}
			def = params.ParamDef{Name: name, Type: params.Float}
		}
		val, err := def.Decode(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		in.SetParam(name, val)
	}
	return errors.Join(errs...)
}

// ParamSnapshot encodes every custom parameter and speed as a JSON object
// accepted by ApplyParamMessage.
func (in *Instance) ParamSnapshot() ([]byte, error) {
	out := make(map[string]any, len(in.defs)+1)
	for _, d := range in.defs {
		out[d.Name] = d.Encode(in.values[d.Name])
	}
	if _, ok := out[SpeedParam]; !ok {
		out[SpeedParam] = in.speed
	}
	return json.Marshal(out)
}

func (in *Instance) Play() { in.clock.Play() }

func (in *Instance) Pause() { in.clock.Pause() }

func (in *Instance) Playing() bool { return in.clock.Playing() }

// TogglePlayback flips play state and returns whether it is now playing.
func (in *Instance) TogglePlayback() bool { return in.clock.Toggle() }

// ResetTime zeroes playback time and the frame counter.
func (in *Instance) ResetTime() {
	in.clock.Reset()
	in.frame = 0
}

// tick advances the clock and the FPS estimate.
func (in *Instance) tick() (t, dt float64) {
	now := in.cfg.Now()
	if !in.lastDraw.IsZero() {
		if real := now.Sub(in.lastDraw).Seconds(); real > 0 {
			fps := 1 / real
			if in.fps == 0 {
				in.fps = fps
			} else {
				in.fps += (fps - in.fps) * 0.1
			}
		}
	}
	in.lastDraw = now
	return in.clock.Tick()
}

// draw issues the single quad draw with all uniforms set. The caller has
// bound the destination and channel textures.
func (in *Instance) draw(f *shader.FrameUniforms, extra func(u *shader.StandardUniforms)) {
	in.dev.UseProgram(in.program)
	in.std.Apply(in.dev, f)
	shader.SetCustomUniforms(in.dev, in.custom, in.defs, in.values)
	if extra != nil {
		extra(in.std)
	}
	in.dev.DrawQuad()
}

// recoverFrame turns a panic during a frame into a throttled report.
func (in *Instance) recoverFrame() {
	if r := recover(); r != nil {
		in.reporter.Report(fmt.Errorf("frame %d: %v", in.frame, r))
	}
}

func (in *Instance) info(t, bpm float64) FrameInfo {
	return FrameInfo{Time: t, FPS: in.fps, Frame: in.frame, BPM: bpm}
}

// Dispose releases the program and every channel resource.
func (in *Instance) Dispose() {
	if in.program != 0 {
		in.dev.DeleteProgram(in.program)
		in.program = 0
	}
	in.channels.Close()
}

package shader

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/params"
)

// StandardUniforms caches the locations of the fixed preamble uniforms and
// any extras for one program. Missing uniforms hold -1.
type StandardUniforms struct {
	Resolution        int32
	Time              int32
	TimeDelta         int32
	Frame             int32
	Mouse             int32
	Date              int32
	BPM               int32
	Channel           [4]int32
	ChannelResolution [4]int32
	Extra             map[string]int32
}

// CacheStandardUniforms resolves every standard uniform of p once.
func CacheStandardUniforms(dev graphics.Device, p graphics.Program, extra ...string) *StandardUniforms {
	u := &StandardUniforms{
		Resolution: dev.UniformLocation(p, "iResolution"),
		Time:       dev.UniformLocation(p, "iTime"),
		TimeDelta:  dev.UniformLocation(p, "iTimeDelta"),
		Frame:      dev.UniformLocation(p, "iFrame"),
		Mouse:      dev.UniformLocation(p, "iMouse"),
		Date:       dev.UniformLocation(p, "iDate"),
		BPM:        dev.UniformLocation(p, "iBPM"),
		Extra:      make(map[string]int32, len(extra)),
	}
	for i := 0; i < 4; i++ {
		u.Channel[i] = dev.UniformLocation(p, fmt.Sprintf("iChannel%d", i))
		u.ChannelResolution[i] = dev.UniformLocation(p, fmt.Sprintf("iChannelResolution[%d]", i))
	}
	for _, name := range extra {
		u.Extra[name] = dev.UniformLocation(p, name)
	}
	return u
}

// FrameUniforms are the per-frame values of the standard uniforms.
type FrameUniforms struct {
	Width, Height     int
	Time              float32
	TimeDelta         float32
	Frame             int32
	Mouse             [4]float32
	Date              [4]float32
	BPM               float64
	ChannelResolution [4][3]float32
}

// Apply writes f to the bound program. Sampler i is bound to texture unit i.
func (u *StandardUniforms) Apply(dev graphics.Device, f *FrameUniforms) {
	dev.Uniform3f(u.Resolution, float32(f.Width), float32(f.Height), 1)
	dev.Uniform1f(u.Time, f.Time)
	dev.Uniform1f(u.TimeDelta, f.TimeDelta)
	dev.Uniform1i(u.Frame, f.Frame)
	dev.Uniform4f(u.Mouse, f.Mouse[0], f.Mouse[1], f.Mouse[2], f.Mouse[3])
	dev.Uniform4f(u.Date, f.Date[0], f.Date[1], f.Date[2], f.Date[3])
	dev.Uniform1f(u.BPM, float32(f.BPM/100))
	for i := 0; i < 4; i++ {
		dev.Uniform1i(u.Channel[i], int32(i))
		r := f.ChannelResolution[i]
		dev.Uniform3f(u.ChannelResolution[i], r[0], r[1], r[2])
	}
}

// DateUniform encodes t as Shadertoy's iDate: year, zero-based month, day
// and seconds since midnight.
func DateUniform(t time.Time) [4]float32 {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return [4]float32{
		float32(t.Year()),
		float32(t.Month() - 1),
		float32(t.Day()),
		float32(t.Sub(midnight).Seconds()),
	}
}

// CustomUniforms maps each custom parameter to its per-element locations.
type CustomUniforms map[string][]int32

// CacheCustomParamUniforms resolves the locations of every declared custom
// parameter. Arrays get one location per element.
func CacheCustomParamUniforms(dev graphics.Device, p graphics.Program, defs []params.ParamDef) CustomUniforms {
	cache := make(CustomUniforms, len(defs))
	for _, d := range defs {
		if !d.IsArray {
			cache[d.Name] = []int32{dev.UniformLocation(p, d.Name)}
			continue
		}
		locs := make([]int32, d.ArraySize)
		for i := range locs {
			locs[i] = dev.UniformLocation(p, fmt.Sprintf("%s[%d]", d.Name, i))
		}
		cache[d.Name] = locs
	}
	return cache
}

// SetCustomUniforms uploads values for every parameter in defs using the
// typed setter matching its declaration.
func SetCustomUniforms(dev graphics.Device, cache CustomUniforms, defs []params.ParamDef, values params.Values) {
	for _, d := range defs {
		v, ok := values[d.Name]
		if !ok || len(v) != d.Len() {
			if glog.V(2) {
				glog.Infof("custom uniform %s: no value of the declared shape", d.Name)
			}
			continue
		}
		comps := d.Type.Components()
		for i, loc := range cache[d.Name] {
			e := v[i*comps : (i+1)*comps]
			switch d.Type {
			case params.Int:
				dev.Uniform1i(loc, int32(e[0]))
			case params.Float:
				dev.Uniform1f(loc, float32(e[0]))
			case params.Vec2:
				dev.Uniform2f(loc, float32(e[0]), float32(e[1]))
			case params.Vec3, params.Color:
				dev.Uniform3f(loc, float32(e[0]), float32(e[1]), float32(e[2]))
			case params.Vec4:
				dev.Uniform4f(loc, float32(e[0]), float32(e[1]), float32(e[2]), float32(e[3]))
			}
		}
	}
}

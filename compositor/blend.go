package compositor

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// BlendMode names a compositing operation the way canvas
// globalCompositeOperation does.
type BlendMode string

const (
	SourceOver BlendMode = "source-over"
	Lighter    BlendMode = "lighter"
	Multiply   BlendMode = "multiply"
	Screen     BlendMode = "screen"
	Darken     BlendMode = "darken"
	Lighten    BlendMode = "lighten"
	Difference BlendMode = "difference"
	Exclusion  BlendMode = "exclusion"
	Overlay    BlendMode = "overlay"
)

// DefaultBlendMode is additive.
const DefaultBlendMode = Lighter

// BlendModes lists every supported mode.
var BlendModes = []BlendMode{SourceOver, Lighter, Multiply, Screen, Darken, Lighten, Difference, Exclusion, Overlay}

// ParseBlendMode validates s. The empty string yields DefaultBlendMode.
func ParseBlendMode(s string) (BlendMode, error) {
	if s == "" {
		return DefaultBlendMode, nil
	}
	for _, m := range BlendModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown blend mode %q", s)
}

// separable returns B(cb, cs) for the separable modes.
func (m BlendMode) separable() func(cb, cs float32) float32 {
	switch m {
	case Multiply:
		return func(cb, cs float32) float32 { return cb * cs }
	case Screen:
		return screen
	case Darken:
		return math32.Min
	case Lighten:
		return math32.Max
	case Difference:
		return func(cb, cs float32) float32 { return math32.Abs(cb - cs) }
	case Exclusion:
		return func(cb, cs float32) float32 { return cb + cs - 2*cb*cs }
	case Overlay:
		return func(cb, cs float32) float32 {
			if cb <= 0.5 {
				return 2 * cs * cb
			}
			return screen(cs, 2*cb-1)
		}
	default:
		return func(_, cs float32) float32 { return cs }
	}
}

func screen(cb, cs float32) float32 { return cb + cs - cb*cs }

func toUnit(v uint8) float32 { return float32(v) / 255 }

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Composite draws src over dst with the given mode at opacity alpha, the
// way a canvas drawImage does under globalAlpha. Both images hold straight
// (not premultiplied) alpha and are aligned at their top-left corners.
func Composite(dst, src *image.RGBA, mode BlendMode, alpha float32) {
	alpha = math32.Max(0, math32.Min(1, alpha))
	if alpha == 0 {
		return
	}
	w := min(dst.Rect.Dx(), src.Rect.Dx())
	h := min(dst.Rect.Dy(), src.Rect.Dy())
	blend := mode.separable()
	for y := 0; y < h; y++ {
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < len(d); x += 4 {
			as := toUnit(s[x+3]) * alpha
			if as == 0 {
				continue
			}
			ab := toUnit(d[x+3])
			var ao float32
			if mode == Lighter {
				ao = math32.Min(1, as+ab)
			} else {
				ao = as + ab*(1-as)
			}
			for c := 0; c < 3; c++ {
				cs, cb := toUnit(s[x+c]), toUnit(d[x+c])
				var co float32
				if mode == Lighter {
					co = math32.Min(cs*as+cb*ab, ao)
				} else {
					mixed := (1-ab)*cs + ab*blend(cb, cs)
					co = as*mixed + ab*cb*(1-as)
				}
				d[x+c] = toByte(co / ao)
			}
			d[x+3] = toByte(ao)
		}
	}
}

package compositor

import (
	"fmt"
	"image"
	"io"

	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/renderer"
	"golang.org/x/image/draw"
)

// Layer is one mixer input. Render produces the layer's current frame at
// exactly width x height, top row first. The returned image may be reused
// by the layer on the next call.
type Layer interface {
	Render(width, height int) (*image.RGBA, error)
	Dispose()
}

// Asset types of non-shader layers.
const (
	AssetImage = "image"
	AssetVideo = "video"
)

// ShaderLayer renders a shader through a Lightweight instance.
type ShaderLayer struct {
	*renderer.Lightweight
}

// NewShaderLayer compiles src into a new Lightweight instance. On failure
// nothing is kept and the error is a *renderer.CompileError.
func NewShaderLayer(dev graphics.Device, shared *renderer.SharedSurface, src string, cfg renderer.Config) (*ShaderLayer, error) {
	lw, err := renderer.NewLightweight(dev, shared, 1, 1, cfg)
	if err != nil {
		return nil, err
	}
	if err := lw.Compile(src); err != nil {
		lw.Dispose()
		return nil, err
	}
	return &ShaderLayer{Lightweight: lw}, nil
}

func (l *ShaderLayer) Render(width, height int) (*image.RGBA, error) {
	l.Resize(width, height)
	if _, err := l.Lightweight.Render(); err != nil {
		return nil, err
	}
	return l.Image(), nil
}

// scaler keeps a destination image for scaling a source to the requested
// size.
type scaler struct {
	dst *image.RGBA
}

func (s *scaler) scale(src image.Image, width, height int, q draw.Interpolator) *image.RGBA {
	if s.dst == nil || s.dst.Rect.Dx() != width || s.dst.Rect.Dy() != height {
		s.dst = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	if src.Bounds().Size() == s.dst.Rect.Size() {
		draw.Draw(s.dst, s.dst.Rect, src, src.Bounds().Min, draw.Src)
	} else {
		q.Scale(s.dst, s.dst.Rect, src, src.Bounds(), draw.Src, nil)
	}
	return s.dst
}

// ImageLayer shows a still image stretched to the output size.
type ImageLayer struct {
	Path string

	src    *image.RGBA
	scaler scaler
	stale  bool
}

// NewImageLayer decodes the image at path.
func NewImageLayer(path string) (*ImageLayer, error) {
	img, err := inputs.ReadImageFile(path)
	if err != nil {
		return nil, err
	}
	return &ImageLayer{Path: path, src: img, stale: true}, nil
}

func (l *ImageLayer) Render(width, height int) (*image.RGBA, error) {
	if l.stale || l.scaler.dst == nil || l.scaler.dst.Rect.Dx() != width || l.scaler.dst.Rect.Dy() != height {
		l.scaler.scale(l.src, width, height, draw.CatmullRom)
		l.stale = false
	}
	return l.scaler.dst, nil
}

func (l *ImageLayer) Dispose() {}

// VideoLayer shows the newest frame of a looping video decoder.
type VideoLayer struct {
	Path string

	frames  inputs.FrameBuffer
	decoder io.Closer
	frame   *image.RGBA
	scaler  scaler
}

// NewVideoLayer starts decoding the video at path.
func NewVideoLayer(path, ffmpegPath string) (*VideoLayer, error) {
	l := &VideoLayer{Path: path}
	dec, err := inputs.OpenVideo(path, ffmpegPath, &l.frames)
	if err != nil {
		return nil, fmt.Errorf("video layer: %w", err)
	}
	l.decoder = dec
	return l, nil
}

// Render returns the latest decoded frame, or a transparent image before
// the first frame arrives.
func (l *VideoLayer) Render(width, height int) (*image.RGBA, error) {
	if w, h, pix, ok := l.frames.Take(); ok {
		if l.frame == nil || l.frame.Rect.Dx() != w || l.frame.Rect.Dy() != h {
			l.frame = image.NewRGBA(image.Rect(0, 0, w, h))
		}
		// Decoded frames are bottom row first.
		stride := w * 4
		for y := 0; y < h; y++ {
			copy(l.frame.Pix[y*stride:(y+1)*stride], pix[(h-1-y)*stride:])
		}
	}
	if l.frame == nil {
		return image.NewRGBA(image.Rect(0, 0, width, height)), nil
	}
	return l.scaler.scale(l.frame, width, height, draw.ApproxBiLinear), nil
}

func (l *VideoLayer) Dispose() {
	if l.decoder != nil {
		l.decoder.Close()
		l.decoder = nil
	}
}

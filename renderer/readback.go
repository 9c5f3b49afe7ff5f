package renderer

import (
	"fmt"

	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/shader"
)

// ReadFrame reads a width x height rect of the bound surface into dst with
// the top row first. GL reads bottom row first, so the rows are flipped.
func ReadFrame(dev graphics.Device, x, y, width, height int, dst []byte) error {
	n := width * height * 4
	if len(dst) < n {
		return fmt.Errorf("frame buffer too short: got %d bytes, want %d", len(dst), n)
	}
	if err := dev.ReadPixels(x, y, width, height, dst[:n]); err != nil {
		return err
	}
	flipRows(dst[:n], width*4)
	return nil
}

func flipRows(pix []byte, stride int) {
	if stride == 0 {
		return
	}
	tmp := make([]byte, stride)
	for top, bot := 0, len(pix)/stride-1; top < bot; top, bot = top+1, bot-1 {
		a := pix[top*stride : (top+1)*stride]
		b := pix[bot*stride : (bot+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

// Blitter copies a texture onto a surface with a full-screen quad.
type Blitter struct {
	dev     graphics.Device
	program graphics.Program
	sampler int32
}

// NewBlitter compiles the blit program. With flip set the texture is
// mirrored vertically.
func NewBlitter(dev graphics.Device, flip bool) (*Blitter, error) {
	p, err := dev.CompileProgram(shader.VertexShader, shader.GetBlitFragmentShader(flip))
	if err != nil {
		return nil, fmt.Errorf("failed to create blit program: %w", err)
	}
	return &Blitter{dev: dev, program: p, sampler: dev.UniformLocation(p, "u_texture")}, nil
}

// Blit draws t into the (x, y, width, height) viewport of dst.
func (b *Blitter) Blit(t graphics.Texture, dst graphics.Surface, x, y, width, height int) {
	b.dev.BindSurface(dst)
	b.dev.Viewport(x, y, width, height)
	b.dev.Scissor(0, 0, 0, 0)
	b.dev.UseProgram(b.program)
	b.dev.BindTexture(0, t)
	b.dev.Uniform1i(b.sampler, 0)
	b.dev.DrawQuad()
}

func (b *Blitter) Close() {
	b.dev.DeleteProgram(b.program)
}

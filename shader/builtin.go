package shader

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/params"
)

// BuiltinTextures is the catalog of procedural noise textures.
var BuiltinTextures = params.BuiltinTextures

var (
	noiseMu  sync.Mutex
	noiseRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Builtin is generated texel data for one catalog entry.
type Builtin struct {
	Width, Height int
	Format        graphics.TextureFormat
	Pixels        []byte
}

// GenerateBuiltin fills a fresh noise texture for name. Every call draws new
// random content.
func GenerateBuiltin(name string) (*Builtin, error) {
	spec, ok := BuiltinTextures[name]
	if !ok {
		return nil, fmt.Errorf("unknown builtin texture %q", name)
	}
	format := graphics.RGBA8
	if spec.Channels == 1 {
		format = graphics.R8
	}
	b := &Builtin{
		Width:  spec.Size,
		Height: spec.Size,
		Format: format,
		Pixels: make([]byte, spec.Size*spec.Size*spec.Channels),
	}
	noiseMu.Lock()
	noiseRng.Read(b.Pixels)
	noiseMu.Unlock()
	return b, nil
}

// CreateBuiltinTexture generates name and uploads it.
func CreateBuiltinTexture(dev graphics.Device, name string) (graphics.Texture, *Builtin, error) {
	b, err := GenerateBuiltin(name)
	if err != nil {
		return 0, nil, err
	}
	tex, err := dev.CreateTexture(b.Width, b.Height, b.Format, b.Pixels)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to upload builtin %s: %w", name, err)
	}
	return tex, b, nil
}

package params

import (
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// DirectiveType says where a @texture binding gets its content from.
type DirectiveType string

const (
	DirectiveBuiltin DirectiveType = "builtin"
	DirectiveFile    DirectiveType = "file"
	DirectiveAudio   DirectiveType = "audio"
)

// TextureDirective is one `// @texture iChannelN <spec>` binding.
type TextureDirective struct {
	Channel     int
	Type        DirectiveType
	TextureName string
	// FFTSize is only set for audio directives.
	FFTSize int
}

// DefaultFFTSize is used by the plain AudioFFT directive.
const DefaultFFTSize = 1024

// FFTSizes lists the analyser sizes an AudioFFT(n) directive may request.
var FFTSizes = []int{512, 1024, 2048, 4096, 8192, 16384, 32768}

// BuiltinTexture describes one procedurally generated noise texture.
type BuiltinTexture struct {
	Size     int
	Channels int
}

// BuiltinTextures is the catalog of names accepted by builtin directives.
var BuiltinTextures = map[string]BuiltinTexture{
	"RGBANoiseSmall":  {Size: 64, Channels: 4},
	"RGBANoiseMedium": {Size: 256, Channels: 4},
	"RGBANoiseBig":    {Size: 1024, Channels: 4},
	"GrayNoiseSmall":  {Size: 64, Channels: 1},
	"GrayNoiseMedium": {Size: 256, Channels: 1},
}

// BuiltinNames returns the catalog names in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(BuiltinTextures))
	for n := range BuiltinTextures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	textureLineRe = regexp.MustCompile(`^\s*//\s*@texture\s+iChannel([0-3])\s+(\S+)`)
	fileNameRe    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	audioSizeRe   = regexp.MustCompile(`^AudioFFT\((\d+)\)$`)
)

// ParseTextureDirectives returns the @texture bindings in src in source
// order. Unrecognised specs are dropped.
func ParseTextureDirectives(src string) []TextureDirective {
	var out []TextureDirective
	for _, line := range strings.Split(src, "\n") {
		m := textureLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ch := int(m[1][0] - '0')
		if d, ok := resolveTextureSpec(ch, m[2]); ok {
			out = append(out, d)
		}
	}
	return out
}

func resolveTextureSpec(ch int, spec string) (TextureDirective, bool) {
	if name, ok := strings.CutPrefix(spec, "texture:"); ok {
		if !fileNameRe.MatchString(name) {
			return TextureDirective{}, false
		}
		return TextureDirective{Channel: ch, Type: DirectiveFile, TextureName: name}, true
	}
	switch spec {
	case "AudioFFT":
		return TextureDirective{Channel: ch, Type: DirectiveAudio, TextureName: spec, FFTSize: DefaultFFTSize}, true
	case "AudioFFTBig":
		return TextureDirective{Channel: ch, Type: DirectiveAudio, TextureName: spec, FFTSize: 2048}, true
	}
	if m := audioSizeRe.FindStringSubmatch(spec); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || !slices.Contains(FFTSizes, n) {
			return TextureDirective{}, false
		}
		return TextureDirective{Channel: ch, Type: DirectiveAudio, TextureName: "AudioFFT", FFTSize: n}, true
	}
	if _, ok := BuiltinTextures[spec]; ok {
		return TextureDirective{Channel: ch, Type: DirectiveBuiltin, TextureName: spec}, true
	}
	return TextureDirective{}, false
}

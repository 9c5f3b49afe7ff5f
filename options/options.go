package options

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// Modes the player can run in.
const (
	ModePreview = "preview"
	ModeTile    = "tile"
	ModeMix     = "mix"
)

var modes = []string{ModePreview, ModeTile, ModeMix}

type ShaderOptions struct {
	Mode        *string
	ShaderFile  *string // shader shown in preview mode
	LibraryDir  *string // directory of .glsl files used as tile and mixer slots
	TexturesDir *string // where texture:<name> directives are looked up
	Width       *int
	Height      *int
	BitDepth    *int
	Watch       *bool // recompile the shader file when it changes
	StdinParams *bool // read JSON param messages from stdin, one per line

	// Tile mode
	Rows       *int
	Cols       *int
	Gap        *int
	Aspect     *float64 // 0 uses the whole window
	TileConfig *string  // JSON tile configuration overriding rows/cols/gap

	// Mix mode
	MixPreset *string // JSON mix preset
	BlendMode *string

	// Inputs
	FFmpegPath     *string
	CameraDevice   *string
	MicDevice      *string // microphone for audio channels, matched by name
	AudioInputFile *string // play this file into audio channels instead of the microphone
	AudioMonitor   *bool   // also play the audio file on an output device
	AudioOutput    *string // output device for AudioMonitor

	// Recording
	OutputFile *string
	Codec      *string
	FPS        *int

	ConfigFile *string
}

// fileOptions mirrors ShaderOptions for the TOML config file. Nil fields
// were not present in the file.
type fileOptions struct {
	Mode           *string  `toml:"mode"`
	ShaderFile     *string  `toml:"shader"`
	LibraryDir     *string  `toml:"library"`
	TexturesDir    *string  `toml:"textures"`
	Width          *int     `toml:"width"`
	Height         *int     `toml:"height"`
	BitDepth       *int     `toml:"bitdepth"`
	Watch          *bool    `toml:"watch"`
	StdinParams    *bool    `toml:"stdin-params"`
	Rows           *int     `toml:"rows"`
	Cols           *int     `toml:"cols"`
	Gap            *int     `toml:"gap"`
	Aspect         *float64 `toml:"aspect"`
	TileConfig     *string  `toml:"tile-config"`
	MixPreset      *string  `toml:"mix-preset"`
	BlendMode      *string  `toml:"blend"`
	FFmpegPath     *string  `toml:"ffmpeg"`
	CameraDevice   *string  `toml:"camera"`
	MicDevice      *string  `toml:"mic"`
	AudioInputFile *string  `toml:"audio-file"`
	AudioMonitor   *bool    `toml:"audio-monitor"`
	AudioOutput    *string  `toml:"audio-out"`
	OutputFile     *string  `toml:"output"`
	Codec          *string  `toml:"codec"`
	FPS            *int     `toml:"fps"`
}

// Parse reads command line arguments (without the program name). When
// -config names a TOML file its values fill in every option not given on
// the command line. Flags defined on flag.CommandLine are accepted too.
func Parse(name string, args []string) (*ShaderOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	o := &ShaderOptions{
		Mode:        fs.String("mode", ModePreview, "preview, tile or mix"),
		ShaderFile:  fs.String("shader", "", "shader source file for preview mode"),
		LibraryDir:  fs.String("library", "", "directory of .glsl shaders used as tile and mixer slots"),
		TexturesDir: fs.String("textures", "textures", "directory searched for texture:<name> directives"),
		Width:       fs.Int("width", 1280, "output width"),
		Height:      fs.Int("height", 720, "output height"),
		BitDepth:    fs.Int("bitdepth", 8, "colour bits per channel of the window"),
		Watch:       fs.Bool("watch", false, "recompile the shader file when it changes"),
		StdinParams: fs.Bool("stdin-params", false, "read JSON param messages from stdin"),

		Rows:       fs.Int("rows", 2, "tile grid rows"),
		Cols:       fs.Int("cols", 2, "tile grid columns"),
		Gap:        fs.Int("gap", 0, "pixels between tiles"),
		Aspect:     fs.Float64("aspect", 0, "keep the tile grid at this width/height ratio"),
		TileConfig: fs.String("tile-config", "", "JSON tile configuration"),

		MixPreset: fs.String("mix-preset", "", "JSON mix preset"),
		BlendMode: fs.String("blend", "lighter", "mixer blend mode"),

		FFmpegPath:     fs.String("ffmpeg", "", "ffmpeg binary, default from PATH"),
		CameraDevice:   fs.String("camera", "", "capture device for camera channels"),
		MicDevice:      fs.String("mic", "", "microphone for audio channels, default input if empty"),
		AudioInputFile: fs.String("audio-file", "", "media file feeding audio channels instead of the microphone"),
		AudioMonitor:   fs.Bool("audio-monitor", false, "play the audio file while it drives the shaders"),
		AudioOutput:    fs.String("audio-out", "", "audio output device for -audio-monitor"),

		OutputFile: fs.String("output", "", "record the output to this file"),
		Codec:      fs.String("codec", "h264", "recording codec: h264, hevc or prores"),
		FPS:        fs.Int("fps", 60, "recording frame rate"),

		ConfigFile: fs.String("config", "", "TOML file with default option values"),
	}
	// glog registers -v, -logtostderr and friends on the default set.
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		if fs.Lookup(f.Name) == nil {
			fs.Var(f.Value, f.Name, f.Usage)
		}
	})
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *o.ConfigFile != "" {
		explicit := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		if err := o.loadFile(*o.ConfigFile, explicit); err != nil {
			return nil, err
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *ShaderOptions) loadFile(path string, explicit map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var f fileOptions
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	overlay(o.Mode, f.Mode, "mode", explicit)
	overlay(o.ShaderFile, f.ShaderFile, "shader", explicit)
	overlay(o.LibraryDir, f.LibraryDir, "library", explicit)
	overlay(o.TexturesDir, f.TexturesDir, "textures", explicit)
	overlay(o.Width, f.Width, "width", explicit)
	overlay(o.Height, f.Height, "height", explicit)
	overlay(o.BitDepth, f.BitDepth, "bitdepth", explicit)
	overlay(o.Watch, f.Watch, "watch", explicit)
	overlay(o.StdinParams, f.StdinParams, "stdin-params", explicit)
	overlay(o.Rows, f.Rows, "rows", explicit)
	overlay(o.Cols, f.Cols, "cols", explicit)
	overlay(o.Gap, f.Gap, "gap", explicit)
	overlay(o.Aspect, f.Aspect, "aspect", explicit)
	overlay(o.TileConfig, f.TileConfig, "tile-config", explicit)
	overlay(o.MixPreset, f.MixPreset, "mix-preset", explicit)
	overlay(o.BlendMode, f.BlendMode, "blend", explicit)
	overlay(o.FFmpegPath, f.FFmpegPath, "ffmpeg", explicit)
	overlay(o.CameraDevice, f.CameraDevice, "camera", explicit)
	overlay(o.MicDevice, f.MicDevice, "mic", explicit)
	overlay(o.AudioInputFile, f.AudioInputFile, "audio-file", explicit)
	overlay(o.AudioMonitor, f.AudioMonitor, "audio-monitor", explicit)
	overlay(o.AudioOutput, f.AudioOutput, "audio-out", explicit)
	overlay(o.OutputFile, f.OutputFile, "output", explicit)
	overlay(o.Codec, f.Codec, "codec", explicit)
	overlay(o.FPS, f.FPS, "fps", explicit)
	return nil
}

func overlay[T any](dst, src *T, flagName string, explicit map[string]bool) {
	if src != nil && !explicit[flagName] {
		*dst = *src
	}
}

// Validate checks option combinations that flag parsing cannot.
func (o *ShaderOptions) Validate() error {
	if !slices.Contains(modes, *o.Mode) {
		return fmt.Errorf("unknown mode %q, want one of %v", *o.Mode, modes)
	}
	if *o.Width <= 0 || *o.Height <= 0 {
		return fmt.Errorf("invalid size %dx%d", *o.Width, *o.Height)
	}
	if *o.Mode == ModePreview && *o.ShaderFile == "" {
		return fmt.Errorf("preview mode needs -shader")
	}
	if *o.Mode == ModeTile && *o.TileConfig == "" && (*o.Rows <= 0 || *o.Cols <= 0) {
		return fmt.Errorf("invalid tile grid %dx%d", *o.Rows, *o.Cols)
	}
	if *o.Gap < 0 {
		return fmt.Errorf("negative tile gap %d", *o.Gap)
	}
	if *o.AudioMonitor && *o.AudioInputFile == "" {
		return fmt.Errorf("-audio-monitor needs -audio-file")
	}
	if *o.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", *o.FPS)
	}
	return nil
}

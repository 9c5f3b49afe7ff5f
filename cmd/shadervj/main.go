package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/golang/glog"
	"github.com/richinsley/shadervj/audio"
	"github.com/richinsley/shadervj/compositor"
	"github.com/richinsley/shadervj/encoder"
	"github.com/richinsley/shadervj/glfwcontext"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/graphics/gldevice"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/livecode"
	"github.com/richinsley/shadervj/options"
	"github.com/richinsley/shadervj/renderer"
)

func rendererConfig(opts *options.ShaderOptions) renderer.Config {
	in := inputs.Config{
		FFmpegPath: *opts.FFmpegPath,
		Camera:     inputs.CameraConfig{Device: *opts.CameraDevice},
	}
	if *opts.AudioMonitor {
		in.Monitor = &audio.PlayerConfig{Device: *opts.AudioOutput}
	}
	if *opts.AudioInputFile != "" {
		in.OpenAudio = inputs.FileAudioOpener(*opts.AudioInputFile, *opts.FFmpegPath, in.Monitor)
	} else if *opts.MicDevice != "" {
		in.OpenAudio = inputs.MicrophoneOpener(*opts.MicDevice)
	}
	return renderer.Config{
		Inputs:   in,
		Resolver: renderer.DirResolver(*opts.TexturesDir),
	}
}

func newScene(dev graphics.Device, opts *options.ShaderOptions, lib compositor.Slots) (scene, error) {
	cfg := rendererConfig(opts)
	w, h := *opts.Width, *opts.Height

	switch *opts.Mode {
	case options.ModePreview:
		src, err := os.ReadFile(*opts.ShaderFile)
		if err != nil {
			return nil, err
		}
		p, err := renderer.NewPrimary(dev, w, h, cfg)
		if err != nil {
			return nil, err
		}
		if err := p.Compile(string(src)); err != nil {
			logCompileError(*opts.ShaderFile, err)
		}
		return previewScene{p}, nil

	case options.ModeTile:
		tc, err := compositor.NewTileCompositor(dev, w, h, lib, cfg)
		if err != nil {
			return nil, err
		}
		c := defaultTileConfig(*opts.Rows, *opts.Cols, *opts.Gap, len(lib))
		if *opts.TileConfig != "" {
			data, err := os.ReadFile(*opts.TileConfig)
			if err == nil {
				c, err = compositor.ParseTileConfig(data)
			}
			if err != nil {
				tc.Dispose()
				return nil, fmt.Errorf("tile config %s: %w", *opts.TileConfig, err)
			}
		}
		tc.SetAspect(*opts.Aspect)
		if err := tc.Apply(c); err != nil {
			glog.Errorf("tile config: %v", err)
		}
		return tileScene{tc}, nil

	case options.ModeMix:
		if *opts.AudioMonitor {
			glog.Warningf("-audio-monitor plays the file once per shader layer in mix mode")
		}
		m := compositor.NewMixer(dev, renderer.SharedSurfaceFor(dev), w, h, lib, cfg)
		mode, err := compositor.ParseBlendMode(*opts.BlendMode)
		if err != nil {
			m.Dispose()
			return nil, err
		}
		m.SetBlendMode(mode)
		if err := populateMixer(m, opts, len(lib)); err != nil {
			glog.Errorf("mixer: %v", err)
		}
		s, err := newMixScene(dev, m)
		if err != nil {
			m.Dispose()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown mode %q", *opts.Mode)
}

// populateMixer loads the preset if one is given, else the shader file or
// the first library shader on channel 0.
func populateMixer(m *compositor.Mixer, opts *options.ShaderOptions, librarySize int) error {
	switch {
	case *opts.MixPreset != "":
		data, err := os.ReadFile(*opts.MixPreset)
		if err != nil {
			return err
		}
		p, err := compositor.ParseMixPreset(data)
		if err != nil {
			return fmt.Errorf("mix preset %s: %w", *opts.MixPreset, err)
		}
		return m.ApplyPreset(p)
	case *opts.ShaderFile != "":
		src, err := os.ReadFile(*opts.ShaderFile)
		if err != nil {
			return err
		}
		return m.SetShader(0, string(src))
	case librarySize > 0:
		return m.SetSlot(0, 0)
	}
	return nil
}

// scaleMouse maps window framebuffer pixels to render surface pixels.
func scaleMouse(m [4]float32, fbW, fbH, w, h int) [4]float32 {
	if fbW <= 0 || fbH <= 0 {
		return m
	}
	sx, sy := float32(w)/float32(fbW), float32(h)/float32(fbH)
	return [4]float32{m[0] * sx, m[1] * sy, m[2] * sx, m[3] * sy}
}

func run(opts *options.ShaderOptions) error {
	lib, names, err := loadLibrary(*opts.LibraryDir)
	if err != nil {
		return err
	}
	for i, n := range names {
		glog.V(1).Infof("slot %d: %s", i, n)
	}

	if err := glfwcontext.InitGraphics(); err != nil {
		return fmt.Errorf("failed to initialize GLFW: %w", err)
	}
	defer glfwcontext.TerminateGraphics()

	title := "shadervj - " + *opts.Mode
	if *opts.ShaderFile != "" {
		title += " - " + filepath.Base(*opts.ShaderFile)
	}
	win, err := glfwcontext.New(opts, title, true)
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}
	defer win.Shutdown()
	win.MakeCurrent()

	dev, err := gldevice.New()
	if err != nil {
		return err
	}
	if err := dev.Init(); err != nil {
		return err
	}
	blit, err := renderer.NewBlitter(dev, false)
	if err != nil {
		return err
	}
	defer blit.Close()
	blitFlipped, err := renderer.NewBlitter(dev, true)
	if err != nil {
		return err
	}
	defer blitFlipped.Close()

	sc, err := newScene(dev, opts, lib)
	if err != nil {
		return err
	}
	defer sc.dispose()

	win.RegisterKeyCallback(glfw.KeySpace, func() {
		glog.Infof("playing: %v", sc.togglePlayback())
	})
	win.RegisterKeyCallback(glfw.KeyR, sc.resetTime)

	var sources <-chan string
	if *opts.Watch && *opts.ShaderFile != "" {
		w, err := livecode.Watch(*opts.ShaderFile, livecode.DefaultDebounce)
		if err != nil {
			return err
		}
		defer w.Close()
		sources = w.Sources()
	}

	var params chan paramMessage
	if *opts.StdinParams {
		params = make(chan paramMessage, 16)
		go readParams(os.Stdin, params)
	}

	var rec *encoder.Recorder
	if *opts.OutputFile != "" {
		rec, err = encoder.NewRecorder(encoder.ConfigFromOptions(opts))
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				glog.Errorf("recording: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	width, height := *opts.Width, *opts.Height
	frame := func() error {
		for drained := false; !drained; {
			select {
			case src := <-sources:
				if err := sc.reload(src); err != nil {
					logCompileError(*opts.ShaderFile, err)
					win.SetTitle(title + " [compile error]")
				} else {
					glog.Infof("reloaded %s", *opts.ShaderFile)
					win.SetTitle(title)
				}
			case m, ok := <-params:
				if !ok {
					params = nil
					continue
				}
				if err := sc.applyParams(m.Target, m.Data); err != nil {
					glog.Warningf("params: %v", err)
				}
			default:
				drained = true
			}
		}

		fbW, fbH := win.GetFramebufferSize()
		sc.setMouse(scaleMouse(win.GetMouseInput(), fbW, fbH, width, height))
		tex, flipped, info := sc.render()
		glog.V(3).Infof("frame %d t=%.3f fps=%.1f bpm=%.1f", info.Frame, info.Time, info.FPS, info.BPM)

		if rec != nil {
			img, err := sc.readFrame()
			if err != nil {
				return fmt.Errorf("failed to read frame: %w", err)
			}
			if err := rec.WriteFrame(img); err != nil {
				return err
			}
		}

		b := blit
		if flipped {
			b = blitFlipped
		}
		b.Blit(tex, 0, 0, 0, fbW, fbH)
		return nil
	}

	err = renderer.Loop(ctx, win, frame)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	opts, err := options.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer glog.Flush()

	if err := run(opts); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}

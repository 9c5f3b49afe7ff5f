package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/golang/glog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// PlayerConfig selects where a Player sends audio.
type PlayerConfig struct {
	// Device is the platform output device; empty picks the default.
	Device     string
	FFmpegPath string
	SampleRate int
}

// Player plays mono float32 chunks on an output device through ffmpeg.
type Player struct {
	cfg PlayerConfig

	mu   sync.Mutex
	cmd  *exec.Cmd
	pipe *io.PipeWriter
	done chan struct{}
}

func NewPlayer(cfg PlayerConfig) *Player {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Player{cfg: cfg}
}

// outputArgs returns the ffmpeg output target and muxer for this platform.
func (p *Player) outputArgs() (string, ffmpeg.KwArgs, error) {
	args := ffmpeg.KwArgs{}
	device := p.cfg.Device
	switch runtime.GOOS {
	case "darwin":
		args["f"] = "audiotoolbox"
		if device != "" {
			args["audio_device_index"] = device
		}
		device = "-"
	case "linux":
		args["f"] = "pulse"
		if device == "" {
			device = "default"
		}
	case "windows":
		args["f"] = "dshow"
		if device == "" {
			return "", nil, fmt.Errorf("an audio output device is required on windows")
		}
		device = "audio=" + device
	default:
		return "", nil, fmt.Errorf("unsupported OS for audio playback: %s", runtime.GOOS)
	}
	return device, args, nil
}

func (p *Player) command(r io.Reader) (*exec.Cmd, error) {
	device, outArgs, err := p.outputArgs()
	if err != nil {
		return nil, err
	}
	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f":  "f32le",
		"ar": strconv.Itoa(p.cfg.SampleRate),
		"ac": "1",
	}).Output(device, outArgs).WithInput(r).ErrorToStdOut()
	if p.cfg.FFmpegPath != "" {
		stream = stream.SetFfmpegPath(p.cfg.FFmpegPath)
	}
	return stream.Compile(), nil
}

// Start plays input until it is closed. A player that fails mid-stream keeps
// draining input so the producer never stalls.
func (p *Player) Start(input <-chan []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("audio player already started")
	}
	pr, pw := io.Pipe()
	cmd, err := p.command(pr)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg audio player: %w", err)
	}
	p.cmd, p.pipe, p.done = cmd, pw, make(chan struct{})

	go func() {
		if err := cmd.Wait(); err != nil {
			glog.V(1).Infof("ffmpeg audio player exited: %v", err)
		}
		pr.CloseWithError(io.EOF)
	}()

	go func() {
		defer close(p.done)
		var failed bool
		for data := range input {
			if failed {
				continue
			}
			if _, err := pw.Write(encodeF32LE(data)); err != nil {
				glog.Warningf("audio player: %v", err)
				failed = true
			}
		}
		pw.Close()
	}()
	return nil
}

func encodeF32LE(samples []float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// Stop ends playback without waiting for buffered audio.
func (p *Player) Stop() error {
	p.mu.Lock()
	cmd, pipe := p.cmd, p.pipe
	p.cmd = nil
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	pipe.CloseWithError(io.ErrClosedPipe)
	if cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}

package inputs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/golang/glog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FrameSink receives decoded RGBA frames, bottom row first.
type FrameSink interface {
	WriteFrame(width, height int, rgba []byte)
}

// FrameBuffer hands frames from a decoder goroutine to the render thread.
// It is triple buffered so neither side ever waits on the other's copy.
type FrameBuffer struct {
	mu                sync.Mutex
	back, front, read []byte
	width, height     int
	dirty             bool
}

// WriteFrame stores a copy of rgba and marks the buffer dirty.
func (f *FrameBuffer) WriteFrame(width, height int, rgba []byte) {
	f.mu.Lock()
	back := f.back
	f.mu.Unlock()
	if cap(back) < len(rgba) {
		back = make([]byte, len(rgba))
	}
	back = back[:len(rgba)]
	copy(back, rgba)

	f.mu.Lock()
	f.back, f.front = f.front, back
	f.width, f.height = width, height
	f.dirty = true
	f.mu.Unlock()
}

// Take returns the newest frame if one arrived since the last call. The
// returned slice stays valid until the next Take.
func (f *FrameBuffer) Take() (width, height int, rgba []byte, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return 0, 0, nil, false
	}
	f.dirty = false
	f.front, f.read = f.read, f.front
	return f.width, f.height, f.read, true
}

// Decoder runs an ffmpeg process emitting raw RGBA frames of a fixed size.
type Decoder struct {
	Width, Height int

	cmd  *exec.Cmd
	pipe *io.PipeReader
	done chan struct{}
	once sync.Once
}

func startDecoder(stream *ffmpeg.Stream, width, height int, sink FrameSink) (*Decoder, error) {
	pr, pw := io.Pipe()
	cmd := stream.WithOutput(pw).ErrorToStdOut().Compile()
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	d := &Decoder{Width: width, Height: height, cmd: cmd, pipe: pr, done: make(chan struct{})}

	go func() {
		err := cmd.Wait()
		if err != nil {
			glog.V(1).Infof("ffmpeg decoder exited: %v", err)
		}
		pw.CloseWithError(io.EOF)
	}()
	go func() {
		defer close(d.done)
		frame := make([]byte, width*height*4)
		for {
			if _, err := io.ReadFull(pr, frame); err != nil {
				return
			}
			sink.WriteFrame(width, height, frame)
		}
	}()
	return d, nil
}

// Stop kills the ffmpeg process and waits for the reader to exit.
func (d *Decoder) Stop() {
	d.once.Do(func() {
		d.pipe.Close()
		if d.cmd.Process != nil {
			d.cmd.Process.Kill()
		}
		<-d.done
	})
}

// Close implements io.Closer.
func (d *Decoder) Close() error {
	d.Stop()
	return nil
}

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func videoSize(probeJSON string) (int, int, error) {
	var pr probeResult
	if err := json.Unmarshal([]byte(probeJSON), &pr); err != nil {
		return 0, 0, fmt.Errorf("failed to parse probe output: %w", err)
	}
	for _, s := range pr.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, nil
		}
	}
	return 0, 0, fmt.Errorf("no video stream found")
}

func rawOutput(stream *ffmpeg.Stream, vf string) *ffmpeg.Stream {
	return stream.Output("pipe:", ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": "rgba",
		"vf":      vf,
		"an":      "",
	})
}

// OpenVideo probes path and starts decoding it in a loop at its native
// frame rate.
func OpenVideo(path, ffmpegPath string, sink FrameSink) (*Decoder, error) {
	probe, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	w, h, err := videoSize(probe)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stream := rawOutput(ffmpeg.Input(path, ffmpeg.KwArgs{"re": "", "stream_loop": "-1"}), "vflip")
	if ffmpegPath != "" {
		stream = stream.SetFfmpegPath(ffmpegPath)
	}
	return startDecoder(stream, w, h, sink)
}

// CameraConfig selects a capture device and its output size.
type CameraConfig struct {
	Device        string
	Width, Height int
	FPS           int
}

func cameraFormat() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", nil
	case "linux":
		return "v4l2", nil
	case "windows":
		return "dshow", nil
	}
	return "", fmt.Errorf("unsupported OS for camera capture: %s", runtime.GOOS)
}

// OpenCamera starts capturing from a local camera scaled to the configured
// size.
func OpenCamera(cfg CameraConfig, ffmpegPath string, sink FrameSink) (*Decoder, error) {
	format, err := cameraFormat()
	if err != nil {
		return nil, err
	}
	device := cfg.Device
	if device == "" {
		switch format {
		case "v4l2":
			device = "/dev/video0"
		case "avfoundation":
			device = "0"
		default:
			device = "video=0"
		}
	}
	stream := rawOutput(
		ffmpeg.Input(device, ffmpeg.KwArgs{"f": format, "framerate": cfg.FPS}),
		fmt.Sprintf("scale=%d:%d,vflip", cfg.Width, cfg.Height),
	)
	if ffmpegPath != "" {
		stream = stream.SetFfmpegPath(ffmpegPath)
	}
	return startDecoder(stream, cfg.Width, cfg.Height, sink)
}

// NetworkReceiver connects to a network video source and delivers frames
// to sink until the returned closer is closed. Connect must give up when
// ctx is done.
type NetworkReceiver interface {
	Connect(ctx context.Context, source string, sink FrameSink) (io.Closer, error)
}

// FFmpegReceiver treats the source as any URL ffmpeg can open (rtsp, srt,
// udp, http).
type FFmpegReceiver struct {
	FFmpegPath string
}

func (r FFmpegReceiver) Connect(ctx context.Context, source string, sink FrameSink) (io.Closer, error) {
	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("discovering %s: %w", source, context.DeadlineExceeded)
	}
	probe, err := ffmpeg.ProbeWithTimeout(source, timeout, ffmpeg.KwArgs{})
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", source, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h, err := videoSize(probe)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	stream := rawOutput(ffmpeg.Input(source, ffmpeg.KwArgs{"fflags": "nobuffer"}), "vflip")
	if r.FFmpegPath != "" {
		stream = stream.SetFfmpegPath(r.FFmpegPath)
	}
	return startDecoder(stream, w, h, sink)
}

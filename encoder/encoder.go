package encoder

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/options"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrClosed is returned by WriteFrame after Close.
var ErrClosed = errors.New("recorder closed")

// Frame is one top-down RGBA frame waiting to be encoded.
type Frame struct {
	Pixels []byte
	PTS    int64
}

// Config describes a recording.
type Config struct {
	OutputFile    string
	Codec         string // h264, hevc, prores or an ffmpeg encoder name
	Width, Height int
	FPS           int
	FFmpegPath    string
}

// ConfigFromOptions takes the recording settings from the command line.
func ConfigFromOptions(opts *options.ShaderOptions) Config {
	return Config{
		OutputFile: *opts.OutputFile,
		Codec:      *opts.Codec,
		Width:      *opts.Width,
		Height:     *opts.Height,
		FPS:        *opts.FPS,
		FFmpegPath: *opts.FFmpegPath,
	}
}

// videoEncoder picks the ffmpeg encoder and output pixel format for a codec
// preference. Hardware encoders are preferred where the platform normally
// ships one.
func videoEncoder(codec string) (name, pixFmt string) {
	switch codec {
	case "hevc", "h265":
		if runtime.GOOS == "darwin" {
			return "hevc_videotoolbox", "yuv420p"
		}
		return "libx265", "yuv420p"
	case "prores":
		return "prores_ks", "yuv422p10le"
	case "", "h264":
		if runtime.GOOS == "darwin" {
			return "h264_videotoolbox", "yuv420p"
		}
		return "libx264", "yuv420p"
	default:
		return codec, "yuv420p"
	}
}

// command builds the ffmpeg invocation reading raw frames from in.
func (c Config) command(in io.Reader) *exec.Cmd {
	name, pixFmt := videoEncoder(c.Codec)
	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f":         "rawvideo",
		"pix_fmt":   "rgba",
		"s":         fmt.Sprintf("%dx%d", c.Width, c.Height),
		"framerate": c.FPS,
	}).Output(c.OutputFile, ffmpeg.KwArgs{
		"c:v":     name,
		"pix_fmt": pixFmt,
	}).OverWriteOutput().WithInput(in).ErrorToStdOut()
	if c.FFmpegPath != "" {
		stream = stream.SetFfmpegPath(c.FFmpegPath)
	}
	return stream.Compile()
}

// Recorder pipes frames to an ffmpeg process that encodes them into a file.
// WriteFrame may be called from the render loop; encoding runs on its own
// goroutine.
type Recorder struct {
	cfg     Config
	frames  chan *Frame
	pool    sync.Pool
	pipe    *io.PipeWriter
	cmd     *exec.Cmd
	done    chan error
	pts     int64
	closeMu sync.Mutex
	closed  bool
}

// NewRecorder starts ffmpeg writing cfg.OutputFile.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.OutputFile == "" {
		return nil, fmt.Errorf("no output file specified")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid recording format %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}
	pr, pw := io.Pipe()
	r := &Recorder{
		cfg:    cfg,
		frames: make(chan *Frame, 5),
		pipe:   pw,
		cmd:    cfg.command(pr),
		done:   make(chan error, 1),
	}
	if err := r.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	glog.Infof("recording %dx%d@%d to %s with %s", cfg.Width, cfg.Height, cfg.FPS, cfg.OutputFile, r.cmd.String())
	go r.run(pr)
	return r, nil
}

func (r *Recorder) run(pr *io.PipeReader) {
	var werr error
	for f := range r.frames {
		if werr == nil {
			if _, err := r.pipe.Write(f.Pixels); err != nil {
				werr = fmt.Errorf("frame %d: %w", f.PTS, err)
				glog.Errorf("recorder: %v", werr)
			}
		}
		r.pool.Put(f)
	}
	r.pipe.Close()
	err := r.cmd.Wait()
	pr.Close()
	r.done <- errors.Join(werr, err)
}

// WriteFrame queues a copy of img. It blocks while the encoder is more than
// a few frames behind.
func (r *Recorder) WriteFrame(img *image.RGBA) error {
	if img.Rect.Dx() != r.cfg.Width || img.Rect.Dy() != r.cfg.Height {
		return fmt.Errorf("frame is %dx%d, recording %dx%d", img.Rect.Dx(), img.Rect.Dy(), r.cfg.Width, r.cfg.Height)
	}
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return ErrClosed
	}
	f, _ := r.pool.Get().(*Frame)
	if f == nil {
		f = &Frame{}
	}
	f.Pixels = append(f.Pixels[:0], packed(img)...)
	f.PTS = r.pts
	r.pts++
	r.frames <- f
	return nil
}

// packed returns img's pixels without row padding.
func packed(img *image.RGBA) []byte {
	w := img.Rect.Dx() * 4
	if img.Stride == w {
		return img.Pix[:w*img.Rect.Dy()]
	}
	out := make([]byte, 0, w*img.Rect.Dy())
	for y := 0; y < img.Rect.Dy(); y++ {
		out = append(out, img.Pix[y*img.Stride:y*img.Stride+w]...)
	}
	return out
}

// Frames is the number of frames queued so far.
func (r *Recorder) Frames() int64 {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	return r.pts
}

// Close flushes queued frames and waits for ffmpeg to finish the file.
func (r *Recorder) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.frames)
	r.closeMu.Unlock()

	err := <-r.done
	glog.Infof("recording finished: %d frames", r.pts)
	return err
}

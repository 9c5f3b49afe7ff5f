package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"

	"github.com/golang/glog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// chunkSamples is the number of samples delivered per chunk.
const chunkSamples = 1024

// FileInput decodes a media file's audio track with ffmpeg, paced at real
// time, as mono float32.
type FileInput struct {
	path       string
	ffmpegPath string
	sampleRate int
	loop       bool

	mu   sync.Mutex
	cmd  *exec.Cmd
	pipe *io.PipeReader
	done chan struct{}
}

// NewFileInput prepares a device reading path. An empty ffmpegPath uses the
// ffmpeg found on PATH.
func NewFileInput(path, ffmpegPath string, loop bool) *FileInput {
	return &FileInput{path: path, ffmpegPath: ffmpegPath, sampleRate: DefaultSampleRate, loop: loop}
}

func (d *FileInput) command(w io.Writer) *exec.Cmd {
	inputArgs := ffmpeg.KwArgs{"re": ""}
	if d.loop {
		inputArgs["stream_loop"] = "-1"
	}
	stream := ffmpeg.Input(d.path, inputArgs).
		Output("pipe:", ffmpeg.KwArgs{
			"f":   "f32le",
			"c:a": "pcm_f32le",
			"ac":  "1",
			"ar":  strconv.Itoa(d.sampleRate),
			"vn":  "",
		}).
		WithOutput(w).
		ErrorToStdOut()
	if d.ffmpegPath != "" {
		stream = stream.SetFfmpegPath(d.ffmpegPath)
	}
	return stream.Compile()
}

func (d *FileInput) Start() (<-chan []float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return nil, fmt.Errorf("audio file %s already started", d.path)
	}

	pr, pw := io.Pipe()
	cmd := d.command(pw)
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start ffmpeg for %s: %w", d.path, err)
	}
	d.cmd, d.pipe, d.done = cmd, pr, make(chan struct{})

	go func() {
		err := cmd.Wait()
		if err != nil {
			glog.V(1).Infof("ffmpeg audio decoder for %s exited: %v", d.path, err)
		}
		pw.CloseWithError(io.EOF)
	}()

	out := make(chan []float32, 16)
	go func() {
		defer close(out)
		defer close(d.done)
		buf := make([]byte, chunkSamples*4)
		for {
			n, err := io.ReadFull(pr, buf)
			if n >= 4 {
				out <- decodeF32LE(buf[:n-n%4])
			}
			if err != nil {
				return
			}
		}
	}()
	glog.Infof("audio file input: %s", d.path)
	return out, nil
}

func decodeF32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func (d *FileInput) Stop() error {
	d.mu.Lock()
	cmd, pipe, done := d.cmd, d.pipe, d.done
	d.cmd = nil
	d.mu.Unlock()
	if cmd == nil {
		return nil
	}
	pipe.Close()
	var err error
	if cmd.Process != nil {
		err = cmd.Process.Kill()
	}
	<-done
	return err
}

func (d *FileInput) SampleRate() int { return d.sampleRate }

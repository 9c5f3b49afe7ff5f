package inputs

import (
	"errors"
	"io"

	"github.com/richinsley/shadervj/audio"
)

// Kind names what a channel is currently showing.
type Kind string

const (
	KindEmpty        Kind = "empty"
	KindImage        Kind = "image"
	KindVideo        Kind = "video"
	KindCamera       Kind = "camera"
	KindAudio        Kind = "audio"
	KindNetworkVideo Kind = "network"
	KindBuiltin      Kind = "builtin"
)

// ErrSuperseded is reported by a load whose channel was reassigned before
// the load completed.
var ErrSuperseded = errors.New("channel load superseded")

// LoadResult is delivered once per load request.
type LoadResult struct {
	Width, Height int
	Kind          Kind
	Err           error
}

// Source is the content bound to a channel. The set of implementations is
// closed; Channel.update switches over all of them.
type Source interface {
	Kind() Kind
	// teardown releases everything the source owns except the GPU texture.
	teardown()
}

// EmptySource shows the default 1x1 black texture.
type EmptySource struct{}

// ImageSource is a static decoded image.
type ImageSource struct {
	Path string
}

// VideoSource plays a media file through an ffmpeg decoder.
type VideoSource struct {
	Path    string
	decoder *Decoder
	frames  *FrameBuffer
}

// CameraSource captures a local camera through an ffmpeg decoder.
type CameraSource struct {
	Device  string
	decoder *Decoder
	frames  *FrameBuffer
}

// AudioSource renders analyser output as a two row texture: frequency bins
// on row 0 and the waveform on row 1.
type AudioSource struct {
	FFTSize  int
	analyser *audio.Analyser
	freq     []uint8
	texels   []byte
}

// NetworkVideoSource shows frames delivered by a NetworkReceiver.
type NetworkVideoSource struct {
	Source string
	frames *FrameBuffer
	feed   io.Closer
}

// BuiltinSource is a procedural noise texture.
type BuiltinSource struct {
	Name string
}

func (EmptySource) Kind() Kind         { return KindEmpty }
func (ImageSource) Kind() Kind         { return KindImage }
func (*VideoSource) Kind() Kind        { return KindVideo }
func (*CameraSource) Kind() Kind       { return KindCamera }
func (*AudioSource) Kind() Kind        { return KindAudio }
func (*NetworkVideoSource) Kind() Kind { return KindNetworkVideo }
func (BuiltinSource) Kind() Kind       { return KindBuiltin }

func (EmptySource) teardown()   {}
func (ImageSource) teardown()   {}
func (BuiltinSource) teardown() {}

func (s *VideoSource) teardown() {
	if s.decoder != nil {
		s.decoder.Stop()
	}
}

func (s *CameraSource) teardown() {
	if s.decoder != nil {
		s.decoder.Stop()
	}
}

func (s *AudioSource) teardown() {
	if s.analyser != nil {
		s.analyser.Close()
	}
}

func (s *NetworkVideoSource) teardown() {
	if s.feed != nil {
		s.feed.Close()
	}
}

// FrequencyData returns the bins computed on the most recent update.
func (s *AudioSource) FrequencyData() []uint8 {
	return s.freq
}

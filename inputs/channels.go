package inputs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/richinsley/shadervj/audio"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/shader"
)

// NumChannels is the number of iChannel samplers.
const NumChannels = 4

// AudioOpener opens the device that feeds an audio channel.
type AudioOpener func() (audio.AudioDevice, error)

// DefaultAudioOpener opens the default microphone.
func DefaultAudioOpener() (audio.AudioDevice, error) {
	return MicrophoneOpener("")()
}

// MicrophoneOpener opens the input device whose name contains device.
func MicrophoneOpener(device string) AudioOpener {
	return func() (audio.AudioDevice, error) {
		m, err := audio.NewMicrophone(audio.DefaultSampleRate, device)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Config holds the collaborators a Set uses for live inputs.
type Config struct {
	FFmpegPath string
	Camera     CameraConfig
	// OpenAudio defaults to DefaultAudioOpener.
	OpenAudio AudioOpener
	// Receiver defaults to FFmpegReceiver.
	Receiver NetworkReceiver
	// Monitor, when set, plays audio files back while they feed a channel.
	Monitor *audio.PlayerConfig
}

// Channel is one iChannel slot.
type Channel struct {
	Index         int
	Texture       graphics.Texture
	Width, Height int
	Source        Source
}

// Resolution is the iChannelResolution value of the channel.
func (c *Channel) Resolution() [3]float32 {
	return [3]float32{float32(c.Width), float32(c.Height), 1}
}

// Binding is what a draw needs from a channel.
type Binding struct {
	Texture    graphics.Texture
	Resolution [3]float32
}

type prepared struct {
	width, height int
	format        graphics.TextureFormat
	pixels        []byte
	source        Source
}

type install struct {
	index  int
	gen    uint64
	prep   *prepared
	result chan LoadResult
}

// Set owns four channels. Loads run on their own goroutines and are
// installed by ProcessPending on the render thread; every other method must
// be called from the render thread.
type Set struct {
	dev   graphics.Device
	cfg   Config
	black graphics.Texture

	channels [NumChannels]Channel

	mu      sync.Mutex
	gens    [NumChannels]uint64
	pending []install
	closed  bool
}

// NewSet creates four empty channels showing a shared 1x1 black texture.
func NewSet(dev graphics.Device, cfg Config) (*Set, error) {
	if cfg.OpenAudio == nil {
		cfg.OpenAudio = DefaultAudioOpener
	}
	if cfg.Receiver == nil {
		cfg.Receiver = FFmpegReceiver{FFmpegPath: cfg.FFmpegPath}
	}
	if cfg.Camera.Width == 0 || cfg.Camera.Height == 0 {
		cfg.Camera.Width, cfg.Camera.Height = 640, 480
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 30
	}
	s := &Set{dev: dev, cfg: cfg}
	if err := s.InitTextures(); err != nil {
		return nil, err
	}
	return s, nil
}

// InitTextures (re)creates the default texture and resets every channel
// to it. After a context loss the old textures are gone, so nothing is
// deleted here.
func (s *Set) InitTextures() error {
	black, err := s.dev.CreateTexture(1, 1, graphics.RGBA8, []byte{0, 0, 0, 255})
	if err != nil {
		return fmt.Errorf("failed to create default channel texture: %w", err)
	}
	s.black = black
	for i := range s.channels {
		s.channels[i] = Channel{Index: i, Texture: black, Width: 1, Height: 1, Source: EmptySource{}}
	}
	return nil
}

// Restore rebuilds the channels after the GL context was lost. Live
// sources are stopped since their textures are gone; builtin channels are
// regenerated.
func (s *Set) Restore() error {
	builtins := s.Builtins()
	for i := range s.channels {
		if src := s.channels[i].Source; src != nil {
			src.teardown()
		}
	}
	if err := s.InitTextures(); err != nil {
		return err
	}
	for i, name := range builtins {
		if name == "" {
			continue
		}
		if err := s.LoadBuiltin(i, name); err != nil {
			return err
		}
	}
	return nil
}

// Channel returns a snapshot of channel i.
func (s *Set) Channel(i int) Channel {
	return s.channels[i]
}

// Bindings returns texture and resolution of every channel.
func (s *Set) Bindings() [NumChannels]Binding {
	var b [NumChannels]Binding
	for i := range s.channels {
		b[i] = Binding{Texture: s.channels[i].Texture, Resolution: s.channels[i].Resolution()}
	}
	return b
}

func (s *Set) bump(i int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[i]++
	return s.gens[i]
}

func (s *Set) current(i int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[i]
}

func (s *Set) enqueue(in install) {
	s.mu.Lock()
	if !s.closed {
		s.pending = append(s.pending, in)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	in.prep.source.teardown()
	in.result <- LoadResult{Kind: in.prep.source.Kind(), Err: ErrSuperseded}
}

func (s *Set) load(i int, kind Kind, prepare func() (*prepared, error)) <-chan LoadResult {
	res := make(chan LoadResult, 1)
	if i < 0 || i >= NumChannels {
		res <- LoadResult{Kind: kind, Err: fmt.Errorf("channel index %d out of range", i)}
		return res
	}
	gen := s.bump(i)
	go func() {
		p, err := prepare()
		if err != nil {
			glog.Warningf("channel %d: %s load failed: %v", i, kind, err)
			res <- LoadResult{Kind: kind, Err: err}
			return
		}
		s.enqueue(install{index: i, gen: gen, prep: p, result: res})
	}()
	return res
}

// ProcessPending installs completed loads. Loads superseded by a newer
// request for the same channel are torn down and report ErrSuperseded.
func (s *Set) ProcessPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, in := range pending {
		p := in.prep
		kind := p.source.Kind()
		if in.gen != s.current(in.index) {
			p.source.teardown()
			in.result <- LoadResult{Kind: kind, Err: ErrSuperseded}
			continue
		}
		tex, err := s.dev.CreateTexture(p.width, p.height, p.format, p.pixels)
		if err != nil {
			p.source.teardown()
			in.result <- LoadResult{Kind: kind, Err: err}
			continue
		}
		s.teardown(in.index)
		s.channels[in.index] = Channel{Index: in.index, Texture: tex, Width: p.width, Height: p.height, Source: p.source}
		glog.Infof("channel %d: installed %s %dx%d", in.index, kind, p.width, p.height)
		in.result <- LoadResult{Width: p.width, Height: p.height, Kind: kind}
	}
}

// teardown stops channel i's source and frees its texture, leaving the
// channel empty.
func (s *Set) teardown(i int) {
	ch := &s.channels[i]
	if ch.Source != nil {
		ch.Source.teardown()
	}
	if ch.Texture != 0 && ch.Texture != s.black {
		s.dev.DeleteTexture(ch.Texture)
	}
	*ch = Channel{Index: i, Texture: s.black, Width: 1, Height: 1, Source: EmptySource{}}
}

// Clear resets channel i to black and abandons any load in flight for it.
func (s *Set) Clear(i int) {
	if i < 0 || i >= NumChannels {
		return
	}
	s.bump(i)
	s.teardown(i)
}

// LoadImage decodes an image file into channel i.
func (s *Set) LoadImage(i int, path string) <-chan LoadResult {
	return s.load(i, KindImage, func() (*prepared, error) {
		img, err := DecodeImageFile(path)
		if err != nil {
			return nil, err
		}
		return &prepared{
			width:  img.Rect.Dx(),
			height: img.Rect.Dy(),
			format: graphics.RGBA8,
			pixels: img.Pix,
			source: ImageSource{Path: path},
		}, nil
	})
}

// LoadVideo plays a looping media file in channel i.
func (s *Set) LoadVideo(i int, path string) <-chan LoadResult {
	return s.load(i, KindVideo, func() (*prepared, error) {
		fb := &FrameBuffer{}
		dec, err := OpenVideo(path, s.cfg.FFmpegPath, fb)
		if err != nil {
			return nil, err
		}
		return &prepared{
			width: dec.Width, height: dec.Height, format: graphics.RGBA8,
			source: &VideoSource{Path: path, decoder: dec, frames: fb},
		}, nil
	})
}

// LoadCamera captures the configured camera into channel i.
func (s *Set) LoadCamera(i int) <-chan LoadResult {
	cfg := s.cfg.Camera
	return s.load(i, KindCamera, func() (*prepared, error) {
		fb := &FrameBuffer{}
		dec, err := OpenCamera(cfg, s.cfg.FFmpegPath, fb)
		if err != nil {
			return nil, err
		}
		return &prepared{
			width: dec.Width, height: dec.Height, format: graphics.RGBA8,
			source: &CameraSource{Device: cfg.Device, decoder: dec, frames: fb},
		}, nil
	})
}

// LoadAudio feeds channel i from the configured audio device.
func (s *Set) LoadAudio(i, fftSize int) <-chan LoadResult {
	return s.loadAudio(i, fftSize, s.cfg.OpenAudio)
}

// LoadAudioFile feeds channel i from the audio track of a media file.
func (s *Set) LoadAudioFile(i, fftSize int, path string) <-chan LoadResult {
	return s.loadAudio(i, fftSize, FileAudioOpener(path, s.cfg.FFmpegPath, s.cfg.Monitor))
}

// FileAudioOpener opens a looping decoder of path. With monitor set the
// audio is also played back.
func FileAudioOpener(path, ffmpegPath string, monitor *audio.PlayerConfig) AudioOpener {
	return func() (audio.AudioDevice, error) {
		var dev audio.AudioDevice = audio.NewFileInput(path, ffmpegPath, true)
		if monitor != nil {
			pc := *monitor
			if pc.FFmpegPath == "" {
				pc.FFmpegPath = ffmpegPath
			}
			dev = audio.Monitor(dev, audio.NewPlayer(pc))
		}
		return dev, nil
	}
}

func (s *Set) loadAudio(i, fftSize int, open AudioOpener) <-chan LoadResult {
	return s.load(i, KindAudio, func() (*prepared, error) {
		a, err := audio.NewAnalyser(fftSize)
		if err != nil {
			return nil, err
		}
		dev, err := open()
		if err != nil {
			return nil, fmt.Errorf("failed to open audio device: %w", err)
		}
		if err := a.Attach(dev); err != nil {
			return nil, errors.Join(err, dev.Stop())
		}
		bins := a.FrequencyBinCount()
		src := &AudioSource{
			FFTSize:  fftSize,
			analyser: a,
			freq:     make([]uint8, bins),
			texels:   make([]byte, bins*2),
		}
		return &prepared{width: bins, height: 2, format: graphics.R8, pixels: src.texels, source: src}, nil
	})
}

// LoadNetworkVideo connects channel i to a network video source. Discovery
// gives up after timeout.
func (s *Set) LoadNetworkVideo(i int, source string, timeout time.Duration) <-chan LoadResult {
	return s.load(i, KindNetworkVideo, func() (*prepared, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fb := &FrameBuffer{}
		feed, err := s.cfg.Receiver.Connect(ctx, source, fb)
		if err != nil {
			return nil, err
		}
		return &prepared{
			width: 1, height: 1, format: graphics.RGBA8, pixels: []byte{0, 0, 0, 255},
			source: &NetworkVideoSource{Source: source, frames: fb, feed: feed},
		}, nil
	})
}

// LoadBuiltin installs a freshly generated noise texture synchronously.
func (s *Set) LoadBuiltin(i int, name string) error {
	if i < 0 || i >= NumChannels {
		return fmt.Errorf("channel index %d out of range", i)
	}
	tex, b, err := shader.CreateBuiltinTexture(s.dev, name)
	if err != nil {
		return err
	}
	s.bump(i)
	s.teardown(i)
	s.channels[i] = Channel{Index: i, Texture: tex, Width: b.Width, Height: b.Height, Source: BuiltinSource{Name: name}}
	return nil
}

// Update refreshes live textures for this frame.
func (s *Set) Update() {
	for i := range s.channels {
		ch := &s.channels[i]
		switch src := ch.Source.(type) {
		case EmptySource, ImageSource, BuiltinSource:
		case *VideoSource:
			s.uploadFrame(ch, src.frames)
		case *CameraSource:
			s.uploadFrame(ch, src.frames)
		case *NetworkVideoSource:
			s.uploadFrame(ch, src.frames)
		case *AudioSource:
			bins := len(src.freq)
			src.analyser.ByteFrequencyData(src.freq)
			copy(src.texels, src.freq)
			src.analyser.ByteTimeDomainData(src.texels[bins:])
			s.dev.UpdateTexture(ch.Texture, bins, 2, graphics.R8, src.texels)
		default:
			glog.Errorf("channel %d: unhandled source %T", i, src)
		}
	}
}

func (s *Set) uploadFrame(ch *Channel, fb *FrameBuffer) {
	w, h, pix, ok := fb.Take()
	if !ok {
		return
	}
	s.dev.UpdateTexture(ch.Texture, w, h, graphics.RGBA8, pix)
	ch.Width, ch.Height = w, h
}

// Bind binds channel i's texture to texture unit i.
func (s *Set) Bind() {
	for i := range s.channels {
		s.dev.BindTexture(i, s.channels[i].Texture)
	}
}

// FirstAudio returns the lowest numbered audio channel's source.
func (s *Set) FirstAudio() (*AudioSource, bool) {
	for i := range s.channels {
		if a, ok := s.channels[i].Source.(*AudioSource); ok {
			return a, true
		}
	}
	return nil, false
}

// Builtins lists the builtin texture names per channel, empty where the
// channel holds something else.
func (s *Set) Builtins() [NumChannels]string {
	var names [NumChannels]string
	for i := range s.channels {
		if b, ok := s.channels[i].Source.(BuiltinSource); ok {
			names[i] = b.Name
		}
	}
	return names
}

// Close tears down every channel and any pending load.
func (s *Set) Close() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, in := range pending {
		in.prep.source.teardown()
		in.result <- LoadResult{Kind: in.prep.source.Kind(), Err: ErrSuperseded}
	}
	for i := range s.channels {
		s.teardown(i)
	}
	s.dev.DeleteTexture(s.black)
	s.black = 0
}

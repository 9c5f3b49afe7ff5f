package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/gordonklaus/portaudio"
)

// Microphone captures a PortAudio input device as mono samples.
type Microphone struct {
	sampleRate int
	device     string

	mu      sync.Mutex
	active  bool // holds a PortAudio reference
	stream  *portaudio.Stream
	out     chan []float32
	dropped int
}

// NewMicrophone prepares capture from the input device whose name contains
// device, ignoring case. An empty device selects the host default.
func NewMicrophone(sampleRate int, device string) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &Microphone{sampleRate: sampleRate, device: device, active: true}, nil
}

func (m *Microphone) inputDevice() (*portaudio.DeviceInfo, error) {
	if m.device == "" {
		host, err := portaudio.DefaultHostApi()
		if err != nil {
			return nil, fmt.Errorf("no default audio host: %w", err)
		}
		if host.DefaultInputDevice == nil {
			return nil, fmt.Errorf("no default input device")
		}
		return host.DefaultInputDevice, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}
	want := strings.ToLower(m.device)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", m.device)
}

// capture runs on the PortAudio thread and must not block.
func (m *Microphone) capture(in []float32) {
	chunk := make([]float32, len(in))
	copy(chunk, in)
	select {
	case m.out <- chunk:
	default:
		m.dropped++
		if m.dropped%100 == 1 {
			glog.Warningf("microphone: consumer is behind, dropped %d chunks", m.dropped)
		}
	}
}

func (m *Microphone) Start() (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil, fmt.Errorf("microphone already started")
	}
	if !m.active {
		if err := portaudio.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
		}
		m.active = true
	}
	dev, err := m.inputDevice()
	if err != nil {
		return nil, err
	}

	p := portaudio.HighLatencyParameters(dev, nil)
	p.Input.Channels = 1
	p.SampleRate = float64(m.sampleRate)
	m.out = make(chan []float32, 16)
	stream, err := portaudio.OpenStream(p, m.capture)
	if err == nil {
		if err = stream.Start(); err != nil {
			stream.Close()
		}
	}
	if err != nil {
		close(m.out)
		return nil, fmt.Errorf("failed to open %q: %w", dev.Name, err)
	}
	m.stream = stream
	glog.Infof("microphone: capturing %q at %dHz", dev.Name, m.sampleRate)
	return m.out, nil
}

// Stop closes the stream and the sample channel, then releases PortAudio.
// It also releases PortAudio for a microphone that never started.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.stream != nil {
		err = m.stream.Close()
		m.stream = nil
		close(m.out)
	}
	if m.active {
		m.active = false
		err = errors.Join(err, portaudio.Terminate())
	}
	return err
}

func (m *Microphone) SampleRate() int { return m.sampleRate }

package audio

import (
	"fmt"
	"math"
	"sync"

	"github.com/golang/glog"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	minDecibels     = -100.0
	maxDecibels     = -30.0
	smoothingFactor = 0.8
)

// Analyser turns a stream of samples into Web Audio style byte frequency
// and waveform data. Samples are pushed by a listener goroutine; the
// Get methods are called from the render thread.
type Analyser struct {
	fftSize int
	window  []float64

	mu       sync.Mutex
	history  []float32
	pos      int
	smoothed []float64

	// render thread scratch
	snapshot []float32
	input    []float64

	device AudioDevice
	done   chan struct{}
}

// NewAnalyser creates an analyser with the given power-of-two FFT size.
func NewAnalyser(fftSize int) (*Analyser, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d is not a power of two >= 32", fftSize)
	}
	return &Analyser{
		fftSize:  fftSize,
		window:   window.Blackman(fftSize),
		history:  make([]float32, fftSize),
		smoothed: make([]float64, fftSize/2),
		snapshot: make([]float32, fftSize),
		input:    make([]float64, fftSize),
	}, nil
}

// Attach starts dev and feeds its samples into the analyser until Close.
func (a *Analyser) Attach(dev AudioDevice) error {
	ch, err := dev.Start()
	if err != nil {
		return fmt.Errorf("could not start audio device: %w", err)
	}
	a.device = dev
	if ch == nil {
		return nil
	}
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		for samples := range ch {
			a.Write(samples)
		}
		glog.V(1).Infof("audio analyser: input closed")
	}()
	return nil
}

// Write appends samples to the analysis window.
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.history[a.pos] = s
		a.pos = (a.pos + 1) % len(a.history)
	}
}

// FFTSize returns the analysis window length.
func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// recent copies the window in chronological order into the snapshot
// buffer, which is overwritten by the next call.
func (a *Analyser) recent() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := copy(a.snapshot, a.history[a.pos:])
	copy(a.snapshot[n:], a.history[:a.pos])
	return a.snapshot
}

// ByteFrequencyData fills dst with smoothed magnitudes mapped from
// [-100dB, -30dB] to [0, 255].
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	for i, s := range a.recent() {
		a.input[i] = float64(s) * a.window[i]
	}
	spectrum := fft.FFTReal(a.input)

	n := min(len(dst), a.FrequencyBinCount())
	scale := 1.0 / float64(a.fftSize)
	for i := 0; i < a.FrequencyBinCount(); i++ {
		mag := math.Hypot(real(spectrum[i]), imag(spectrum[i])) * scale
		a.smoothed[i] = smoothingFactor*a.smoothed[i] + (1-smoothingFactor)*mag
		if i >= n {
			continue
		}
		db := 20 * math.Log10(a.smoothed[i]+1e-12)
		v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
		dst[i] = uint8(math.Max(0, math.Min(255, math.Floor(v))))
	}
}

// ByteTimeDomainData fills dst with the most recent samples mapped from
// [-1, 1] to [0, 255].
func (a *Analyser) ByteTimeDomainData(dst []uint8) {
	samples := a.recent()
	samples = samples[max(0, len(samples)-len(dst)):]
	for i, s := range samples {
		v := 128 * (1 + float64(s))
		dst[i] = uint8(math.Max(0, math.Min(255, math.Floor(v))))
	}
}

// Reset clears sample history and smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.history)
	clear(a.smoothed)
	a.pos = 0
}

// Close stops the attached device and waits for the listener to exit.
func (a *Analyser) Close() error {
	if a.device == nil {
		return nil
	}
	err := a.device.Stop()
	if a.done != nil {
		<-a.done
	}
	a.device = nil
	return err
}

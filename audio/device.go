package audio

// Microphone capture needs the portaudio library (portaudio19-dev on
// debian, portaudio from brew on macOS). File input and playback need ffmpeg.

// DefaultSampleRate is used by every device unless configured otherwise.
const DefaultSampleRate = 44100

// AudioDevice is a producer of mono float32 sample chunks.
type AudioDevice interface {
	// Start begins audio processing and returns a receive-only channel of audio chunks.
	Start() (<-chan []float32, error)
	// Stop terminates the audio stream and closes the channel.
	Stop() error
	// SampleRate returns the sample rate of the device.
	SampleRate() int
}

// NullDevice is a silent device.
type NullDevice struct {
	rate int
}

func NewNullDevice(sampleRate int) *NullDevice {
	return &NullDevice{rate: sampleRate}
}

// Start returns a nil channel, which blocks forever on receive.
func (d *NullDevice) Start() (<-chan []float32, error) {
	return nil, nil
}

func (d *NullDevice) Stop() error { return nil }

func (d *NullDevice) SampleRate() int { return d.rate }

package audio

import (
	"errors"
	"sync"
)

// Tee copies every chunk read from input to each output and closes the
// outputs once input closes. Each output gets its own copy of the chunk.
// A send blocks until that output accepts it, so the slowest consumer sets
// the pace.
func Tee(input <-chan []float32, outputs ...chan<- []float32) {
	go func() {
		for data := range input {
			for _, out := range outputs {
				c := make([]float32, len(data))
				copy(c, data)
				out <- c
			}
		}
		for _, out := range outputs {
			close(out)
		}
	}()
}

// monitored is a device whose samples are also played back.
type monitored struct {
	AudioDevice
	player *Player
	once   sync.Once
}

// Monitor wraps dev so that starting it also plays its audio through
// player, letting a file that drives an audio channel be heard.
func Monitor(dev AudioDevice, player *Player) AudioDevice {
	return &monitored{AudioDevice: dev, player: player}
}

func (m *monitored) Start() (<-chan []float32, error) {
	in, err := m.AudioDevice.Start()
	if err != nil || in == nil {
		return in, err
	}
	out := make(chan []float32, 16)
	play := make(chan []float32, 16)
	if err := m.player.Start(play); err != nil {
		return nil, errors.Join(err, m.AudioDevice.Stop())
	}
	Tee(in, out, play)
	return out, nil
}

func (m *monitored) Stop() error {
	var err error
	m.once.Do(func() {
		err = errors.Join(m.AudioDevice.Stop(), m.player.Stop())
	})
	return err
}

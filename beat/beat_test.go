package beat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bins(level uint8) []uint8 {
	b := make([]uint8, 64)
	for i := range b {
		b[i] = level
	}
	return b
}

// feed drives d at 60fps for the given duration, with a loud frame every
// period. It returns the number of detected beats.
func feed(d *Detector, start time.Time, period, total time.Duration) int {
	loud, quiet := bins(200), bins(20)
	periodFrames := int(period * 60 / time.Second)
	frames := int(total * 60 / time.Second)
	n := 0
	for i := 0; i < frames; i++ {
		now := start.Add(time.Duration(i) * time.Second / 60)
		b := quiet
		if i >= 30 && i%periodFrames == 0 {
			b = loud
		}
		if d.UpdateAt(b, now) {
			n++
		}
	}
	return n
}

func TestInitialState(t *testing.T) {
	d := NewDetector()
	assert.Equal(t, 120.0, d.BPM())
	assert.False(t, d.UpdateAt(bins(255), time.Now()), "no detection before history fills")
}

func TestSpikeOnTenthFrame(t *testing.T) {
	d := NewDetector()
	start := time.Unix(0, 0)
	for i := 0; i < 9; i++ {
		assert.False(t, d.UpdateAt(bins(20), start.Add(time.Duration(i)*time.Second/60)))
	}
	// mean 38, stddev 54: threshold 113.6
	assert.True(t, d.UpdateAt(bins(200), start.Add(9*time.Second/60)))
}

func TestLoudFrameBeforeTenthIsIgnored(t *testing.T) {
	d := NewDetector()
	start := time.Unix(0, 0)
	for i := 0; i < 8; i++ {
		d.UpdateAt(bins(20), start.Add(time.Duration(i)*time.Second/60))
	}
	assert.False(t, d.UpdateAt(bins(200), start.Add(8*time.Second/60)), "ninth frame")
}

func TestConvergesTo120(t *testing.T) {
	d := NewDetector()
	n := feed(d, time.Unix(0, 0), 500*time.Millisecond, 20*time.Second)
	assert.Greater(t, n, 30)
	assert.InDelta(t, 120, d.BPM(), 2)
}

func TestConvergesTo150(t *testing.T) {
	d := NewDetector()
	feed(d, time.Unix(0, 0), 400*time.Millisecond, 20*time.Second)
	assert.InDelta(t, 150, d.BPM(), 2)
}

func TestBPMStaysInRange(t *testing.T) {
	d := NewDetector()
	feed(d, time.Unix(0, 0), 1500*time.Millisecond, 60*time.Second)
	assert.GreaterOrEqual(t, d.BPM(), 60.0)
	assert.InDelta(t, 60, d.BPM(), 2)
}

func TestMinimumBeatSpacing(t *testing.T) {
	d := NewDetector()
	start := time.Unix(0, 0)
	loud, quiet := bins(200), bins(20)
	for i := 0; i < 20; i++ {
		d.UpdateAt(quiet, start.Add(time.Duration(i)*10*time.Millisecond))
	}

	var beats []time.Time
	base := start.Add(time.Second)
	for i := 0; i < 10; i++ {
		now := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if d.UpdateAt(loud, now) {
			beats = append(beats, now)
		}
		d.UpdateAt(quiet, now.Add(50*time.Millisecond))
	}
	require.NotEmpty(t, beats)
	for i := 1; i < len(beats); i++ {
		assert.GreaterOrEqual(t, beats[i].Sub(beats[i-1]), 300*time.Millisecond)
	}
}

func TestQuietInputNeverBeats(t *testing.T) {
	d := NewDetector()
	start := time.Unix(0, 0)
	for i := 0; i < 200; i++ {
		level := uint8(5 + i%3)
		assert.False(t, d.UpdateAt(bins(level), start.Add(time.Duration(i)*time.Second/60)))
	}
	assert.Equal(t, 120.0, d.BPM())
}

func TestReset(t *testing.T) {
	d := NewDetector()
	feed(d, time.Unix(0, 0), 400*time.Millisecond, 10*time.Second)
	require.NotEqual(t, 120.0, d.BPM())
	d.Reset()
	assert.Equal(t, 120.0, d.BPM())
	assert.False(t, d.UpdateAt(bins(255), time.Unix(100, 0)))
}

// Package beat estimates tempo from the low-frequency energy of an audio
// analyser's byte frequency data.
package beat

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// bassBins is how many of the lowest frequency bins make up the energy.
	bassBins = 11
	// historySize is roughly one second of frames at 43fps.
	historySize = 43
	minHistory  = 10
	sensitivity = 1.4
	minEnergy   = 10.0
	minInterval = 300 * time.Millisecond
	maxBeats    = 30
	minBPM      = 60.0
	maxBPM      = 200.0
	smoothing   = 0.15
)

// DefaultBPM is reported before any beat has been detected.
const DefaultBPM = 120.0

// Detector is a streaming onset detector. It is not safe for concurrent use;
// the render loop owns it.
type Detector struct {
	history []float64
	next    int
	filled  int

	beats    []time.Time
	lastBeat time.Time
	bpm      float64
}

// NewDetector returns a detector reporting 120 BPM until it has heard enough.
func NewDetector() *Detector {
	d := &Detector{}
	d.Reset()
	return d
}

// Reset drops all history and returns the estimate to 120 BPM.
func (d *Detector) Reset() {
	d.history = make([]float64, historySize)
	d.next = 0
	d.filled = 0
	d.beats = d.beats[:0]
	d.lastBeat = time.Time{}
	d.bpm = DefaultBPM
}

// BPM returns the smoothed tempo estimate.
func (d *Detector) BPM() float64 {
	return d.bpm
}

// Update feeds one frame of frequency bins observed now.
func (d *Detector) Update(bins []uint8) bool {
	return d.UpdateAt(bins, time.Now())
}

// UpdateAt feeds one frame of frequency bins observed at now and reports
// whether it was classified as a beat.
func (d *Detector) UpdateAt(bins []uint8, now time.Time) bool {
	energy := bassEnergy(bins)
	d.history[d.next] = energy
	d.next = (d.next + 1) % historySize
	if d.filled < historySize {
		d.filled++
	}
	if d.filled < minHistory {
		return false
	}

	// The window includes the current frame.
	mean, std := stat.PopMeanStdDev(d.history[:d.filled], nil)
	isBeat := energy > mean+sensitivity*std && energy > minEnergy &&
		(d.lastBeat.IsZero() || now.Sub(d.lastBeat) >= minInterval)
	if isBeat {
		d.recordBeat(now)
	}
	return isBeat
}

func (d *Detector) recordBeat(now time.Time) {
	d.lastBeat = now
	d.beats = append(d.beats, now)
	if len(d.beats) > maxBeats {
		d.beats = d.beats[len(d.beats)-maxBeats:]
	}
	if len(d.beats) < 2 {
		return
	}

	intervals := make([]float64, 0, len(d.beats)-1)
	for i := 1; i < len(d.beats); i++ {
		intervals = append(intervals, float64(d.beats[i].Sub(d.beats[i-1]).Milliseconds()))
	}
	m := median(intervals)
	if m <= 0 {
		return
	}
	raw := math.Min(maxBPM, math.Max(minBPM, 60000/m))
	d.bpm += smoothing * (raw - d.bpm)
}

// bassEnergy is the RMS of the lowest bins.
func bassEnergy(bins []uint8) float64 {
	n := min(len(bins), bassBins)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins[:n] {
		v := float64(b)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

package renderer

import "time"

// Clock is a pausable playback clock whose rate is scaled by a speed
// factor. Changing speed or play state never makes time jump.
type Clock struct {
	now     func() time.Time
	last    time.Time
	elapsed float64
	ticked  float64
	speed   float64
	playing bool
}

// NewClock returns a playing clock at speed 1. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, last: now(), speed: 1, playing: true}
}

func (c *Clock) sync() {
	now := c.now()
	if c.playing {
		c.elapsed += now.Sub(c.last).Seconds() * c.speed
	}
	c.last = now
}

// Tick advances the clock and returns the playback time and the time
// elapsed since the previous Tick.
func (c *Clock) Tick() (t, dt float64) {
	c.sync()
	dt = c.elapsed - c.ticked
	c.ticked = c.elapsed
	return c.elapsed, dt
}

// Time returns the current playback time in seconds.
func (c *Clock) Time() float64 {
	c.sync()
	return c.elapsed
}

func (c *Clock) Playing() bool { return c.playing }

func (c *Clock) Speed() float64 { return c.speed }

func (c *Clock) Play() {
	c.sync()
	c.playing = true
}

func (c *Clock) Pause() {
	c.sync()
	c.playing = false
}

// Toggle flips between playing and paused and returns the new state.
func (c *Clock) Toggle() bool {
	if c.playing {
		c.Pause()
	} else {
		c.Play()
	}
	return c.playing
}

// SetSpeed changes the rate from now on.
func (c *Clock) SetSpeed(speed float64) {
	c.sync()
	c.speed = speed
}

// Reset zeroes playback time without changing the play state.
func (c *Clock) Reset() {
	c.sync()
	c.elapsed = 0
	c.ticked = 0
}

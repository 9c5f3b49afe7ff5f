package renderer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestClockPauseKeepsTimeContinuous(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(ft.Now)

	ft.Advance(2 * time.Second)
	assert.InDelta(t, 2.0, c.Time(), 1e-9)

	c.Pause()
	ft.Advance(5 * time.Second)
	assert.InDelta(t, 2.0, c.Time(), 1e-9)
	assert.False(t, c.Playing())

	c.Play()
	ft.Advance(time.Second)
	assert.InDelta(t, 3.0, c.Time(), 1e-9)

	assert.False(t, c.Toggle())
	ft.Advance(time.Second)
	assert.True(t, c.Toggle())
	assert.InDelta(t, 3.0, c.Time(), 1e-9)
}

func TestClockSpeedAndTick(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(ft.Now)

	ft.Advance(time.Second)
	c.SetSpeed(0.5)
	ft.Advance(2 * time.Second)
	tm, dt := c.Tick()
	assert.InDelta(t, 2.0, tm, 1e-9)
	assert.InDelta(t, 2.0, dt, 1e-9)

	ft.Advance(100 * time.Millisecond)
	_, dt = c.Tick()
	assert.InDelta(t, 0.05, dt, 1e-9)

	c.Pause()
	ft.Advance(time.Second)
	_, dt = c.Tick()
	assert.Zero(t, dt)
}

func TestClockResetKeepsPlayState(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(ft.Now)
	ft.Advance(3 * time.Second)
	c.Pause()
	c.Reset()
	assert.Zero(t, c.Time())
	assert.False(t, c.Playing())
	tm, dt := c.Tick()
	assert.Zero(t, tm)
	assert.Zero(t, dt)
}

func TestErrorReporterThrottles(t *testing.T) {
	ft := newFakeTime()
	var got []error
	r := NewErrorReporter(2*time.Second, func(err error) { got = append(got, err) })
	r.now = ft.Now

	boom := errors.New("boom")
	assert.True(t, r.Report(boom))
	ft.Advance(time.Second)
	assert.False(t, r.Report(boom))
	assert.False(t, r.Report(boom))
	ft.Advance(time.Second)
	assert.True(t, r.Report(boom))

	require.Len(t, got, 2)
	assert.ErrorIs(t, got[1], boom)
	assert.Contains(t, got[1].Error(), "2 similar errors suppressed")
}

type countingPresenter struct {
	hz         int
	frames     int
	closeAfter int
}

func (p *countingPresenter) ShouldClose() bool { return p.closeAfter > 0 && p.frames >= p.closeAfter }
func (p *countingPresenter) EndFrame()         { p.frames++ }
func (p *countingPresenter) RefreshRate() int  { return p.hz }

func TestLoopRunsUntilClose(t *testing.T) {
	p := &countingPresenter{hz: 1000, closeAfter: 3}
	calls := 0
	err := Loop(context.Background(), p, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestLoopStops(t *testing.T) {
	stop := errors.New("stop")
	p := &countingPresenter{hz: 1000}
	assert.ErrorIs(t, Loop(context.Background(), p, func() error { return stop }), stop)
	assert.Zero(t, p.frames)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = &countingPresenter{hz: 1}
	assert.ErrorIs(t, Loop(ctx, p, func() error { return nil }), context.Canceled)
	assert.Equal(t, 1, p.frames)
}

func TestFrameInterval(t *testing.T) {
	assert.Equal(t, time.Second/60, FrameInterval(0))
	assert.Equal(t, time.Second/144, FrameInterval(144))
}

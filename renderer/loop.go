package renderer

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// FallbackRefreshRate is used when the display does not report its rate.
const FallbackRefreshRate = 60

// Presenter is the part of graphics.Context the frame loop drives.
type Presenter interface {
	ShouldClose() bool
	EndFrame()
	RefreshRate() int
}

// FrameInterval is the frame period for a refresh rate in Hz.
func FrameInterval(hz int) time.Duration {
	if hz <= 0 {
		hz = FallbackRefreshRate
	}
	return time.Second / time.Duration(hz)
}

// Loop calls frame and presents the result once per display refresh until
// the presenter closes, ctx is done or frame fails. The refresh rate is
// queried once. It must run on the goroutine owning the GL context.
func Loop(ctx context.Context, p Presenter, frame func() error) error {
	hz := p.RefreshRate()
	if hz <= 0 {
		glog.Infof("display refresh rate unknown, throttling to %d Hz", FallbackRefreshRate)
		hz = FallbackRefreshRate
	}
	ticker := time.NewTicker(FrameInterval(hz))
	defer ticker.Stop()

	for !p.ShouldClose() {
		if err := frame(); err != nil {
			return err
		}
		p.EndFrame()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

package graphics

// Context is the window system side of a GL context: presentation, input and
// timing. The GPU calls themselves go through Device.
type Context interface {
	MakeCurrent()
	Shutdown()
	ShouldClose() bool
	EndFrame()
	GetFramebufferSize() (int, int)
	Time() float64
	// GetMouseInput returns x, y, clickX, clickY in framebuffer pixels with a
	// bottom-left origin. The click pair is negated while the button is up.
	GetMouseInput() [4]float32
	// RefreshRate is the monitor refresh rate in Hz, or 0 when unknown.
	RefreshRate() int
}

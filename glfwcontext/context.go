package glfwcontext

import (
	"runtime"

	glfw "github.com/go-gl/glfw/v3.3/glfw"
	"github.com/golang/glog"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/options"
)

// Context is a GLFW window with a GL 4.1 core context. It tracks the mouse
// for GetMouseInput.
type Context struct {
	window *glfw.Window
	mouse  mouseTracker
	keys   map[glfw.Key]func()
}

var _ graphics.Context = (*Context)(nil)

// New creates a window sized from the options.
func New(opts *options.ShaderOptions, title string, visible bool) (*Context, error) {
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)

	if *opts.BitDepth > 8 {
		glfw.WindowHint(glfw.RedBits, 16)
		glfw.WindowHint(glfw.GreenBits, 16)
		glfw.WindowHint(glfw.BlueBits, 16)
	}

	if visible {
		glfw.WindowHint(glfw.Resizable, glfw.True)
	} else {
		glfw.WindowHint(glfw.Visible, glfw.False)
	}

	win, err := glfw.CreateWindow(*opts.Width, *opts.Height, title, nil, nil)
	if err != nil {
		return nil, err
	}

	c := &Context{window: win, keys: make(map[glfw.Key]func())}
	win.SetKeyCallback(c.onKey)
	return c, nil
}

// RegisterKeyCallback runs f whenever key is pressed. Escape always
// closes the window.
func (c *Context) RegisterKeyCallback(key glfw.Key, f func()) {
	c.keys[key] = f
}

func (c *Context) onKey(w *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if action != glfw.Press {
		return
	}
	if key == glfw.KeyEscape {
		w.SetShouldClose(true)
	}
	if f, ok := c.keys[key]; ok {
		f()
	}
}

// mouseTracker encodes pointer state as iMouse: the position, then the
// position of the last press, negated while the button is up.
type mouseTracker struct {
	click [2]float32
	down  bool
}

func (m *mouseTracker) update(x, y float32, down bool) [4]float32 {
	if down && !m.down {
		m.click = [2]float32{x, y}
	}
	m.down = down
	cx, cy := m.click[0], m.click[1]
	if !down {
		cx, cy = -cx, -cy
	}
	return [4]float32{x, y, cx, cy}
}

// GetMouseInput returns iMouse in framebuffer pixels with a bottom-left
// origin.
func (c *Context) GetMouseInput() [4]float32 {
	if c.window == nil {
		return [4]float32{}
	}
	fbW, fbH := c.window.GetFramebufferSize()
	winW, winH := c.window.GetSize()
	sx, sy := 1.0, 1.0
	if winW > 0 && winH > 0 {
		sx = float64(fbW) / float64(winW)
		sy = float64(fbH) / float64(winH)
	}
	cx, cy := c.window.GetCursorPos()
	x := float32(cx * sx)
	y := float32(fbH) - float32(cy*sy)
	return c.mouse.update(x, y, c.window.GetMouseButton(glfw.MouseButtonLeft) == glfw.Press)
}

// RefreshRate reports the refresh rate of the monitor the window is on,
// falling back to the primary monitor. It returns 0 when unknown.
func (c *Context) RefreshRate() int {
	mon := c.window.GetMonitor()
	if mon == nil {
		mon = glfw.GetPrimaryMonitor()
	}
	if mon == nil {
		return 0
	}
	mode := mon.GetVideoMode()
	if mode == nil {
		return 0
	}
	return mode.RefreshRate
}

// MakeCurrent makes the context current for the calling goroutine.
func (c *Context) MakeCurrent() {
	c.window.MakeContextCurrent()
}

// SetTitle changes the window title.
func (c *Context) SetTitle(title string) {
	c.window.SetTitle(title)
}

// Shutdown destroys the window.
func (c *Context) Shutdown() {
	c.window.Destroy()
}

func (c *Context) ShouldClose() bool {
	return c.window.ShouldClose()
}

func (c *Context) EndFrame() {
	c.window.SwapBuffers()
	glfw.PollEvents()
}

func (c *Context) GetFramebufferSize() (int, int) {
	return c.window.GetFramebufferSize()
}

func (c *Context) Time() float64 {
	return glfw.GetTime()
}

// InitGraphics initializes GLFW and locks the calling goroutine to its OS
// thread. Must be called from the main goroutine.
func InitGraphics() error {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return err
	}
	glog.Infof("GLFW initialized")
	return nil
}

// TerminateGraphics shuts down GLFW. Must be called from the main thread.
func TerminateGraphics() {
	glfw.Terminate()
	glog.Infof("GLFW terminated")
}

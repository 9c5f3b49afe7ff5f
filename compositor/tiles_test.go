package compositor

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinsley/shadervj/audio"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/graphics/graphicstest"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const levelShader = `// @param level float 1.0 [0.0, 1.0]
void mainImage(out vec4 fragColor, in vec2 fragCoord) {
    fragColor = vec4(level, 0.0, 0.0, 1.0);
}
`

const brokenShader = `void mainImage(out vec4 fragColor, in vec2 fragCoord) {
#error
}
`

type fakeTime struct {
	mu sync.Mutex
	t  time.Time
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

func testConfig() (renderer.Config, *fakeTime) {
	ft := &fakeTime{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return renderer.Config{
		Inputs: inputs.Config{OpenAudio: func() (audio.AudioDevice, error) {
			return audio.NewNullDevice(audio.DefaultSampleRate), nil
		}},
		Now: ft.Now,
	}, ft
}

// shadeLevel writes the level param into red, or opaque blue when the
// program has none.
func shadeLevel(_ graphics.Program, u map[string][]float32) [4]uint8 {
	v := u["level"]
	if len(v) == 0 {
		return [4]uint8{0, 0, 255, 255}
	}
	return [4]uint8{uint8(v[0]*255 + 0.5), 0, 0, 255}
}

func TestTileConfigResizeKeepsRowCol(t *testing.T) {
	c := NewTileConfig(2, 3, 4)
	*c.Tile(0, 0) = SlotTile(0)
	*c.Tile(0, 2) = SlotTile(2)
	*c.Tile(1, 1) = SlotTile(4)

	r := c.Resize(3, 2)
	require.Len(t, r.Tiles, 6)
	assert.Equal(t, Layout{Rows: 3, Cols: 2, Gap: 4}, r.Layout)
	assert.Equal(t, 0, *r.Tile(0, 0).GridSlot)
	assert.Equal(t, 4, *r.Tile(1, 1).GridSlot)
	for _, pos := range [][2]int{{0, 1}, {1, 0}, {2, 0}, {2, 1}} {
		tile := r.Tile(pos[0], pos[1])
		assert.True(t, tile.Empty(), "%v", pos)
		assert.True(t, tile.Visible)
	}
	assert.Nil(t, r.Tile(3, 0))
}

func TestParseTileConfig(t *testing.T) {
	c, err := ParseTileConfig([]byte(`{
		"layout": {"rows": 1, "cols": 3, "gaps": 2},
		"tiles": [
			{"gridSlotIndex": 1},
			{"shaderCode": "void mainImage(out vec4 c, in vec2 p) {}", "visible": false, "params": {"speed": 2}}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, c.Tiles, 3)
	assert.Equal(t, 2, c.Layout.Gap)
	assert.Equal(t, 1, *c.Tiles[0].GridSlot)
	assert.True(t, c.Tiles[0].Visible)
	assert.False(t, c.Tiles[1].Visible)
	assert.Equal(t, 2.0, c.Tiles[1].Params["speed"])
	assert.True(t, c.Tiles[2].Empty())

	_, err = ParseTileConfig([]byte(`{"layout": {"rows": 0, "cols": 2}}`))
	assert.Error(t, err)
	_, err = ParseTileConfig([]byte(`{"layout": [`))
	assert.Error(t, err)
}

func newTestTiles(t *testing.T, w, h int, lib Library) (*TileCompositor, *graphicstest.Device, *fakeTime) {
	t.Helper()
	dev := graphicstest.New(1, 1)
	dev.Shade = shadeLevel
	cfg, ft := testConfig()
	tc, err := NewTileCompositor(dev, w, h, lib, cfg)
	require.NoError(t, err)
	t.Cleanup(tc.Dispose)
	return tc, dev, ft
}

func TestTileCompositorDrawsVisibleTiles(t *testing.T) {
	tc, dev, _ := newTestTiles(t, 4, 4, Slots{levelShader})

	c := NewTileConfig(2, 2, 0)
	c.Tiles[0] = SlotTile(0)
	c.Tiles[1] = SlotTile(0)
	c.Tiles[1].Visible = false
	c.Tiles[3] = Tile{
		ShaderCode: levelShader,
		Visible:    true,
		Overrides:  Overrides{CustomParams: map[string]json.RawMessage{"level": json.RawMessage("0.5")}},
	}
	require.NoError(t, tc.Apply(c))
	assert.Equal(t, 3, dev.Compiles)
	assert.Nil(t, tc.Region(2))

	tc.Render()
	red := [4]uint8{255, 0, 0, 255}
	black := [4]uint8{0, 0, 0, 255}
	s := tc.Surface()
	assert.Equal(t, red, dev.Pixel(s, 0, 3))
	assert.Equal(t, red, dev.Pixel(s, 1, 2))
	assert.Equal(t, black, dev.Pixel(s, 2, 3), "hidden tile")
	assert.Equal(t, black, dev.Pixel(s, 0, 0), "empty tile")
	assert.Equal(t, [4]uint8{128, 0, 0, 255}, dev.Pixel(s, 3, 0))

	img, err := tc.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(255), img.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(128), img.RGBAAt(3, 3).R)

	tc.SetVisible(1, true)
	tc.Render()
	assert.Equal(t, red, dev.Pixel(s, 2, 3))
}

func TestTileCompositorReusesRegions(t *testing.T) {
	tc, dev, _ := newTestTiles(t, 4, 4, Slots{levelShader})
	c := NewTileConfig(2, 2, 0)
	c.Tiles[0] = SlotTile(0)
	c.Tiles[3] = SlotTile(0)
	require.NoError(t, tc.Apply(c))
	first := tc.Region(0)
	compiles := dev.Compiles

	require.NoError(t, tc.Apply(c))
	assert.Equal(t, compiles, dev.Compiles)
	assert.Equal(t, 2, dev.LivePrograms())

	require.NoError(t, tc.SetLayout(1, 1, 0))
	assert.Same(t, first, tc.Region(0))
	assert.Equal(t, 1, dev.LivePrograms())
	assert.Equal(t, []renderer.Rect{{W: 4, H: 4}}, tc.Rects())
	assert.Equal(t, renderer.Rect{W: 4, H: 4}, tc.Region(0).Rect())
}

func TestTileCompositorCompileErrors(t *testing.T) {
	tc, _, _ := newTestTiles(t, 4, 4, Slots{levelShader})
	c := NewTileConfig(1, 3, 0)
	c.Tiles[0] = SlotTile(0)
	c.Tiles[1] = Tile{ShaderCode: brokenShader, Visible: true}
	c.Tiles[2] = SlotTile(7)

	err := tc.Apply(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tile 1")
	var ce *renderer.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Line)

	assert.True(t, tc.Region(0).Compiled())
	assert.False(t, tc.Region(1).Compiled())
	assert.Nil(t, tc.Region(2), "unassigned slot leaves the tile empty")
	tc.Render()
}

func TestTileCompositorFailedEditKeepsProgram(t *testing.T) {
	tc, dev, _ := newTestTiles(t, 2, 2, nil)
	edit := func(src string) error {
		tile := NewTile()
		tile.ShaderCode = src
		return tc.SetTile(0, 0, tile)
	}
	red := [4]uint8{255, 0, 0, 255}

	require.NoError(t, edit(levelShader))
	r := tc.Region(0)
	tc.Render()
	require.Equal(t, red, dev.Pixel(tc.Surface(), 0, 0))

	err := edit(brokenShader)
	var ce *renderer.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Same(t, r, tc.Region(0))
	assert.True(t, r.Compiled())
	assert.Equal(t, levelShader, r.Source())
	assert.Equal(t, 1, dev.LivePrograms())
	tc.Render()
	assert.Equal(t, red, dev.Pixel(tc.Surface(), 0, 0), "previous program still draws")

	half := strings.Replace(levelShader, "1.0 [", "0.5 [", 1)
	require.NoError(t, edit(half))
	assert.Same(t, r, tc.Region(0))
	assert.Equal(t, 1, dev.LivePrograms())
	tc.Render()
	assert.Equal(t, [4]uint8{128, 0, 0, 255}, dev.Pixel(tc.Surface(), 0, 0))
}

func TestTileCompositorSharedFrameState(t *testing.T) {
	tc, dev, ft := newTestTiles(t, 4, 2, Slots{levelShader})
	require.NoError(t, tc.SetTile(0, 0, SlotTile(0)))
	require.NoError(t, tc.SetLayout(1, 2, 0))
	require.NoError(t, tc.SetTile(0, 1, SlotTile(0)))
	assert.Error(t, tc.SetTile(1, 0, SlotTile(0)))

	ft.Advance(2 * time.Second)
	info := tc.Render()
	assert.InDelta(t, 2.0, info.Time, 1e-9)
	assert.Equal(t, int32(0), info.Frame)

	tc.SetMouseInput([4]float32{3, 1, 0, 0})
	info = tc.Render()
	assert.Equal(t, int32(1), info.Frame)
	for i, wantX := range []float32{3, 1} {
		r := tc.Region(i)
		tm, ok := dev.Uniform(programOf(t, dev, r), "iTime")
		require.True(t, ok)
		assert.InDelta(t, 2.0, tm[0], 1e-6)
		m, _ := dev.Uniform(programOf(t, dev, r), "iMouse")
		assert.Equal(t, wantX, m[0], "tile %d", i)
	}
}

// programOf finds the live program of r by its iTileOffset uniform.
func programOf(t *testing.T, dev *graphicstest.Device, r *renderer.Region) graphics.Program {
	t.Helper()
	want := []float32{float32(r.Rect().X), float32(r.Rect().Y)}
	for p := graphics.Program(1); p < 10000; p++ {
		if v, ok := dev.Uniform(p, renderer.TileOffsetUniform); ok && v[0] == want[0] && v[1] == want[1] {
			return p
		}
	}
	t.Fatalf("no program for region at %v", r.Rect())
	return 0
}

func TestTileCompositorAspectAndResize(t *testing.T) {
	tc, _, _ := newTestTiles(t, 8, 4, nil)
	tc.SetAspect(1)
	assert.Equal(t, []renderer.Rect{{X: 2, W: 4, H: 4}}, tc.Rects())

	tc.SetAspect(0)
	require.NoError(t, tc.SetLayout(2, 2, 0))
	require.NoError(t, tc.Resize(8, 8))
	assert.Equal(t, renderer.Rect{X: 4, Y: 4, W: 4, H: 4}, tc.Rects()[1])
	w, h := tc.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)
}

func TestTileCompositorConfigCapturesParams(t *testing.T) {
	tc, _, _ := newTestTiles(t, 2, 2, Slots{levelShader})
	require.NoError(t, tc.SetTile(0, 0, SlotTile(0)))
	require.NoError(t, tc.Region(0).ApplyParamMessage([]byte(`{"name": "level", "value": 0.25}`)))

	c := tc.Config()
	require.Len(t, c.Tiles, 1)
	assert.JSONEq(t, "0.25", string(c.Tiles[0].CustomParams["level"]))
	assert.Equal(t, 1.0, c.Tiles[0].Params["speed"])

	data, err := json.Marshal(c)
	require.NoError(t, err)
	back, err := ParseTileConfig(data)
	require.NoError(t, err)
	assert.Equal(t, 0, *back.Tiles[0].GridSlot)
}

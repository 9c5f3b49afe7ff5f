package renderer

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinsley/shadervj/audio"
	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/graphics/graphicstest"
	"github.com/richinsley/shadervj/inputs"
	"github.com/richinsley/shadervj/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const speedShader = `// @param speed float 1.0 [0.0, 2.0]
void mainImage(out vec4 fragColor, in vec2 fragCoord) {
    fragColor = vec4(speed, 0.0, 0.0, 1.0);
}
`

const plainShader = `void mainImage(out vec4 fragColor, in vec2 fragCoord) {
    fragColor = vec4(fragCoord / iResolution.xy, 0.0, 1.0);
}
`

func testConfig(ft *fakeTime) Config {
	return Config{
		Inputs: inputs.Config{OpenAudio: func() (audio.AudioDevice, error) {
			return audio.NewNullDevice(audio.DefaultSampleRate), nil
		}},
		Now: ft.Now,
	}
}

func newTestPrimary(t *testing.T, w, h int) (*Primary, *graphicstest.Device, *fakeTime) {
	t.Helper()
	dev := graphicstest.New(w, h)
	ft := newFakeTime()
	p, err := NewPrimary(dev, w, h, testConfig(ft))
	require.NoError(t, err)
	return p, dev, ft
}

// shadeSpeed writes speed/2 into the red channel.
func shadeSpeed(_ graphics.Program, u map[string][]float32) [4]uint8 {
	v := u["speed"]
	if len(v) == 0 {
		return [4]uint8{}
	}
	return [4]uint8{uint8(math.Round(float64(v[0]) / 2 * 255)), 0, 0, 255}
}

func TestSetParamClampsBeforeUpload(t *testing.T) {
	p, dev, ft := newTestPrimary(t, 2, 2)
	dev.Shade = shadeSpeed
	require.NoError(t, p.Compile(speedShader))

	ft.Advance(16 * time.Millisecond)
	p.Render()
	img, err := p.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(128), img.RGBAAt(0, 0).R)

	p.SetParam("speed", params.Value{3})
	assert.Equal(t, params.Value{2}, p.Params()["speed"])
	assert.Equal(t, 1.0, p.Speed(), "declared param shadows the legacy speed")

	p.Render()
	img, err = p.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(255), img.RGBAAt(1, 1).R)
	v, ok := dev.Uniform(p.program, "speed")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, v)
}

func TestRecompileResetsCustomParams(t *testing.T) {
	p, _, _ := newTestPrimary(t, 2, 2)
	src := "// @param x float 5.0\n" + plainShader
	require.NoError(t, p.Compile(src))
	p.SetParam("x", params.Value{9})
	assert.Equal(t, params.Value{9}, p.Params()["x"])

	require.NoError(t, p.Compile(src))
	assert.Equal(t, params.Value{5}, p.Params()["x"])
}

func TestSetParamIgnoresUnknownAndMisshapen(t *testing.T) {
	p, _, _ := newTestPrimary(t, 2, 2)
	require.NoError(t, p.Compile("// @param off vec2 0.1, 0.2\n"+plainShader))

	p.SetParam("nope", params.Value{1})
	p.SetParam("off", params.Value{1, 2, 3})
	assert.Equal(t, params.Values{"off": {0.1, 0.2}}, p.Params())

	p.SetParams(params.Values{"off": {0.3, 0.4}, "speed": {0.5}})
	assert.Equal(t, params.Value{0.3, 0.4}, p.Params()["off"])
	assert.Equal(t, 0.5, p.Speed())

	vals := p.Params()
	vals["off"][0] = 99
	assert.Equal(t, 0.3, p.Params()["off"][0])
}

func TestCompileErrorKeepsPreviousProgram(t *testing.T) {
	p, dev, _ := newTestPrimary(t, 2, 2)
	require.NoError(t, p.Compile(plainShader))
	prog := p.program

	broken := "void mainImage(out vec4 c, in vec2 f) {\n    c = vec4(1.0);\n    " + graphicstest.ErrorMarker + "\n}\n"
	err := p.Compile(broken)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Line)
	assert.Contains(t, ce.Message, "simulated failure")
	assert.Contains(t, ce.Raw, "ERROR: 0:")

	assert.Equal(t, prog, p.program)
	assert.Equal(t, plainShader, p.Source())
	draws := dev.Draws
	p.Render()
	assert.Equal(t, draws+1, dev.Draws)
}

func TestCompileDisposesPreviousProgram(t *testing.T) {
	p, dev, _ := newTestPrimary(t, 2, 2)
	require.NoError(t, p.Compile(plainShader))
	require.NoError(t, p.Compile(plainShader))
	assert.Equal(t, 1, dev.LivePrograms())
	p.Dispose()
	assert.Equal(t, 0, dev.LivePrograms())
	assert.Equal(t, 0, dev.LiveTextures())
}

func TestRenderSetsStandardUniforms(t *testing.T) {
	p, dev, ft := newTestPrimary(t, 4, 3)
	require.NoError(t, p.Compile(plainShader))

	info := p.Render()
	assert.Equal(t, int32(0), info.Frame)
	ft.Advance(500 * time.Millisecond)
	p.SetMouse(1, 2, true)
	info = p.Render()
	assert.Equal(t, int32(1), info.Frame)
	assert.InDelta(t, 0.5, info.Time, 1e-6)
	assert.InDelta(t, 2.0, info.FPS, 1e-6)
	assert.Equal(t, 120.0, info.BPM)

	u := func(name string) []float32 {
		v, ok := dev.Uniform(p.program, name)
		require.True(t, ok, name)
		return v
	}
	assert.Equal(t, []float32{4, 3, 1}, u("iResolution"))
	assert.InDelta(t, 0.5, u("iTime")[0], 1e-6)
	assert.InDelta(t, 0.5, u("iTimeDelta")[0], 1e-6)
	assert.Equal(t, []float32{1}, u("iFrame"))
	assert.Equal(t, []float32{1, 2, 1, 2}, u("iMouse"))
	assert.InDelta(t, 1.2, u("iBPM")[0], 1e-6)
	assert.Equal(t, []float32{2}, u("iChannel2"))
	assert.Equal(t, []float32{1, 1, 1}, u("iChannelResolution[3]"))
	assert.Equal(t, []float32{2024, 2, 1, 12*3600 + 0.5}, u("iDate"))
	assert.Equal(t, p.Channels().Channel(0).Texture, dev.BoundTexture(0))
}

func TestFrameCounterOnlyAdvancesWhilePlaying(t *testing.T) {
	p, _, ft := newTestPrimary(t, 2, 2)
	require.NoError(t, p.Compile(plainShader))
	p.Render()
	p.Render()
	p.Pause()
	ft.Advance(time.Second)
	assert.Equal(t, int32(2), p.Render().Frame)
	info := p.Render()
	assert.Equal(t, int32(2), info.Frame)
	assert.Zero(t, info.Time)

	assert.True(t, p.TogglePlayback())
	ft.Advance(time.Second)
	p.Render()
	p.ResetTime()
	info = p.Render()
	assert.Equal(t, int32(0), info.Frame)
	assert.Zero(t, info.Time)
}

func TestMouseSignConvention(t *testing.T) {
	p, _, _ := newTestPrimary(t, 2, 2)
	p.SetMouse(10, 20, true)
	assert.Equal(t, [4]float32{10, 20, 10, 20}, p.Mouse())
	p.SetMouse(15, 25, true)
	assert.Equal(t, [4]float32{15, 25, 10, 20}, p.Mouse())
	p.SetMouse(16, 26, false)
	assert.Equal(t, [4]float32{16, 26, -10, -20}, p.Mouse())
}

func TestRenderRecoversFromPanics(t *testing.T) {
	dev := graphicstest.New(2, 2)
	ft := newFakeTime()
	var reported []error
	cfg := testConfig(ft)
	cfg.OnError = func(err error) { reported = append(reported, err) }
	p, err := NewPrimary(dev, 2, 2, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Compile(plainShader))

	dev.Shade = func(graphics.Program, map[string][]float32) [4]uint8 { panic("driver fell over") }
	assert.NotPanics(t, func() { p.Render() })
	assert.NotPanics(t, func() { p.Render() })
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "driver fell over")
}

func TestContextLossAndRestore(t *testing.T) {
	p, dev, _ := newTestPrimary(t, 2, 2)
	require.NoError(t, p.Compile("// @param x float 5.0\n// @texture iChannel1 GrayNoiseSmall\n"+plainShader))
	p.SetParam("x", params.Value{7})

	dev.LoseContext()
	draws := dev.Draws
	p.Render()
	assert.False(t, p.Valid())
	assert.Equal(t, draws, dev.Draws)

	dev.RestoreContext()
	p.Render()
	assert.True(t, p.Valid())
	assert.Equal(t, 1, dev.InitCalls)
	assert.Equal(t, draws+1, dev.Draws)
	assert.True(t, p.Compiled())
	assert.Equal(t, params.Value{7}, p.Params()["x"])
	assert.Equal(t, inputs.KindBuiltin, p.Channels().Channel(1).Source.Kind())
}

func TestBuiltinDirectiveAppliedOnCompile(t *testing.T) {
	p, _, _ := newTestPrimary(t, 2, 2)
	require.NoError(t, p.Compile("// @texture iChannel3 RGBANoiseSmall\n"+plainShader))
	ch := p.Channels().Channel(3)
	assert.Equal(t, inputs.KindBuiltin, ch.Source.Kind())
	assert.Equal(t, [3]float32{64, 64, 1}, ch.Resolution())
	first := ch.Texture

	require.NoError(t, p.Compile("// @texture iChannel3 RGBANoiseSmall\n"+plainShader))
	assert.NotEqual(t, first, p.Channels().Channel(3).Texture)
}

func TestFileDirectiveUsesResolver(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.RGBA{255, 255, 255, 255})
	f, err := os.Create(filepath.Join(dir, "wood.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	dev := graphicstest.New(2, 2)
	cfg := testConfig(newFakeTime())
	cfg.Resolver = DirResolver(dir)
	p, err := NewPrimary(dev, 2, 2, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Compile("// @texture iChannel2 texture:wood\n"+plainShader))

	require.Eventually(t, func() bool {
		p.Render()
		return p.Channels().Channel(2).Source.Kind() == inputs.KindImage
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, [3]float32{4, 2, 1}, p.Channels().Channel(2).Resolution())

	_, err = DirResolver(dir).ResolveTexture("missing")
	assert.Error(t, err)
}

func TestAudioDirectiveFeedsBeatDetector(t *testing.T) {
	p, _, _ := newTestPrimary(t, 2, 2)
	require.NoError(t, p.Compile("// @texture iChannel0 AudioFFT\n"+plainShader))
	require.Eventually(t, func() bool {
		p.Render()
		return p.Channels().Channel(0).Source.Kind() == inputs.KindAudio
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, [3]float32{512, 2, 1}, p.Channels().Channel(0).Resolution())
	assert.Equal(t, 120.0, p.Render().BPM)
}

func TestParamMessages(t *testing.T) {
	p, _, _ := newTestPrimary(t, 2, 2)
	src := "// @param gain float 0.5 [0.0, 1.0]\n// @param tint color 1.0, 0.5, 0.25\n" + plainShader
	require.NoError(t, p.Compile(src))

	require.NoError(t, p.ApplyParamMessage([]byte(`{"name": "gain", "value": 0.75}`)))
	assert.Equal(t, params.Value{0.75}, p.Params()["gain"])

	require.NoError(t, p.ApplyParamMessage([]byte(`{"tint": [0, 0, 1], "gain": 5, "bogus": [1, 2], "speed": 1.5}`)))
	assert.Equal(t, params.Value{0, 0, 1}, p.Params()["tint"])
	assert.Equal(t, params.Value{1}, p.Params()["gain"])
	assert.Equal(t, 1.5, p.Speed())

	assert.Error(t, p.ApplyParamMessage([]byte(`{"tint": [1, 2]}`)))
	assert.Error(t, p.ApplyParamMessage([]byte(`not json`)))

	snap, err := p.ParamSnapshot()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(snap, &got))
	assert.Equal(t, map[string]any{
		"gain":  1.0,
		"tint":  []any{0.0, 0.0, 1.0},
		"speed": 1.5,
	}, got)

	other, _, _ := newTestPrimary(t, 2, 2)
	require.NoError(t, other.Compile(src))
	require.NoError(t, other.ApplyParamMessage(snap))
	assert.Equal(t, p.Params(), other.Params())
	assert.Equal(t, 1.5, other.Speed())
}

func TestReadFrameIsTopDown(t *testing.T) {
	p, dev, _ := newTestPrimary(t, 2, 3)
	red := [4]uint8{255, 0, 0, 255}
	dev.SetPixel(p.Surface(), 1, 0, red)

	img, err := p.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(1, 2))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(1, 0))
}

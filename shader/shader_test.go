package shader

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/richinsley/shadervj/graphics"
	"github.com/richinsley/shadervj/graphics/graphicstest"
	"github.com/richinsley/shadervj/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSrc = `// @param speed float 1.0 [0, 2]
// @param tint color [1, 0.5, 0.25]
// @param pts vec2[3] 0.1, 0.2
void mainImage(out vec4 fragColor, in vec2 fragCoord) {
    fragColor = vec4(tint, 1.0);
}`

func TestWrapperLineOffsetTracksPreamble(t *testing.T) {
	defs := params.ParseShaderParams(userSrc)
	for _, extras := range []*WrapperExtras{
		nil,
		{Uniforms: []string{"uniform vec2 iTileOffset;"}, Entry: "mainImage(outColor, gl_FragCoord.xy - iTileOffset)"},
		{Uniforms: []string{"uniform float a;", "uniform float b;", "uniform float c;"}},
	} {
		for _, decls := range []string{"", params.GenerateUniformDeclarations(defs)} {
			w := BuildFragmentWrapper(userSrc, decls, extras)
			lines := strings.Split(w.Source, "\n")
			require.Greater(t, len(lines), w.UserLineOffset)
			// Line numbers are 1-based, so user line 1 sits at index offset.
			assert.Equal(t, "// @param speed float 1.0 [0, 2]", lines[w.UserLineOffset])
		}
	}
}

func TestWrapperContents(t *testing.T) {
	w := BuildFragmentWrapper(userSrc, "uniform float speed;", &WrapperExtras{
		Uniforms: []string{"uniform vec2 iTileOffset;"},
		Entry:    "mainImage(outColor, gl_FragCoord.xy - iTileOffset)",
	})
	assert.True(t, strings.HasPrefix(w.Source, "#version 300 es\n"))
	for _, u := range []string{"iResolution", "iTime", "iTimeDelta", "iFrame", "iMouse", "iDate", "iChannel3", "iChannelResolution[4]", "iBPM", "iTileOffset", "speed"} {
		assert.Contains(t, w.Source, u)
	}
	assert.Contains(t, w.Source, "mainImage(outColor, gl_FragCoord.xy - iTileOffset);")
	assert.Contains(t, w.Source, userSrc)

	plain := BuildFragmentWrapper(userSrc, "", nil)
	assert.Contains(t, plain.Source, DefaultEntry+";")
	assert.NotContains(t, plain.Source, "iTileOffset")
}

func TestCompileErrorMapsToUserLine(t *testing.T) {
	dev := graphicstest.New(8, 8)
	defs := params.ParseShaderParams(userSrc)
	broken := userSrc + "\n" + graphicstest.ErrorMarker + "\n"
	wantLine := strings.Count(userSrc, "\n") + 2

	w := BuildFragmentWrapper(broken, params.GenerateUniformDeclarations(defs), nil)
	_, err := dev.CompileProgram(VertexShader, w.Source)
	var ce *graphics.CompileError
	require.ErrorAs(t, err, &ce)

	line, msg, ok := ParseShaderError(ce.Log, w.UserLineOffset)
	require.True(t, ok)
	assert.Equal(t, wantLine, line)
	assert.Contains(t, msg, "simulated failure")
}

func TestParseShaderError(t *testing.T) {
	line, msg, ok := ParseShaderError("ERROR: 0:42: 'foo' : undeclared identifier\nERROR: 0:50: other", 30)
	require.True(t, ok)
	assert.Equal(t, 12, line)
	assert.Equal(t, "'foo' : undeclared identifier", msg)

	line, _, ok = ParseShaderError("ERROR: 0:3: inside preamble", 30)
	require.True(t, ok)
	assert.Equal(t, 1, line)

	_, msg, ok = ParseShaderError("link failed\n", 30)
	assert.False(t, ok)
	assert.Equal(t, "link failed", msg)
}

func TestUniformCachingAndDispatch(t *testing.T) {
	dev := graphicstest.New(8, 8)
	defs := params.ParseShaderParams(userSrc)
	w := BuildFragmentWrapper(userSrc, params.GenerateUniformDeclarations(defs), nil)
	p, err := dev.CompileProgram(VertexShader, w.Source)
	require.NoError(t, err)

	std := CacheStandardUniforms(dev, p, "iTileOffset")
	assert.NotEqual(t, int32(-1), std.Time)
	assert.NotEqual(t, int32(-1), std.ChannelResolution[3])
	assert.Equal(t, int32(-1), std.Extra["iTileOffset"])

	custom := CacheCustomParamUniforms(dev, p, defs)
	assert.Len(t, custom["pts"], 3)

	vals := params.CreateParamValues(defs)
	vals["speed"] = params.Value{1.5}
	dev.UseProgram(p)
	SetCustomUniforms(dev, custom, defs, vals)
	std.Apply(dev, &FrameUniforms{Width: 8, Height: 4, Time: 2, BPM: 120})

	v, ok := dev.Uniform(p, "speed")
	require.True(t, ok)
	assert.Equal(t, []float32{1.5}, v)
	v, _ = dev.Uniform(p, "tint")
	assert.Equal(t, []float32{1, 0.5, 0.25}, v)
	v, _ = dev.Uniform(p, "pts[2]")
	assert.InDeltaSlice(t, []float32{0.1, 0.2}, v, 1e-6)
	v, _ = dev.Uniform(p, "iResolution")
	assert.Equal(t, []float32{8, 4, 1}, v)
	v, _ = dev.Uniform(p, "iBPM")
	assert.InDeltaSlice(t, []float32{1.2}, v, 1e-6)
	v, _ = dev.Uniform(p, "iChannel2")
	assert.Equal(t, []float32{2}, v)
}

func TestSetCustomUniformsSkipsWrongShape(t *testing.T) {
	dev := graphicstest.New(8, 8)
	defs := params.ParseShaderParams(userSrc)
	w := BuildFragmentWrapper(userSrc, params.GenerateUniformDeclarations(defs), nil)
	p, err := dev.CompileProgram(VertexShader, w.Source)
	require.NoError(t, err)
	dev.UseProgram(p)
	custom := CacheCustomParamUniforms(dev, p, defs)
	SetCustomUniforms(dev, custom, defs, params.Values{"tint": {1, 2}})
	_, ok := dev.Uniform(p, "tint")
	assert.False(t, ok)
}

func TestDateUniform(t *testing.T) {
	d := DateUniform(time.Date(2024, time.March, 5, 1, 2, 3, 0, time.UTC))
	assert.Equal(t, [4]float32{2024, 2, 5, 3723}, d)
}

func TestBuiltinCatalog(t *testing.T) {
	for name, spec := range BuiltinTextures {
		b, err := GenerateBuiltin(name)
		require.NoError(t, err, name)
		assert.Equal(t, spec.Size, b.Width)
		assert.Len(t, b.Pixels, spec.Size*spec.Size*spec.Channels)
	}
	_, err := GenerateBuiltin("Nope")
	assert.Error(t, err)
}

func TestBuiltinIsNotMemoized(t *testing.T) {
	a, err := GenerateBuiltin("RGBANoiseSmall")
	require.NoError(t, err)
	b, err := GenerateBuiltin("RGBANoiseSmall")
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a.Pixels, b.Pixels))

	dev := graphicstest.New(4, 4)
	tex, gen, err := CreateBuiltinTexture(dev, "GrayNoiseSmall")
	require.NoError(t, err)
	w, h, format, pix, ok := dev.TextureInfo(tex)
	require.True(t, ok)
	assert.Equal(t, 64, w)
	assert.Equal(t, 64, h)
	assert.Equal(t, graphics.R8, format)
	assert.Equal(t, gen.Pixels, pix)
}

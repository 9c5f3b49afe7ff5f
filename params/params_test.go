package params

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
// @param speed float 1.0 [0.0, 2.0] "Animation speed"
// @param tint color [1.0, 0.5, 0.2] "Tint"
// @param offset vec2
// @param count int 3 [1, 8]
// @param bg vec4 0, 0, 0, 1
// @param points vec3[2] [[1,0,0],[0,1,0]] "Control points"
// @param weights float[3] 0.25
void mainImage(out vec4 fragColor, in vec2 fragCoord) {}
`

func TestParseShaderParams(t *testing.T) {
	defs := ParseShaderParams(sample)
	require.Len(t, defs, 7)

	speed := defs[0]
	assert.Equal(t, "speed", speed.Name)
	assert.Equal(t, Float, speed.Type)
	assert.Equal(t, Value{1.0}, speed.Default)
	require.NotNil(t, speed.Min)
	require.NotNil(t, speed.Max)
	assert.Equal(t, 0.0, *speed.Min)
	assert.Equal(t, 2.0, *speed.Max)
	assert.Equal(t, "Animation speed", speed.Description)
	assert.Equal(t, "uniform float speed;", speed.Declaration)

	tint := defs[1]
	assert.True(t, tint.IsColor)
	assert.Equal(t, Value{1.0, 0.5, 0.2}, tint.Default, "bracketed vec3 is a default, not a range")
	assert.Nil(t, tint.Min)
	assert.Equal(t, "uniform vec3 tint;", tint.Declaration)

	assert.Equal(t, Value{0.5, 0.5}, defs[2].Default)
	assert.Equal(t, Value{3}, defs[3].Default)
	assert.Equal(t, Value{0, 0, 0, 1}, defs[4].Default)

	points := defs[5]
	assert.True(t, points.IsArray)
	assert.Equal(t, 2, points.ArraySize)
	assert.Equal(t, Value{1, 0, 0, 0, 1, 0}, points.Default)
	assert.Equal(t, "uniform vec3 points[2];", points.Declaration)

	assert.Equal(t, Value{0.25, 0.25, 0.25}, defs[6].Default)
}

func TestNestedDefaultMismatchBroadcasts(t *testing.T) {
	defs := ParseShaderParams(`// @param p vec3[3] [[1,0,0],[0,1,0]] 0.2, 0.3, 0.4`)
	// A bare default must come first, so this line is malformed.
	assert.Empty(t, defs)

	defs = ParseShaderParams(`// @param p vec2[3] [[1,0],[0,1]]`)
	require.Len(t, defs, 1)
	assert.Equal(t, Value{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, defs[0].Default)
}

func TestHexColorDefault(t *testing.T) {
	defs := ParseShaderParams(`// @param c color #ff0000 "red"`)
	require.Len(t, defs, 1)
	assert.InDeltaSlice(t, []float64{1, 0, 0}, []float64(defs[0].Default), 1e-9)
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	garbage := []string{
		"// @param",
		"// @param x",
		"// @param x double 1.0",
		"// @param x vec3 1.0, 2.0",
		"// @param x float[0] 1",
		"// @param x float[ 1",
		"// @param x float [1, 2",
		"// @param x float ]]]",
		"// @param x float abc",
		"// @param 9x float 1",
		"// @param iTime float 1",
		"// @texture iChannel9 RGBANoiseSmall",
		"// @texture iChannel0 texture:../etc/passwd",
		"// @texture iChannel0 AudioFFT(1000)",
		"// @texture iChannel0 Unknown",
		"// @param x float 1 [0,1] [0,2]",
		"// @param x float \"unterminated",
	}
	for _, g := range garbage {
		assert.NotPanics(t, func() {
			assert.Empty(t, ParseShaderParams(g), g)
			assert.Empty(t, ParseTextureDirectives(g), g)
		})
	}
}

func TestParserNeverPanicsOnRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []byte("// @param@texture iChannel0123 floatvec3color[],.\"#-_ \n\t9e")
	for i := 0; i < 2000; i++ {
		b := make([]byte, rng.Intn(80))
		for j := range b {
			b[j] = alphabet[rng.Intn(len(alphabet))]
		}
		src := string(b)
		assert.NotPanics(t, func() {
			for _, d := range ParseShaderParams(src) {
				assert.Len(t, d.Default, d.Len(), src)
			}
			ParseTextureDirectives(src)
		})
	}
}

func TestDeclarationBaseTypeMatches(t *testing.T) {
	for _, typ := range []string{"int", "float", "vec2", "vec3", "vec4", "color"} {
		defs := ParseShaderParams("// @param p " + typ)
		require.Len(t, defs, 1)
		want := typ
		if typ == "color" {
			want = "vec3"
		}
		assert.True(t, strings.HasPrefix(defs[0].Declaration, "uniform "+want+" p"), defs[0].Declaration)
		assert.Len(t, defs[0].Default, defs[0].Type.Components())
	}
}

func TestGenerateUniformDeclarations(t *testing.T) {
	defs := ParseShaderParams(sample)
	decls := GenerateUniformDeclarations(defs)
	assert.Equal(t, len(defs), strings.Count(decls, "\n")+1)
	assert.Contains(t, decls, "uniform float weights[3];")
}

func TestCreateParamValuesCopiesDefaults(t *testing.T) {
	defs := ParseShaderParams(sample)
	a := CreateParamValues(defs)
	b := CreateParamValues(defs)
	a["tint"][0] = 42
	assert.Equal(t, 1.0, b["tint"][0])
	assert.Equal(t, 1.0, defs[1].Default[0])
}

func TestClampParamValue(t *testing.T) {
	lo, hi := 0.0, 2.0
	p := ParamDef{Name: "v", Type: Vec3, Min: &lo, Max: &hi}
	assert.Equal(t, Value{0, 1, 2}, ClampParamValue(p, Value{-1, 1, 3}))

	onlyMax := ParamDef{Name: "m", Type: Float, Max: &hi}
	assert.Equal(t, Value{-5}, ClampParamValue(onlyMax, Value{-5}))
	assert.Equal(t, Value{2}, ClampParamValue(onlyMax, Value{5}))

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		v := Value{rng.NormFloat64() * 5, rng.NormFloat64() * 5, rng.NormFloat64() * 5}
		once := ClampParamValue(p, v)
		assert.Equal(t, once, ClampParamValue(p, once))
	}
}

func TestParseTextureDirectives(t *testing.T) {
	src := `
// @texture iChannel0 RGBANoiseMedium
// @texture iChannel1 AudioFFT
// @texture iChannel2 AudioFFT(4096)
// @texture iChannel3 texture:rock_wall-2
// @texture iChannel1 AudioFFTBig
`
	dirs := ParseTextureDirectives(src)
	require.Len(t, dirs, 5)
	assert.Equal(t, TextureDirective{Channel: 0, Type: DirectiveBuiltin, TextureName: "RGBANoiseMedium"}, dirs[0])
	assert.Equal(t, 1024, dirs[1].FFTSize)
	assert.Equal(t, DirectiveAudio, dirs[2].Type)
	assert.Equal(t, 4096, dirs[2].FFTSize)
	assert.Equal(t, TextureDirective{Channel: 3, Type: DirectiveFile, TextureName: "rock_wall-2"}, dirs[3])
	assert.Equal(t, 2048, dirs[4].FFTSize)
}

func TestEncodeDecode(t *testing.T) {
	defs := ParseShaderParams(sample)
	points, _ := Find(defs, "points")
	enc := points.Encode(points.Default)
	assert.Equal(t, [][]float64{{1, 0, 0}, {0, 1, 0}}, enc)

	v, err := points.Decode([]any{[]any{1.0, 2.0, 3.0}, []any{4.0, 5.0, 6.0}})
	require.NoError(t, err)
	assert.Equal(t, Value{1, 2, 3, 4, 5, 6}, v)

	speed, _ := Find(defs, "speed")
	assert.Equal(t, 1.0, speed.Encode(speed.Default))
	_, err = speed.Decode([]any{1.0, 2.0})
	assert.Error(t, err)
}

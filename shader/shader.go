package shader

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// VertexShader is the pass-through quad vertex shader shared by every program.
const VertexShader = `#version 410 core
layout (location = 0) in vec2 in_vert;
out vec2 frag_uv;
void main() {
    frag_uv = in_vert * 0.5 + 0.5;
    gl_Position = vec4(in_vert, 0.0, 1.0);
}
`

const blitFragmentShaderSourceFlip = `#version 300 es
precision mediump float;
in vec2 frag_uv;
out vec4 fragColor;
uniform sampler2D u_texture;
void main() { fragColor = texture(u_texture, vec2(frag_uv.x, 1.0 - frag_uv.y)); }
`

const blitFragmentShaderSource = `#version 300 es
precision mediump float;
in vec2 frag_uv;
out vec4 fragColor;
uniform sampler2D u_texture;
void main() { fragColor = texture(u_texture, frag_uv); }
`

// GetBlitFragmentShader returns a shader copying u_texture to the target,
// optionally flipping it vertically.
func GetBlitFragmentShader(flip bool) string {
	if flip {
		return blitFragmentShaderSourceFlip
	}
	return blitFragmentShaderSource
}

const preamble = `#version 300 es
precision highp float;
precision highp int;

uniform vec3      iResolution;
uniform float     iTime;
uniform float     iTimeDelta;
uniform int       iFrame;
uniform vec4      iMouse;
uniform vec4      iDate;
uniform sampler2D iChannel0;
uniform sampler2D iChannel1;
uniform sampler2D iChannel2;
uniform sampler2D iChannel3;
uniform vec3      iChannelResolution[4];
uniform float     iBPM;
`

// DefaultEntry is the call main() makes into user code.
const DefaultEntry = "mainImage(outColor, gl_FragCoord.xy)"

// WrapperExtras customises the generated wrapper.
type WrapperExtras struct {
	// Uniforms are additional declarations placed after the standard set.
	Uniforms []string
	// Entry replaces DefaultEntry, e.g. to offset fragment coordinates.
	Entry string
}

// Wrapped is a complete fragment shader built around user code.
type Wrapped struct {
	Source string
	// UserLineOffset is the number of lines emitted before the first line
	// of user source.
	UserLineOffset int
}

// BuildFragmentWrapper assembles the standard Shadertoy preamble, any extra
// and custom uniform declarations, the user's source verbatim and a main()
// calling the entry point.
func BuildFragmentWrapper(user, customDecls string, extras *WrapperExtras) Wrapped {
	var b strings.Builder
	b.WriteString(preamble)
	entry := DefaultEntry
	if extras != nil {
		for _, u := range extras.Uniforms {
			b.WriteString(u)
			b.WriteByte('\n')
		}
		if extras.Entry != "" {
			entry = extras.Entry
		}
	}
	if customDecls != "" {
		b.WriteString(customDecls)
		b.WriteByte('\n')
	}
	b.WriteString("\nout vec4 outColor;\n")

	offset := strings.Count(b.String(), "\n")
	b.WriteString(user)
	fmt.Fprintf(&b, "\nvoid main(void)\n{\n    %s;\n}\n", entry)
	return Wrapped{Source: b.String(), UserLineOffset: offset}
}

var errorLineRe = regexp.MustCompile(`ERROR:\s*\d+:(\d+):\s*(.*)`)

// ParseShaderError extracts the first "ERROR: 0:<line>: <message>" entry
// from a compiler log and maps its line into user source coordinates.
func ParseShaderError(raw string, userLineOffset int) (line int, message string, ok bool) {
	m := errorLineRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, strings.TrimSpace(raw), false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, strings.TrimSpace(raw), false
	}
	return max(1, n-userLineOffset), strings.TrimSpace(m[2]), true
}

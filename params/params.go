// Package params parses the @param and @texture annotation comments that
// shader authors embed in Shadertoy-style GLSL, and manages the values bound
// to the resulting custom uniforms.
package params

import (
	"fmt"
	"strings"
)

// Type is the declared GLSL-facing type of a custom parameter.
type Type string

const (
	Int   Type = "int"
	Float Type = "float"
	Vec2  Type = "vec2"
	Vec3  Type = "vec3"
	Vec4  Type = "vec4"
	Color Type = "color"
)

// Components returns the number of scalar components per element.
func (t Type) Components() int {
	switch t {
	case Vec2:
		return 2
	case Vec3, Color:
		return 3
	case Vec4:
		return 4
	default:
		return 1
	}
}

// GLSL returns the uniform type emitted for t. Colors are plain vec3s.
func (t Type) GLSL() string {
	if t == Color {
		return string(Vec3)
	}
	return string(t)
}

func parseType(s string) (Type, bool) {
	switch Type(s) {
	case Int, Float, Vec2, Vec3, Vec4, Color:
		return Type(s), true
	}
	return "", false
}

// Value holds the flattened components of a parameter value. A scalar has one
// component, a vecN has N and an array of vecN has ArraySize*N laid out
// element by element.
type Value []float64

// Clone returns a copy of v that shares no memory with it.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	out := make(Value, len(v))
	copy(out, v)
	return out
}

// Values maps parameter names to their current value.
type Values map[string]Value

// Clone deep-copies every value in the map.
func (vs Values) Clone() Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v.Clone()
	}
	return out
}

// ParamDef describes one custom parameter declared with @param.
type ParamDef struct {
	Name        string
	Type        Type
	IsColor     bool
	IsArray     bool
	ArraySize   int
	Default     Value
	Min         *float64
	Max         *float64
	Description string
	// Declaration is the GLSL uniform declaration for this parameter.
	Declaration string
}

// Shape returns the component count per element and the element count.
func (p ParamDef) Shape() (components, elements int) {
	elements = 1
	if p.IsArray {
		elements = p.ArraySize
	}
	return p.Type.Components(), elements
}

// Len is the number of flattened components a value for p must have.
func (p ParamDef) Len() int {
	c, e := p.Shape()
	return c * e
}

func declaration(name string, t Type, arraySize int) string {
	if arraySize > 0 {
		return fmt.Sprintf("uniform %s %s[%d];", t.GLSL(), name, arraySize)
	}
	return fmt.Sprintf("uniform %s %s;", t.GLSL(), name)
}

// GenerateUniformDeclarations joins the declarations of defs, one per line.
func GenerateUniformDeclarations(defs []ParamDef) string {
	decls := make([]string, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, d.Declaration)
	}
	return strings.Join(decls, "\n")
}

// CreateParamValues builds a fresh value map from the declared defaults.
func CreateParamValues(defs []ParamDef) Values {
	vals := make(Values, len(defs))
	for _, d := range defs {
		vals[d.Name] = d.Default.Clone()
	}
	return vals
}

// ClampParamValue clamps every component of v into [Min, Max]. A nil bound
// leaves that side unclamped.
func ClampParamValue(p ParamDef, v Value) Value {
	out := v.Clone()
	for i, c := range out {
		if p.Min != nil && c < *p.Min {
			c = *p.Min
		}
		if p.Max != nil && c > *p.Max {
			c = *p.Max
		}
		out[i] = c
	}
	return out
}

// Find returns the definition named name.
func Find(defs []ParamDef, name string) (ParamDef, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return ParamDef{}, false
}

func typeDefault(t Type) Value {
	switch t {
	case Int:
		return Value{0}
	case Float:
		return Value{0.5}
	case Vec2:
		return Value{0.5, 0.5}
	case Vec3, Color:
		return Value{1, 1, 1}
	case Vec4:
		return Value{0, 0, 0, 1}
	}
	return nil
}

func broadcast(elem Value, n int) Value {
	out := make(Value, 0, len(elem)*n)
	for i := 0; i < n; i++ {
		out = append(out, elem...)
	}
	return out
}

package params

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	colorful "github.com/lucasb-eyer/go-colorful"
)

var (
	paramLineRe = regexp.MustCompile(`^\s*//\s*@param\s+([A-Za-z_][A-Za-z0-9_]*)\s+([A-Za-z0-9]+)(?:\[(\d+)\])?(?:\s+(.*))?$`)
	descRe      = regexp.MustCompile(`"([^"]*)"\s*$`)
)

// reserved names are declared by the standard preamble and cannot be reused.
var reserved = map[string]bool{
	"iResolution": true, "iTime": true, "iTimeDelta": true, "iFrame": true,
	"iMouse": true, "iDate": true, "iChannel0": true, "iChannel1": true,
	"iChannel2": true, "iChannel3": true, "iChannelResolution": true,
	"iBPM": true, "iTileOffset": true, "outColor": true,
}

// ParseShaderParams scans src for `// @param` lines and returns the
// declarations it finds in source order. Lines that do not parse are skipped.
func ParseShaderParams(src string) []ParamDef {
	var defs []ParamDef
	seen := make(map[string]bool)
	for _, line := range strings.Split(src, "\n") {
		def, ok := parseParamLine(strings.TrimRight(line, "\r"))
		if !ok || seen[def.Name] {
			continue
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}
	return defs
}

func parseParamLine(line string) (ParamDef, bool) {
	m := paramLineRe.FindStringSubmatch(line)
	if m == nil {
		return ParamDef{}, false
	}
	name := m[1]
	if reserved[name] {
		return ParamDef{}, false
	}
	typ, ok := parseType(m[2])
	if !ok {
		return ParamDef{}, false
	}
	arraySize := 0
	if m[3] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil || n <= 0 {
			return ParamDef{}, false
		}
		arraySize = n
	}

	r, ok := parseRest(m[4], typ, arraySize)
	if !ok {
		return ParamDef{}, false
	}
	return ParamDef{
		Name:        name,
		Type:        typ,
		IsColor:     typ == Color,
		IsArray:     arraySize > 0,
		ArraySize:   arraySize,
		Default:     r.def,
		Min:         r.min,
		Max:         r.max,
		Description: r.desc,
		Declaration: declaration(name, typ, arraySize),
	}, true
}

type rest struct {
	def      Value
	min, max *float64
	desc     string
}

type group struct {
	inner  string
	nested bool
}

func parseRest(s string, typ Type, arraySize int) (rest, bool) {
	var r rest
	s = strings.TrimSpace(s)
	if loc := descRe.FindStringSubmatchIndex(s); loc != nil {
		r.desc = s[loc[2]:loc[3]]
		s = strings.TrimSpace(s[:loc[0]])
	}

	bare, groups, ok := splitGroups(s)
	if !ok {
		return r, false
	}

	comps := typ.Components()
	var elem, perElement Value
	if bare != "" {
		if typ == Color && strings.HasPrefix(bare, "#") {
			c, err := colorful.Hex(bare)
			if err != nil {
				return r, false
			}
			elem = Value{c.R, c.G, c.B}
		} else {
			nums, ok := parseNumbers(bare)
			if !ok || len(nums) != comps {
				return r, false
			}
			elem = nums
		}
	}

	for _, g := range groups {
		if g.nested {
			if arraySize > 0 && elem == nil && perElement == nil {
				perElement = parseNestedDefault(g.inner, comps, arraySize)
			}
			continue
		}
		nums, ok := parseNumbers(g.inner)
		if !ok {
			return r, false
		}
		undecided := elem == nil && perElement == nil
		switch {
		case undecided && len(nums) == comps:
			elem = nums
		case undecided && arraySize > 0 && comps == 1 && len(nums) == arraySize:
			perElement = nums
		case r.min == nil && r.max == nil && len(nums) == 2:
			lo, hi := nums[0], nums[1]
			r.min, r.max = &lo, &hi
		default:
			return r, false
		}
	}

	switch {
	case perElement != nil:
		r.def = perElement
	default:
		if elem == nil {
			elem = typeDefault(typ)
		}
		if arraySize > 0 {
			r.def = broadcast(elem, arraySize)
		} else {
			r.def = elem.Clone()
		}
	}
	if typ == Int {
		for i, c := range r.def {
			r.def[i] = math.Trunc(c)
		}
	}
	return r, true
}

// parseNestedDefault reads `[x,y,z],[a,b,c],...`. It returns nil unless every
// element has comps components and there are exactly arraySize of them.
func parseNestedDefault(inner string, comps, arraySize int) Value {
	sep, groups, ok := splitGroups(inner)
	if !ok || strings.Trim(sep, ", \t") != "" || len(groups) != arraySize {
		return nil
	}
	out := make(Value, 0, comps*arraySize)
	for _, g := range groups {
		if g.nested {
			return nil
		}
		nums, ok := parseNumbers(g.inner)
		if !ok || len(nums) != comps {
			return nil
		}
		out = append(out, nums...)
	}
	return out
}

// splitGroups separates leading bare text from the top-level bracket groups
// that follow it. Text after the first group may only be separators.
func splitGroups(s string) (bare string, groups []group, ok bool) {
	depth, start := 0, -1
	nested := false
	var outside strings.Builder
	for i, r := range s {
		switch r {
		case '[':
			if depth == 0 {
				start = i
				nested = false
			} else {
				nested = true
			}
			depth++
		case ']':
			depth--
			if depth < 0 {
				return "", nil, false
			}
			if depth == 0 {
				groups = append(groups, group{inner: s[start+1 : i], nested: nested})
			}
		default:
			if depth == 0 {
				if len(groups) > 0 && r != ',' && !unicode.IsSpace(r) {
					return "", nil, false
				}
				if len(groups) == 0 {
					outside.WriteRune(r)
				}
			}
		}
	}
	if depth != 0 {
		return "", nil, false
	}
	return strings.TrimSpace(outside.String()), groups, true
}

func parseNumbers(s string) (Value, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil, false
	}
	out := make(Value, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

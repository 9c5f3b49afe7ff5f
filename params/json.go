package params

import (
	"fmt"
)

// Encode converts v into the nested form used on the wire: a number for
// scalars, a list for vectors and scalar arrays, a list of lists for vector
// arrays.
func (p ParamDef) Encode(v Value) any {
	comps, elems := p.Shape()
	switch {
	case !p.IsArray && comps == 1:
		if len(v) == 0 {
			return 0.0
		}
		return v[0]
	case !p.IsArray || comps == 1:
		return []float64(v.Clone())
	}
	out := make([][]float64, 0, elems)
	for i := 0; i+comps <= len(v); i += comps {
		out = append(out, append([]float64(nil), v[i:i+comps]...))
	}
	return out
}

// Decode accepts a value in any of the forms produced by Encode (as decoded
// by encoding/json or built by hand) and flattens it for p.
func (p ParamDef) Decode(raw any) (Value, error) {
	var flat Value
	if err := flatten(raw, &flat, 0); err != nil {
		return nil, fmt.Errorf("param %s: %w", p.Name, err)
	}
	if len(flat) != p.Len() {
		return nil, fmt.Errorf("param %s: got %d components, want %d", p.Name, len(flat), p.Len())
	}
	return flat, nil
}

func flatten(raw any, out *Value, depth int) error {
	if depth > 2 {
		return fmt.Errorf("value nested too deeply")
	}
	switch v := raw.(type) {
	case float64:
		*out = append(*out, v)
	case float32:
		*out = append(*out, float64(v))
	case int:
		*out = append(*out, float64(v))
	case bool:
		if v {
			*out = append(*out, 1)
		} else {
			*out = append(*out, 0)
		}
	case Value:
		*out = append(*out, v...)
	case []float64:
		*out = append(*out, v...)
	case [][]float64:
		for _, e := range v {
			*out = append(*out, e...)
		}
	case []any:
		for _, e := range v {
			if err := flatten(e, out, depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported value type %T", raw)
	}
	return nil
}

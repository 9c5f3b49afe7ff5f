package compositor

import (
	"encoding/json"
	"fmt"

	"github.com/richinsley/shadervj/params"
	"github.com/richinsley/shadervj/renderer"
)

// Overrides are parameter values carried by a tile or mixer channel in
// their JSON form. Params holds the legacy parameters every shader accepts
// (speed); CustomParams holds values for declared @param uniforms.
type Overrides struct {
	Params       map[string]float64         `json:"params,omitempty"`
	CustomParams map[string]json.RawMessage `json:"customParams,omitempty"`
}

func (o Overrides) empty() bool {
	return len(o.Params) == 0 && len(o.CustomParams) == 0
}

// apply sets every override on in. Names in does not declare are skipped.
func (o Overrides) apply(in *renderer.Instance) error {
	if o.empty() {
		return nil
	}
	batch := make(map[string]json.RawMessage, len(o.Params)+len(o.CustomParams))
	for name, v := range o.Params {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("param %s: %w", name, err)
		}
		batch[name] = raw
	}
	for name, raw := range o.CustomParams {
		batch[name] = raw
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return in.ApplyParamMessage(data)
}

// snapshot captures the current values of in.
func snapshot(in *renderer.Instance) (Overrides, error) {
	data, err := in.ParamSnapshot()
	if err != nil {
		return Overrides{}, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return Overrides{}, err
	}
	o := Overrides{Params: map[string]float64{}}
	for name, raw := range all {
		if _, declared := params.Find(in.ParamDefs(), name); declared {
			if o.CustomParams == nil {
				o.CustomParams = map[string]json.RawMessage{}
			}
			o.CustomParams[name] = raw
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return Overrides{}, fmt.Errorf("param %s: %w", name, err)
		}
		o.Params[name] = v
	}
	return o, nil
}

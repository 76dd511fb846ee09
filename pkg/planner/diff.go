package planner

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/model"
	"github.com/crucible-io/crucible/pkg/projection"
)

// diffObject computes the field-level changes needed to move an observed
// record to the desired state. A desired value of null means the
// inventory holds no opinion about that field, so it never produces a
// change. Fields the desired object does not mention are left alone.
func diffObject(d projection.Projected, obs backend.ObservedRecord) []backend.FieldChange {
	var changes []backend.FieldChange

	switch d.Base.Attrs.Kind {
	case model.AttrsTyped:
		fields := d.Base.Attrs.Fields
		for _, name := range sortedKeys(fields) {
			want := fields[name]
			if want == nil {
				continue
			}
			have := obs.Attrs[name]
			if !valuesEqual(want, have) {
				changes = append(changes, backend.FieldChange{Field: name, From: have, To: want})
			}
		}
	case model.AttrsGeneric:
		// Generic payloads diff as one opaque unit, even when map-shaped.
		if raw := d.Base.Attrs.Raw; raw != nil && !valuesEqual(raw, anyMap(obs.Attrs)) {
			changes = append(changes, backend.FieldChange{Field: "attrs", From: anyMap(obs.Attrs), To: raw})
		}
	}

	for _, name := range sortedKeys(d.Fields.CustomFields) {
		want := d.Fields.CustomFields[name]
		if want == nil {
			continue
		}
		have := obs.Fields.CustomFields[name]
		if !valuesEqual(want, have) {
			changes = append(changes, backend.FieldChange{
				Field: "custom_fields." + name,
				From:  have,
				To:    want,
			})
		}
	}

	if d.Fields.Tags != nil {
		have := append([]string(nil), obs.Fields.Tags...)
		sort.Strings(have)
		if !stringsEqual(d.Fields.Tags, have) {
			changes = append(changes, backend.FieldChange{Field: "tags", From: have, To: d.Fields.Tags})
		}
	}

	if d.Fields.Context != nil && !valuesEqual(d.Fields.Context, obs.Fields.Context) {
		changes = append(changes, backend.FieldChange{
			Field: "context",
			From:  obs.Fields.Context,
			To:    d.Fields.Context,
		})
	}

	return changes
}

// anyMap widens a concrete map so generic comparison treats a stored
// payload and a desired payload alike.
func anyMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// valuesEqual compares two decoded values. Numbers compare by value
// regardless of decoded width, so a YAML int matches a JSON float.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, aok := asFloat(a); aok {
		nb, bok := asFloat(b)
		return bok && na == nb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, present := bv[k]
			if !present || !valuesEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case int:
		return float64(vv), true
	case int32:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case uint64:
		return float64(vv), true
	case float32:
		return float64(vv), true
	case float64:
		return vv, true
	case json.Number:
		f, err := vv.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

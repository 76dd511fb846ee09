package model

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CanonicalKey renders a structured key as a sorted, type-tagged encoding.
// Two keys that are structurally equal produce the same encoding regardless
// of field order or whether the numbers arrived as YAML ints or JSON
// float64s, so the encoding is safe to use for duplicate detection, key
// matching and plan ordering.
func CanonicalKey(key map[string]any) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+tagValue(key[name]))
	}
	return strings.Join(parts, "/")
}

func tagValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "n:"
	case string:
		return "s:" + val
	case bool:
		return "b:" + strconv.FormatBool(val)
	case int:
		return "i:" + strconv.FormatInt(int64(val), 10)
	case int64:
		return "i:" + strconv.FormatInt(val, 10)
	case uint64:
		return "i:" + strconv.FormatUint(val, 10)
	case float64:
		// Integral floats collapse onto the int tag so JSON-decoded keys
		// match YAML-decoded ones.
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return "i:" + strconv.FormatInt(int64(val), 10)
		}
		return "f:" + strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return tagValue(float64(val))
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "j:"
		}
		return "j:" + string(raw)
	}
}

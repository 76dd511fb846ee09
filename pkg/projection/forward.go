package projection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crucible-io/crucible/pkg/model"
)

// Data is the backend-specific storage produced by forward projection.
type Data struct {
	// CustomFields is the projected custom-field set.
	CustomFields map[string]any `json:"custom_fields,omitempty"`

	// Tags is the projected tag list, sorted and deduplicated.
	Tags []string `json:"tags,omitempty"`

	// Context is the projected free-form context value.
	Context any `json:"context,omitempty"`
}

// IsZero reports whether nothing was projected.
func (d Data) IsZero() bool {
	return len(d.CustomFields) == 0 && d.Tags == nil && d.Context == nil
}

// Projected pairs an object's base attrs (with projected keys removed)
// with its projected fields.
type Projected struct {
	Base   model.Object `json:"base"`
	Fields Data         `json:"fields,omitempty"`
}

// Apply runs the forward direction over a whole object set. Rules are
// evaluated in declaration order; later rules add to a target but do not
// overwrite earlier values unless the rule opts in. A nil rule set
// projects nothing.
func Apply(rules *RuleSet, objects []model.Object) ([]Projected, error) {
	projected := make([]Projected, 0, len(objects))
	for _, obj := range objects {
		p, err := projectObject(rules, obj)
		if err != nil {
			return nil, err
		}
		projected = append(projected, p)
	}
	return projected, nil
}

func projectObject(rules *RuleSet, obj model.Object) (Projected, error) {
	attrs, isMap := obj.Attrs.Map()
	if rules == nil || !isMap {
		// Non-map generic payloads have no portable namespace to project.
		return Projected{Base: obj}, nil
	}

	var (
		data        Data
		tagSet      = map[string]bool{}
		tagsDefined bool
		claimed     = map[string]bool{}
	)

	for _, rule := range rules.rulesFor(obj.Type) {
		entries := selectEntries(attrs, rule.From)
		if len(entries) == 0 {
			continue
		}

		mapped := map[string]any{}
		for _, key := range sortedKeys(entries) {
			value, keep, err := applyTransforms(entries[key], rule.From.Transform, rule, obj.Type, key)
			if err != nil {
				return Projected{}, err
			}
			claimed[key] = true
			if keep {
				mapped[key] = value
			}
		}

		if cf := rule.To.CustomFields; cf != nil {
			for _, key := range sortedKeys(mapped) {
				name, err := targetFieldName(cf.Strategy, cf.Prefix, cf.Field, rule, obj.Type, key)
				if err != nil {
					return Projected{}, err
				}
				if data.CustomFields == nil {
					data.CustomFields = map[string]any{}
				}
				if _, taken := data.CustomFields[name]; taken && !rule.Overwrite {
					continue
				}
				data.CustomFields[name] = mapped[key]
			}
		}

		if rule.To.Tags != nil {
			tagsDefined = true
			for _, key := range sortedKeys(mapped) {
				items, ok := mapped[key].([]any)
				if !ok {
					return Projected{}, &ConfigError{
						Rule: rule.Name, Type: obj.Type,
						Message: fmt.Sprintf("tag source %q must be a list of strings", key),
					}
				}
				for _, item := range items {
					tag, ok := item.(string)
					if !ok {
						return Projected{}, &ConfigError{
							Rule: rule.Name, Type: obj.Type,
							Message: fmt.Sprintf("tag source %q contains a non-string value", key),
						}
					}
					tagSet[tag] = true
				}
			}
		}

		if cx := rule.To.Context; cx != nil {
			local := map[string]any{}
			for _, key := range sortedKeys(mapped) {
				name, err := targetFieldName(cx.Strategy, cx.Prefix, "", rule, obj.Type, key)
				if err != nil {
					return Projected{}, err
				}
				local[name] = mapped[key]
			}
			nested, err := nestUnderRoot(cx.Root, local)
			if err != nil {
				return Projected{}, &ConfigError{Rule: rule.Name, Type: obj.Type, Message: err.Error()}
			}
			// Load-time validation guarantees a single context rule per
			// type, so no merge is needed here.
			data.Context = nested
		}
	}

	if tagsDefined {
		tags := make([]string, 0, len(tagSet))
		for tag := range tagSet {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		data.Tags = tags
	}

	return Projected{Base: stripClaimed(obj, claimed), Fields: data}, nil
}

// selectEntries evaluates a rule's selector over the portable namespace.
func selectEntries(attrs map[string]any, from Selector) map[string]any {
	entries := map[string]any{}
	switch {
	case from.Prefix != "":
		for key, value := range attrs {
			if strings.HasPrefix(key, from.Prefix) {
				entries[key] = value
			}
		}
	case from.Key != "":
		if value, ok := attrs[from.Key]; ok {
			entries[from.Key] = value
		}
	default:
		for key := range from.Map {
			if value, ok := attrs[key]; ok {
				entries[key] = value
			}
		}
	}
	return entries
}

// applyTransforms folds the transform chain over one value. The second
// return is false when drop_if_null removed the field entirely.
func applyTransforms(value any, chain []TransformSpec, rule *Rule, typeName, key string) (any, bool, error) {
	for _, spec := range chain {
		switch spec.Op {
		case TransformStringify:
			if _, ok := value.(string); !ok {
				value = stringify(value)
			}
		case TransformDropIfNull:
			if value == nil {
				return nil, false, nil
			}
		case TransformJoin:
			items, ok := value.([]any)
			if !ok {
				return nil, false, &ConfigError{
					Rule: rule.Name, Type: typeName,
					Message: fmt.Sprintf("join on %q requires a list value", key),
				}
			}
			parts := make([]string, 0, len(items))
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return nil, false, &ConfigError{
						Rule: rule.Name, Type: typeName,
						Message: fmt.Sprintf("join on %q requires string items", key),
					}
				}
				parts = append(parts, s)
			}
			value = strings.Join(parts, spec.Join)
		case TransformDefault:
			if value == nil {
				value = spec.Default
			}
		}
	}
	return value, true, nil
}

func stringify(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%v", v)
}

// targetFieldName resolves a portable key to a backend field name under the
// given strategy.
func targetFieldName(strategy Strategy, targetPrefix, targetField string, rule *Rule, typeName, key string) (string, error) {
	switch strategy {
	case StrategyStripPrefix:
		prefix := targetPrefix
		if prefix == "" {
			prefix = rule.From.Prefix
		}
		if !strings.HasPrefix(key, prefix) {
			return "", &ConfigError{
				Rule: rule.Name, Type: typeName,
				Message: fmt.Sprintf("key %q is missing required prefix %q", key, prefix),
			}
		}
		return strings.TrimPrefix(key, prefix), nil
	case StrategyExplicit:
		name, ok := rule.From.Map[key]
		if !ok {
			return "", &ConfigError{
				Rule: rule.Name, Type: typeName,
				Message: fmt.Sprintf("key %q has no explicit map entry", key),
			}
		}
		return name, nil
	default: // StrategyDirect
		if targetField != "" {
			return targetField, nil
		}
		return key, nil
	}
}

// nestUnderRoot wraps values under a dotted root path.
func nestUnderRoot(root string, values map[string]any) (any, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("context root must be non-empty")
	}
	segments := strings.Split(root, ".")
	var current any = values
	for i := len(segments) - 1; i >= 0; i-- {
		if strings.TrimSpace(segments[i]) == "" {
			return nil, fmt.Errorf("context root contains an empty segment")
		}
		current = map[string]any{segments[i]: current}
	}
	return current, nil
}

// stripClaimed returns a copy of the object with projected keys removed
// from its portable attrs.
func stripClaimed(obj model.Object, claimed map[string]bool) model.Object {
	if len(claimed) == 0 {
		return obj
	}
	attrs, ok := obj.Attrs.Map()
	if !ok {
		return obj
	}
	remaining := make(map[string]any, len(attrs))
	for key, value := range attrs {
		if !claimed[key] {
			remaining[key] = value
		}
	}
	if obj.Attrs.Kind == model.AttrsTyped {
		obj.Attrs = model.TypedAttrs(remaining)
	} else {
		obj.Attrs = model.GenericAttrs(remaining)
	}
	return obj
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

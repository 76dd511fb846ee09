package projection

import (
	"fmt"
	"sort"
	"strings"
)

// Warning is a non-fatal diagnostic from the inverse direction. Extraction
// continues; the raw backend field is preserved instead of guessed at.
type Warning struct {
	Rule    string `json:"rule,omitempty"`
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	switch {
	case w.Rule != "" && w.Field != "":
		return fmt.Sprintf("projection rule %s (type %s, field %s): %s", w.Rule, w.Type, w.Field, w.Message)
	case w.Rule != "":
		return fmt.Sprintf("projection rule %s (type %s): %s", w.Rule, w.Type, w.Message)
	default:
		return fmt.Sprintf("projection (type %s): %s", w.Type, w.Message)
	}
}

// Invert reconstructs portable attribute keys from one observed record's
// projected fields. Only strip_prefix and explicit strategies are exactly
// invertible; rules with transforms are never inverted. Backend fields no
// rule claims pass through under their native names, so no observed data
// is lost.
func Invert(rules *RuleSet, typeName string, fields Data) (map[string]any, []Warning) {
	attrs := map[string]any{}
	var warnings []Warning

	remaining := map[string]any{}
	for name, value := range fields.CustomFields {
		remaining[name] = value
	}
	tags := fields.Tags
	tagsClaimed := false
	context := fields.Context

	if rules != nil {
		for _, rule := range rules.rulesFor(typeName) {
			if len(rule.From.Transform) > 0 {
				warnings = append(warnings, Warning{
					Rule: rule.Name, Type: typeName,
					Message: "projection not invertible (transform chain); preserving raw fields",
				})
				continue
			}

			if cf := rule.To.CustomFields; cf != nil {
				invertFields(attrs, remaining, cf.Strategy, pickPrefix(cf.Prefix, rule), cf.Field, rule)
			}

			if rule.To.Tags != nil && tags != nil && !tagsClaimed {
				tagValue := tagsToValue(tags)
				switch {
				case rule.From.Key != "":
					attrs[rule.From.Key] = tagValue
					tagsClaimed = true
				case len(rule.From.Map) > 0:
					for _, source := range sortedMapKeys(rule.From.Map) {
						attrs[source] = tagValue
					}
					tagsClaimed = true
				case rule.From.Prefix != "":
					key := rule.From.Prefix + "tags"
					warnings = append(warnings, Warning{
						Rule: rule.Name, Type: typeName, Field: key,
						Message: "tag source inferred from prefix",
					})
					attrs[key] = tagValue
					tagsClaimed = true
				}
			}

			if cx := rule.To.Context; cx != nil && context != nil {
				inner, ok := fieldsUnderRoot(context, cx.Root)
				if ok {
					invertFields(attrs, inner, cx.Strategy, pickPrefix(cx.Prefix, rule), "", rule)
					// Anything the strategy did not claim keeps its raw
					// context field name.
					for _, name := range sortedKeys(inner) {
						attrs[name] = inner[name]
					}
					context = nil
				}
			}
		}
	}

	// Unclaimed backend fields pass through unchanged.
	for _, name := range sortedKeys(remaining) {
		attrs[name] = remaining[name]
	}
	if tags != nil && !tagsClaimed {
		attrs["tags"] = tagsToValue(tags)
	}
	if context != nil {
		attrs["context"] = context
	}

	return attrs, warnings
}

// invertFields moves claimed entries from remaining into attrs under their
// reconstructed portable names. Mutates remaining.
func invertFields(attrs, remaining map[string]any, strategy Strategy, prefix, field string, rule *Rule) {
	switch strategy {
	case StrategyStripPrefix:
		for _, name := range sortedKeys(remaining) {
			attrs[prefix+name] = remaining[name]
			delete(remaining, name)
		}
	case StrategyExplicit:
		inverse := map[string]string{}
		for source, target := range rule.From.Map {
			inverse[target] = source
		}
		for _, name := range sortedKeys(remaining) {
			if source, ok := inverse[name]; ok {
				attrs[source] = remaining[name]
				delete(remaining, name)
			}
		}
	case StrategyDirect:
		// Recoverable only when the rule pinned the field and source key.
		if field != "" && rule.From.Key != "" {
			if value, ok := remaining[field]; ok {
				attrs[rule.From.Key] = value
				delete(remaining, field)
			}
		}
	}
}

func pickPrefix(targetPrefix string, rule *Rule) string {
	if targetPrefix != "" {
		return targetPrefix
	}
	return rule.From.Prefix
}

func tagsToValue(tags []string) []any {
	out := make([]any, len(tags))
	for i, tag := range tags {
		out[i] = tag
	}
	return out
}

// fieldsUnderRoot walks a dotted root path into a context value and
// returns a mutable copy of the map found there.
func fieldsUnderRoot(context any, root string) (map[string]any, bool) {
	current := context
	for _, segment := range splitRoot(root) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	inner, ok := current.(map[string]any)
	if !ok {
		return nil, false
	}
	copied := make(map[string]any, len(inner))
	for k, v := range inner {
		copied[k] = v
	}
	return copied, true
}

func splitRoot(root string) []string {
	var segments []string
	for _, segment := range strings.Split(root, ".") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

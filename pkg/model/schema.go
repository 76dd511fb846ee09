package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldKind enumerates the closed set of field type constructors.
type FieldKind string

const (
	FieldString    FieldKind = "string"
	FieldText      FieldKind = "text"
	FieldInt       FieldKind = "int"
	FieldFloat     FieldKind = "float"
	FieldBool      FieldKind = "bool"
	FieldUUID      FieldKind = "uuid"
	FieldDate      FieldKind = "date"
	FieldDatetime  FieldKind = "datetime"
	FieldJSON      FieldKind = "json"
	FieldSlug      FieldKind = "slug"
	FieldIPAddress FieldKind = "ip_address"
	FieldCIDR      FieldKind = "cidr"
	FieldMAC       FieldKind = "mac"
	FieldEnum      FieldKind = "enum"
	FieldList      FieldKind = "list"
	FieldMap       FieldKind = "map"
	FieldRef       FieldKind = "ref"
	FieldListRef   FieldKind = "list_ref"
)

var simpleFieldKinds = map[FieldKind]bool{
	FieldString: true, FieldText: true, FieldInt: true, FieldFloat: true,
	FieldBool: true, FieldUUID: true, FieldDate: true, FieldDatetime: true,
	FieldJSON: true, FieldSlug: true, FieldIPAddress: true, FieldCIDR: true,
	FieldMAC: true,
}

// FieldType is a tagged field type: a simple kind, or a structured kind
// carrying exactly one of Values (enum), Item (list), Value (map) or
// Target (ref, list_ref).
type FieldType struct {
	Kind   FieldKind  `json:"kind"`
	Values []string   `json:"values,omitempty"`
	Item   *FieldType `json:"item,omitempty"`
	Value  *FieldType `json:"value,omitempty"`
	Target string     `json:"target,omitempty"`
}

// IsRef reports whether the type references another object type.
func (t FieldType) IsRef() bool {
	return t.Kind == FieldRef || t.Kind == FieldListRef
}

// UnmarshalYAML accepts either a bare kind string ("int") or a mapping form
// ({type: ref, target: dcim.site}).
func (t *FieldType) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		kind := FieldKind(node.Value)
		if !simpleFieldKinds[kind] {
			return fmt.Errorf("unknown field type %q", node.Value)
		}
		t.Kind = kind
		return nil
	}

	var raw struct {
		Type   string     `yaml:"type"`
		Values []string   `yaml:"values"`
		Item   *FieldType `yaml:"item"`
		Value  *FieldType `yaml:"value"`
		Target string     `yaml:"target"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	kind := FieldKind(raw.Type)
	switch kind {
	case FieldEnum:
		if len(raw.Values) == 0 {
			return fmt.Errorf("enum type requires values")
		}
		*t = FieldType{Kind: kind, Values: raw.Values}
	case FieldList:
		if raw.Item == nil {
			return fmt.Errorf("list type requires item")
		}
		*t = FieldType{Kind: kind, Item: raw.Item}
	case FieldMap:
		if raw.Value == nil {
			return fmt.Errorf("map type requires value")
		}
		*t = FieldType{Kind: kind, Value: raw.Value}
	case FieldRef, FieldListRef:
		if raw.Target == "" {
			return fmt.Errorf("%s type requires target", kind)
		}
		*t = FieldType{Kind: kind, Target: raw.Target}
	default:
		if !simpleFieldKinds[kind] {
			return fmt.Errorf("unknown field type %q", raw.Type)
		}
		*t = FieldType{Kind: kind}
	}
	return nil
}

// MarshalYAML renders simple kinds as bare strings and structured kinds
// in the mapping form UnmarshalYAML accepts.
func (t FieldType) MarshalYAML() (any, error) {
	if simpleFieldKinds[t.Kind] {
		return string(t.Kind), nil
	}
	out := map[string]any{"type": string(t.Kind)}
	switch t.Kind {
	case FieldEnum:
		out["values"] = t.Values
	case FieldList:
		out["item"] = t.Item
	case FieldMap:
		out["value"] = t.Value
	case FieldRef, FieldListRef:
		out["target"] = t.Target
	}
	return out, nil
}

// FieldSchema describes one attribute field of a typed object.
type FieldSchema struct {
	// Type is the declared field type.
	Type FieldType `json:"type" yaml:"type"`

	// Required marks the field as mandatory on every object of the type.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Nullable permits an explicit null in addition to the declared type.
	Nullable bool `json:"nullable,omitempty" yaml:"nullable,omitempty"`

	// Pattern is an optional anchored regular expression the rendered
	// string value must match.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Description is free-form documentation.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// KeyField is one ordered component of a type's structured key.
type KeyField struct {
	// Name is the key field name.
	Name string `json:"name" yaml:"name"`

	// Type is the declared primitive type of the key value.
	Type FieldType `json:"type" yaml:"type"`

	// Pattern is an optional anchored regular expression constraint.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// TypeSchema is the definition of one object type.
type TypeSchema struct {
	// Key lists the key fields in declaration order.
	Key []KeyField `json:"key" yaml:"key"`

	// Fields maps attribute field names to their declarations. The schema
	// is closed: fields not listed here are rejected on typed objects.
	Fields map[string]FieldSchema `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Schema maps type names to definitions. Types absent from the map are
// untyped and their objects are handled generically.
type Schema struct {
	Types map[string]TypeSchema `json:"types" yaml:"types"`
}

// TypeOf returns the definition for a type name, and whether one exists.
func (s Schema) TypeOf(name string) (TypeSchema, bool) {
	ts, ok := s.Types[name]
	return ts, ok
}

// RefFields returns the names of fields declared as ref or list_ref for the
// given type, with their declarations. Returns nil for untyped types.
func (s Schema) RefFields(name string) map[string]FieldSchema {
	ts, ok := s.Types[name]
	if !ok {
		return nil
	}
	var refs map[string]FieldSchema
	for field, decl := range ts.Fields {
		if decl.Type.IsRef() {
			if refs == nil {
				refs = map[string]FieldSchema{}
			}
			refs[field] = decl
		}
	}
	return refs
}

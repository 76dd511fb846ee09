package model

import (
	"fmt"

	"github.com/google/uuid"
)

// AttrsKind distinguishes the two payload shapes an object can carry.
type AttrsKind string

const (
	// AttrsTyped marks a payload validated field-by-field against the schema.
	AttrsTyped AttrsKind = "typed"

	// AttrsGeneric marks an opaque payload compared only for exact equality.
	AttrsGeneric AttrsKind = "generic"
)

// Attrs is the tagged attribute payload of an object. Engine code switches
// exhaustively on Kind rather than inspecting the payload at runtime.
type Attrs struct {
	// Kind selects which payload field is populated.
	Kind AttrsKind `json:"kind"`

	// Fields is the typed payload. Populated when Kind == AttrsTyped.
	Fields map[string]any `json:"fields,omitempty"`

	// Raw is the opaque generic payload. Populated when Kind == AttrsGeneric.
	Raw any `json:"raw,omitempty"`
}

// TypedAttrs builds a typed payload. A nil map is normalized to empty so
// callers can range over Fields without a nil check.
func TypedAttrs(fields map[string]any) Attrs {
	if fields == nil {
		fields = map[string]any{}
	}
	return Attrs{Kind: AttrsTyped, Fields: fields}
}

// GenericAttrs builds an opaque payload for objects of an unknown type.
func GenericAttrs(raw any) Attrs {
	return Attrs{Kind: AttrsGeneric, Raw: raw}
}

// Map returns the payload as a map when it has one: the typed field map, or
// a generic payload that happens to be map-shaped. The second return is
// false for non-map generic payloads.
func (a Attrs) Map() (map[string]any, bool) {
	switch a.Kind {
	case AttrsTyped:
		return a.Fields, true
	case AttrsGeneric:
		m, ok := a.Raw.(map[string]any)
		return m, ok
	}
	return nil, false
}

// Object is one inventory resource instance.
type Object struct {
	// UID is the stable, content-independent identifier for the object.
	UID uuid.UUID `json:"uid"`

	// Type is the resource kind, e.g. "dcim.site". Free-form; a type
	// absent from the schema is treated generically.
	Type string `json:"type"`

	// Key is the structured natural identifier used for matching before a
	// backend id is known.
	Key map[string]any `json:"key"`

	// Attrs is the typed or generic attribute payload.
	Attrs Attrs `json:"attrs"`
}

// NewObject builds an object and rejects the two shapes nothing downstream
// can work with: an empty type and an empty key.
func NewObject(uid uuid.UUID, typeName string, key map[string]any, attrs Attrs) (Object, error) {
	if typeName == "" {
		return Object{}, fmt.Errorf("object %s: type must be set", uid)
	}
	if len(key) == 0 {
		return Object{}, fmt.Errorf("object %s (%s): key must be set", uid, typeName)
	}
	return Object{UID: uid, Type: typeName, Key: key, Attrs: attrs}, nil
}

// Inventory is a desired object set plus its schema metadata.
type Inventory struct {
	// Schema holds type definitions. Types absent here are untyped.
	Schema Schema `json:"schema" yaml:"schema"`

	// Objects is the desired object list.
	Objects []Object `json:"objects" yaml:"objects"`
}

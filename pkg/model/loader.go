package model

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// rawObject is the wire form of an object before attrs are typed.
type rawObject struct {
	UID   string         `yaml:"uid"`
	Type  string         `yaml:"type"`
	Key   map[string]any `yaml:"key"`
	Attrs any            `yaml:"attrs"`
}

type rawInventory struct {
	Schema  Schema      `yaml:"schema"`
	Objects []rawObject `yaml:"objects"`
}

// LoadInventory reads a YAML inventory document. Objects whose type appears
// in the schema get a typed payload; everything else is carried generically.
// Structural problems (bad uid, non-map typed attrs) fail the load; semantic
// validation is a separate pass so findings can be aggregated.
func LoadInventory(r io.Reader) (Inventory, error) {
	var raw rawInventory
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Inventory{}, fmt.Errorf("decode inventory: %w", err)
	}

	inv := Inventory{Schema: raw.Schema, Objects: make([]Object, 0, len(raw.Objects))}
	for i, ro := range raw.Objects {
		uid, err := uuid.Parse(ro.UID)
		if err != nil {
			return Inventory{}, fmt.Errorf("object %d: bad uid %q: %w", i, ro.UID, err)
		}
		attrsValue := normalizeValue(ro.Attrs)

		var attrs Attrs
		if _, typed := raw.Schema.TypeOf(ro.Type); typed {
			fields, ok := attrsValue.(map[string]any)
			if !ok && attrsValue != nil {
				return Inventory{}, fmt.Errorf("object %d (%s): typed attrs must be a mapping", i, ro.Type)
			}
			attrs = TypedAttrs(fields)
		} else {
			attrs = GenericAttrs(attrsValue)
		}

		inv.Objects = append(inv.Objects, Object{
			UID:   uid,
			Type:  ro.Type,
			Key:   normalizeMap(ro.Key),
			Attrs: attrs,
		})
	}
	return inv, nil
}

// LoadInventoryFile is LoadInventory over a file path.
func LoadInventoryFile(path string) (Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return Inventory{}, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()
	inv, err := LoadInventory(f)
	if err != nil {
		return Inventory{}, fmt.Errorf("%s: %w", path, err)
	}
	return inv, nil
}

// EncodeInventory writes an inventory as YAML in the same document shape
// LoadInventory reads, so an extracted inventory feeds straight back into
// validate and plan.
func EncodeInventory(w io.Writer, inv Inventory) error {
	raw := rawInventory{Schema: inv.Schema, Objects: make([]rawObject, 0, len(inv.Objects))}
	for _, obj := range inv.Objects {
		var attrs any
		if m, ok := obj.Attrs.Map(); ok {
			attrs = m
		} else {
			attrs = obj.Attrs.Raw
		}
		raw.Objects = append(raw.Objects, rawObject{
			UID:   obj.UID.String(),
			Type:  obj.Type,
			Key:   obj.Key,
			Attrs: attrs,
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(raw); err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}
	return enc.Close()
}

// SaveInventoryFile is EncodeInventory to a file path.
func SaveInventoryFile(path string, inv Inventory) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create inventory: %w", err)
	}
	defer f.Close()
	if err := EncodeInventory(f, inv); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// normalizeValue rewrites YAML-decoded values so nested mappings always use
// string keys, matching what JSON decoding produces.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = normalizeValue(item)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

package model

import (
	"bytes"
	"strings"
	"testing"
)

const testInventoryYAML = `
schema:
  types:
    dcim.site:
      key:
        - name: slug
          type: slug
      fields:
        name:
          type: string
          required: true
        status:
          type:
            type: enum
            values: [active, planned]
objects:
  - uid: 11111111-1111-1111-1111-111111111111
    type: dcim.site
    key:
      slug: fra1
    attrs:
      name: Frankfurt 1
      status: active
  - uid: 22222222-2222-2222-2222-222222222222
    type: custom.widget
    key:
      name: w1
    attrs:
      nested:
        a: 1
`

func TestLoadInventory(t *testing.T) {
	inv, err := LoadInventory(strings.NewReader(testInventoryYAML))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if len(inv.Objects) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(inv.Objects))
	}

	site := inv.Objects[0]
	if site.Attrs.Kind != AttrsTyped {
		t.Errorf("schema-known type should load typed, got %s", site.Attrs.Kind)
	}
	if site.Attrs.Fields["name"] != "Frankfurt 1" {
		t.Errorf("unexpected attrs: %v", site.Attrs.Fields)
	}

	widget := inv.Objects[1]
	if widget.Attrs.Kind != AttrsGeneric {
		t.Errorf("unknown type should load generically, got %s", widget.Attrs.Kind)
	}
	m, ok := widget.Attrs.Raw.(map[string]any)
	if !ok {
		t.Fatalf("generic payload should normalize to map[string]any, got %T", widget.Attrs.Raw)
	}
	nested, ok := m["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested mapping should normalize to map[string]any, got %T", m["nested"])
	}
	if nested["a"] != 1 {
		t.Errorf("unexpected nested value: %v", nested["a"])
	}
}

func TestLoadInventoryRejectsUnknownDocumentFields(t *testing.T) {
	doc := "schema:\n  types: {}\nobjects: []\nextra: true\n"
	if _, err := LoadInventory(strings.NewReader(doc)); err == nil {
		t.Fatal("unknown top-level field should fail the load")
	}
}

func TestLoadInventoryRejectsBadUID(t *testing.T) {
	doc := `
schema:
  types: {}
objects:
  - uid: not-a-uuid
    type: custom.widget
    key: {name: w1}
`
	if _, err := LoadInventory(strings.NewReader(doc)); err == nil {
		t.Fatal("bad uid should fail the load")
	}
}

func TestEncodeInventoryRoundTrip(t *testing.T) {
	inv, err := LoadInventory(strings.NewReader(testInventoryYAML))
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}

	var buf bytes.Buffer
	if err := EncodeInventory(&buf, inv); err != nil {
		t.Fatalf("EncodeInventory: %v", err)
	}
	again, err := LoadInventory(&buf)
	if err != nil {
		t.Fatalf("reloading encoded inventory: %v", err)
	}
	if len(again.Objects) != len(inv.Objects) {
		t.Fatalf("object count changed across round trip: %d vs %d",
			len(again.Objects), len(inv.Objects))
	}
	for i := range inv.Objects {
		if again.Objects[i].UID != inv.Objects[i].UID {
			t.Errorf("object %d uid changed", i)
		}
		if CanonicalKey(again.Objects[i].Key) != CanonicalKey(inv.Objects[i].Key) {
			t.Errorf("object %d key changed", i)
		}
	}
}

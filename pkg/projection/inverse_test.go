package projection

import (
	"reflect"
	"testing"

	"github.com/crucible-io/crucible/pkg/model"
)

func TestInvertStripPrefix(t *testing.T) {
	rules := stripPrefixRules()
	fields := Data{CustomFields: map[string]any{
		"fabric": "leaf-spine",
		"pod":    "pod-1",
	}}
	attrs, warnings := Invert(rules, "dcim.device", fields)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	want := map[string]any{
		"model.fabric": "leaf-spine",
		"model.pod":    "pod-1",
	}
	if !reflect.DeepEqual(attrs, want) {
		t.Errorf("attrs = %v, want %v", attrs, want)
	}
}

func TestInvertExplicitMap(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name: "renames", OnType: "dcim.device",
			From: Selector{Map: map[string]string{"asset.tag": "asset_tag"}},
			To: Target{CustomFields: &CustomFieldsTarget{
				Strategy: StrategyExplicit,
			}},
		}},
	}
	attrs, warnings := Invert(rules, "dcim.device", Data{
		CustomFields: map[string]any{"asset_tag": "A123", "stray": true},
	})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if attrs["asset.tag"] != "A123" {
		t.Errorf("mapped field not inverted: %v", attrs)
	}
	// Unclaimed backend fields pass through under their raw names.
	if attrs["stray"] != true {
		t.Errorf("unclaimed field lost: %v", attrs)
	}
}

func TestInvertTransformChainWarnsAndPreserves(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name: "owner", OnType: "dcim.device",
			From: Selector{
				Key:       "owners",
				Transform: []TransformSpec{{Op: TransformJoin, Join: ","}},
			},
			To: Target{CustomFields: &CustomFieldsTarget{
				Strategy: StrategyDirect, Field: "owner",
			}},
		}},
	}
	attrs, warnings := Invert(rules, "dcim.device", Data{
		CustomFields: map[string]any{"owner": "neteng,dc-ops"},
	})
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
	// Transforms are never inverted; the raw field survives untouched.
	if attrs["owner"] != "neteng,dc-ops" {
		t.Errorf("raw field should pass through, got %v", attrs)
	}
	if _, there := attrs["owners"]; there {
		t.Error("transformed value must not be guessed back")
	}
}

func TestInvertTags(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name: "labels", OnType: "*",
			From: Selector{Key: "labels"},
			To:   Target{Tags: &TagsTarget{}},
		}},
	}
	attrs, warnings := Invert(rules, "dcim.device", Data{Tags: []string{"edge", "prod"}})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	want := []any{"edge", "prod"}
	if !reflect.DeepEqual(attrs["labels"], want) {
		t.Errorf("labels = %v, want %v", attrs["labels"], want)
	}
}

func TestInvertUnclaimedTagsAndContext(t *testing.T) {
	attrs, _ := Invert(nil, "dcim.device", Data{
		Tags:    []string{"edge"},
		Context: map[string]any{"free": "form"},
	})
	if !reflect.DeepEqual(attrs["tags"], []any{"edge"}) {
		t.Errorf("unclaimed tags should pass through raw: %v", attrs)
	}
	if !reflect.DeepEqual(attrs["context"], map[string]any{"free": "form"}) {
		t.Errorf("unclaimed context should pass through raw: %v", attrs)
	}
}

func TestInvertContextStripPrefix(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name: "topo", OnType: "dcim.device",
			From: Selector{Prefix: "topology."},
			To: Target{Context: &ContextTarget{
				Root: "crucible.topology", Strategy: StrategyStripPrefix,
			}},
		}},
	}
	context := map[string]any{
		"crucible": map[string]any{
			"topology": map[string]any{"tier": "leaf"},
		},
	}
	attrs, warnings := Invert(rules, "dcim.device", Data{Context: context})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if attrs["topology.tier"] != "leaf" {
		t.Errorf("context not inverted: %v", attrs)
	}
}

func TestForwardInverseRoundTrip(t *testing.T) {
	rules := stripPrefixRules()
	obj := testObject(t, "dcim.device", map[string]any{
		"name":         "sw1",
		"model.fabric": "leaf-spine",
	})
	projected, err := Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	attrs, warnings := Invert(rules, "dcim.device", projected[0].Fields)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if attrs["model.fabric"] != "leaf-spine" {
		t.Errorf("round trip lost the projected key: %v", attrs)
	}
}

package projection

import (
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/crucible-io/crucible/pkg/model"
)

func testObject(t *testing.T, typeName string, attrs map[string]any) model.Object {
	t.Helper()
	obj, err := model.NewObject(
		uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		typeName,
		map[string]any{"name": "obj1"},
		model.TypedAttrs(attrs),
	)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	return obj
}

func stripPrefixRules() *RuleSet {
	return &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name:   "model-fields",
			OnType: "dcim.device",
			From:   Selector{Prefix: "model."},
			To: Target{CustomFields: &CustomFieldsTarget{
				Strategy: StrategyStripPrefix,
			}},
		}},
	}
}

func TestApplyStripPrefix(t *testing.T) {
	obj := testObject(t, "dcim.device", map[string]any{
		"name":         "sw1",
		"model.fabric": "leaf-spine",
		"model.pod":    "pod-1",
	})

	projected, err := Apply(stripPrefixRules(), []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	p := projected[0]

	want := map[string]any{"fabric": "leaf-spine", "pod": "pod-1"}
	if !reflect.DeepEqual(p.Fields.CustomFields, want) {
		t.Errorf("custom fields = %v, want %v", p.Fields.CustomFields, want)
	}
	// Claimed keys leave the base payload; unclaimed ones stay.
	fields, _ := p.Base.Attrs.Map()
	if _, there := fields["model.fabric"]; there {
		t.Error("claimed key should leave the base attrs")
	}
	if fields["name"] != "sw1" {
		t.Errorf("unclaimed attr lost: %v", fields)
	}
}

func TestApplyNilRules(t *testing.T) {
	obj := testObject(t, "dcim.device", map[string]any{"name": "sw1"})
	projected, err := Apply(nil, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !projected[0].Fields.IsZero() {
		t.Errorf("nil rules projected something: %+v", projected[0].Fields)
	}
}

func TestApplyWildcardAndOverwrite(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{
			{
				Name:   "defaults",
				OnType: "*",
				From:   Selector{Key: "env"},
				To: Target{CustomFields: &CustomFieldsTarget{
					Strategy: StrategyDirect, Field: "environment",
				}},
			},
			{
				Name:   "no-overwrite",
				OnType: "dcim.device",
				From:   Selector{Key: "env_override"},
				To: Target{CustomFields: &CustomFieldsTarget{
					Strategy: StrategyDirect, Field: "environment",
				}},
			},
		},
	}

	obj := testObject(t, "dcim.device", map[string]any{
		"env":          "prod",
		"env_override": "staging",
	})
	projected, err := Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// The earlier rule wins because the later one does not opt in.
	if got := projected[0].Fields.CustomFields["environment"]; got != "prod" {
		t.Errorf("environment = %v, want prod", got)
	}

	rules.Rules[1].Overwrite = true
	projected, err = Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply with overwrite: %v", err)
	}
	if got := projected[0].Fields.CustomFields["environment"]; got != "staging" {
		t.Errorf("environment = %v, want staging after overwrite", got)
	}
}

func TestApplyTagsMergeSortedUnique(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{
			{
				Name: "labels", OnType: "*",
				From: Selector{Key: "labels"},
				To:   Target{Tags: &TagsTarget{}},
			},
			{
				Name: "roles", OnType: "*",
				From: Selector{Key: "roles"},
				To:   Target{Tags: &TagsTarget{}},
			},
		},
	}
	obj := testObject(t, "dcim.device", map[string]any{
		"labels": []any{"edge", "prod"},
		"roles":  []any{"prod", "access"},
	})
	projected, err := Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := []string{"access", "edge", "prod"}
	if !reflect.DeepEqual(projected[0].Fields.Tags, want) {
		t.Errorf("tags = %v, want %v", projected[0].Fields.Tags, want)
	}
}

func TestApplyTagsRejectNonStringList(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name: "labels", OnType: "*",
			From: Selector{Key: "labels"},
			To:   Target{Tags: &TagsTarget{}},
		}},
	}
	obj := testObject(t, "dcim.device", map[string]any{"labels": "edge"})
	if _, err := Apply(rules, []model.Object{obj}); !IsConfigError(err) {
		t.Fatalf("expected a config error, got %v", err)
	}
}

func TestApplyContextNestsUnderRoot(t *testing.T) {
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
	obj := testObject(t, "dcim.device", map[string]any{
		"topology.tier": "leaf",
	})
	projected, err := Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	ctx, ok := projected[0].Fields.Context.(map[string]any)
	if !ok {
		t.Fatalf("context shape: %T", projected[0].Fields.Context)
	}
	inner := ctx["crucible"].(map[string]any)["topology"].(map[string]any)
	if inner["tier"] != "leaf" {
		t.Errorf("context = %v", projected[0].Fields.Context)
	}
}

func TestApplyTransformChain(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name: "owner", OnType: "*",
			From: Selector{
				Key: "owners",
				Transform: []TransformSpec{
					{Op: TransformDefault, Default: []any{"unowned"}},
					{Op: TransformJoin, Join: ","},
				},
			},
			To: Target{CustomFields: &CustomFieldsTarget{
				Strategy: StrategyDirect, Field: "owner",
			}},
		}},
	}

	obj := testObject(t, "dcim.device", map[string]any{
		"owners": []any{"neteng", "dc-ops"},
	})
	projected, err := Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := projected[0].Fields.CustomFields["owner"]; got != "neteng,dc-ops" {
		t.Errorf("owner = %v", got)
	}

	// Null runs the default first, then the join.
	obj = testObject(t, "dcim.device", map[string]any{"owners": nil})
	projected, err = Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply null: %v", err)
	}
	if got := projected[0].Fields.CustomFields["owner"]; got != "unowned" {
		t.Errorf("owner = %v, want unowned", got)
	}
}

func TestApplyDropIfNull(t *testing.T) {
	rules := &RuleSet{
		Version: 1,
		Backend: "memory",
		Rules: []Rule{{
			Name: "serial", OnType: "*",
			From: Selector{
				Key:       "serial",
				Transform: []TransformSpec{{Op: TransformDropIfNull}},
			},
			To: Target{CustomFields: &CustomFieldsTarget{
				Strategy: StrategyDirect, Field: "serial",
			}},
		}},
	}
	obj := testObject(t, "dcim.device", map[string]any{"serial": nil})
	projected, err := Apply(rules, []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, there := projected[0].Fields.CustomFields["serial"]; there {
		t.Error("drop_if_null should remove the field entirely")
	}
	// The key is still claimed so it does not linger in base attrs.
	fields, _ := projected[0].Base.Attrs.Map()
	if _, there := fields["serial"]; there {
		t.Error("dropped key should still leave the base attrs")
	}
}

func TestApplyGenericPayloadUntouched(t *testing.T) {
	obj, err := model.NewObject(
		uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		"custom.widget",
		map[string]any{"name": "w1"},
		model.GenericAttrs("opaque"),
	)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	projected, err := Apply(stripPrefixRules(), []model.Object{obj})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !projected[0].Fields.IsZero() {
		t.Errorf("non-map generic payload projected something: %+v", projected[0].Fields)
	}
}

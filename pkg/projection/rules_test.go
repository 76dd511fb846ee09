package projection

import (
	"strings"
	"testing"
)

const testRulesYAML = `
version: 1
backend: memory
rules:
  - name: model-fields
    on_type: dcim.device
    from:
      prefix: "model."
    to:
      custom_fields:
        strategy: strip_prefix
  - name: owner
    on_type: dcim.device
    from:
      key: owners
      transform:
        - default: unowned
        - join: ","
    to:
      custom_fields:
        strategy: direct
        field: owner
  - name: labels
    on_type: "*"
    from:
      key: labels
      transform: [stringify]
    to:
      tags: {}
`

func loadTestRules(t *testing.T, doc string) *RuleSet {
	t.Helper()
	rs, err := LoadRules(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	return rs
}

func TestLoadRules(t *testing.T) {
	rs := loadTestRules(t, testRulesYAML)
	if len(rs.Rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rs.Rules))
	}

	owner := rs.Rules[1]
	if len(owner.From.Transform) != 2 {
		t.Fatalf("transform chain = %v", owner.From.Transform)
	}
	if owner.From.Transform[0].Op != TransformDefault || owner.From.Transform[0].Default != "unowned" {
		t.Errorf("default transform mis-parsed: %+v", owner.From.Transform[0])
	}
	if owner.From.Transform[1].Op != TransformJoin || owner.From.Transform[1].Join != "," {
		t.Errorf("join transform mis-parsed: %+v", owner.From.Transform[1])
	}

	labels := rs.Rules[2]
	if labels.From.Transform[0].Op != TransformStringify {
		t.Errorf("scalar transform mis-parsed: %+v", labels.From.Transform[0])
	}
}

func TestLoadRulesRejectsUnknownFields(t *testing.T) {
	doc := strings.Replace(testRulesYAML, "backend: memory", "backend: memory\nextra: field", 1)
	if _, err := LoadRules(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error for unknown document field")
	}
}

func TestLoadRulesRejectsUnknownTransform(t *testing.T) {
	doc := strings.Replace(testRulesYAML, "[stringify]", "[reverse]", 1)
	if _, err := LoadRules(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error for unknown transform")
	}
}

func TestValidateRejectsWrongVersion(t *testing.T) {
	rs := loadTestRules(t, testRulesYAML)
	rs.Version = 2
	if err := rs.Validate(); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestValidateSelectorExactlyOne(t *testing.T) {
	for name, from := range map[string]Selector{
		"none": {},
		"two":  {Prefix: "model.", Key: "owners"},
	} {
		rs := &RuleSet{
			Version: 1, Backend: "memory",
			Rules: []Rule{{
				Name: "bad", OnType: "dcim.device", From: from,
				To: Target{Tags: &TagsTarget{}},
			}},
		}
		err := rs.Validate()
		if !IsConfigError(err) {
			t.Errorf("%s: expected config error, got %v", name, err)
		}
	}
}

func TestValidateRequiresTarget(t *testing.T) {
	rs := &RuleSet{
		Version: 1, Backend: "memory",
		Rules: []Rule{{
			Name: "bad", OnType: "dcim.device",
			From: Selector{Key: "owners"},
		}},
	}
	err := rs.Validate()
	if !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.Contains(err.Error(), "at least one target") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateStripPrefixNeedsPrefix(t *testing.T) {
	rs := &RuleSet{
		Version: 1, Backend: "memory",
		Rules: []Rule{{
			Name: "bad", OnType: "dcim.device",
			From: Selector{Key: "owners"},
			To: Target{CustomFields: &CustomFieldsTarget{
				Strategy: StrategyStripPrefix,
			}},
		}},
	}
	if err := rs.Validate(); !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestValidateExplicitNeedsMap(t *testing.T) {
	rs := &RuleSet{
		Version: 1, Backend: "memory",
		Rules: []Rule{{
			Name: "bad", OnType: "dcim.device",
			From: Selector{Key: "owners"},
			To: Target{CustomFields: &CustomFieldsTarget{
				Strategy: StrategyExplicit,
			}},
		}},
	}
	if err := rs.Validate(); !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestValidateSingleContextRulePerType(t *testing.T) {
	contextRule := func(name, onType string) Rule {
		return Rule{
			Name: name, OnType: onType,
			From: Selector{Prefix: "topology."},
			To: Target{Context: &ContextTarget{
				Root: "crucible.topology", Strategy: StrategyStripPrefix,
			}},
		}
	}

	rs := &RuleSet{
		Version: 1, Backend: "memory",
		Rules: []Rule{contextRule("a", "dcim.device"), contextRule("b", "dcim.device")},
	}
	if err := rs.Validate(); !IsConfigError(err) {
		t.Fatalf("expected config error for duplicate context rules, got %v", err)
	}

	// A wildcard context rule conflicts with a concrete one too.
	rs = &RuleSet{
		Version: 1, Backend: "memory",
		Rules: []Rule{contextRule("a", "*"), contextRule("b", "dcim.device")},
	}
	if err := rs.Validate(); !IsConfigError(err) {
		t.Fatalf("expected config error for wildcard overlap, got %v", err)
	}

	// Context rules on distinct types are fine.
	rs = &RuleSet{
		Version: 1, Backend: "memory",
		Rules: []Rule{contextRule("a", "dcim.device"), contextRule("b", "dcim.site")},
	}
	if err := rs.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckCapabilities(t *testing.T) {
	rs := loadTestRules(t, testRulesYAML)

	all := func(string, string) bool { return true }
	if err := rs.CheckCapabilities([]string{"dcim.device"}, all); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noTags := func(_, feature string) bool { return feature != FeatureTags }
	err := rs.CheckCapabilities([]string{"dcim.device"}, noTags)
	if !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.Contains(err.Error(), "does not support tags") {
		t.Errorf("unexpected message: %v", err)
	}
}

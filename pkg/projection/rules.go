package projection

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Projection targets double as backend feature names for capability
// negotiation.
const (
	FeatureCustomFields = "custom_fields"
	FeatureTags         = "tags"
	FeatureContext      = "context"
)

// Strategy selects how a portable attribute key becomes a backend field
// name. Invertibility is a property of the strategy: strip_prefix and
// explicit are bijections, direct is not in general.
type Strategy string

const (
	StrategyStripPrefix Strategy = "strip_prefix"
	StrategyExplicit    Strategy = "explicit"
	StrategyDirect      Strategy = "direct"
)

// TransformOp enumerates the transform chain operations.
type TransformOp string

const (
	TransformStringify  TransformOp = "stringify"
	TransformDropIfNull TransformOp = "drop_if_null"
	TransformJoin       TransformOp = "join"
	TransformDefault    TransformOp = "default"
)

// TransformSpec is one step of a rule's transform chain.
type TransformSpec struct {
	Op TransformOp

	// Join is the literal separator for the join transform.
	Join string

	// Default is the literal substituted when the source value is null.
	Default any
}

// UnmarshalYAML accepts the scalar form ("stringify", "drop_if_null") and
// the mapping forms ({join: ","}, {default: value}).
func (t *TransformSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		op := TransformOp(node.Value)
		if op != TransformStringify && op != TransformDropIfNull {
			return fmt.Errorf("unknown transform %q", node.Value)
		}
		t.Op = op
		return nil
	}

	var raw struct {
		Join    *string `yaml:"join"`
		Default any     `yaml:"default"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch {
	case raw.Join != nil:
		t.Op = TransformJoin
		t.Join = *raw.Join
	case raw.Default != nil:
		t.Op = TransformDefault
		t.Default = raw.Default
	default:
		return fmt.Errorf("transform must be stringify, drop_if_null, join or default")
	}
	return nil
}

// Selector picks attribute keys out of the portable namespace. Exactly one
// of Prefix, Key or Map must be set.
type Selector struct {
	// Prefix matches every key sharing the literal prefix.
	Prefix string `yaml:"prefix,omitempty"`

	// Key matches exactly one key.
	Key string `yaml:"key,omitempty"`

	// Map enumerates an exact source-key to target-field table.
	Map map[string]string `yaml:"map,omitempty"`

	// Transform is applied left to right to every matched value.
	Transform []TransformSpec `yaml:"transform,omitempty"`
}

// CustomFieldsTarget routes matched values into the backend custom-field set.
type CustomFieldsTarget struct {
	Strategy Strategy `yaml:"strategy" validate:"required,oneof=strip_prefix explicit direct"`

	// Prefix overrides the selector prefix for strip_prefix naming.
	Prefix string `yaml:"prefix,omitempty"`

	// Field pins the backend field name for the direct strategy.
	Field string `yaml:"field,omitempty"`
}

// TagsTarget routes matched values (arrays of strings) into the backend
// tag list. Values from multiple rules merge.
type TagsTarget struct{}

// ContextTarget routes matched values into free-form context under Root.
// At most one rule per type may target context.
type ContextTarget struct {
	Root     string   `yaml:"root" validate:"required"`
	Strategy Strategy `yaml:"strategy" validate:"required,oneof=strip_prefix explicit direct"`
	Prefix   string   `yaml:"prefix,omitempty"`
}

// Target is the destination side of a rule.
type Target struct {
	CustomFields *CustomFieldsTarget `yaml:"custom_fields,omitempty"`
	Tags         *TagsTarget         `yaml:"tags,omitempty"`
	Context      *ContextTarget      `yaml:"context,omitempty"`
}

// Rule is one declared projection.
type Rule struct {
	Name string `yaml:"name" validate:"required"`

	// OnType is a type name or "*" for every type.
	OnType string `yaml:"on_type" validate:"required"`

	From Selector `yaml:"from"`
	To   Target   `yaml:"to"`

	// Overwrite lets this rule replace values an earlier rule already
	// wrote to the same target. Off by default.
	Overwrite bool `yaml:"overwrite,omitempty"`
}

// RuleSet is the full projection declaration for a run.
type RuleSet struct {
	Version int    `yaml:"version" validate:"required,eq=1"`
	Backend string `yaml:"backend" validate:"required"`
	Rules   []Rule `yaml:"rules" validate:"dive"`
}

// ConfigError is a conflicting or unsatisfiable projection declaration.
// It is detected at rule-load time and fatal before planning starts.
type ConfigError struct {
	Rule    string
	Type    string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Rule != "" && e.Type != "":
		return fmt.Sprintf("projection rule %s (type %s): %s", e.Rule, e.Type, e.Message)
	case e.Rule != "":
		return fmt.Sprintf("projection rule %s: %s", e.Rule, e.Message)
	default:
		return "projection: " + e.Message
	}
}

// IsConfigError reports whether err carries a projection configuration
// problem anywhere in its chain.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// LoadRules reads and fully validates a YAML rule set. Every independent
// configuration problem is reported, joined into a single fatal error.
func LoadRules(r io.Reader) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode projection rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadRulesFile is LoadRules over a file path.
func LoadRulesFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open projection rules: %w", err)
	}
	defer f.Close()
	rs, err := LoadRules(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate performs struct-level and semantic checks on the rule set.
func (rs *RuleSet) Validate() error {
	if err := structValidator.Struct(rs); err != nil {
		return fmt.Errorf("projection rules: %w", err)
	}

	var errs []error
	contextRules := map[string][]string{}

	for i := range rs.Rules {
		rule := &rs.Rules[i]

		selectors := 0
		if rule.From.Prefix != "" {
			selectors++
		}
		if rule.From.Key != "" {
			selectors++
		}
		if len(rule.From.Map) > 0 {
			selectors++
		}
		if selectors != 1 {
			errs = append(errs, &ConfigError{
				Rule: rule.Name, Type: rule.OnType,
				Message: "from must include exactly one of prefix, key, or map",
			})
		}

		if rule.To.CustomFields == nil && rule.To.Tags == nil && rule.To.Context == nil {
			errs = append(errs, &ConfigError{
				Rule: rule.Name, Type: rule.OnType,
				Message: "to must name at least one target",
			})
		}

		if cf := rule.To.CustomFields; cf != nil {
			errs = append(errs, checkStrategy(rule, cf.Strategy, cf.Prefix)...)
		}
		if cx := rule.To.Context; cx != nil {
			errs = append(errs, checkStrategy(rule, cx.Strategy, cx.Prefix)...)
			contextRules[rule.OnType] = append(contextRules[rule.OnType], rule.Name)
		}
	}

	// One context rule per type; a wildcard context rule conflicts with
	// every other context rule.
	wildcards := contextRules["*"]
	for onType, names := range contextRules {
		conflicting := len(names)
		if onType != "*" {
			conflicting += len(wildcards)
		}
		if conflicting > 1 {
			errs = append(errs, &ConfigError{
				Rule: names[0], Type: onType,
				Message: "multiple rules target free-form context for the same type",
			})
		}
	}

	return errors.Join(errs...)
}

func checkStrategy(rule *Rule, strategy Strategy, targetPrefix string) []error {
	var errs []error
	switch strategy {
	case StrategyStripPrefix:
		if targetPrefix == "" && rule.From.Prefix == "" {
			errs = append(errs, &ConfigError{
				Rule: rule.Name, Type: rule.OnType,
				Message: "strip_prefix requires a prefix on the rule or the target",
			})
		}
	case StrategyExplicit:
		if len(rule.From.Map) == 0 {
			errs = append(errs, &ConfigError{
				Rule: rule.Name, Type: rule.OnType,
				Message: "explicit strategy requires a from map",
			})
		}
	}
	return errs
}

// rulesFor returns the rules applicable to typeName in declaration order.
func (rs *RuleSet) rulesFor(typeName string) []*Rule {
	var rules []*Rule
	for i := range rs.Rules {
		if rs.Rules[i].OnType == "*" || rs.Rules[i].OnType == typeName {
			rules = append(rules, &rs.Rules[i])
		}
	}
	return rules
}

// CheckCapabilities verifies that every target a rule projects into is
// supported by the backend for every concrete type the rule applies to.
// Surfaced as a configuration error before any backend write is attempted.
func (rs *RuleSet) CheckCapabilities(types []string, supports func(typeName, feature string) bool) error {
	var errs []error
	for _, typeName := range types {
		for _, rule := range rs.rulesFor(typeName) {
			check := func(feature string) {
				if !supports(typeName, feature) {
					errs = append(errs, &ConfigError{
						Rule: rule.Name, Type: typeName,
						Message: fmt.Sprintf("backend does not support %s for this type", feature),
					})
				}
			}
			if rule.To.CustomFields != nil {
				check(FeatureCustomFields)
			}
			if rule.To.Tags != nil {
				check(FeatureTags)
			}
			if rule.To.Context != nil {
				check(FeatureContext)
			}
		}
	}
	return errors.Join(errs...)
}

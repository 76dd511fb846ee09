package model

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Finding codes. One code per class of violation so callers can filter
// programmatically.
const (
	CodeDuplicateUID     = "duplicate_uid"
	CodeMissingType      = "missing_type"
	CodeMissingKey       = "missing_key"
	CodeDuplicateKey     = "duplicate_key"
	CodeUnknownRefTarget = "unknown_ref_target"
	CodeMissingReference = "missing_reference"
	CodeRefTypeMismatch  = "reference_type_mismatch"
	CodeMissingRequired  = "missing_required"
	CodeInvalidValue     = "invalid_value"
	CodeUnknownField     = "unknown_field"
)

// Finding is one validation failure. Validation never stops at the first
// problem; every independent finding is reported in one pass.
type Finding struct {
	// UID identifies the offending object. Zero for schema-level findings.
	UID uuid.UUID `json:"uid,omitempty"`

	// Type is the offending object's type, or the schema type for
	// schema-level findings.
	Type string `json:"type,omitempty"`

	// Field names the offending field when the finding is field-level.
	Field string `json:"field,omitempty"`

	// Code is the violation class.
	Code string `json:"code"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

func (f Finding) String() string {
	var b strings.Builder
	b.WriteString(f.Code)
	if f.Type != "" {
		fmt.Fprintf(&b, " [%s", f.Type)
		if f.Field != "" {
			fmt.Fprintf(&b, ".%s", f.Field)
		}
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(f.Message)
	return b.String()
}

// ValidationError aggregates every finding from one validation pass.
type ValidationError struct {
	Findings []Finding
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Findings)+1)
	lines = append(lines, fmt.Sprintf("validation failed with %d finding(s):", len(e.Findings)))
	for _, f := range e.Findings {
		lines = append(lines, "  - "+f.String())
	}
	return strings.Join(lines, "\n")
}

// Validate checks a candidate object set against the schema and returns
// every finding. An empty slice means the set is valid.
func Validate(schema Schema, objects []Object) []Finding {
	var findings []Finding

	findings = append(findings, validateSchemaRefs(schema)...)

	seenUIDs := map[uuid.UUID]bool{}
	seenKeys := map[string]bool{}
	uidToType := map[uuid.UUID]string{}

	for _, obj := range objects {
		if obj.Type == "" {
			findings = append(findings, Finding{
				UID: obj.UID, Code: CodeMissingType,
				Message: fmt.Sprintf("object %s has no type", obj.UID),
			})
		}
		if len(obj.Key) == 0 {
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Code: CodeMissingKey,
				Message: fmt.Sprintf("object %s has an empty key", obj.UID),
			})
		}
		if seenUIDs[obj.UID] {
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Code: CodeDuplicateUID,
				Message: fmt.Sprintf("uid %s appears more than once", obj.UID),
			})
		}
		seenUIDs[obj.UID] = true

		// Keys are unique per type; the canonical encoding makes field
		// order irrelevant.
		ck := obj.Type + "\x00" + CanonicalKey(obj.Key)
		if seenKeys[ck] {
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Code: CodeDuplicateKey,
				Message: fmt.Sprintf("key %s duplicates another %s object", CanonicalKey(obj.Key), obj.Type),
			})
		}
		seenKeys[ck] = true
		uidToType[obj.UID] = obj.Type
	}

	for _, obj := range objects {
		ts, typed := schema.TypeOf(obj.Type)
		if !typed {
			// Unknown type: accepted unconditionally, payload is opaque.
			continue
		}
		if obj.Attrs.Kind != AttrsTyped {
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Code: CodeInvalidValue,
				Message: "schema-known type carries a generic payload",
			})
			continue
		}
		findings = append(findings, validateTypedObject(obj, ts, uidToType)...)
	}

	return findings
}

// ValidateInventory wraps Validate into an error for callers that abort on
// any finding.
func ValidateInventory(inv Inventory) error {
	findings := Validate(inv.Schema, inv.Objects)
	if len(findings) == 0 {
		return nil
	}
	return &ValidationError{Findings: findings}
}

// validateSchemaRefs checks that every declared reference target is a known
// type name. The target may be untyped elsewhere, but a target the schema
// has never heard of is a typo.
func validateSchemaRefs(schema Schema) []Finding {
	var findings []Finding
	names := make([]string, 0, len(schema.Types))
	for name := range schema.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ts := schema.Types[name]
		fields := make([]string, 0, len(ts.Fields))
		for field := range ts.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			decl := ts.Fields[field]
			if !decl.Type.IsRef() {
				continue
			}
			if _, ok := schema.Types[decl.Type.Target]; !ok {
				findings = append(findings, Finding{
					Type: name, Field: field, Code: CodeUnknownRefTarget,
					Message: fmt.Sprintf("reference target %q is not a declared type", decl.Type.Target),
				})
			}
		}
	}
	return findings
}

func validateTypedObject(obj Object, ts TypeSchema, uidToType map[uuid.UUID]string) []Finding {
	var findings []Finding

	fields := make([]string, 0, len(obj.Attrs.Fields))
	for field := range obj.Attrs.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := obj.Attrs.Fields[field]
		decl, declared := ts.Fields[field]
		if !declared {
			// Dotted keys belong to the portable extension namespace and
			// are claimed by projection rules, not the schema.
			if strings.Contains(field, ".") {
				continue
			}
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Field: field, Code: CodeUnknownField,
				Message: fmt.Sprintf("field %q is not declared for type %s", field, obj.Type),
			})
			continue
		}
		if value == nil {
			// Explicit null is "no opinion" unless the field is required
			// and not nullable; required handling below catches that.
			continue
		}
		findings = append(findings, checkFieldValue(obj, field, decl, value, uidToType)...)
	}

	required := make([]string, 0)
	for field, decl := range ts.Fields {
		if decl.Required {
			required = append(required, field)
		}
	}
	sort.Strings(required)
	for _, field := range required {
		decl := ts.Fields[field]
		value, present := obj.Attrs.Fields[field]
		if !present || (value == nil && !decl.Nullable) {
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Field: field, Code: CodeMissingRequired,
				Message: fmt.Sprintf("required field %q is missing", field),
			})
		}
	}

	return findings
}

func checkFieldValue(obj Object, field string, decl FieldSchema, value any, uidToType map[uuid.UUID]string) []Finding {
	var findings []Finding

	if decl.Type.IsRef() {
		findings = append(findings, checkReference(obj, field, decl.Type, value, uidToType)...)
	} else if msg := checkValueType(decl.Type, value); msg != "" {
		findings = append(findings, Finding{
			UID: obj.UID, Type: obj.Type, Field: field, Code: CodeInvalidValue,
			Message: msg,
		})
	}

	if decl.Pattern != "" {
		if s, ok := value.(string); ok {
			if matched, err := regexp.MatchString("^(?:"+decl.Pattern+")$", s); err != nil || !matched {
				findings = append(findings, Finding{
					UID: obj.UID, Type: obj.Type, Field: field, Code: CodeInvalidValue,
					Message: fmt.Sprintf("value %q does not match pattern %s", s, decl.Pattern),
				})
			}
		}
	}

	return findings
}

func checkReference(obj Object, field string, ft FieldType, value any, uidToType map[uuid.UUID]string) []Finding {
	targets, msg := refUIDs(ft, value)
	if msg != "" {
		return []Finding{{
			UID: obj.UID, Type: obj.Type, Field: field, Code: CodeInvalidValue,
			Message: msg,
		}}
	}

	var findings []Finding
	for _, target := range targets {
		actual, exists := uidToType[target]
		switch {
		case !exists:
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Field: field, Code: CodeMissingReference,
				Message: fmt.Sprintf("reference %s does not resolve to any object", target),
			})
		case actual != ft.Target:
			findings = append(findings, Finding{
				UID: obj.UID, Type: obj.Type, Field: field, Code: CodeRefTypeMismatch,
				Message: fmt.Sprintf("reference %s points at type %s, expected %s", target, actual, ft.Target),
			})
		}
	}
	return findings
}

// refUIDs extracts the referenced uids from a ref or list_ref value.
func refUIDs(ft FieldType, value any) ([]uuid.UUID, string) {
	parse := func(v any) (uuid.UUID, string) {
		s, ok := v.(string)
		if !ok {
			return uuid.Nil, fmt.Sprintf("reference value %v must be a uid string", v)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, fmt.Sprintf("reference value %q is not a valid uid", s)
		}
		return id, ""
	}

	if ft.Kind == FieldRef {
		id, msg := parse(value)
		if msg != "" {
			return nil, msg
		}
		return []uuid.UUID{id}, ""
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Sprintf("list_ref value %v must be a list of uid strings", value)
	}
	uids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		id, msg := parse(item)
		if msg != "" {
			return nil, msg
		}
		uids = append(uids, id)
	}
	return uids, ""
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// checkValueType verifies a value against a declared non-reference type.
// Returns an empty string when the value conforms.
func checkValueType(ft FieldType, value any) string {
	switch ft.Kind {
	case FieldString, FieldText:
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected string, got %T", value)
		}
	case FieldSlug:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected slug string, got %T", value)
		}
		if !slugPattern.MatchString(s) {
			return fmt.Sprintf("%q is not a valid slug", s)
		}
	case FieldInt:
		if !isIntValue(value) {
			return fmt.Sprintf("expected int, got %T", value)
		}
	case FieldFloat:
		if !isNumberValue(value) {
			return fmt.Sprintf("expected number, got %T", value)
		}
	case FieldBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", value)
		}
	case FieldUUID:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected uuid string, got %T", value)
		}
		if _, err := uuid.Parse(s); err != nil {
			return fmt.Sprintf("%q is not a valid uuid", s)
		}
	case FieldDate:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected date string, got %T", value)
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Sprintf("%q is not a valid date", s)
		}
	case FieldDatetime:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected datetime string, got %T", value)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Sprintf("%q is not a valid RFC 3339 datetime", s)
		}
	case FieldIPAddress:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected ip address string, got %T", value)
		}
		if _, err := netip.ParseAddr(s); err != nil {
			return fmt.Sprintf("%q is not a valid ip address", s)
		}
	case FieldCIDR:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected cidr string, got %T", value)
		}
		if _, err := netip.ParsePrefix(s); err != nil {
			return fmt.Sprintf("%q is not a valid cidr", s)
		}
	case FieldMAC:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected mac string, got %T", value)
		}
		if _, err := net.ParseMAC(s); err != nil {
			return fmt.Sprintf("%q is not a valid mac address", s)
		}
	case FieldEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected enum string, got %T", value)
		}
		for _, allowed := range ft.Values {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("%q is not one of %v", s, ft.Values)
	case FieldJSON:
		// Any structured value is acceptable.
	case FieldList:
		items, ok := value.([]any)
		if !ok {
			return fmt.Sprintf("expected list, got %T", value)
		}
		for i, item := range items {
			if msg := checkValueType(*ft.Item, item); msg != "" {
				return fmt.Sprintf("item %d: %s", i, msg)
			}
		}
	case FieldMap:
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Sprintf("expected map, got %T", value)
		}
		for k, v := range m {
			if v == nil {
				continue
			}
			if msg := checkValueType(*ft.Value, v); msg != "" {
				return fmt.Sprintf("entry %q: %s", k, msg)
			}
		}
	}
	return ""
}

func isIntValue(v any) bool {
	switch n := v.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return true
	case float64:
		return n == float64(int64(n))
	default:
		return false
	}
}

func isNumberValue(v any) bool {
	switch v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}

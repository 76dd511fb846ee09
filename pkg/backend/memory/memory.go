// Package memory implements an in-process reference backend. It keeps
// observed records in maps, assigns ids from a counter (or as opaque
// strings), and can persist its contents as a JSON snapshot. It exists
// for tests and for exercising full plan and apply cycles without a
// remote system.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/model"
)

// Option configures a Backend.
type Option func(*Backend)

// WithStringIDs assigns opaque string ids instead of sequential ints.
func WithStringIDs() Option {
	return func(b *Backend) { b.stringIDs = true }
}

// WithoutFeature disables a projection feature for every type.
func WithoutFeature(feature string) Option {
	return func(b *Backend) { b.disabled[feature] = true }
}

// WithIdentities maps stored reference ids back to object uids on
// observe. Without it, reference fields come back holding the raw
// backend ids the executor wrote.
func WithIdentities(store identity.Store) Option {
	return func(b *Backend) { b.identities = store }
}

// Backend is an in-memory implementation of backend.Backend.
type Backend struct {
	mu         sync.Mutex
	schema     model.Schema
	records    map[string]map[string]backend.ObservedRecord
	nextInt    int64
	stringIDs  bool
	disabled   map[string]bool
	identities identity.Store
}

// New returns an empty backend for the given schema. The schema is used
// to reconstruct structured keys from stored attributes.
func New(schema model.Schema, opts ...Option) *Backend {
	b := &Backend{
		schema:   schema,
		records:  map[string]map[string]backend.ObservedRecord{},
		nextInt:  1,
		disabled: map[string]bool{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Observe returns every record of the given type in canonical key order.
func (b *Backend) Observe(_ context.Context, typeName string) ([]backend.ObservedRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID := b.records[typeName]
	out := make([]backend.ObservedRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, b.resolveRefs(typeName, rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return model.CanonicalKey(out[i].Key) < model.CanonicalKey(out[j].Key)
	})
	return out, nil
}

// Create stores a new record and returns its assigned id.
func (b *Backend) Create(_ context.Context, typeName string, payload backend.Payload) (identity.BackendID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.assignID()
	key, err := b.keyFromAttrs(typeName, payload.Attrs)
	if err != nil {
		return identity.BackendID{}, err
	}
	rec := backend.ObservedRecord{
		BackendID: id,
		Type:      typeName,
		Key:       key,
		Attrs:     cloneMap(payload.Attrs),
		Fields:    payload.Fields,
	}
	if b.records[typeName] == nil {
		b.records[typeName] = map[string]backend.ObservedRecord{}
	}
	b.records[typeName][id.String()] = rec
	return id, nil
}

// Update applies a field diff to a stored record.
func (b *Backend) Update(_ context.Context, typeName string, id identity.BackendID, changes []backend.FieldChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.records[typeName][id.String()]
	if !ok {
		return fmt.Errorf("memory: no %s record with id %s", typeName, id)
	}
	rec.Attrs = cloneMap(rec.Attrs)
	for _, ch := range changes {
		switch {
		case ch.Field == "attrs":
			to, ok := ch.To.(map[string]any)
			if !ok {
				return fmt.Errorf("memory: attrs change for %s id %s is not a mapping", typeName, id)
			}
			rec.Attrs = cloneMap(to)
		case ch.Field == "tags":
			rec.Fields.Tags = toStrings(ch.To)
		case ch.Field == "context":
			rec.Fields.Context = ch.To
		case strings.HasPrefix(ch.Field, "custom_fields."):
			if rec.Fields.CustomFields == nil {
				rec.Fields.CustomFields = map[string]any{}
			}
			rec.Fields.CustomFields[strings.TrimPrefix(ch.Field, "custom_fields.")] = ch.To
		default:
			rec.Attrs[ch.Field] = ch.To
		}
	}
	key, err := b.keyFromAttrs(typeName, rec.Attrs)
	if err != nil {
		return err
	}
	rec.Key = key
	b.records[typeName][id.String()] = rec
	return nil
}

// Delete removes a stored record.
func (b *Backend) Delete(_ context.Context, typeName string, id identity.BackendID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[typeName][id.String()]; !ok {
		return fmt.Errorf("memory: no %s record with id %s", typeName, id)
	}
	delete(b.records[typeName], id.String())
	return nil
}

// Supports reports whether a projection feature is enabled.
func (b *Backend) Supports(_, feature string) bool {
	return !b.disabled[feature]
}

// Seed inserts a record directly, bypassing id assignment. Used by tests
// and by snapshot loading.
func (b *Backend) Seed(rec backend.ObservedRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.records[rec.Type] == nil {
		b.records[rec.Type] = map[string]backend.ObservedRecord{}
	}
	b.records[rec.Type][rec.BackendID.String()] = rec
	if rec.BackendID.Kind == identity.IDInt && rec.BackendID.Int >= b.nextInt {
		b.nextInt = rec.BackendID.Int + 1
	}
}

func (b *Backend) assignID() identity.BackendID {
	if b.stringIDs {
		return identity.StringID(uuid.NewString())
	}
	id := identity.IntID(b.nextInt)
	b.nextInt++
	return id
}

// resolveRefs rewrites stored reference ids back to object uids, so
// observed records compare against desired ones. Records are not
// mutated in place; attrs are cloned when a rewrite applies.
func (b *Backend) resolveRefs(typeName string, rec backend.ObservedRecord) backend.ObservedRecord {
	if b.identities == nil {
		return rec
	}
	refFields := b.schema.RefFields(typeName)
	if len(refFields) == 0 {
		return rec
	}
	attrs := cloneMap(rec.Attrs)
	for name, fs := range refFields {
		v, present := attrs[name]
		if !present || v == nil {
			continue
		}
		if fs.Type.Kind == model.FieldListRef {
			items, ok := v.([]any)
			if !ok {
				continue
			}
			resolved := make([]any, len(items))
			for i, item := range items {
				resolved[i] = b.uidForRef(fs.Type.Target, item)
			}
			attrs[name] = resolved
			continue
		}
		attrs[name] = b.uidForRef(fs.Type.Target, v)
	}
	rec.Attrs = attrs
	return rec
}

// uidForRef maps one stored id value back to a uid string. Unmapped or
// unrecognized values come back unchanged.
func (b *Backend) uidForRef(target string, v any) any {
	id, ok := refBackendID(v)
	if !ok {
		return v
	}
	if uid, ok := b.identities.UIDFor(target, id); ok {
		return uid.String()
	}
	return v
}

// refBackendID rebuilds a BackendID from a stored attribute value.
// Snapshot loading decodes numeric ids as float64.
func refBackendID(v any) (identity.BackendID, bool) {
	switch vv := v.(type) {
	case int:
		return identity.IntID(int64(vv)), true
	case int64:
		return identity.IntID(vv), true
	case float64:
		if vv != float64(int64(vv)) {
			return identity.BackendID{}, false
		}
		return identity.IntID(int64(vv)), true
	case string:
		return identity.StringID(vv), true
	}
	return identity.BackendID{}, false
}

func (b *Backend) keyFromAttrs(typeName string, attrs map[string]any) (map[string]any, error) {
	ts, ok := b.schema.TypeOf(typeName)
	if !ok {
		return nil, fmt.Errorf("memory: type %s not in schema", typeName)
	}
	key := make(map[string]any, len(ts.Key))
	for _, kf := range ts.Key {
		v, ok := attrs[kf.Name]
		if !ok {
			return nil, fmt.Errorf("memory: %s payload is missing key field %s", typeName, kf.Name)
		}
		key[kf.Name] = v
	}
	return key, nil
}

// snapshot is the JSON shape persisted by SaveFile.
type snapshot struct {
	NextID  int64                    `json:"next_id"`
	Records []backend.ObservedRecord `json:"records"`
}

// SaveFile writes the backend contents as a JSON snapshot.
func (b *Backend) SaveFile(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := snapshot{NextID: b.nextInt}
	types := make([]string, 0, len(b.records))
	for t := range b.records {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		byID := b.records[t]
		recs := make([]backend.ObservedRecord, 0, len(byID))
		for _, rec := range byID {
			recs = append(recs, rec)
		}
		sort.Slice(recs, func(i, j int) bool {
			return model.CanonicalKey(recs[i].Key) < model.CanonicalKey(recs[j].Key)
		})
		snap.Records = append(snap.Records, recs...)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// LoadFile replaces the backend contents with a JSON snapshot.
func (b *Backend) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	b.mu.Lock()
	b.records = map[string]map[string]backend.ObservedRecord{}
	b.nextInt = snap.NextID
	if b.nextInt < 1 {
		b.nextInt = 1
	}
	b.mu.Unlock()

	for _, rec := range snap.Records {
		b.Seed(rec)
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Package extract builds an inventory from a live backend. Each schema
// type is observed concurrently, projected storage is inverted back into
// portable attributes, and the result is a deterministic inventory whose
// uids are derived from type and key. Running extract against the same
// backend twice yields byte-identical inventories.
package extract

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/model"
	"github.com/crucible-io/crucible/pkg/projection"
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the extractor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger.With().Str("component", "extract").Logger()
	}
}

// WithStore records observed identities into the given store, so a
// following plan matches by identity instead of by key.
func WithStore(store identity.Store) Option {
	return func(e *Extractor) { e.store = store }
}

// WithConcurrency caps the number of types observed at once.
func WithConcurrency(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// Extractor reads a backend and produces an inventory.
type Extractor struct {
	backend     backend.Backend
	schema      model.Schema
	rules       *projection.RuleSet
	store       identity.Store
	logger      zerolog.Logger
	concurrency int
}

// New returns an extractor. rules may be nil, in which case nothing is
// inverted and records come back with their stored attributes only.
func New(b backend.Backend, schema model.Schema, rules *projection.RuleSet, opts ...Option) *Extractor {
	e := &Extractor{
		backend:     b,
		schema:      schema,
		rules:       rules,
		logger:      zerolog.Nop(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run observes every schema type and assembles the inventory. Warnings
// report projected storage that could not be inverted and was preserved
// raw instead.
func (e *Extractor) Run(ctx context.Context) (model.Inventory, []projection.Warning, error) {
	types := make([]string, 0, len(e.schema.Types))
	for name := range e.schema.Types {
		types = append(types, name)
	}
	sort.Strings(types)

	var (
		mu       sync.Mutex
		objects  []model.Object
		warnings []projection.Warning
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, typeName := range types {
		g.Go(func() error {
			records, err := e.backend.Observe(ctx, typeName)
			if err != nil {
				return &backend.OpError{Op: "observe", Type: typeName, Err: err}
			}
			objs, warns := e.convert(typeName, records)
			mu.Lock()
			objects = append(objects, objs...)
			warnings = append(warnings, warns...)
			mu.Unlock()
			e.logger.Debug().
				Str("type", typeName).
				Int("records", len(records)).
				Msg("type observed")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Inventory{}, nil, err
	}

	sort.Slice(objects, func(i, j int) bool {
		if objects[i].Type != objects[j].Type {
			return objects[i].Type < objects[j].Type
		}
		return model.CanonicalKey(objects[i].Key) < model.CanonicalKey(objects[j].Key)
	})
	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].Type != warnings[j].Type {
			return warnings[i].Type < warnings[j].Type
		}
		return warnings[i].Field < warnings[j].Field
	})

	e.logger.Info().
		Int("objects", len(objects)).
		Int("warnings", len(warnings)).
		Msg("extract complete")
	return model.Inventory{Schema: e.schema, Objects: objects}, warnings, nil
}

// convert turns observed records of one type into inventory objects.
func (e *Extractor) convert(typeName string, records []backend.ObservedRecord) ([]model.Object, []projection.Warning) {
	objects := make([]model.Object, 0, len(records))
	var warnings []projection.Warning
	for _, rec := range records {
		attrs := make(map[string]any, len(rec.Attrs))
		for k, v := range rec.Attrs {
			attrs[k] = v
		}
		// Key fields live in the structured key, not the attribute map.
		if ts, ok := e.schema.TypeOf(typeName); ok {
			for _, kf := range ts.Key {
				delete(attrs, kf.Name)
			}
		}
		inverted, warns := projection.Invert(e.rules, typeName, rec.Fields)
		for k, v := range inverted {
			attrs[k] = v
		}
		warnings = append(warnings, warns...)

		uid := model.UIDv5(typeName, model.CanonicalKey(rec.Key))
		obj, err := model.NewObject(uid, typeName, rec.Key, model.TypedAttrs(attrs))
		if err != nil {
			// NewObject only rejects empty types and keys, which Observe
			// never returns.
			continue
		}
		objects = append(objects, obj)
		if e.store != nil {
			e.store.Record(typeName, uid, rec.BackendID)
		}
	}
	return objects, warnings
}

package planner

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/model"
	"github.com/crucible-io/crucible/pkg/projection"
)

// Planner matches desired objects against observed records and emits a
// deterministic plan.
type Planner struct {
	store  identity.Store
	logger zerolog.Logger
}

// New returns a planner backed by the given identity store.
func New(store identity.Store) *Planner {
	return &Planner{
		store:  store,
		logger: zerolog.Nop(),
	}
}

// WithLogger sets the planner logger.
func (p *Planner) WithLogger(logger zerolog.Logger) *Planner {
	p.logger = logger.With().Str("component", "planner").Logger()
	return p
}

type observedEntry struct {
	rec     backend.ObservedRecord
	claimed bool
}

// Plan computes the operation list. Matching tries the identity store
// first and falls back to key equality; a key match seeds the store so
// later runs match by identity. Every observed record no desired object
// claims becomes a delete, whether or not the executor will be allowed
// to run it.
func (p *Planner) Plan(desired []projection.Projected, observed []backend.ObservedRecord) (*Plan, error) {
	entries := make([]*observedEntry, 0, len(observed))
	byID := make(map[string]*observedEntry, len(observed))
	byKey := make(map[string]*observedEntry, len(observed))
	for _, rec := range observed {
		ent := &observedEntry{rec: rec}
		entries = append(entries, ent)
		byID[indexKey(rec.Type, idIndex(rec.BackendID))] = ent
		canon := indexKey(rec.Type, model.CanonicalKey(rec.Key))
		if _, dup := byKey[canon]; dup {
			p.logger.Warn().
				Str("type", rec.Type).
				Str("key", model.CanonicalKey(rec.Key)).
				Msg("observed records share a key; key matching uses the first")
			continue
		}
		byKey[canon] = ent
	}

	var forward, deletes []Operation
	for _, d := range desired {
		canon := model.CanonicalKey(d.Base.Key)

		var ent *observedEntry
		if id, ok := p.store.Lookup(d.Base.Type, d.Base.UID); ok {
			ent = byID[indexKey(d.Base.Type, idIndex(id))]
			if ent == nil {
				p.logger.Debug().
					Str("type", d.Base.Type).
					Str("uid", d.Base.UID.String()).
					Str("id", id.String()).
					Msg("tracked id no longer observed; planning a create")
			}
		}
		if ent == nil {
			if cand := byKey[indexKey(d.Base.Type, canon)]; cand != nil && !cand.claimed {
				ent = cand
				p.store.Record(d.Base.Type, d.Base.UID, cand.rec.BackendID)
			}
		}

		dc := d
		if ent == nil {
			forward = append(forward, Operation{
				Kind:    OpCreate,
				UID:     d.Base.UID,
				Type:    d.Base.Type,
				Key:     canon,
				Desired: &dc,
			})
			continue
		}
		if ent.claimed {
			return nil, fmt.Errorf("plan: desired object %s %s matches an already claimed record (id %s)",
				d.Base.Type, canon, ent.rec.BackendID)
		}
		ent.claimed = true

		changes := diffObject(d, ent.rec)
		if len(changes) == 0 {
			continue
		}
		id := ent.rec.BackendID
		forward = append(forward, Operation{
			Kind:      OpUpdate,
			UID:       d.Base.UID,
			Type:      d.Base.Type,
			Key:       canon,
			BackendID: &id,
			Desired:   &dc,
			Changes:   changes,
		})
	}

	for _, ent := range entries {
		if ent.claimed {
			continue
		}
		canon := model.CanonicalKey(ent.rec.Key)
		uid, ok := p.store.UIDFor(ent.rec.Type, ent.rec.BackendID)
		if !ok {
			uid = model.UIDv5(ent.rec.Type, canon)
		}
		id := ent.rec.BackendID
		deletes = append(deletes, Operation{
			Kind:      OpDelete,
			UID:       uid,
			Type:      ent.rec.Type,
			Key:       canon,
			BackendID: &id,
		})
	}

	sort.SliceStable(forward, func(i, j int) bool { return opLess(forward[i], forward[j], false) })
	sort.SliceStable(deletes, func(i, j int) bool { return opLess(deletes[i], deletes[j], true) })

	plan := &Plan{Operations: append(forward, deletes...)}
	creates, updates, dels := plan.Counts()
	p.logger.Info().
		Int("creates", creates).
		Int("updates", updates).
		Int("deletes", dels).
		Msg("plan computed")
	return plan, nil
}

func indexKey(typeName, rest string) string {
	return typeName + "\x00" + rest
}

// idIndex renders a backend id with its kind, so an int id and a string
// id with the same rendering never collide in the identity index.
func idIndex(id identity.BackendID) string {
	return string(id.Kind) + "\x00" + id.String()
}

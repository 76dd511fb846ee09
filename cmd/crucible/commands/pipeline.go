package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/backend/memory"
	"github.com/crucible-io/crucible/pkg/model"
	"github.com/crucible-io/crucible/pkg/planner"
	"github.com/crucible-io/crucible/pkg/projection"
)

// pipeline holds the loaded state a plan or apply run works from.
type pipeline struct {
	inventory model.Inventory
	rules     *projection.RuleSet
	backend   *memory.Backend
	desired   []projection.Projected
	observed  []backend.ObservedRecord
}

// buildPipeline loads and validates the inventory, loads the rules,
// opens the backend, projects the desired objects and observes every
// schema type.
func buildPipeline(ctx context.Context, rt *runtime) (*pipeline, error) {
	inv, err := rt.loadInventory()
	if err != nil {
		return nil, err
	}
	if err := model.ValidateInventory(inv); err != nil {
		return nil, err
	}

	rules, err := rt.loadRules()
	if err != nil {
		return nil, fmt.Errorf("projection rules: %w", err)
	}

	b, err := rt.openBackend(inv.Schema)
	if err != nil {
		return nil, err
	}

	types := observedTypes(inv)

	if rules != nil {
		if err := rules.CheckCapabilities(types, b.Supports); err != nil {
			return nil, err
		}
	}

	desired, err := projection.Apply(rules, inv.Objects)
	if err != nil {
		return nil, err
	}

	var observed []backend.ObservedRecord
	for _, typeName := range types {
		records, err := b.Observe(ctx, typeName)
		if err != nil {
			return nil, err
		}
		rt.metrics.ObjectsObserved(typeName, len(records))
		observed = append(observed, records...)
	}

	return &pipeline{
		inventory: inv,
		rules:     rules,
		backend:   b,
		desired:   desired,
		observed:  observed,
	}, nil
}

// observedTypes returns every type the schema declares plus every type
// the inventory mentions, sorted. Generically-typed objects must be
// observed too, or they would plan as creates on every run.
func observedTypes(inv model.Inventory) []string {
	typeSet := map[string]struct{}{}
	for name := range inv.Schema.Types {
		typeSet[name] = struct{}{}
	}
	for _, obj := range inv.Objects {
		typeSet[obj.Type] = struct{}{}
	}
	types := make([]string, 0, len(typeSet))
	for name := range typeSet {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// computePlan runs the planner over the pipeline state.
func (p *pipeline) computePlan(rt *runtime) (*planner.Plan, error) {
	plan, err := planner.New(rt.store).WithLogger(rt.logger).Plan(p.desired, p.observed)
	if err != nil {
		return nil, err
	}
	creates, updates, deletes := plan.Counts()
	rt.metrics.PlanComputed(rt.cfg.Backend.Name, creates, updates, deletes)
	return plan, nil
}

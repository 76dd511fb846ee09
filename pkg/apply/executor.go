package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/model"
	"github.com/crucible-io/crucible/pkg/planner"
)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger.With().Str("component", "apply").Logger()
	}
}

// WithTracer sets the tracer used to span the run and each operation.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

// AllowDelete enables delete execution. Deletes stay in the plan either
// way; without this they are reported as skipped.
func AllowDelete(allow bool) Option {
	return func(e *Executor) { e.allowDelete = allow }
}

// Executor runs plans against one backend.
type Executor struct {
	backend     backend.Backend
	store       identity.Store
	schema      model.Schema
	allowDelete bool
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// New returns an executor for the given backend and identity store.
func New(b backend.Backend, store identity.Store, schema model.Schema, opts ...Option) *Executor {
	e := &Executor{
		backend: b,
		store:   store,
		schema:  schema,
		logger:  zerolog.Nop(),
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the plan in order. The returned report covers every
// operation; the error is the first failure, if any.
func (e *Executor) Run(ctx context.Context, plan *planner.Plan) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "apply.run",
		trace.WithAttributes(attribute.Int("plan.operations", len(plan.Operations))))
	defer span.End()

	report := &Report{Results: make([]Result, 0, len(plan.Operations))}
	assigned := map[uuid.UUID]identity.BackendID{}

	var firstErr error
	for _, op := range plan.Operations {
		if firstErr != nil {
			report.Results = append(report.Results, Result{
				Op:      op,
				Outcome: OutcomeSkipped,
				Reason:  "aborted after earlier failure",
			})
			continue
		}
		if err := ctx.Err(); err != nil {
			firstErr = err
			report.Results = append(report.Results, Result{
				Op:      op,
				Outcome: OutcomeFailed,
				Reason:  err.Error(),
			})
			continue
		}
		if op.Kind == planner.OpDelete && !e.allowDelete {
			e.logger.Info().
				Str("type", op.Type).
				Str("key", op.Key).
				Msg("delete skipped, deletes disabled")
			report.Results = append(report.Results, Result{
				Op:      op,
				Outcome: OutcomeSkipped,
				Reason:  "deletes disabled",
			})
			continue
		}

		start := time.Now()
		res, err := e.runOp(ctx, op, assigned)
		res.Duration = time.Since(start)
		report.Results = append(report.Results, res)
		if err != nil {
			firstErr = err
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return report, firstErr
}

func (e *Executor) runOp(ctx context.Context, op planner.Operation, assigned map[uuid.UUID]identity.BackendID) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "apply."+string(op.Kind), trace.WithAttributes(
		attribute.String("object.type", op.Type),
		attribute.String("object.key", op.Key),
	))
	defer span.End()

	fail := func(err error) (Result, error) {
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error().Err(err).
			Str("op", string(op.Kind)).
			Str("type", op.Type).
			Str("key", op.Key).
			Msg("operation failed")
		return Result{Op: op, Outcome: OutcomeFailed, Reason: err.Error()}, err
	}

	switch op.Kind {
	case planner.OpCreate:
		payload, err := e.createPayload(op, assigned)
		if err != nil {
			return fail(err)
		}
		id, err := e.backend.Create(ctx, op.Type, payload)
		if err != nil {
			return fail(&backend.OpError{Op: "create", Type: op.Type, Err: err})
		}
		e.store.Record(op.Type, op.UID, id)
		assigned[op.UID] = id
		e.logger.Info().
			Str("type", op.Type).
			Str("key", op.Key).
			Str("id", id.String()).
			Msg("created")
		return Result{Op: op, Outcome: OutcomeApplied, BackendID: &id}, nil

	case planner.OpUpdate:
		changes, err := e.resolveChanges(op, assigned)
		if err != nil {
			return fail(err)
		}
		if err := e.backend.Update(ctx, op.Type, *op.BackendID, changes); err != nil {
			return fail(&backend.OpError{Op: "update", Type: op.Type, ID: op.BackendID, Err: err})
		}
		e.logger.Info().
			Str("type", op.Type).
			Str("key", op.Key).
			Str("id", op.BackendID.String()).
			Int("changes", len(changes)).
			Msg("updated")
		return Result{Op: op, Outcome: OutcomeApplied}, nil

	case planner.OpDelete:
		if err := e.backend.Delete(ctx, op.Type, *op.BackendID); err != nil {
			return fail(&backend.OpError{Op: "delete", Type: op.Type, ID: op.BackendID, Err: err})
		}
		e.store.Forget(op.Type, op.UID)
		e.logger.Info().
			Str("type", op.Type).
			Str("key", op.Key).
			Str("id", op.BackendID.String()).
			Msg("deleted")
		return Result{Op: op, Outcome: OutcomeApplied}, nil
	}
	return fail(fmt.Errorf("unknown operation kind %q", op.Kind))
}

// createPayload builds the full create payload: structured key merged
// over the desired attributes, null fields dropped, references rewritten
// to backend ids.
func (e *Executor) createPayload(op planner.Operation, assigned map[uuid.UUID]identity.BackendID) (backend.Payload, error) {
	base := op.Desired.Base

	attrs := map[string]any{}
	if m, ok := base.Attrs.Map(); ok {
		for k, v := range m {
			if v == nil {
				continue
			}
			attrs[k] = v
		}
	} else if base.Attrs.Raw != nil {
		attrs["value"] = base.Attrs.Raw
	}
	for k, v := range base.Key {
		attrs[k] = v
	}

	if base.Attrs.Kind == model.AttrsTyped {
		if err := e.resolveRefAttrs(op, attrs, assigned); err != nil {
			return backend.Payload{}, err
		}
	}
	return backend.Payload{Attrs: attrs, Fields: op.Desired.Fields}, nil
}

// resolveChanges rewrites reference values inside an update diff.
func (e *Executor) resolveChanges(op planner.Operation, assigned map[uuid.UUID]identity.BackendID) ([]backend.FieldChange, error) {
	refFields := e.schema.RefFields(op.Type)
	if len(refFields) == 0 {
		return op.Changes, nil
	}
	out := make([]backend.FieldChange, len(op.Changes))
	copy(out, op.Changes)
	for i, ch := range out {
		fs, ok := refFields[ch.Field]
		if !ok || ch.To == nil {
			continue
		}
		resolved, err := e.resolveRefValue(op, ch.Field, fs.Type, ch.To, assigned)
		if err != nil {
			return nil, err
		}
		out[i].To = resolved
	}
	return out, nil
}

func (e *Executor) resolveRefAttrs(op planner.Operation, attrs map[string]any, assigned map[uuid.UUID]identity.BackendID) error {
	for name, fs := range e.schema.RefFields(op.Type) {
		v, present := attrs[name]
		if !present || v == nil {
			continue
		}
		resolved, err := e.resolveRefValue(op, name, fs.Type, v, assigned)
		if err != nil {
			return err
		}
		attrs[name] = resolved
	}
	return nil
}

func (e *Executor) resolveRefValue(op planner.Operation, field string, ft model.FieldType, v any, assigned map[uuid.UUID]identity.BackendID) (any, error) {
	if ft.Kind == model.FieldListRef {
		items, ok := v.([]any)
		if !ok {
			return nil, &InvalidReferenceError{Type: op.Type, UID: op.UID, Field: field, Value: v}
		}
		out := make([]any, len(items))
		for i, item := range items {
			r, err := e.resolveOne(op, field, ft.Target, item, assigned)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return e.resolveOne(op, field, ft.Target, v, assigned)
}

func (e *Executor) resolveOne(op planner.Operation, field, target string, v any, assigned map[uuid.UUID]identity.BackendID) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, &InvalidReferenceError{Type: op.Type, UID: op.UID, Field: field, Value: v}
	}
	ref, err := uuid.Parse(s)
	if err != nil {
		return nil, &InvalidReferenceError{Type: op.Type, UID: op.UID, Field: field, Value: v}
	}
	if id, ok := assigned[ref]; ok {
		return idValue(id), nil
	}
	if id, ok := e.store.Lookup(target, ref); ok {
		return idValue(id), nil
	}
	return nil, &MissingReferenceError{Type: op.Type, UID: op.UID, Field: field, Target: target, Ref: ref}
}

// idValue renders a backend id as the wire value an adapter expects.
func idValue(id identity.BackendID) any {
	if id.Kind == identity.IDInt {
		return id.Int
	}
	return id.Str
}

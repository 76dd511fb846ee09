package apply

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/model"
	"github.com/crucible-io/crucible/pkg/planner"
	"github.com/crucible-io/crucible/pkg/projection"
)

// mockBackend records every call in order and can be told to fail.
type mockBackend struct {
	calls    []string
	payloads map[string]backend.Payload
	changes  map[string][]backend.FieldChange
	nextID   int64
	failOn   string
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		payloads: map[string]backend.Payload{},
		changes:  map[string][]backend.FieldChange{},
		nextID:   1,
	}
}

func (m *mockBackend) Observe(context.Context, string) ([]backend.ObservedRecord, error) {
	return nil, nil
}

func (m *mockBackend) Create(_ context.Context, typeName string, payload backend.Payload) (identity.BackendID, error) {
	call := "create " + typeName
	m.calls = append(m.calls, call)
	if m.failOn == call {
		return identity.BackendID{}, errors.New("injected failure")
	}
	m.payloads[typeName] = payload
	id := identity.IntID(m.nextID)
	m.nextID++
	return id, nil
}

func (m *mockBackend) Update(_ context.Context, typeName string, id identity.BackendID, changes []backend.FieldChange) error {
	call := fmt.Sprintf("update %s %s", typeName, id)
	m.calls = append(m.calls, call)
	if m.failOn == call {
		return errors.New("injected failure")
	}
	m.changes[typeName] = changes
	return nil
}

func (m *mockBackend) Delete(_ context.Context, typeName string, id identity.BackendID) error {
	m.calls = append(m.calls, fmt.Sprintf("delete %s %s", typeName, id))
	return nil
}

func (m *mockBackend) Supports(string, string) bool { return true }

func refSchema() model.Schema {
	return model.Schema{Types: map[string]model.TypeSchema{
		"dcim.site": {
			Key: []model.KeyField{{Name: "slug", Type: model.FieldType{Kind: model.FieldSlug}}},
		},
		"dcim.device": {
			Key: []model.KeyField{{Name: "name", Type: model.FieldType{Kind: model.FieldString}}},
			Fields: map[string]model.FieldSchema{
				"site": {Type: model.FieldType{Kind: model.FieldRef, Target: "dcim.site"}},
				"role": {Type: model.FieldType{Kind: model.FieldString}},
			},
		},
	}}
}

func desiredOp(t *testing.T, kind planner.OpKind, uid, typeName string, key, attrs map[string]any) planner.Operation {
	t.Helper()
	obj, err := model.NewObject(uuid.MustParse(uid), typeName, key, model.TypedAttrs(attrs))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	return planner.Operation{
		Kind:    kind,
		UID:     uuid.MustParse(uid),
		Type:    typeName,
		Key:     model.CanonicalKey(key),
		Desired: &projection.Projected{Base: obj},
	}
}

const (
	siteUID   = "bbbbbbbb-0000-0000-0000-000000000001"
	deviceUID = "bbbbbbbb-0000-0000-0000-000000000002"
)

func TestRunCreateRecordsIdentity(t *testing.T) {
	mock := newMockBackend()
	store := identity.NewMemStore()
	exec := New(mock, store, refSchema())

	plan := &planner.Plan{Operations: []planner.Operation{
		desiredOp(t, planner.OpCreate, siteUID, "dcim.site",
			map[string]any{"slug": "fra1"}, map[string]any{"label": nil}),
	}}
	report, err := exec.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := report.Results[0]
	if res.Outcome != OutcomeApplied || res.BackendID == nil {
		t.Fatalf("result = %+v", res)
	}
	if id, ok := store.Lookup("dcim.site", uuid.MustParse(siteUID)); !ok || !id.Equal(identity.IntID(1)) {
		t.Errorf("identity not recorded: %v %v", id, ok)
	}
	payload := mock.payloads["dcim.site"]
	if payload.Attrs["slug"] != "fra1" {
		t.Errorf("key field missing from payload: %v", payload.Attrs)
	}
	// Null fields carry no opinion and never reach the backend.
	if _, there := payload.Attrs["label"]; there {
		t.Errorf("null field leaked into payload: %v", payload.Attrs)
	}
}

func TestRunResolvesReferenceAssignedThisRun(t *testing.T) {
	mock := newMockBackend()
	store := identity.NewMemStore()
	exec := New(mock, store, refSchema())

	plan := &planner.Plan{Operations: []planner.Operation{
		desiredOp(t, planner.OpCreate, siteUID, "dcim.site",
			map[string]any{"slug": "fra1"}, nil),
		desiredOp(t, planner.OpCreate, deviceUID, "dcim.device",
			map[string]any{"name": "sw1"}, map[string]any{"site": siteUID}),
	}}
	if _, err := exec.Run(context.Background(), plan); err != nil {
		t.Fatalf("Run: %v", err)
	}

	payload := mock.payloads["dcim.device"]
	if payload.Attrs["site"] != int64(1) {
		t.Errorf("reference not rewritten to the id assigned this run: %v", payload.Attrs["site"])
	}
}

func TestRunResolvesReferenceFromStore(t *testing.T) {
	mock := newMockBackend()
	store := identity.NewMemStore()
	store.Record("dcim.site", uuid.MustParse(siteUID), identity.IntID(7))
	exec := New(mock, store, refSchema())

	plan := &planner.Plan{Operations: []planner.Operation{
		desiredOp(t, planner.OpCreate, deviceUID, "dcim.device",
			map[string]any{"name": "sw1"}, map[string]any{"site": siteUID}),
	}}
	if _, err := exec.Run(context.Background(), plan); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if mock.payloads["dcim.device"].Attrs["site"] != int64(7) {
		t.Errorf("reference not resolved through the store: %v", mock.payloads["dcim.device"].Attrs)
	}
}

func TestRunMissingReferenceFailsBeforeBackendCall(t *testing.T) {
	mock := newMockBackend()
	exec := New(mock, identity.NewMemStore(), refSchema())

	plan := &planner.Plan{Operations: []planner.Operation{
		desiredOp(t, planner.OpCreate, deviceUID, "dcim.device",
			map[string]any{"name": "sw1"}, map[string]any{"site": siteUID}),
	}}
	_, err := exec.Run(context.Background(), plan)
	if !IsMissingReference(err) {
		t.Fatalf("error = %v, want missing reference", err)
	}
	if len(mock.calls) != 0 {
		t.Errorf("backend was called despite unresolved reference: %v", mock.calls)
	}
}

func TestRunUpdateRewritesRefChanges(t *testing.T) {
	mock := newMockBackend()
	store := identity.NewMemStore()
	store.Record("dcim.site", uuid.MustParse(siteUID), identity.IntID(4))
	exec := New(mock, store, refSchema())

	id := identity.IntID(2)
	op := desiredOp(t, planner.OpUpdate, deviceUID, "dcim.device",
		map[string]any{"name": "sw1"}, nil)
	op.BackendID = &id
	op.Changes = []backend.FieldChange{
		{Field: "site", From: int64(9), To: siteUID},
		{Field: "role", From: "leaf", To: "spine"},
	}
	if _, err := exec.Run(context.Background(), &planner.Plan{Operations: []planner.Operation{op}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	changes := mock.changes["dcim.device"]
	if changes[0].To != int64(4) {
		t.Errorf("ref change not rewritten: %+v", changes[0])
	}
	if changes[1].To != "spine" {
		t.Errorf("plain change altered: %+v", changes[1])
	}
}

func TestRunDeleteGating(t *testing.T) {
	mock := newMockBackend()
	store := identity.NewMemStore()
	store.Record("dcim.site", uuid.MustParse(siteUID), identity.IntID(3))

	id := identity.IntID(3)
	op := planner.Operation{
		Kind: planner.OpDelete, UID: uuid.MustParse(siteUID),
		Type: "dcim.site", Key: "slug=s:fra1", BackendID: &id,
	}
	plan := &planner.Plan{Operations: []planner.Operation{op}}

	report, err := New(mock, store, refSchema()).Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Results[0].Outcome != OutcomeSkipped || report.Results[0].Reason != "deletes disabled" {
		t.Fatalf("result = %+v", report.Results[0])
	}
	if len(mock.calls) != 0 {
		t.Errorf("delete reached the backend while disabled: %v", mock.calls)
	}

	report, err = New(mock, store, refSchema(), AllowDelete(true)).Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Results[0].Outcome != OutcomeApplied {
		t.Fatalf("result = %+v", report.Results[0])
	}
	if _, ok := store.Lookup("dcim.site", uuid.MustParse(siteUID)); ok {
		t.Error("identity mapping survived delete")
	}
}

func TestRunFailFast(t *testing.T) {
	mock := newMockBackend()
	mock.failOn = "create dcim.site"
	exec := New(mock, identity.NewMemStore(), refSchema())

	plan := &planner.Plan{Operations: []planner.Operation{
		desiredOp(t, planner.OpCreate, siteUID, "dcim.site",
			map[string]any{"slug": "fra1"}, nil),
		desiredOp(t, planner.OpCreate, deviceUID, "dcim.device",
			map[string]any{"name": "sw1"}, nil),
	}}
	report, err := exec.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("expected the injected failure")
	}
	if !backend.IsOpError(err) {
		t.Errorf("error not classified: %v", err)
	}
	if report.Results[0].Outcome != OutcomeFailed {
		t.Errorf("first result = %+v", report.Results[0])
	}
	second := report.Results[1]
	if second.Outcome != OutcomeSkipped || second.Reason != "aborted after earlier failure" {
		t.Errorf("second result = %+v", second)
	}
	if len(mock.calls) != 1 {
		t.Errorf("operations after a failure reached the backend: %v", mock.calls)
	}
}

func TestRunCancelledContext(t *testing.T) {
	mock := newMockBackend()
	exec := New(mock, identity.NewMemStore(), refSchema())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	plan := &planner.Plan{Operations: []planner.Operation{
		desiredOp(t, planner.OpCreate, siteUID, "dcim.site",
			map[string]any{"slug": "fra1"}, nil),
	}}
	report, err := exec.Run(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if report.Results[0].Outcome != OutcomeFailed {
		t.Errorf("result = %+v", report.Results[0])
	}
	if len(mock.calls) != 0 {
		t.Errorf("backend called after cancellation: %v", mock.calls)
	}
}

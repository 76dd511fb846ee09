package planner

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/crucible-io/crucible/pkg/backend"
	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/projection"
)

// OpKind classifies a planned operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one planned step against the backend.
type Operation struct {
	// Kind is the operation class.
	Kind OpKind `json:"op"`

	// UID identifies the desired object. For deletes of untracked
	// records it is derived from the observed key.
	UID uuid.UUID `json:"uid"`

	// Type is the canonical object type.
	Type string `json:"type"`

	// Key is the canonical key string used for ordering and display.
	Key string `json:"key"`

	// BackendID is the matched backend identity. Nil for creates.
	BackendID *identity.BackendID `json:"backend_id,omitempty"`

	// Desired carries the projected desired state. Nil for deletes.
	Desired *projection.Projected `json:"desired,omitempty"`

	// Changes is the field-level diff. Only set for updates.
	Changes []backend.FieldChange `json:"changes,omitempty"`
}

// Plan is an ordered operation list. Creates and updates come first in
// ascending dependency order, deletes follow in descending order, so an
// executor can walk the list front to back.
type Plan struct {
	Operations []Operation `json:"operations"`
}

// IsEmpty reports whether the plan contains no operations.
func (p *Plan) IsEmpty() bool { return len(p.Operations) == 0 }

// Counts returns the number of creates, updates and deletes.
func (p *Plan) Counts() (creates, updates, deletes int) {
	for _, op := range p.Operations {
		switch op.Kind {
		case OpCreate:
			creates++
		case OpUpdate:
			updates++
		case OpDelete:
			deletes++
		}
	}
	return
}

// Encode writes the plan as indented JSON.
func (p *Plan) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	return nil
}

// DecodePlan reads a plan previously written by Encode.
func DecodePlan(r io.Reader) (*Plan, error) {
	var p Plan
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	return &p, nil
}

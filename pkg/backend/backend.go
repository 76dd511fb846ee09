// Package backend defines the narrow capability interface the engine
// depends on. Adapters translate canonical operations into vendor calls
// and hand back observed records; the engine never talks to a remote
// system directly.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/projection"
)

// ObservedRecord is a backend-provided snapshot of one object. The engine
// treats it as immutable.
type ObservedRecord struct {
	// BackendID is the identity the backend assigned to the object.
	BackendID identity.BackendID `json:"backend_id"`

	// Type is the object type as mapped by the adapter.
	Type string `json:"type"`

	// Key is the structured natural key reconstructed by the adapter.
	Key map[string]any `json:"key"`

	// Attrs is the attribute payload as seen, with projected storage
	// already separated out into Fields.
	Attrs map[string]any `json:"attrs"`

	// Fields holds the projected storage as seen (custom fields, tags,
	// free-form context).
	Fields projection.Data `json:"fields,omitempty"`
}

// FieldChange is one field-level difference carried by an update.
type FieldChange struct {
	// Field names the changed field. Projected fields use the
	// "custom_fields.<name>", "tags" and "context" namespaces; a generic
	// payload diff uses the single field "attrs".
	Field string `json:"field"`

	// From is the observed value.
	From any `json:"from"`

	// To is the desired value.
	To any `json:"to"`
}

// Payload is the full desired state sent with a create.
type Payload struct {
	// Attrs is the base attribute payload merged with the structured key.
	Attrs map[string]any `json:"attrs"`

	// Fields is the forward-projected storage.
	Fields projection.Data `json:"fields,omitempty"`
}

// Backend is the capability interface implemented by adapters.
type Backend interface {
	// Observe returns every record of the given type.
	Observe(ctx context.Context, typeName string) ([]ObservedRecord, error)

	// Create makes a new object and returns its backend-assigned id.
	Create(ctx context.Context, typeName string, payload Payload) (identity.BackendID, error)

	// Update applies a field-level diff to an existing object.
	Update(ctx context.Context, typeName string, id identity.BackendID, changes []FieldChange) error

	// Delete removes an existing object.
	Delete(ctx context.Context, typeName string, id identity.BackendID) error

	// Supports reports whether the backend offers a projection feature
	// (custom_fields, tags, context) for a type.
	Supports(typeName, feature string) bool
}

// OpError wraps a failure returned by the capability interface, carrying
// enough context to report which operation against which object failed.
type OpError struct {
	Op   string
	Type string
	ID   *identity.BackendID
	Err  error
}

func (e *OpError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("backend %s %s id=%s: %v", e.Op, e.Type, e.ID, e.Err)
	}
	return fmt.Sprintf("backend %s %s: %v", e.Op, e.Type, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsOpError reports whether err is a backend operation failure.
func IsOpError(err error) bool {
	var oe *OpError
	return errors.As(err, &oe)
}

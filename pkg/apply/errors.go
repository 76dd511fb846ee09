package apply

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MissingReferenceError reports a reference field whose target has no
// known backend identity. The operation carrying it never reaches the
// backend.
type MissingReferenceError struct {
	// Type and UID identify the object whose payload failed to resolve.
	Type string
	UID  uuid.UUID

	// Field is the reference field.
	Field string

	// Target is the referenced type and Ref the referenced object.
	Target string
	Ref    uuid.UUID
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s %s: field %q references %s %s with no backend identity",
		e.Type, e.UID, e.Field, e.Target, e.Ref)
}

// IsMissingReference reports whether err is a MissingReferenceError.
func IsMissingReference(err error) bool {
	var mre *MissingReferenceError
	return errors.As(err, &mre)
}

// InvalidReferenceError reports a reference field whose value is not a
// uid string.
type InvalidReferenceError struct {
	Type  string
	UID   uuid.UUID
	Field string
	Value any
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("%s %s: field %q holds %v, expected a uid", e.Type, e.UID, e.Field, e.Value)
}

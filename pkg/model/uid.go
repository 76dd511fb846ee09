package model

import "github.com/google/uuid"

// uidNamespace is the fixed namespace for deterministic v5 uids.
var uidNamespace = uuid.MustParse("45931a5f-6c2b-496a-9b6f-8f777d4f3a1c")

// UIDv5 derives a deterministic uid from a type name and a stable string
// (usually the canonical key). Extraction uses this so a re-extracted
// inventory keeps stable identities across runs.
func UIDv5(typeName, stable string) uuid.UUID {
	return uuid.NewSHA1(uidNamespace, []byte(typeName+":"+stable))
}

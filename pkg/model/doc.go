// Package model defines the canonical object model for Crucible: typed
// inventory objects with stable identity, structured keys, optional schema
// metadata, and the validation rules a desired object set must satisfy
// before it can be planned.
package model

// Package identity bridges stable object identity to backend-assigned
// identity. The in-memory store is the working copy for one run; the SQLite
// store persists it across runs so a later plan sees earlier creates.
package identity

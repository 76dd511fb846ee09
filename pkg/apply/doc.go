// Package apply executes a plan against a backend. Operations run
// sequentially in plan order; references to other desired objects are
// rewritten to backend ids just before each call, drawing on the
// identity store and on ids assigned earlier in the same run. The first
// failure stops the run and the remaining operations are reported as
// skipped.
package apply

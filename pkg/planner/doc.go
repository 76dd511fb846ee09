// Package planner computes the ordered set of create, update and delete
// operations that moves a backend from its observed state to the desired
// inventory. Planning is pure: it never calls the backend and never
// mutates the identity store beyond seeding mappings discovered through
// key matching. The same inputs always produce the same plan.
package planner

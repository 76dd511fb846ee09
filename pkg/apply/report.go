package apply

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/crucible-io/crucible/pkg/identity"
	"github.com/crucible-io/crucible/pkg/planner"
)

// Outcome classifies how one operation ended.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result records the outcome of one planned operation.
type Result struct {
	Op      planner.Operation `json:"op"`
	Outcome Outcome           `json:"outcome"`

	// BackendID is the identity assigned by a successful create.
	BackendID *identity.BackendID `json:"backend_id,omitempty"`

	// Reason explains a skip or a failure.
	Reason string `json:"reason,omitempty"`

	// Duration is how long the backend call took. Zero for skipped
	// operations.
	Duration time.Duration `json:"duration,omitempty"`
}

// Report is the full record of an apply run, one result per planned
// operation in execution order.
type Report struct {
	Results []Result `json:"results"`
}

// Counts returns the number of applied, skipped and failed operations.
func (r *Report) Counts() (applied, skipped, failed int) {
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeApplied:
			applied++
		case OutcomeSkipped:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	return
}

// HasFailures reports whether any operation failed.
func (r *Report) HasFailures() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Encode writes the report as indented JSON.
func (r *Report) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

package model

import (
	"errors"
	"strings"
	"time"
)

// Outcome is the discriminator recorded for one attempted item within a run.
type Outcome string

const (
	// OutcomeSkipped indicates the item was ineligible; it is still checkpointed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeUpdated indicates a candidate strictly improved on the current value
	// and the domain record was patched.
	OutcomeUpdated Outcome = "updated"
	// OutcomeNoChange indicates a candidate was evaluated but did not beat the
	// current value; the original is left intact.
	OutcomeNoChange Outcome = "no_change"
	// OutcomeFailed indicates the external operation itself errored.
	OutcomeFailed Outcome = "failed"
)

// Valid returns true if the Outcome is valid.
func (o Outcome) Valid() bool {
	return o == OutcomeSkipped || o == OutcomeUpdated || o == OutcomeNoChange || o == OutcomeFailed
}

// ItemResult is the append-only audit record for one attempted item.
// Created once when the item finishes processing; never mutated; deleted only
// in bulk when the parent run is deleted.
type ItemResult struct {
	ID    string `json:"id"     db:"id"`
	RunID string `json:"run_id" db:"run_id"`

	ItemID string `json:"item_id" db:"item_id"`
	// InputValue snapshots the value being verified or embedded before the call.
	InputValue string  `json:"input_value"         db:"input_value"`
	Outcome    Outcome `json:"outcome"             db:"outcome"`
	NewValue   *string `json:"new_value,omitempty" db:"new_value"`

	BeforeAssessment *LinkAssessment `json:"before_assessment,omitempty" db:"before_assessment"`
	AfterAssessment  *LinkAssessment `json:"after_assessment,omitempty"  db:"after_assessment"`

	Rationale  *string `json:"rationale,omitempty" db:"rationale"`
	DurationMs int64   `json:"duration_ms"         db:"duration_ms"`
	Error      *string `json:"error,omitempty"     db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Validate checks the fields required before an ItemResult can be persisted.
func (r *ItemResult) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ItemID) == "" {
		return errors.New("item id is required")
	}
	if !r.Outcome.Valid() {
		return errors.New("invalid outcome")
	}
	return nil
}

// ItemResultListOptions controls cursor pagination over a run's results.
type ItemResultListOptions struct {
	RunID  string
	Order  ProcessingOrder
	Cursor Checkpoint
	Limit  int
}

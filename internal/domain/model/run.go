// Package model defines the core data types shared across the leadsweep engine.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunType represents the kind of sweep a run performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RunType string

// RunStatus represents the current lifecycle state of a run.
type RunStatus string

// ProcessingOrder fixes the total order a run walks its target collection in.
type ProcessingOrder string

const (
	// RunTypeVerifyLinks re-verifies lead source URLs through the AI verifier.
	RunTypeVerifyLinks RunType = "verify_links"
	// RunTypeEmbedDocuments (re)generates embeddings for searchable documents.
	RunTypeEmbedDocuments RunType = "embed_documents"

	// RunStatusPending indicates a run has been created but no batch has started.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning indicates the sweeper is actively processing batches.
	RunStatusRunning RunStatus = "running"
	// RunStatusPaused indicates an operator suspended the run; the checkpoint is preserved.
	RunStatusPaused RunStatus = "paused"
	// RunStatusCompleted indicates the item source was exhausted. Terminal.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates an unrecoverable driver-level error. Terminal.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled indicates an operator cancelled the run. Terminal.
	RunStatusCancelled RunStatus = "cancelled"

	// OrderNewestFirst walks items by (created_at, id) descending.
	OrderNewestFirst ProcessingOrder = "newest_first"
	// OrderOldestFirst walks items by (created_at, id) ascending.
	OrderOldestFirst ProcessingOrder = "oldest_first"
)

// ErrNoRunsAvailable is returned when no runnable run can be claimed.
var ErrNoRunsAvailable = errors.New("no runs available")

// MaxRunErrors caps the rolling error list persisted per run.
// Older entries are evicted first; LastError survives eviction.
const MaxRunErrors = 100

// UnmarshalText implements encoding.TextUnmarshaler for RunType to allow env parsing.
func (t *RunType) UnmarshalText(text []byte) error {
	v := RunType(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*t = v
		return nil
	}
	return fmt.Errorf("invalid RunType: %q", string(text))
}

// Valid returns true if the RunType is valid.
func (t RunType) Valid() bool {
	return t == RunTypeVerifyLinks || t == RunTypeEmbedDocuments
}

// Valid returns true if the RunStatus is valid.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPaused,
		RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true when no transition may leave the status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Valid returns true if the ProcessingOrder is valid.
func (o ProcessingOrder) Valid() bool {
	return o == OrderNewestFirst || o == OrderOldestFirst
}

// Checkpoint is the total-order position of the last item fully accounted for.
// A zero Checkpoint means the run has not started.
type Checkpoint struct {
	ItemID    string    `json:"item_id"`
	CreatedAt time.Time `json:"created_at"`
}

// IsZero reports whether the checkpoint marks "not started".
func (c Checkpoint) IsZero() bool {
	return c.ItemID == "" && c.CreatedAt.IsZero()
}

// Run is one invocation of the sweep engine over a target collection.
type Run struct {
	ID              string          `json:"id"               db:"id"`
	Type            RunType         `json:"type"             db:"type"`
	Status          RunStatus       `json:"status"           db:"status"`
	BatchSize       int             `json:"batch_size"       db:"batch_size"`
	ProcessingOrder ProcessingOrder `json:"processing_order" db:"processing_order"`

	// TotalItems is a snapshot count taken at creation, used only for
	// progress display.
	TotalItems int `json:"total_items" db:"total_items"`

	// Counters are monotonically non-decreasing for the lifetime of the run.
	ProcessedCount int `json:"processed_count" db:"processed_count"`
	UpdatedCount   int `json:"updated_count"   db:"updated_count"`
	SkippedCount   int `json:"skipped_count"   db:"skipped_count"`
	FailedCount    int `json:"failed_count"    db:"failed_count"`

	LastProcessedItemID    *string    `json:"last_processed_item_id,omitempty"    db:"last_processed_item_id"`
	LastProcessedCreatedAt *time.Time `json:"last_processed_created_at,omitempty" db:"last_processed_created_at"`

	CurrentBatch string `json:"current_batch,omitempty" db:"current_batch"`
	CurrentTask  string `json:"current_task,omitempty"  db:"current_task"`

	LastError *string `json:"last_error,omitempty" db:"last_error"`
	ActorID   *string `json:"actor_id,omitempty"   db:"actor_id"`

	LeaseToken     *string    `json:"-"                          db:"lease_token"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`

	StartedAt      *time.Time `json:"started_at,omitempty"   db:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"       db:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt      time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"             db:"updated_at"`
}

// CheckpointPosition returns the run's checkpoint, zero when not started.
func (r *Run) CheckpointPosition() Checkpoint {
	if r.LastProcessedItemID == nil || r.LastProcessedCreatedAt == nil {
		return Checkpoint{}
	}
	return Checkpoint{ItemID: *r.LastProcessedItemID, CreatedAt: *r.LastProcessedCreatedAt}
}

// RunError is one entry in a run's capped rolling error list.
type RunError struct {
	ItemID    string    `json:"item_id"   db:"item_id"`
	Message   string    `json:"message"   db:"message"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// CreateRunRequest carries operator parameters for creating a run.
type CreateRunRequest struct {
	Type            RunType         `json:"type"`
	BatchSize       int             `json:"batch_size"`
	ProcessingOrder ProcessingOrder `json:"processing_order"`
	ActorID         *string         `json:"actor_id,omitempty"`
}

// Validate rejects configuration errors before any run row is created.
func (r *CreateRunRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid run type")
	}
	if r.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	if r.BatchSize > 500 {
		return errors.New("batch size must be at most 500")
	}
	if !r.ProcessingOrder.Valid() {
		return errors.New("invalid processing order")
	}
	return nil
}

// RunStats summarises runs per lifecycle state for the dashboard.
type RunStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Package core defines the interfaces between the sweep engine's layers.
// Repositories persist runs and results, sources page through target
// collections, and adapters wrap the external AI operations. Implementations
// live in internal/data and internal/adapters.
package core

import (
	"context"
	"time"

	"github.com/matchops/leadsweep/internal/domain/model"
)

// ClaimRunParams configures a lease claim attempt.
type ClaimRunParams struct {
	LeaseToken   string
	LeaseSeconds int
}

// AdvanceParams carries everything AdvanceCheckpoint applies in one
// transaction after an item finishes processing.
type AdvanceParams struct {
	RunID      string
	LeaseToken string
	Result     *model.ItemResult
	Checkpoint model.Checkpoint

	CurrentBatch string
	CurrentTask  string
}

// TransitionParams describes a conditional status transition.
type TransitionParams struct {
	RunID     string
	From      model.RunStatus
	To        model.RunStatus
	LastError *string
}

// RunRepository persists run rows, their leases and their capped error lists.
type RunRepository interface {
	Create(ctx context.Context, req *model.CreateRunRequest, totalItems int) (*model.Run, error)
	GetByID(ctx context.Context, id string) (*model.Run, error)
	ListRecent(ctx context.Context, limit int) ([]model.Run, error)
	Stats(ctx context.Context) (*model.RunStats, error)

	// ClaimNext atomically claims the oldest runnable run (pending, or
	// running with an expired lease) and stamps the caller's lease on it.
	// Returns model.ErrNoRunsAvailable when nothing is claimable.
	ClaimNext(ctx context.Context, params ClaimRunParams) (*model.Run, error)

	// RefreshLease extends the lease if the token still matches. Returns
	// false without error when the lease was lost.
	RefreshLease(ctx context.Context, id, token string, seconds int) (bool, error)
	ReleaseLease(ctx context.Context, id, token string) error

	// AdvanceCheckpoint records one processed item atomically: insert the
	// ItemResult, bump processed plus exactly one outcome counter, move the
	// checkpoint forward, and append to the capped error list on failure.
	// Gated on status='running' and a matching lease token; returns false
	// without error when the gate rejects.
	AdvanceCheckpoint(ctx context.Context, params AdvanceParams) (bool, error)

	// Transition applies a status change guarded by WHERE status = From.
	// Returns false without error when the guard rejects.
	Transition(ctx context.Context, params TransitionParams) (bool, error)

	ListErrors(ctx context.Context, runID string, limit int) ([]model.RunError, error)
	Delete(ctx context.Context, id string) error
}

// ItemResultRepository reads and bulk-deletes result records. Appends happen
// only inside RunRepository.AdvanceCheckpoint.
type ItemResultRepository interface {
	List(ctx context.Context, opts model.ItemResultListOptions) ([]model.ItemResult, error)
	DeleteByRun(ctx context.Context, runID string) (int, error)
}

// PageQuery selects one keyset page of a target collection.
type PageQuery struct {
	Cursor model.Checkpoint
	Order  model.ProcessingOrder
	Limit  int
}

// ApplyURLParams patches a lead after an accepted verification.
type ApplyURLParams struct {
	LeadID     string
	URL        string
	VerifiedAt time.Time
}

// LeadSource pages leads in checkpoint order and applies accepted changes.
type LeadSource interface {
	NextPage(ctx context.Context, q PageQuery) ([]model.Lead, error)
	Count(ctx context.Context) (int, error)
	ApplyVerifiedURL(ctx context.Context, params ApplyURLParams) error

	// RefreshVerifiedAt stamps a lead as checked without changing its URL.
	RefreshVerifiedAt(ctx context.Context, leadID string, at time.Time) error
}

// AttachEmbeddingParams stores a freshly computed embedding on a document.
type AttachEmbeddingParams struct {
	DocumentID  string
	Vector      []float32
	ModelTag    string
	ContentHash string
	UpdatedAt   time.Time
}

// DocumentSource pages documents in checkpoint order and attaches embeddings.
type DocumentSource interface {
	NextPage(ctx context.Context, q PageQuery) ([]model.Document, error)
	Count(ctx context.Context) (int, error)
	AttachEmbedding(ctx context.Context, params AttachEmbeddingParams) error
}

// VerifyResult is the verifier adapter's structured response for one lead.
type VerifyResult struct {
	// CandidateURL is empty when the model found no replacement.
	CandidateURL string
	Current      model.LinkAssessment
	Candidate    model.LinkAssessment
	Rationale    string
}

// LinkVerifier asks the AI backend to assess a lead's source URL and
// optionally propose a better one.
type LinkVerifier interface {
	Verify(ctx context.Context, lead *model.Lead) (*VerifyResult, error)
}

// EmbedResult carries one embedding vector and the model that produced it.
type EmbedResult struct {
	Vector   []float32
	ModelTag string
}

// Embedder computes an embedding for one document's content.
type Embedder interface {
	Embed(ctx context.Context, text string) (*EmbedResult, error)
}

// Control signal values stored per run. Checked between items so pause and
// cancel land without waiting for the batch to finish.
const (
	SignalPause  = "pause"
	SignalCancel = "cancel"
)

// ControlSignals is the low-latency pause/cancel side channel between the
// operator API and a sweeper that may be running in another process.
type ControlSignals interface {
	Set(ctx context.Context, runID, signal string, ttl time.Duration) error
	Get(ctx context.Context, runID string) (string, error)
	Clear(ctx context.Context, runID string) error
}

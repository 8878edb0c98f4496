package core

import (
	"context"
	"time"

	"github.com/matchops/leadsweep/internal/domain/model"
)

// DeleteOldRunsParams selects which terminal runs the reaper removes.
type DeleteOldRunsParams struct {
	Status    model.RunStatus
	MaxAge    time.Duration
	BatchSize int
}

// RunReaperRepository is the retention surface the reaper service drives.
type RunReaperRepository interface {
	// FailStalePendingRuns marks pending runs older than maxAge as failed.
	FailStalePendingRuns(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	// DeleteOldRuns removes terminal runs older than the cutoff, up to
	// BatchSize per call. Results and error entries cascade.
	DeleteOldRuns(ctx context.Context, params DeleteOldRunsParams) (int64, error)
}

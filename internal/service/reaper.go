package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchops/leadsweep/config"
	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/domain/model"
	"github.com/matchops/leadsweep/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.RunReaperRepository // Required: retention repository
	Config  config.ReaperConfig      // Required: reaper configuration
	Logger  *slog.Logger             // Optional: structured logger
	Metrics statsd.Sink              // Optional: metrics sink
}

// ReaperService enforces run retention: failing stale pending runs that were
// never claimed and deleting old terminal runs to keep the tables bounded.
type ReaperService struct {
	repo    core.RunReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("RunReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"pending_max_age", opts.Config.PendingMaxAge,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
			"cancelled_max_age", opts.Config.CancelledMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the retention loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter keeps multiple instances that start together from hammering the
	// advisory locks at the same moment.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(ctx, err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(ctx, err, "cleanup")
			}
		}
	}
}

// waitWithJitter delays up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runCleanup(ctx context.Context) error {
	var errs []error

	failed, err := s.repo.FailStalePendingRuns(ctx, s.config.PendingMaxAge, s.config.BatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("fail stale pending runs: %w", err))
	} else {
		s.report(ctx, "stale_pending_failed", failed)
	}

	retention := []struct {
		status model.RunStatus
		maxAge time.Duration
		metric string
	}{
		{model.RunStatusCompleted, s.config.CompletedMaxAge, "completed_deleted"},
		{model.RunStatusFailed, s.config.FailedMaxAge, "failed_deleted"},
		{model.RunStatusCancelled, s.config.CancelledMaxAge, "cancelled_deleted"},
	}
	for _, r := range retention {
		deleted, derr := s.repo.DeleteOldRuns(ctx, core.DeleteOldRunsParams{
			Status:    r.status,
			MaxAge:    r.maxAge,
			BatchSize: s.config.BatchSize,
		})
		if derr != nil {
			errs = append(errs, fmt.Errorf("delete old %s runs: %w", r.status, derr))
			continue
		}
		s.report(ctx, r.metric, deleted)
	}

	return errors.Join(errs...)
}

func (s *ReaperService) report(ctx context.Context, action string, count int64) {
	if count == 0 {
		return
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "reaper cleanup", "action", action, "count", count)
	}
	if s.metrics != nil {
		s.metrics.Count("reaper.runs", count, map[string]string{"action": action})
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error, phase string) {
	if s.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.logger.ErrorContext(ctx, "reaper "+phase+" failed", "error", err)
}

// Package service contains the business logic between the HTTP layer and the
// repositories: the operator surface for runs, the per-item decision
// heuristic, and the retention reaper.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/data"
	"github.com/matchops/leadsweep/internal/domain/model"
	"github.com/matchops/leadsweep/internal/domain/run"
	apperrors "github.com/matchops/leadsweep/internal/errors"
	"github.com/matchops/leadsweep/internal/observability/metrics"
	"github.com/matchops/leadsweep/internal/observability/statsd"
)

// RunServiceOptions groups dependencies for RunService.
type RunServiceOptions struct {
	Runs      core.RunRepository       // Required: run repository
	Results   core.ItemResultRepository // Required: result repository
	Leads     core.LeadSource          // Required: lead collection
	Documents core.DocumentSource      // Required: document collection
	Signals   core.ControlSignals      // Optional: pause/cancel side channel
	SignalTTL time.Duration            // Optional: signal expiry, defaults to 24h
	Logger    *slog.Logger             // Optional: structured logger
	Metrics   statsd.Sink              // Optional: metrics sink
}

// RunService provides the operator surface for runs: create, pause, resume,
// cancel, status, results, and deletion. Batch execution itself lives in the
// sweeper worker.
type RunService struct {
	runs      core.RunRepository
	results   core.ItemResultRepository
	leads     core.LeadSource
	documents core.DocumentSource
	signals   core.ControlSignals
	signalTTL time.Duration
	logger    *slog.Logger
	metrics   statsd.Sink
}

const defaultSignalTTL = 24 * time.Hour

// NewRunService constructs a RunService.
func NewRunService(opts RunServiceOptions) (*RunService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ItemResultRepository is required")
	}
	if opts.Leads == nil {
		return nil, errors.New("LeadSource is required")
	}
	if opts.Documents == nil {
		return nil, errors.New("DocumentSource is required")
	}

	ttl := opts.SignalTTL
	if ttl <= 0 {
		ttl = defaultSignalTTL
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "run_service")
	}

	return &RunService{
		runs:      opts.Runs,
		results:   opts.Results,
		leads:     opts.Leads,
		documents: opts.Documents,
		signals:   opts.Signals,
		signalTTL: ttl,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// MustNewRunService constructs a RunService and panics on error.
// Use when the options are known valid, e.g. in bootstrap.
func MustNewRunService(opts RunServiceOptions) *RunService {
	svc, err := NewRunService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast during startup
		panic(fmt.Sprintf("failed to create RunService: %v", err))
	}
	return svc
}

// Create validates the request, snapshots the target collection size, and
// inserts the run in pending status.
func (s *RunService) Create(ctx context.Context, req *model.CreateRunRequest) (*model.Run, error) {
	if req == nil {
		return nil, apperrors.Validation("create run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid run request")
	}

	total, err := s.countTarget(ctx, req.Type)
	if err != nil {
		return nil, fmt.Errorf("count target collection: %w", err)
	}

	created, err := s.runs.Create(ctx, req, total)
	if err != nil {
		metrics.EmitRunLifecycle(s.metrics, metrics.RunMetric{
			RunType: string(req.Type), Transition: "create", Result: metrics.ResultError, Err: err,
		})
		return nil, fmt.Errorf("create run: %w", err)
	}

	metrics.EmitRunLifecycle(s.metrics, metrics.RunMetric{
		RunType: string(created.Type), Transition: "create", Result: metrics.ResultSuccess,
	})
	if s.logger != nil {
		s.logger.InfoContext(ctx, "run created",
			"run_id", created.ID,
			"type", created.Type,
			"batch_size", created.BatchSize,
			"processing_order", created.ProcessingOrder,
			"total_items", created.TotalItems,
		)
	}
	return created, nil
}

func (s *RunService) countTarget(ctx context.Context, t model.RunType) (int, error) {
	switch t {
	case model.RunTypeVerifyLinks:
		return s.leads.Count(ctx)
	case model.RunTypeEmbedDocuments:
		return s.documents.Count(ctx)
	default:
		return 0, fmt.Errorf("invalid run type: %s", t)
	}
}

// Get returns a run by id.
func (s *RunService) Get(ctx context.Context, id string) (*model.Run, error) {
	r, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			return nil, apperrors.NotFoundf("run %s not found", id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// List returns the most recently created runs.
func (s *RunService) List(ctx context.Context, limit int) ([]model.Run, error) {
	return s.runs.ListRecent(ctx, limit)
}

// Stats returns run counts per lifecycle state.
func (s *RunService) Stats(ctx context.Context) (*model.RunStats, error) {
	return s.runs.Stats(ctx)
}

// Pause suspends a running run. The control signal lands first so an active
// sweeper stops within one item; the conditional transition then makes the
// pause durable even when no sweeper is alive.
func (s *RunService) Pause(ctx context.Context, id string) (*model.Run, error) {
	return s.transitionWithSignal(ctx, id, model.RunStatusPaused, core.SignalPause)
}

// Cancel terminally stops a run from pending, running, or paused.
func (s *RunService) Cancel(ctx context.Context, id string) (*model.Run, error) {
	return s.transitionWithSignal(ctx, id, model.RunStatusCancelled, core.SignalCancel)
}

// Resume makes a paused run claimable again. The repository clears the lease
// on transition, so the next sweeper poll picks the run up at its checkpoint.
func (s *RunService) Resume(ctx context.Context, id string) (*model.Run, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if terr := run.Transition(current.Status, model.RunStatusRunning); terr != nil {
		return nil, apperrors.Wrap(terr, apperrors.ErrCodeConflict, "cannot resume run")
	}

	ok, err := s.runs.Transition(ctx, core.TransitionParams{
		RunID: id, From: current.Status, To: model.RunStatusRunning,
	})
	if err != nil {
		return nil, fmt.Errorf("resume run: %w", err)
	}
	if !ok {
		return nil, apperrors.Conflict("run changed state, retry")
	}

	s.clearSignal(ctx, id)
	s.emitTransition(current.Type, "resume")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "run resumed", "run_id", id)
	}
	return s.Get(ctx, id)
}

func (s *RunService) transitionWithSignal(ctx context.Context, id string, to model.RunStatus, signal string) (*model.Run, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if terr := run.Transition(current.Status, to); terr != nil {
		return nil, apperrors.Wrap(terr, apperrors.ErrCodeConflict,
			fmt.Sprintf("cannot move run to %s", to))
	}

	// Signal before the transition so an in-flight sweeper sees it at the
	// next between-items check regardless of which write lands first.
	if s.signals != nil {
		if serr := s.signals.Set(ctx, id, signal, s.signalTTL); serr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "set control signal failed",
				"run_id", id, "signal", signal, "error", serr)
		}
	}

	ok, err := s.runs.Transition(ctx, core.TransitionParams{
		RunID: id, From: current.Status, To: to,
	})
	if err != nil {
		return nil, fmt.Errorf("transition run: %w", err)
	}
	if !ok {
		return nil, apperrors.Conflict("run changed state, retry")
	}

	s.emitTransition(current.Type, string(to))
	if s.logger != nil {
		s.logger.InfoContext(ctx, "run transitioned",
			"run_id", id, "from", current.Status, "to", to)
	}
	return s.Get(ctx, id)
}

// ListResults pages a run's results. When no order is given the run's own
// processing order is used, so the default replay matches execution order.
func (s *RunService) ListResults(ctx context.Context, opts model.ItemResultListOptions) ([]model.ItemResult, error) {
	r, err := s.Get(ctx, opts.RunID)
	if err != nil {
		return nil, err
	}
	if !opts.Order.Valid() {
		opts.Order = r.ProcessingOrder
	}
	return s.results.List(ctx, opts)
}

// ListErrors returns the newest entries of the run's capped error list.
func (s *RunService) ListErrors(ctx context.Context, id string, limit int) ([]model.RunError, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.runs.ListErrors(ctx, id, limit)
}

// Delete removes a terminal run together with its results and error entries.
func (s *RunService) Delete(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !r.Status.Terminal() {
		return apperrors.Conflictf("run is %s; only terminal runs can be deleted", r.Status)
	}

	deleted, err := s.results.DeleteByRun(ctx, id)
	if err != nil {
		return fmt.Errorf("delete run results: %w", err)
	}
	if err := s.runs.Delete(ctx, id); err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			return apperrors.NotFoundf("run %s not found", id)
		}
		if errors.Is(err, data.ErrRunNotDeletable) {
			return apperrors.Conflict("run is no longer deletable")
		}
		return fmt.Errorf("delete run: %w", err)
	}

	s.clearSignal(ctx, id)
	s.emitTransition(r.Type, "delete")
	if s.logger != nil {
		s.logger.InfoContext(ctx, "run deleted",
			"run_id", id, "results_deleted", deleted)
	}
	return nil
}

func (s *RunService) clearSignal(ctx context.Context, id string) {
	if s.signals == nil {
		return
	}
	if err := s.signals.Clear(ctx, id); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "clear control signal failed", "run_id", id, "error", err)
	}
}

func (s *RunService) emitTransition(t model.RunType, transition string) {
	metrics.EmitRunLifecycle(s.metrics, metrics.RunMetric{
		RunType: string(t), Transition: transition, Result: metrics.ResultSuccess,
	})
}

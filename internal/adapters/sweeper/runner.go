package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/matchops/leadsweep/config"
	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/domain/model"
	"github.com/matchops/leadsweep/internal/domain/run"
	"github.com/matchops/leadsweep/internal/observability/metrics"
	"github.com/matchops/leadsweep/internal/observability/statsd"
	"github.com/matchops/leadsweep/internal/service"
)

// RunnerOptions groups dependencies for the sweep Runner.
type RunnerOptions struct {
	Runs      core.RunRepository   // Required
	Leads     core.LeadSource      // Required
	Documents core.DocumentSource  // Required
	Verifier  core.LinkVerifier    // Required for verify_links runs
	Embedder  core.Embedder        // Required for embed_documents runs
	Signals   core.ControlSignals  // Optional: pause/cancel side channel
	Config    config.SweeperConfig // Required
	// EmbedderModelTag is the provenance tag compared against stored
	// embeddings when deciding staleness.
	EmbedderModelTag string
	Logger           *slog.Logger // Optional
	Metrics          statsd.Sink  // Optional
	// Clock is overridable for tests.
	Clock func() time.Time
}

// Runner is the sweep worker loop. One Runner claims at most one run at a
// time; the per-run lease keeps concurrent Runners off the same run.
type Runner struct {
	runs      core.RunRepository
	leads     core.LeadSource
	documents core.DocumentSource
	verifier  core.LinkVerifier
	embedder  core.Embedder
	signals   core.ControlSignals
	cfg       config.SweeperConfig
	leases    *run.LeasePolicy
	modelTag  string
	logger    *slog.Logger
	metrics   statsd.Sink
	clock     func() time.Time
}

// stopProcessing is returned inside processRun to unwind without treating
// the stop as a failure (pause, cancel, lost lease).
var stopProcessing = errors.New("stop processing")

// NewRunner constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Leads == nil {
		return nil, errors.New("LeadSource is required")
	}
	if opts.Documents == nil {
		return nil, errors.New("DocumentSource is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	leases, err := run.NewLeasePolicy(cfg.Lease)
	if err != nil {
		return nil, fmt.Errorf("create lease policy: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper")
	}

	return &Runner{
		runs:      opts.Runs,
		leads:     opts.Leads,
		documents: opts.Documents,
		verifier:  opts.Verifier,
		embedder:  opts.Embedder,
		signals:   opts.Signals,
		cfg:       cfg,
		leases:    leases,
		modelTag:  opts.EmbedderModelTag,
		logger:    logger,
		metrics:   opts.Metrics,
		clock:     clock,
	}, nil
}

// Run polls for claimable runs until the context is cancelled. Returns nil on
// graceful shutdown.
func (w *Runner) Run(ctx context.Context) error {
	if w.logger != nil {
		w.logger.InfoContext(ctx, "starting sweeper",
			"poll_interval", w.cfg.PollInterval,
			"lease", w.cfg.Lease,
		)
	}

	for {
		if ctx.Err() != nil {
			return w.shutdownErr(ctx)
		}

		claimed, err := w.runs.ClaimNext(ctx, core.ClaimRunParams{
			LeaseToken:   uuid.NewString(),
			LeaseSeconds: w.leases.Resolve(w.cfg.Lease).Seconds,
		})
		if errors.Is(err, model.ErrNoRunsAvailable) {
			if werr := sleepContext(ctx, w.cfg.PollInterval); werr != nil {
				return w.shutdownErr(ctx)
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return w.shutdownErr(ctx)
			}
			if w.logger != nil {
				w.logger.ErrorContext(ctx, "claim run failed", "error", err)
			}
			if werr := sleepContext(ctx, w.cfg.PollInterval); werr != nil {
				return w.shutdownErr(ctx)
			}
			continue
		}

		if perr := w.processRun(ctx, claimed); perr != nil && !errors.Is(perr, stopProcessing) {
			if ctx.Err() != nil {
				// Graceful shutdown mid-run: release the lease so the run is
				// immediately claimable at its checkpoint.
				w.releaseLease(claimed)
				return w.shutdownErr(ctx)
			}
			if w.logger != nil {
				w.logger.ErrorContext(ctx, "run processing aborted",
					"run_id", claimed.ID, "error", perr)
			}
		}
	}
}

func (w *Runner) shutdownErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// releaseLease returns the lease with a short background deadline since the
// worker context is already done.
func (w *Runner) releaseLease(r *model.Run) {
	if r.LeaseToken == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.runs.ReleaseLease(ctx, r.ID, *r.LeaseToken); err != nil && w.logger != nil {
		w.logger.Warn("release lease failed", "run_id", r.ID, "error", err)
	}
}

// processRun drives one claimed run from its checkpoint until exhaustion, a
// control signal, a lost lease, or too many consecutive driver failures.
func (w *Runner) processRun(ctx context.Context, r *model.Run) error {
	if r.LeaseToken == nil {
		return errors.New("claimed run has no lease token")
	}
	token := *r.LeaseToken

	if w.logger != nil {
		w.logger.InfoContext(ctx, "processing run",
			"run_id", r.ID,
			"type", r.Type,
			"processed", r.ProcessedCount,
			"total", r.TotalItems,
		)
	}

	cursor := r.CheckpointPosition()
	processed := r.ProcessedCount
	consecutiveFailures := 0
	sinceHeartbeat := 0
	started := w.clock()

	for {
		if err := w.checkSignal(ctx, r); err != nil {
			return err
		}

		batch := processed/r.BatchSize + 1
		page, err := w.nextPage(ctx, r, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutiveFailures++
			if ferr := w.maybeFailRun(ctx, r, consecutiveFailures, err); ferr != nil {
				return ferr
			}
			continue
		}

		if len(page) == 0 {
			return w.completeRun(ctx, r, started)
		}

		for i := 0; i < len(page); {
			if err := w.checkSignal(ctx, r); err != nil {
				return err
			}

			if sinceHeartbeat >= w.cfg.HeartbeatEvery {
				ok, herr := w.runs.RefreshLease(ctx, r.ID, token, w.leases.Resolve(w.cfg.Lease).Seconds)
				if herr != nil {
					return fmt.Errorf("refresh lease: %w", herr)
				}
				if !ok {
					if w.logger != nil {
						w.logger.WarnContext(ctx, "lease lost, abandoning run", "run_id", r.ID)
					}
					return stopProcessing
				}
				sinceHeartbeat = 0
			}

			item := page[i]
			result, derr := w.processItem(ctx, r, item)
			if derr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				consecutiveFailures++
				if ferr := w.maybeFailRun(ctx, r, consecutiveFailures, derr); ferr != nil {
					return ferr
				}
				// Retry the same item; nothing was checkpointed.
				continue
			}

			advanced, aerr := w.runs.AdvanceCheckpoint(ctx, core.AdvanceParams{
				RunID:        r.ID,
				LeaseToken:   token,
				Result:       result,
				Checkpoint:   item.position,
				CurrentBatch: fmt.Sprintf("batch %d", batch),
				CurrentTask:  item.task,
			})
			if aerr != nil {
				consecutiveFailures++
				if ferr := w.maybeFailRun(ctx, r, consecutiveFailures, aerr); ferr != nil {
					return ferr
				}
				continue
			}
			if !advanced {
				// Operator transition or lease takeover landed first; the
				// item's work is not recorded and will be redone on resume.
				if w.logger != nil {
					w.logger.InfoContext(ctx, "advance rejected, stopping", "run_id", r.ID)
				}
				return stopProcessing
			}

			consecutiveFailures = 0
			sinceHeartbeat++
			processed++
			cursor = item.position

			metrics.EmitItemProcessed(w.metrics, metrics.ItemMetric{
				RunType:  string(r.Type),
				Outcome:  string(result.Outcome),
				Duration: time.Duration(result.DurationMs) * time.Millisecond,
			})
			i++
		}

		if len(page) < r.BatchSize {
			return w.completeRun(ctx, r, started)
		}
	}
}

// checkSignal consumes a pending pause or cancel signal. Stops processing
// after applying the transition.
func (w *Runner) checkSignal(ctx context.Context, r *model.Run) error {
	if w.signals == nil {
		return nil
	}
	sig, err := w.signals.Get(ctx, r.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.logger != nil {
			w.logger.WarnContext(ctx, "read control signal failed", "run_id", r.ID, "error", err)
		}
		return nil
	}

	switch sig {
	case core.SignalPause:
		w.applyTransition(ctx, r, model.RunStatusPaused, nil)
		return stopProcessing
	case core.SignalCancel:
		w.applyTransition(ctx, r, model.RunStatusCancelled, nil)
		return stopProcessing
	default:
		return nil
	}
}

// applyTransition moves the run out of running and clears the signal. A false
// guard means the operator already applied the transition directly.
func (w *Runner) applyTransition(ctx context.Context, r *model.Run, to model.RunStatus, lastError *string) {
	ok, err := w.runs.Transition(ctx, core.TransitionParams{
		RunID:     r.ID,
		From:      model.RunStatusRunning,
		To:        to,
		LastError: lastError,
	})
	if err != nil && w.logger != nil {
		w.logger.ErrorContext(ctx, "transition failed",
			"run_id", r.ID, "to", to, "error", err)
		return
	}
	if ok {
		metrics.EmitRunLifecycle(w.metrics, metrics.RunMetric{
			RunType: string(r.Type), Transition: string(to), Result: metrics.ResultSuccess,
		})
	}
	if w.signals != nil {
		if cerr := w.signals.Clear(ctx, r.ID); cerr != nil && w.logger != nil {
			w.logger.WarnContext(ctx, "clear control signal failed", "run_id", r.ID, "error", cerr)
		}
	}
	if w.logger != nil {
		w.logger.InfoContext(ctx, "run stopped by signal", "run_id", r.ID, "to", to, "applied", ok)
	}
}

// maybeFailRun fails the run once driver errors repeat past the threshold.
// Returns stopProcessing when the run was failed, nil to keep retrying after
// a poll-interval backoff so a storage blip is not burned through instantly.
func (w *Runner) maybeFailRun(ctx context.Context, r *model.Run, failures int, cause error) error {
	if w.logger != nil {
		w.logger.WarnContext(ctx, "driver error",
			"run_id", r.ID, "consecutive", failures, "error", cause)
	}
	if failures < w.cfg.MaxConsecutiveFailures {
		if err := sleepContext(ctx, w.cfg.PollInterval); err != nil {
			return err
		}
		return nil
	}
	msg := cause.Error()
	w.applyTransitionErr(ctx, r, msg)
	return stopProcessing
}

func (w *Runner) applyTransitionErr(ctx context.Context, r *model.Run, msg string) {
	w.applyTransition(ctx, r, model.RunStatusFailed, &msg)
}

func (w *Runner) completeRun(ctx context.Context, r *model.Run, started time.Time) error {
	ok, err := w.runs.Transition(ctx, core.TransitionParams{
		RunID: r.ID,
		From:  model.RunStatusRunning,
		To:    model.RunStatusCompleted,
	})
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if ok {
		metrics.EmitRunLifecycle(w.metrics, metrics.RunMetric{
			RunType:    string(r.Type),
			Transition: "complete",
			Result:     metrics.ResultSuccess,
			Duration:   w.clock().Sub(started),
		})
	}
	if w.signals != nil {
		_ = w.signals.Clear(ctx, r.ID)
	}
	if w.logger != nil {
		w.logger.InfoContext(ctx, "run completed", "run_id", r.ID, "applied", ok)
	}
	return nil
}

// workItem is one element of a page together with its checkpoint position.
type workItem struct {
	position model.Checkpoint
	task     string
	lead     *model.Lead
	document *model.Document
}

func (w *Runner) nextPage(ctx context.Context, r *model.Run, cursor model.Checkpoint) ([]workItem, error) {
	q := core.PageQuery{Cursor: cursor, Order: r.ProcessingOrder, Limit: r.BatchSize}

	switch r.Type {
	case model.RunTypeVerifyLinks:
		leads, err := w.leads.NextPage(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("page leads: %w", err)
		}
		items := make([]workItem, len(leads))
		for i := range leads {
			lead := leads[i]
			items[i] = workItem{
				position: model.Checkpoint{ItemID: lead.ID, CreatedAt: lead.CreatedAt},
				task:     "verify " + lead.ID,
				lead:     &lead,
			}
		}
		return items, nil

	case model.RunTypeEmbedDocuments:
		docs, err := w.documents.NextPage(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("page documents: %w", err)
		}
		items := make([]workItem, len(docs))
		for i := range docs {
			doc := docs[i]
			items[i] = workItem{
				position: model.Checkpoint{ItemID: doc.ID, CreatedAt: doc.CreatedAt},
				task:     "embed " + doc.ID,
				document: &doc,
			}
		}
		return items, nil

	default:
		return nil, fmt.Errorf("invalid run type: %s", r.Type)
	}
}

// processItem performs the external call and write-back for one item and
// builds the result record. Returned errors are driver-level: the item was
// not accounted for and will be retried.
func (w *Runner) processItem(ctx context.Context, r *model.Run, item workItem) (*model.ItemResult, error) {
	switch r.Type {
	case model.RunTypeVerifyLinks:
		return w.verifyLead(ctx, r, item.lead)
	case model.RunTypeEmbedDocuments:
		return w.embedDocument(ctx, r, item.document)
	default:
		return nil, fmt.Errorf("invalid run type: %s", r.Type)
	}
}

func (w *Runner) verifyLead(ctx context.Context, r *model.Run, lead *model.Lead) (*model.ItemResult, error) {
	if w.verifier == nil {
		return nil, errors.New("verifier is not configured")
	}

	now := w.clock()
	start := now

	in := service.VerifyInput{
		Lead:            lead,
		Now:             now,
		FreshnessWindow: w.cfg.FreshnessWindow,
	}
	if !service.LeadIsFresh(lead, now, w.cfg.FreshnessWindow) {
		vr, verr := w.verifier.Verify(ctx, lead)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		in.Result = vr
		in.Err = verr
	}

	d := service.DecideVerify(in)

	if d.Outcome == model.OutcomeUpdated && d.NewValue != nil {
		if err := w.leads.ApplyVerifiedURL(ctx, core.ApplyURLParams{
			LeadID:     lead.ID,
			URL:        *d.NewValue,
			VerifiedAt: w.clock(),
		}); err != nil {
			return nil, fmt.Errorf("apply verified url: %w", err)
		}
	}
	if d.RefreshVerifiedAt {
		if err := w.leads.RefreshVerifiedAt(ctx, lead.ID, w.clock()); err != nil {
			return nil, fmt.Errorf("refresh verified at: %w", err)
		}
	}

	return &model.ItemResult{
		RunID:            r.ID,
		ItemID:           lead.ID,
		InputValue:       lead.SourceURL,
		Outcome:          d.Outcome,
		NewValue:         d.NewValue,
		BeforeAssessment: d.Before,
		AfterAssessment:  d.After,
		Rationale:        d.Rationale,
		DurationMs:       w.clock().Sub(start).Milliseconds(),
		Error:            d.Error,
	}, nil
}

func (w *Runner) embedDocument(ctx context.Context, r *model.Run, doc *model.Document) (*model.ItemResult, error) {
	if w.embedder == nil {
		return nil, errors.New("embedder is not configured")
	}

	start := w.clock()
	var embedErr error
	var embedded *core.EmbedResult

	if doc.NeedsEmbedding(w.modelTag) {
		embedded, embedErr = w.embedder.Embed(ctx, doc.Content)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	d := service.DecideEmbed(doc, w.modelTag, embedErr)

	if d.Outcome == model.OutcomeUpdated && embedded != nil {
		if err := w.documents.AttachEmbedding(ctx, core.AttachEmbeddingParams{
			DocumentID:  doc.ID,
			Vector:      embedded.Vector,
			ModelTag:    embedded.ModelTag,
			ContentHash: doc.ContentHash,
			UpdatedAt:   w.clock(),
		}); err != nil {
			return nil, fmt.Errorf("attach embedding: %w", err)
		}
	}

	return &model.ItemResult{
		RunID:      r.ID,
		ItemID:     doc.ID,
		InputValue: doc.ContentHash,
		Outcome:    d.Outcome,
		NewValue:   d.NewValue,
		Rationale:  d.Rationale,
		DurationMs: w.clock().Sub(start).Milliseconds(),
		Error:      d.Error,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

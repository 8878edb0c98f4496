package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/matchops/leadsweep/config"
	"github.com/matchops/leadsweep/internal/adapters/ai"
	"github.com/matchops/leadsweep/internal/adapters/sweeper"
	"github.com/matchops/leadsweep/internal/observability/statsd"
	"github.com/matchops/leadsweep/internal/service"
)

// SweeperRuntimeConfig contains configuration for the sweep worker.
type SweeperRuntimeConfig struct {
	Services ServiceContainer
	Sweeper  config.SweeperConfig
	OpenAI   config.OpenAIConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
	// Concurrency is the number of runner loops; each claims at most one run.
	Concurrency int
}

// RunSweeper builds the AI adapters and starts the sweep worker loop(s).
func RunSweeper(ctx context.Context, cfg SweeperRuntimeConfig) error {
	repos := cfg.Services.repos
	if repos == nil {
		return errors.New("sweeper requires initialized repositories")
	}

	httpClient := &http.Client{Timeout: cfg.OpenAI.RequestTimeout}
	// Both adapters share one pacer so the provider-wide call spacing holds
	// across verify and embed traffic.
	pacer := ai.NewPacer(cfg.OpenAI.PaceInterval)

	verifier, err := ai.NewOpenAIVerifier(ai.VerifierOptions{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.VerifierModel,
		HTTPClient: httpClient,
		Pacer:      pacer,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create link verifier: %w", err)
	}

	embedder, err := ai.NewOpenAIEmbedder(ai.EmbedderOptions{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.EmbedderModel,
		HTTPClient: httpClient,
		Pacer:      pacer,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}

	opts := sweeper.RunnerOptions{
		Runs:             repos.RunRepo,
		Leads:            repos.LeadRepo,
		Documents:        repos.DocRepo,
		Verifier:         verifier,
		Embedder:         embedder,
		Config:           cfg.Sweeper,
		EmbedderModelTag: cfg.OpenAI.EmbedderModel,
		Logger:           cfg.Logger,
		Metrics:          cfg.Metrics,
	}
	if repos.Signals != nil {
		opts.Signals = repos.Signals
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		runner, rerr := sweeper.NewRunner(opts)
		if rerr != nil {
			return fmt.Errorf("create sweeper runner: %w", rerr)
		}
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}
	return g.Wait()
}

// ReaperRuntimeConfig contains configuration for the retention reaper.
type ReaperRuntimeConfig struct {
	Services ServiceContainer
	Config   config.ReaperConfig
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// RunReaper starts the retention reaper loop.
func RunReaper(ctx context.Context, cfg ReaperRuntimeConfig) error {
	repos := cfg.Services.repos
	if repos == nil {
		return errors.New("reaper requires initialized repositories")
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repos.RunRepo,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper service: %w", err)
	}

	return reaper.Run(ctx)
}

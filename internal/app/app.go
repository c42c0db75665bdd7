// Package app wires all Clarivox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, ProcessBatch runs transcripts through the cleaning pipeline,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithResultStore, or a mock recognizer in Providers). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/hmorven/clarivox/internal/config"
	"github.com/hmorven/clarivox/internal/convo"
	"github.com/hmorven/clarivox/internal/extract"
	"github.com/hmorven/clarivox/internal/feedback"
	"github.com/hmorven/clarivox/internal/normalize"
	"github.com/hmorven/clarivox/internal/resolve"
	"github.com/hmorven/clarivox/internal/safety"
	"github.com/hmorven/clarivox/internal/store/postgres"
	"github.com/hmorven/clarivox/pkg/dialogue"
	"github.com/hmorven/clarivox/pkg/provider/ner"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Recognizer ner.Recognizer
}

// App owns all subsystem lifetimes and runs the Clarivox cleaning pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	mu   sync.RWMutex
	orch *convo.Orchestrator

	// results is nil when persistence is not configured.
	results postgres.Store

	// reviews is nil when feedback collection is not configured.
	reviews     feedback.Store
	maxParallel int

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithResultStore injects a result store instead of creating one from
// config. Pass nil to disable persistence regardless of config.
func WithResultStore(s postgres.Store) Option {
	return func(a *App) { a.results = s }
}

// WithFeedbackStore injects a feedback store instead of creating one from
// config.
func WithFeedbackStore(s feedback.Store) Option {
	return func(a *App) { a.reviews = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	a.orch = buildPipeline(cfg, providers.Recognizer)

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	if a.reviews == nil && cfg.Storage.FeedbackPath != "" {
		a.reviews = feedback.NewFileStore(cfg.Storage.FeedbackPath)
	}

	a.maxParallel = cfg.Pipeline.MaxParallel
	if a.maxParallel <= 0 {
		a.maxParallel = runtime.NumCPU()
	}

	return a, nil
}

// buildPipeline constructs the four pipeline stages and the orchestrator
// from config.
func buildPipeline(cfg *config.Config, rec ner.Recognizer) *convo.Orchestrator {
	var gazOpts []extract.GazetteerOption
	if t := cfg.Lexicons.Gazetteer.PhoneticThreshold; t > 0 {
		gazOpts = append(gazOpts, extract.WithPhoneticThreshold(t))
	}
	if t := cfg.Lexicons.Gazetteer.FuzzyThreshold; t > 0 {
		gazOpts = append(gazOpts, extract.WithFuzzyThreshold(t))
	}
	gaz := extract.NewGazetteer(cfg.Lexicons.Gazetteer.Terms(), gazOpts...)

	var extOpts []extract.Option
	if d := cfg.Pipeline.RecognizerTimeout.Std(); d > 0 {
		extOpts = append(extOpts, extract.WithRecognizerTimeout(d))
	}

	return convo.New(
		normalize.New(cfg.Lexicons.Fillers),
		extract.New(gaz, rec, extOpts...),
		resolve.New(resolve.Config{
			Markers:          cfg.Resolver.Markers,
			Stopwords:        cfg.Resolver.Stopwords,
			SearchSuperseded: cfg.Resolver.SearchSuperseded,
		}),
		safety.New(safety.Config{
			QuestionPatterns: cfg.Safety.QuestionPatterns,
			MedChangeVerbs:   cfg.Safety.MedChangeVerbs,
			DangerPhrases:    cfg.Safety.DangerPhrases,
		}),
	)
}

// initStore connects the PostgreSQL result store when configured and not
// already injected.
func (a *App) initStore(ctx context.Context) error {
	if a.results != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return nil // persistence disabled
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := postgres.NewResultStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}

	a.results = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("result store connected")
	return nil
}

// ─── Processing ──────────────────────────────────────────────────────────────

// Orchestrator returns the current pipeline orchestrator. The returned
// value is safe for concurrent use but may be superseded by a config
// reload; callers should not cache it across requests.
func (a *App) Orchestrator() *convo.Orchestrator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.orch
}

// Results returns the configured result store, or nil when persistence is
// disabled.
func (a *App) Results() postgres.Store {
	return a.results
}

// Feedback returns the configured reviewer feedback store, or nil when
// feedback collection is disabled.
func (a *App) Feedback() feedback.Store {
	return a.reviews
}

// ProcessOne cleans a single transcript and persists the result when a
// store is configured.
func (a *App) ProcessOne(ctx context.Context, t dialogue.Transcript) (dialogue.Result, error) {
	res, err := a.Orchestrator().Process(ctx, t)
	if err != nil {
		return dialogue.Result{}, err
	}
	a.persist(ctx, &res)
	return res, nil
}

// ProcessBatch cleans transcripts concurrently, bounded by
// pipeline.max_parallel. Results are returned in input order. The first
// transcript that fails structural validation aborts the batch.
//
// Turns within one transcript are always processed sequentially; only the
// transcripts themselves run in parallel.
func (a *App) ProcessBatch(ctx context.Context, transcripts []dialogue.Transcript) ([]dialogue.Result, error) {
	orch := a.Orchestrator()
	results := make([]dialogue.Result, len(transcripts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel)
	for i, t := range transcripts {
		g.Go(func() error {
			res, err := orch.Process(ctx, t)
			if err != nil {
				return fmt.Errorf("transcript %q: %w", t.ID, err)
			}
			a.persist(ctx, &res)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// persist saves a result to the configured store. Persistence failures are
// logged, not returned: the cleaned output is still valid without them.
func (a *App) persist(ctx context.Context, res *dialogue.Result) {
	if a.results == nil {
		return
	}
	if err := a.results.Save(ctx, &postgres.Record{Result: *res}); err != nil {
		slog.Warn("failed to persist result", "transcript_id", res.TranscriptID, "err", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig swaps in a rebuilt pipeline for the given config. Used by the
// serve mode when a config reload reports pipeline-affecting changes.
// In-flight transcripts finish on the pipeline they started with.
func (a *App) ApplyConfig(cfg *config.Config) {
	orch := buildPipeline(cfg, a.providers.Recognizer)

	a.mu.Lock()
	a.cfg = cfg
	a.orch = orch
	a.mu.Unlock()

	slog.Info("pipeline rebuilt from config reload")
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"publishengine/internal/config"
	"publishengine/internal/controlplane"
	"publishengine/internal/generator"
	"publishengine/internal/governor"
	"publishengine/internal/logging"
	"publishengine/internal/publisher"
	"publishengine/internal/scanner"
	"publishengine/internal/store"
	"publishengine/internal/workerpool"
)

// app bundles the process-lifetime objects every subcommand needs, built
// once from a resolved config.CoreConfig in the same spirit as the
// teacher's bootstrap.Foundation: a single place that owns the expensive
// dependencies (the DB pool, the adapters) and their cleanup.
type app struct {
	cfg   config.CoreConfig
	pool  *pgxpool.Pool
	store *store.PostgresStore
}

// newApp connects the Task Store and ensures its schema is applied. Callers
// must defer a.close().
func newApp(ctx context.Context, cfg config.CoreConfig) (*app, error) {
	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := store.NewPostgresStore(pool, logging.NewComponentLogger("store"))
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &app{cfg: cfg, pool: pool, store: s}, nil
}

func (a *app) close() {
	a.pool.Close()
}

// buildGenerator wires the Generator adapter named by cfg.Generator.Provider,
// wrapped in the determinism-preserving cache every provider shares, per
// spec.md §4.6.
func buildGenerator(cfg config.GeneratorConfig) *generator.CachingGenerator {
	var underlying generator.Underlying = generator.NoopGenerator{}
	name := "noop"
	if cfg.Enabled && cfg.Provider == "http" {
		underlying = generator.NewHTTPGenerator(generator.Config{
			Enabled:       cfg.Enabled,
			Endpoint:      cfg.Endpoint,
			Language:      cfg.Language,
			StyleHints:    cfg.StyleHints,
			MaxCaptionLen: cfg.MaxCaptionLen,
			Timeout:       cfg.Timeout(),
			CacheSize:     cfg.CacheSize,
		}, logging.NewComponentLogger("generator"))
		name = "http"
	}
	return generator.NewCachingGenerator(underlying, name, cfg.Language, cfg.StyleHints, cfg.CacheSize)
}

// buildPublisher wires the Publisher adapter named by cfg.Publisher.Provider.
func buildPublisher(cfg config.PublisherConfig) publisherAdapter {
	switch cfg.Provider {
	case "http":
		return publisher.NewHTTPPublisher(publisher.Config{Endpoint: cfg.Endpoint, Timeout: cfg.Timeout()}, logging.NewComponentLogger("publisher"))
	default:
		return publisher.NewLoggingPublisher(logging.NewComponentLogger("publisher"))
	}
}

// publisherAdapter is the common surface workerpool.Publisher and
// controlplane.HealthChecker both need from whichever concrete adapter
// buildPublisher returns.
type publisherAdapter interface {
	Publish(ctx context.Context, mediaPath string, caption string) (string, error)
	Name() string
	Healthy(ctx context.Context) error
}

// buildGovernor constructs the single Rate Governor this deployment runs
// under the platform api_kind, per spec.md §4.5. Additional named
// governors (a remote Generator's own quota, say) would be added here the
// same way, keyed by name.
func buildGovernor(cfg config.RateConfig, loc *time.Location) (*governor.Governor, error) {
	return governor.New("publisher", governor.Config{PerMinute: cfg.PerMinute, Burst: cfg.Burst, PerDay: cfg.PerDay}, loc, nil, logging.NewComponentLogger("governor"))
}

// buildScanner constructs the Scanner rooted at cfg.Media.Root.
func buildScanner(cfg config.CoreConfig, s *store.PostgresStore) *scanner.Scanner {
	return scanner.New(cfg.Media.Root, s, logging.NewComponentLogger("scanner"))
}

// allSourcesLister adapts PostgresStore.ListAllContentSources to the
// scanner loop's SourceLister signature.
func allSourcesLister(s *store.PostgresStore) scanner.SourceLister {
	return func(ctx context.Context) ([]scanner.ProjectSource, error) {
		sources, err := s.ListAllContentSources(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]scanner.ProjectSource, len(sources))
		for i, cs := range sources {
			out[i] = scanner.ProjectSource{ProjectID: cs.ProjectID, Source: cs.Source}
		}
		return out, nil
	}
}

// projectSourcesLister narrows a scan pass to one project, for `scan
// --project <name>`.
func projectSourcesLister(s *store.PostgresStore, projectID int64) scanner.SourceLister {
	return func(ctx context.Context) ([]scanner.ProjectSource, error) {
		sources, err := s.ListContentSourcesForProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		out := make([]scanner.ProjectSource, len(sources))
		for i, source := range sources {
			out[i] = scanner.ProjectSource{ProjectID: projectID, Source: source}
		}
		return out, nil
	}
}

// resolveProjectID looks up a project's id by name, the `--project` flag's
// unit across scan/run-once, since the control surface and store both key
// on id.
func resolveProjectID(ctx context.Context, s *store.PostgresStore, name string) (int64, error) {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range projects {
		if p.Name == name {
			return p.ID, nil
		}
	}
	return 0, fmt.Errorf("no project named %q", name)
}

// newScannerLoop builds the periodic Scanner loop over lister's sources.
func newScannerLoop(sc *scanner.Scanner, lister scanner.SourceLister, cfg config.CoreConfig, logger logging.Logger) *scanner.Loop {
	return scanner.NewLoop(sc, lister, cfg.Scheduler.TickInterval(), logger)
}

// newWorkerPool builds the Worker Pool from config.WorkersConfig/MediaConfig.
func newWorkerPool(cfg config.CoreConfig, s *store.PostgresStore, gen *generator.CachingGenerator, pub publisherAdapter, gov *governor.Governor) *workerpool.Pool {
	return workerpool.New(workerpool.Config{
		Count:         cfg.Workers.Count,
		BatchSize:     cfg.Workers.BatchSize,
		CheckInterval: cfg.Workers.CheckInterval(),
		TaskTimeout:   cfg.Workers.TaskTimeout(),
		MaxRetries:    cfg.Workers.MaxRetries,
		BackoffBase:   cfg.Workers.BackoffBase(),
		BackoffMax:    cfg.Workers.BackoffMax(),
		LeaseTTL:      cfg.Workers.LeaseTTL(),
		MediaRoot:     cfg.Media.Root,
		GeneratorOn:   cfg.Generator.Enabled,
	}, s, gen, pub, gov, logging.NewComponentLogger("workerpool"))
}

// buildControlPlane assembles a controlplane.Service with whichever
// optional components the caller has running (nil-safe on the unused
// ones), mirroring New's own "nil for a migration-only CLI invocation"
// allowance.
func buildControlPlane(s *store.PostgresStore, sc *scanner.Scanner, sched controlplane.SchedulerStatusProvider, governors map[string]controlplane.GovernorStatusProvider, health []controlplane.HealthChecker, pool controlplane.WorkerPoolStatusProvider) *controlplane.Service {
	return controlplane.New(s, sc, sched, governors, health, pool, logging.NewComponentLogger("controlplane"))
}

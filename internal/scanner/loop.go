package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"publishengine/internal/logging"
	"publishengine/internal/store"
)

// SourceLister supplies the set of ContentSources a periodic scan should
// cover; the caller (cmd/publishctl) decides whether that's "every enabled
// source" or one project filtered by --project.
type SourceLister func(ctx context.Context) ([]ProjectSource, error)

// ProjectSource pairs a ContentSource with the project that owns it.
type ProjectSource struct {
	ProjectID int64
	Source    store.ContentSource
}

// Loop drives periodic, non-overlapping Scanner passes over every
// configured ContentSource, in the same style as the teacher's cron-backed
// Scheduler (SkipIfStillRunning so a slow scan never overlaps itself).
type Loop struct {
	scanner *Scanner
	lister  SourceLister
	cron    *cron.Cron
	logger  logging.Logger

	mu      sync.Mutex
	stopped chan struct{}
	stopOne sync.Once
}

// NewLoop constructs a Loop. Its tickInterval argument is not used; the
// re-scan period is the interval passed to Start.
func NewLoop(scanner *Scanner, lister SourceLister, tickInterval time.Duration, logger logging.Logger) *Loop {
	logger = logging.OrNop(logger)
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Loop{scanner: scanner, lister: lister, cron: c, logger: logger, stopped: make(chan struct{})}
}

// Start registers the periodic scan and begins the cron runner. The
// interval is expressed as "@every <duration>", matching robfig/cron/v3's
// own shorthand for fixed-period jobs.
func (l *Loop) Start(ctx context.Context, tickInterval time.Duration) error {
	spec := fmt.Sprintf("@every %s", tickInterval)
	_, err := l.cron.AddFunc(spec, func() { l.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("scanner loop: register tick: %w", err)
	}
	l.cron.Start()
	l.logger.Info("scanner loop started, tick=%s", tickInterval)

	go func() {
		<-ctx.Done()
		l.Stop()
	}()
	return nil
}

// RunOnce performs a single scan pass across every listed source,
// independent of the periodic loop, running the same pass as Start's tick.
func (l *Loop) RunOnce(ctx context.Context) error {
	return l.runOnceErr(ctx)
}

func (l *Loop) runOnce(ctx context.Context) {
	if err := l.runOnceErr(ctx); err != nil {
		l.logger.Error("scanner loop: pass failed: %v", err)
	}
}

func (l *Loop) runOnceErr(ctx context.Context) error {
	sources, err := l.lister(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	now := time.Now().UTC()
	for _, ps := range sources {
		created, skipped, scanErr := l.scanner.Scan(ctx, ps.ProjectID, ps.Source, now)
		if scanErr != nil {
			l.logger.Error("scan failed for source %d (%s): %v", ps.Source.ID, ps.Source.Path, scanErr)
			continue
		}
		l.logger.Debug("source %d: %d created, %d skipped", ps.Source.ID, created, skipped)
	}
	return nil
}

// Stop stops the cron runner, waiting for any in-flight pass to finish.
func (l *Loop) Stop() {
	l.stopOne.Do(func() {
		stopCtx := l.cron.Stop()
		<-stopCtx.Done()
		close(l.stopped)
	})
}

// Done reports when Stop has fully completed.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

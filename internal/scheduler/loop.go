package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"publishengine/internal/logging"
)

// Loop drives periodic, non-overlapping Scheduler passes, in the same
// cron-backed style as the Scanner's loop (spec.md §5: "Scanner and
// Scheduler each run as single periodic tasks — not parallel with
// themselves").
type Loop struct {
	scheduler *Scheduler
	cron      *cron.Cron
	logger    logging.Logger

	mu      sync.Mutex
	lastRun time.Time

	stopped chan struct{}
	stopOne sync.Once
}

// NewLoop constructs a Loop; the re-plan period is the interval passed to Start.
func NewLoop(scheduler *Scheduler, logger logging.Logger) *Loop {
	logger = logging.OrNop(logger)
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Loop{scheduler: scheduler, cron: c, logger: logger, stopped: make(chan struct{})}
}

// Start registers the periodic plan pass and begins the cron runner.
func (l *Loop) Start(ctx context.Context, tickInterval time.Duration) error {
	spec := fmt.Sprintf("@every %s", tickInterval)
	_, err := l.cron.AddFunc(spec, func() { l.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler loop: register tick: %w", err)
	}
	l.cron.Start()
	l.logger.Info("scheduler loop started, tick=%s", tickInterval)

	go func() {
		<-ctx.Done()
		l.Stop()
	}()
	return nil
}

// RunOnce performs a single plan pass, independent of the periodic loop;
// the periodic tick calls it too.
func (l *Loop) RunOnce(ctx context.Context) error {
	err := l.scheduler.RunOnce(ctx, time.Now().UTC())
	l.mu.Lock()
	l.lastRun = time.Now().UTC()
	l.mu.Unlock()
	return err
}

// LastRun reports when the most recent plan pass completed (zero value if
// none has run yet), consumed by the control surface's SchedulerStatus
// operation.
func (l *Loop) LastRun() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRun
}

func (l *Loop) runOnce(ctx context.Context) {
	if err := l.RunOnce(ctx); err != nil {
		l.logger.Error("scheduler loop: pass failed: %v", err)
	}
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

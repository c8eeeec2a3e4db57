package rollup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"publishengine/internal/logging"
)

// Loop drives periodic, non-overlapping Roll-up sweeps, in the same
// cron-backed style as the Scanner's and Scheduler's loops (spec.md §5:
// "Roll-up is single-threaded").
type Loop struct {
	rollup *Rollup
	cron   *cron.Cron
	logger logging.Logger

	stopped chan struct{}
	stopOne sync.Once
}

func NewLoop(rollup *Rollup, logger logging.Logger) *Loop {
	logger = logging.OrNop(logger)
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	return &Loop{rollup: rollup, cron: c, logger: logger, stopped: make(chan struct{})}
}

func (l *Loop) Start(ctx context.Context, tickInterval time.Duration) error {
	spec := fmt.Sprintf("@every %s", tickInterval)
	_, err := l.cron.AddFunc(spec, func() { l.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("rollup loop: register tick: %w", err)
	}
	l.cron.Start()
	l.logger.Info("rollup loop started, tick=%s", tickInterval)

	go func() {
		<-ctx.Done()
		l.Stop()
	}()
	return nil
}

// RunOnce sweeps the current unrolled-log backlog, independent of the
// periodic loop; the periodic tick calls it too.
func (l *Loop) RunOnce(ctx context.Context) error {
	return l.rollup.RunOnce(ctx, time.Now().UTC())
}

func (l *Loop) runOnce(ctx context.Context) {
	if err := l.RunOnce(ctx); err != nil {
		l.logger.Error("rollup loop: sweep failed: %v", err)
	}
}

func (l *Loop) Stop() {
	l.stopOne.Do(func() {
		stopCtx := l.cron.Stop()
		<-stopCtx.Done()
		close(l.stopped)
	})
}

func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

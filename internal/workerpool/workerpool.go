// Package workerpool drives claimed pending tasks to a terminal state:
// generate a caption, acquire a publication slot from the Rate Governor,
// publish, and record the outcome — spec.md §4.4.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"publishengine/internal/apperrors"
	"publishengine/internal/logging"
	"publishengine/internal/metrics"
	"publishengine/internal/store"
)

// TaskStore is the subset of internal/store the Worker Pool depends on.
type TaskStore interface {
	ClaimDueTasks(ctx context.Context, workerID string, now time.Time, limit int, leaseTTL time.Duration) ([]store.PublishingTask, error)
	CompleteTask(ctx context.Context, taskID int64, expectedVersion int64, outcome store.CompletionOutcome, now time.Time) error
}

// Generator produces a caption from a task's stored content metadata.
// Name/Healthy let the control surface's Health operation and worker log
// lines identify which adapter is wired, per SPEC_FULL.md's supplement.
type Generator interface {
	Generate(ctx context.Context, contentData []byte) (caption string, err error)
	Name() string
	Healthy(ctx context.Context) error
}

// Publisher posts one media item with its caption to the target platform.
type Publisher interface {
	Publish(ctx context.Context, mediaPath string, caption string) (platformID string, err error)
	Name() string
	Healthy(ctx context.Context) error
}

// RateGovernor gates outbound publish calls. Acquire blocks until a slot is
// admitted or ctx is done; a quota-exhaustion condition is reported via an
// apperrors.QuotaError so the caller can distinguish it from a plain
// context-deadline timeout.
type RateGovernor interface {
	Acquire(ctx context.Context) error
}

// Config is the Worker Pool's tunable behavior, sourced from
// config.WorkersConfig and config.MediaConfig.
type Config struct {
	Count          int
	BatchSize      int
	CheckInterval  time.Duration
	TaskTimeout    time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	LeaseTTL       time.Duration
	MediaRoot      string
	GeneratorOn    bool
}

// Pool is a fixed-size set of workers sharing one claim queue.
type Pool struct {
	cfg       Config
	store     TaskStore
	generator Generator
	publisher Publisher
	governor  RateGovernor
	logger    logging.Logger
	active    atomic.Int32
}

// New constructs a Pool. generator may be nil only if cfg.GeneratorOn is
// false for every task (content_data must then already carry a caption).
func New(cfg Config, taskStore TaskStore, generator Generator, publisher Publisher, governor RateGovernor, logger logging.Logger) *Pool {
	return &Pool{cfg: cfg, store: taskStore, generator: generator, publisher: publisher, governor: governor, logger: logging.OrNop(logger)}
}

// Run starts cfg.Count workers and blocks until ctx is cancelled or a
// worker returns a fatal error. Each worker stops claiming once ctx is
// done; any task already claimed finishes executing before that worker
// exits, honoring the shutdown grace spec.md §4.4 calls for.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Count; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			p.runWorker(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

// ActiveWorkers reports how many workers are currently between claim
// attempts or executing a task, consumed by the control surface's Health
// operation to flag a pool that has lost every worker.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// RunOnce claims up to limit due tasks and executes them synchronously in
// the calling goroutine, for the `run-once` CLI command. It reports how
// many tasks succeeded versus failed (transient, permanent, or quota) so
// the caller can choose a partial-failure exit code.
func (p *Pool) RunOnce(ctx context.Context, limit int) (succeeded, failed int, err error) {
	tasks, err := p.store.ClaimDueTasks(ctx, "run-once", time.Now().UTC(), limit, p.cfg.LeaseTTL)
	if err != nil {
		return 0, 0, err
	}
	for _, task := range tasks {
		if p.executeOne(ctx, task) == store.OutcomeSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed, nil
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	p.logger.Info("%s started", workerID)
	metrics.WorkerPoolActive.Inc()
	p.active.Add(1)
	defer metrics.WorkerPoolActive.Dec()
	defer p.active.Add(-1)
	defer p.logger.Info("%s stopped", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tasks, err := p.store.ClaimDueTasks(ctx, workerID, time.Now().UTC(), p.cfg.BatchSize, p.cfg.LeaseTTL)
		if err != nil {
			p.logger.Error("%s: claim failed: %v", workerID, err)
			if !sleep(ctx, p.cfg.CheckInterval) {
				return
			}
			continue
		}
		if len(tasks) == 0 {
			if !sleep(ctx, p.cfg.CheckInterval) {
				return
			}
			continue
		}
		metrics.RecordTaskClaimed(workerID, len(tasks))

		// Claimed tasks run to completion even if ctx is cancelled meanwhile;
		// each is still bounded by TaskTimeout inside executeOne.
		execCtx := context.WithoutCancel(ctx)
		for _, task := range tasks {
			p.executeOne(execCtx, task)
		}
	}
}

// sleep waits for d or ctx cancellation, reporting whether it completed the
// full wait (false means the caller should exit).
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// executeOne runs the five-step execution spec.md §4.4 names for one
// claimed task, reports the outcome via CompleteTask, and returns the
// outcome's result for callers that need to tally success/failure (the
// `run-once` CLI command).
func (p *Pool) executeOne(ctx context.Context, task store.PublishingTask) store.LogOutcome {
	execCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	started := time.Now()
	outcome := p.runTask(execCtx, task)
	elapsed := time.Since(started)
	outcome.DurationS = elapsed.Seconds()
	outcome.MaxRetries = p.cfg.MaxRetries
	outcome.BackoffBase = p.cfg.BackoffBase
	outcome.BackoffMax = p.cfg.BackoffMax
	metrics.RecordTaskOutcome(string(outcome.Result), elapsed)

	now := time.Now().UTC()
	if err := p.store.CompleteTask(ctx, task.ID, task.Version, outcome, now); err != nil {
		p.logger.Error("task %d: complete failed: %v", task.ID, err)
	}
	return outcome.Result
}

// runTask executes steps 1-4 of spec.md §4.4 and classifies the result
// into a CompletionOutcome, leaving DurationS/MaxRetries/BackoffBase/
// BackoffMax for the caller to fill in.
func (p *Pool) runTask(ctx context.Context, task store.PublishingTask) store.CompletionOutcome {
	mediaPath := filepath.Join(p.cfg.MediaRoot, task.MediaPath)
	if _, err := os.Stat(mediaPath); err != nil {
		return store.CompletionOutcome{Result: store.OutcomePermanent, ErrorText: fmt.Sprintf("media unreadable: %v", err)}
	}

	caption, err := p.resolveCaption(ctx, task)
	if err != nil {
		return store.CompletionOutcome{Result: store.OutcomePermanent, ErrorText: fmt.Sprintf("caption generation failed: %v", err)}
	}

	if p.governor != nil {
		if err := p.governor.Acquire(ctx); err != nil {
			return p.classifyGovernorError(err)
		}
	}

	platformID, err := p.publisher.Publish(ctx, mediaPath, caption)
	if err != nil {
		return p.classifyPublishError(err, caption)
	}

	id := platformID
	cap := caption
	return store.CompletionOutcome{Result: store.OutcomeSuccess, PlatformPostID: &id, Caption: &cap}
}

// resolveCaption honors the "Generator MAY be bypassed if content_data
// already contains a caption and AI enhancement is disabled" rule.
func (p *Pool) resolveCaption(ctx context.Context, task store.PublishingTask) (string, error) {
	if !p.cfg.GeneratorOn {
		if existing, ok := existingCaption(task.ContentData); ok {
			return existing, nil
		}
	}
	if p.generator == nil {
		if existing, ok := existingCaption(task.ContentData); ok {
			return existing, nil
		}
		return "", fmt.Errorf("no generator configured and no caption present in content_data")
	}
	return p.generator.Generate(ctx, task.ContentData)
}

func (p *Pool) classifyGovernorError(err error) store.CompletionOutcome {
	if cooldown, ok := apperrors.IsQuota(err); ok {
		return store.CompletionOutcome{Result: store.OutcomeQuota, ErrorText: err.Error(), AdviseCooldown: time.Duration(cooldown) * time.Second}
	}
	// A context-deadline timeout while waiting for a slot is a transient
	// failure, per spec.md §4.4's "On timeout, release claim as transient
	// failure."
	return store.CompletionOutcome{Result: store.OutcomeTransient, ErrorText: err.Error()}
}

func (p *Pool) classifyPublishError(err error, caption string) store.CompletionOutcome {
	cap := caption
	if cooldown, ok := apperrors.IsQuota(err); ok {
		return store.CompletionOutcome{Result: store.OutcomeQuota, ErrorText: err.Error(), Caption: &cap, AdviseCooldown: time.Duration(cooldown) * time.Second}
	}
	if apperrors.IsPermanent(err) {
		return store.CompletionOutcome{Result: store.OutcomePermanent, ErrorText: err.Error(), Caption: &cap}
	}
	// Default (including explicit TransientError and anything
	// unclassified) is treated as transient-retryable, never silently
	// dropping a task that might succeed on a later attempt.
	return store.CompletionOutcome{Result: store.OutcomeTransient, ErrorText: err.Error(), Caption: &cap}
}

func existingCaption(contentData []byte) (string, bool) {
	caption, ok := extractCaptionField(contentData)
	if !ok || caption == "" {
		return "", false
	}
	return caption, true
}

// Package rollup implements the Analytics Roll-up of spec.md §4.7: after
// each log insertion (or in a periodic sweep), accumulate execution attempts
// (one per PublishingLog row) into the hourly (hour_timestamp, project_id)
// bucket, idempotently.
package rollup

import (
	"context"
	"time"

	"publishengine/internal/metrics"
	"publishengine/internal/store"
)

// LogStore is the subset of internal/store the Roll-up depends on.
type LogStore interface {
	ListUnrolledLogs(ctx context.Context, limit int) ([]store.UnrolledLog, error)
	UpsertHourly(ctx context.Context, hour time.Time, projectID int64, successDelta, failDelta int64, durationDelta float64) error
	MarkRolledUp(ctx context.Context, logIDs []int64, now time.Time) error
}

// Config is the Roll-up's tunable behavior.
type Config struct {
	BatchSize int
}

// Rollup sweeps unrolled log rows into AnalyticsHourly.
type Rollup struct {
	cfg   Config
	store LogStore
}

func New(cfg Config, logStore LogStore) *Rollup {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Rollup{cfg: cfg, store: logStore}
}

// RunOnce sweeps every currently-unrolled log row, looping in cfg.BatchSize
// batches until none remain, so a backlog built up while the roll-up was
// down gets fully drained in one pass rather than one batch per tick.
func (r *Rollup) RunOnce(ctx context.Context, now time.Time) error {
	for {
		logs, err := r.store.ListUnrolledLogs(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}
		if err := r.applyBatch(ctx, logs, now); err != nil {
			return err
		}
		if len(logs) < r.cfg.BatchSize {
			return nil
		}
	}
}

type bucketKey struct {
	hour      time.Time
	projectID int64
}

type bucketDelta struct {
	success  int64
	failed   int64
	duration float64
}

// applyBatch accumulates one batch's deltas per (hour, project) bucket
// before issuing the upserts, so a batch touching the same bucket many
// times (a burst of posts in one hour) produces one UpsertHourly call per
// bucket instead of one per log row. Every log row counts — including an
// attempt that will be retried — since publishing_logs is an append-only
// record of attempts, not terminal task outcomes; successful_tasks/
// failed_tasks reflect attempt volume per hour, per §4.7.
func (r *Rollup) applyBatch(ctx context.Context, logs []store.UnrolledLog, now time.Time) error {
	buckets := make(map[bucketKey]*bucketDelta)
	ids := make([]int64, 0, len(logs))

	for _, log := range logs {
		ids = append(ids, log.ID)
		key := bucketKey{hour: log.PublishedAt.Truncate(time.Hour).UTC(), projectID: log.ProjectID}
		delta, ok := buckets[key]
		if !ok {
			delta = &bucketDelta{}
			buckets[key] = delta
		}
		if log.Outcome == store.OutcomeSuccess {
			delta.success++
		} else {
			delta.failed++
		}
		delta.duration += log.DurationS
	}

	for key, delta := range buckets {
		if err := r.store.UpsertHourly(ctx, key.hour, key.projectID, delta.success, delta.failed, delta.duration); err != nil {
			return err
		}
	}
	metrics.RecordRollupBatch(len(logs), len(buckets))
	return r.store.MarkRolledUp(ctx, ids, now)
}

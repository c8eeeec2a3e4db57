// Package metrics exposes the publication engine's Prometheus
// instrumentation: task throughput and latency, Rate Governor pressure,
// Worker Pool occupancy, and Roll-up batch sizes. Every metric is
// registered once at package init via promauto against the default
// registry, the same pattern the corpus uses for its own Prometheus
// instrumentation — callers just call the Record/Set functions from
// wherever the event happens.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksClaimedTotal counts tasks a worker successfully claimed off the
	// queue, labeled by worker id.
	TasksClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publishengine_tasks_claimed_total",
			Help: "Total number of publishing tasks claimed by a worker",
		},
		[]string{"worker_id"},
	)

	// TaskOutcomesTotal counts completed task attempts by their terminal
	// LogOutcome value (success, transient_failure, permanent_failure,
	// quota_exhausted, lease_expired).
	TaskOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publishengine_task_outcomes_total",
			Help: "Total number of publishing task attempts by outcome",
		},
		[]string{"outcome"},
	)

	// TaskExecutionDuration observes wall-clock time for one claim-to-
	// complete execution cycle (spec.md §4.4's five steps).
	TaskExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publishengine_task_execution_duration_seconds",
			Help:    "Duration of one task execution cycle in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// WorkerPoolActive tracks how many of the configured workers are
	// currently running (between Run's start and ctx cancellation).
	WorkerPoolActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "publishengine_worker_pool_active_workers",
			Help: "Current number of running Worker Pool goroutines",
		},
	)

	// GovernorMinuteRemaining and GovernorDayRemaining mirror
	// governor.Pressure, labeled by governor name so the Publisher's and
	// a remote Generator's independent governors are distinguishable.
	GovernorMinuteRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "publishengine_governor_minute_remaining",
			Help: "Fraction of the per-minute rate bucket remaining",
		},
		[]string{"governor"},
	)

	GovernorDayRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "publishengine_governor_day_remaining",
			Help: "Fraction of the daily quota bucket remaining",
		},
		[]string{"governor"},
	)

	// GovernorQuotaExhaustedTotal counts Acquire calls that returned a
	// quota error, labeled by governor name.
	GovernorQuotaExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publishengine_governor_quota_exhausted_total",
			Help: "Total number of Acquire calls rejected with a quota error",
		},
		[]string{"governor"},
	)

	// RollupBatchSize observes how many log rows one roll-up batch
	// processed, and RollupBucketsUpdated how many distinct (hour,
	// project) buckets it touched.
	RollupBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publishengine_rollup_batch_size",
			Help:    "Number of publishing_logs rows processed per roll-up batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
		},
	)

	RollupBucketsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "publishengine_rollup_buckets_updated_total",
			Help: "Total number of (hour, project) analytics buckets upserted by roll-up",
		},
	)
)

// RecordTaskClaimed records one worker successfully claiming a task.
func RecordTaskClaimed(workerID string, count int) {
	TasksClaimedTotal.WithLabelValues(workerID).Add(float64(count))
}

// RecordTaskOutcome records one task execution's terminal outcome and how
// long the execution cycle took.
func RecordTaskOutcome(outcome string, duration time.Duration) {
	TaskOutcomesTotal.WithLabelValues(outcome).Inc()
	TaskExecutionDuration.Observe(duration.Seconds())
}

// RecordGovernorPressure updates the gauge pair for one named governor.
func RecordGovernorPressure(name string, minuteRemaining, dayRemaining float64) {
	GovernorMinuteRemaining.WithLabelValues(name).Set(minuteRemaining)
	GovernorDayRemaining.WithLabelValues(name).Set(dayRemaining)
}

// RecordGovernorQuotaExhausted records one Acquire call rejected with a
// quota error for the named governor.
func RecordGovernorQuotaExhausted(name string) {
	GovernorQuotaExhaustedTotal.WithLabelValues(name).Inc()
}

// RecordRollupBatch records one drained roll-up batch: its row count and
// how many distinct buckets it updated.
func RecordRollupBatch(rows, buckets int) {
	RollupBatchSize.Observe(float64(rows))
	RollupBucketsUpdated.Add(float64(buckets))
}

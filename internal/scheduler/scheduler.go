// Package scheduler rewrites pending tasks' scheduled_at so the projected
// publication stream satisfies each project's cadence constraints: per-
// project spacing, blackout-hour avoidance, peak-hour bias, and daily caps.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"publishengine/internal/apperrors"
	"publishengine/internal/logging"
	"publishengine/internal/store"
)

// searchWindowHours bounds how far forward the placement walk looks for an
// optimal-hour slot before settling for the nearest non-blackout hour.
const searchWindowHours = 24

// TaskStore is the subset of internal/store the Scheduler depends on.
type TaskStore interface {
	ListPendingProjectIDs(ctx context.Context) ([]int64, error)
	ListPendingTasksForProject(ctx context.Context, projectID int64) ([]store.PublishingTask, error)
	LastScheduledForProject(ctx context.Context, projectID int64) (*time.Time, error)
	RescheduleTask(ctx context.Context, taskID int64, expectedVersion int64, newScheduledAt time.Time, now time.Time) error
}

// Constraints is the planning policy a Scheduler enforces, taken from
// spec.md §4.3 and sourced from config.SchedulerConfig.
type Constraints struct {
	MinPublishInterval time.Duration
	OptimalHours       []int
	BlackoutHours      []int
	DailyMinTasks      int
	DailyMaxTasks      int
	PlanningHorizon    time.Duration
	Location           *time.Location
}

// Scheduler places pending tasks on the timeline. One run re-plans every
// project independently; it is idempotent — see TestSchedulerIsFixedPoint.
type Scheduler struct {
	store       TaskStore
	constraints Constraints
	logger      logging.Logger

	blackout map[int]bool
	optimal  map[int]bool
}

// New constructs a Scheduler with a fixed constraint set.
func New(taskStore TaskStore, constraints Constraints, logger logging.Logger) *Scheduler {
	blackout := make(map[int]bool, len(constraints.BlackoutHours))
	for _, h := range constraints.BlackoutHours {
		blackout[h] = true
	}
	optimal := make(map[int]bool, len(constraints.OptimalHours))
	for _, h := range constraints.OptimalHours {
		optimal[h] = true
	}
	if constraints.Location == nil {
		constraints.Location = time.UTC
	}
	return &Scheduler{
		store:       taskStore,
		constraints: constraints,
		logger:      logging.OrNop(logger),
		blackout:    blackout,
		optimal:     optimal,
	}
}

// RunOnce re-plans every project with at least one pending task. It never
// aborts the whole pass on one project's failure.
func (sch *Scheduler) RunOnce(ctx context.Context, now time.Time) error {
	projectIDs, err := sch.store.ListPendingProjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list pending projects: %w", err)
	}
	for _, projectID := range projectIDs {
		if err := sch.planProject(ctx, projectID, now); err != nil {
			sch.logger.Error("scheduler: plan project %d failed: %v", projectID, err)
		}
	}
	return nil
}

// planProject places every pending task for one project, per spec.md
// §4.3's design-level algorithm.
func (sch *Scheduler) planProject(ctx context.Context, projectID int64, now time.Time) error {
	tasks, err := sch.store.ListPendingTasksForProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list pending tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}
	sortTasks(tasks)

	lastScheduled, err := sch.store.LastScheduledForProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("last scheduled: %w", err)
	}

	cursor := now
	if lastScheduled != nil {
		anchor := lastScheduled.Add(sch.constraints.MinPublishInterval)
		if anchor.After(cursor) {
			cursor = anchor
		}
	}

	horizon := now.Add(sch.constraints.PlanningHorizon)
	dailyCounts := map[string]int{} // local calendar day -> count placed this run
	if lastScheduled != nil {
		// Seed today's count so the daily cap accounts for tasks already
		// placed earlier in the day by a prior run.
		dailyCounts[sch.localDay(*lastScheduled)] = 0
	}

	placed := 0
	for _, task := range tasks {
		if !cursor.Before(horizon) {
			break // horizon cap: leave the rest pending for the next run
		}

		slot := sch.nextSlot(cursor, dailyCounts)
		if slot.After(horizon) {
			break
		}

		day := sch.localDay(slot)
		if dailyCounts[day] >= sch.constraints.DailyMaxTasks {
			// Hard cap reached for this day; skip to the next day's first
			// candidate hour and retry placement for this same task.
			cursor = sch.startOfNextLocalDay(slot)
			slot = sch.nextSlot(cursor, dailyCounts)
			if slot.After(horizon) {
				break
			}
			day = sch.localDay(slot)
		}
		if sch.blackout[slot.In(sch.constraints.Location).Hour()] {
			break // no non-blackout hour in the search window: leave the rest pending for the next run
		}

		if err := sch.store.RescheduleTask(ctx, task.ID, task.Version, slot, now); err != nil {
			if apperrors.IsConflict(err) {
				// Another process changed this task concurrently; leave it
				// for the next run rather than fail the whole pass.
				sch.logger.Debug("scheduler: task %d changed concurrently, re-planning next run", task.ID)
				continue
			}
			return fmt.Errorf("reschedule task %d: %w", task.ID, err)
		}

		dailyCounts[day]++
		placed++
		cursor = slot.Add(sch.constraints.MinPublishInterval)
	}

	sch.logger.Info("scheduler: project %d placed %d of %d pending tasks", projectID, placed, len(tasks))
	return nil
}

// nextSlot advances from "at" to the next instant that is not in a
// blackout hour, preferring an optimal hour reachable within
// searchWindowHours, else the nearest non-blackout hour.
func (sch *Scheduler) nextSlot(at time.Time, dailyCounts map[string]int) time.Time {
	best := time.Time{}
	cursor := at
	limit := at.Add(searchWindowHours * time.Hour)
	for cursor.Before(limit) {
		hour := cursor.In(sch.constraints.Location).Hour()
		if sch.blackout[hour] {
			cursor = sch.nextHourBoundary(cursor)
			continue
		}
		if best.IsZero() {
			best = cursor // first non-blackout candidate, kept as fallback
		}
		if sch.optimal[hour] {
			return cursor
		}
		cursor = sch.nextHourBoundary(cursor)
	}
	if !best.IsZero() {
		return best
	}
	return at // no non-blackout hour found within the window; caller re-examines next run
}

// nextHourBoundary advances to the top of the next local hour, so the
// search walks hour-by-hour rather than drifting by arbitrary deltas.
func (sch *Scheduler) nextHourBoundary(t time.Time) time.Time {
	local := t.In(sch.constraints.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, sch.constraints.Location).Add(time.Hour)
	if !next.After(t) {
		next = next.Add(time.Hour)
	}
	return next
}

func (sch *Scheduler) localDay(t time.Time) string {
	local := t.In(sch.constraints.Location)
	return local.Format("2006-01-02")
}

func (sch *Scheduler) startOfNextLocalDay(t time.Time) time.Time {
	local := t.In(sch.constraints.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, sch.constraints.Location).AddDate(0, 0, 1)
}

// sortTasks orders by priority DESC, created_at ASC, id ASC — spec.md
// §4.3's collection order and tie-break.
func sortTasks(tasks []store.PublishingTask) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

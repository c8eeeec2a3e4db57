package scheduler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publishengine/internal/store"
)

type fakeTaskStore struct {
	mu            sync.Mutex
	tasksByProj   map[int64][]store.PublishingTask
	lastScheduled map[int64]*time.Time
	rescheduled   []store.PublishingTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasksByProj:   map[int64][]store.PublishingTask{},
		lastScheduled: map[int64]*time.Time{},
	}
}

func (f *fakeTaskStore) ListPendingProjectIDs(ctx context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, tasks := range f.tasksByProj {
		if len(tasks) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeTaskStore) ListPendingTasksForProject(ctx context.Context, projectID int64) ([]store.PublishingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.PublishingTask, len(f.tasksByProj[projectID]))
	copy(out, f.tasksByProj[projectID])
	return out, nil
}

func (f *fakeTaskStore) LastScheduledForProject(ctx context.Context, projectID int64) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastScheduled[projectID], nil
}

func (f *fakeTaskStore) RescheduleTask(ctx context.Context, taskID int64, expectedVersion int64, newScheduledAt time.Time, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for projID, tasks := range f.tasksByProj {
		for i, t := range tasks {
			if t.ID == taskID {
				tasks[i].ScheduledAt = newScheduledAt
				tasks[i].Version++
				f.tasksByProj[projID] = tasks
				f.rescheduled = append(f.rescheduled, tasks[i])
				return nil
			}
		}
	}
	return nil
}

func testConstraints(loc *time.Location) Constraints {
	return Constraints{
		MinPublishInterval: 4 * time.Hour,
		OptimalHours:       []int{9, 12, 15, 18, 21},
		BlackoutHours:      []int{0, 1, 2, 3, 4, 5, 6},
		DailyMinTasks:      5,
		DailyMaxTasks:      5,
		PlanningHorizon:    10 * 24 * time.Hour,
		Location:           loc,
	}
}

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

// TestSchedulerCadenceInvariants checks the two hard properties spec.md §8
// names for any plan the Scheduler produces: no two same-project slots
// closer than min_publish_interval, and no slot in a blackout hour.
func TestSchedulerCadenceInvariants(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	fs := newFakeTaskStore()

	monday0800 := time.Date(2026, 8, 3, 8, 0, 0, 0, loc) // a Monday
	var tasks []store.PublishingTask
	for i := int64(1); i <= 10; i++ {
		tasks = append(tasks, store.PublishingTask{
			ID:          i,
			ProjectID:   1,
			Status:      store.StatusPending,
			ScheduledAt: monday0800,
			CreatedAt:   monday0800.Add(time.Duration(i) * time.Second),
			Version:     1,
		})
	}
	fs.tasksByProj[1] = tasks

	sch := New(fs, testConstraints(loc), nil)
	require.NoError(t, sch.RunOnce(context.Background(), monday0800))

	require.Len(t, fs.rescheduled, 10)
	for _, task := range fs.rescheduled {
		require.NotContains(t, []int{0, 1, 2, 3, 4, 5, 6}, task.ScheduledAt.In(loc).Hour())
		require.Contains(t, []int{9, 12, 15, 18, 21}, task.ScheduledAt.In(loc).Hour(), "optimal-hour bias")
	}
	for i := 1; i < len(fs.rescheduled); i++ {
		gap := fs.rescheduled[i].ScheduledAt.Sub(fs.rescheduled[i-1].ScheduledAt)
		require.GreaterOrEqual(t, gap, 4*time.Hour)
	}
}

// TestSchedulerHardDailyCapSkipsToNextDay verifies the daily ceiling is
// enforced by rolling placement over to the next calendar day once hit.
func TestSchedulerHardDailyCapSkipsToNextDay(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	fs := newFakeTaskStore()

	monday0800 := time.Date(2026, 8, 3, 8, 0, 0, 0, loc)
	fs.tasksByProj[1] = []store.PublishingTask{
		{ID: 1, ProjectID: 1, Status: store.StatusPending, ScheduledAt: monday0800, CreatedAt: monday0800, Version: 1},
		{ID: 2, ProjectID: 1, Status: store.StatusPending, ScheduledAt: monday0800, CreatedAt: monday0800.Add(time.Second), Version: 1},
		{ID: 3, ProjectID: 1, Status: store.StatusPending, ScheduledAt: monday0800, CreatedAt: monday0800.Add(2 * time.Second), Version: 1},
	}

	constraints := testConstraints(loc)
	constraints.DailyMaxTasks = 1
	sch := New(fs, constraints, nil)
	require.NoError(t, sch.RunOnce(context.Background(), monday0800))

	require.Len(t, fs.rescheduled, 3)
	days := map[string]int{}
	for _, task := range fs.rescheduled {
		days[task.ScheduledAt.In(loc).Format("2006-01-02")]++
	}
	require.Len(t, days, 3, "each day's placement should roll over once the cap of 1 is hit")
	for day, count := range days {
		require.Equal(t, 1, count, "day %s exceeded daily_max_tasks", day)
	}
}

func TestSchedulerIsFixedPoint(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	fs := newFakeTaskStore()
	now := time.Date(2026, 8, 3, 8, 0, 0, 0, loc)
	fs.tasksByProj[1] = []store.PublishingTask{
		{ID: 1, ProjectID: 1, Status: store.StatusPending, ScheduledAt: now, CreatedAt: now, Version: 1},
		{ID: 2, ProjectID: 1, Status: store.StatusPending, ScheduledAt: now, CreatedAt: now.Add(time.Second), Version: 1},
	}

	sch := New(fs, testConstraints(loc), nil)
	require.NoError(t, sch.RunOnce(context.Background(), now))
	firstPass := append([]store.PublishingTask(nil), fs.tasksByProj[1]...)

	require.NoError(t, sch.RunOnce(context.Background(), now))
	secondPass := fs.tasksByProj[1]

	for i := range firstPass {
		require.True(t, firstPass[i].ScheduledAt.Equal(secondPass[i].ScheduledAt), "task %d scheduled_at changed on second run", firstPass[i].ID)
	}
}

func TestSchedulerAvoidsBlackoutHours(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	fs := newFakeTaskStore()
	midnight := time.Date(2026, 8, 3, 2, 0, 0, 0, loc) // inside blackout
	fs.tasksByProj[1] = []store.PublishingTask{
		{ID: 1, ProjectID: 1, Status: store.StatusPending, ScheduledAt: midnight, CreatedAt: midnight, Version: 1},
	}

	sch := New(fs, testConstraints(loc), nil)
	require.NoError(t, sch.RunOnce(context.Background(), midnight))

	require.Len(t, fs.rescheduled, 1)
	hour := fs.rescheduled[0].ScheduledAt.In(loc).Hour()
	require.NotContains(t, []int{0, 1, 2, 3, 4, 5, 6}, hour)
}

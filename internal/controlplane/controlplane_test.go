package controlplane

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publishengine/internal/apperrors"
	"publishengine/internal/governor"
	"publishengine/internal/store"
)

type fakeStore struct {
	tasks       map[int64]store.PublishingTask
	nextID      int64
	projects    map[int64]store.Project
	sources     map[int64][]store.ContentSource
	counts      map[store.TaskStatus]int
	pingErr     error
	cancelCalls []int64
	deleteCalls []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    map[int64]store.PublishingTask{},
		projects: map[int64]store.Project{},
		sources:  map[int64][]store.ContentSource{},
		counts:   map[store.TaskStatus]int{},
	}
}

func (f *fakeStore) ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.PublishingTask, int, error) {
	var out []store.PublishingTask
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (store.PublishingTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return store.PublishingTask{}, &apperrors.NotFoundError{Entity: "task", ID: fmt.Sprintf("%d", id)}
	}
	return t, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, item store.TaskBatch) (int64, error) {
	f.nextID++
	f.tasks[f.nextID] = store.PublishingTask{
		ID:          f.nextID,
		ProjectID:   item.ProjectID,
		SourceID:    item.SourceID,
		MediaPath:   item.MediaPath,
		ContentData: item.ContentData,
		ScheduledAt: item.ScheduledAt,
		Priority:    item.Priority,
		Status:      store.StatusPending,
	}
	return f.nextID, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id int64, expectedVersion int64, patch store.TaskPatch, now time.Time) (store.PublishingTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return store.PublishingTask{}, &apperrors.NotFoundError{Entity: "task", ID: fmt.Sprintf("%d", id)}
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.ScheduledAt != nil {
		t.ScheduledAt = *patch.ScheduledAt
	}
	t.Version++
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id int64) error {
	f.deleteCalls = append(f.deleteCalls, id)
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) RescheduleTask(ctx context.Context, taskID int64, expectedVersion int64, newScheduledAt time.Time, now time.Time) error {
	t, ok := f.tasks[taskID]
	if !ok {
		return &apperrors.NotFoundError{Entity: "task", ID: fmt.Sprintf("%d", taskID)}
	}
	t.ScheduledAt = newScheduledAt
	f.tasks[taskID] = t
	return nil
}

func (f *fakeStore) CancelTask(ctx context.Context, taskID int64, expectedVersion int64, reason string, now time.Time) error {
	f.cancelCalls = append(f.cancelCalls, taskID)
	if _, ok := f.tasks[taskID]; !ok {
		return &apperrors.NotFoundError{Entity: "task", ID: fmt.Sprintf("%d", taskID)}
	}
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeStore) ListProjects(ctx context.Context) ([]store.Project, error) {
	var out []store.Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id int64) (store.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, &apperrors.NotFoundError{Entity: "project", ID: fmt.Sprintf("%d", id)}
	}
	return p, nil
}

func (f *fakeStore) CreateProject(ctx context.Context, p store.Project) (store.Project, error) {
	p.ID = int64(len(f.projects) + 1)
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeStore) UpdateProject(ctx context.Context, id int64, name, description string) (store.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, &apperrors.NotFoundError{Entity: "project", ID: fmt.Sprintf("%d", id)}
	}
	p.Name = name
	p.Description = description
	f.projects[id] = p
	return p, nil
}

func (f *fakeStore) DeleteProject(ctx context.Context, id int64) error {
	delete(f.projects, id)
	return nil
}

func (f *fakeStore) ListContentSourcesForProject(ctx context.Context, projectID int64) ([]store.ContentSource, error) {
	return f.sources[projectID], nil
}

func (f *fakeStore) RecordScan(ctx context.Context, sourceID int64, totalItems, usedItems int, scannedAt time.Time) error {
	return nil
}

func (f *fakeStore) AnalyticsRange(ctx context.Context, projectID *int64, from, to time.Time) ([]store.AnalyticsHourly, error) {
	return nil, nil
}

func (f *fakeStore) CountTasksByStatus(ctx context.Context) (map[store.TaskStatus]int, error) {
	return f.counts, nil
}

func (f *fakeStore) AuthenticateKey(ctx context.Context, plaintext string) (store.User, []string, error) {
	if plaintext != "good-key" {
		return store.User{}, nil, errors.New("invalid key")
	}
	return store.User{ID: 1, Username: "alice"}, []string{"admin"}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

type fakeScheduler struct {
	lastRun time.Time
}

func (f *fakeScheduler) LastRun() time.Time { return f.lastRun }

type fakeGovernor struct {
	pressure governor.Pressure
}

func (f *fakeGovernor) CurrentPressure() governor.Pressure { return f.pressure }

type fakePool struct {
	active int
}

func (f *fakePool) ActiveWorkers() int { return f.active }

func TestCreateTaskRejectsEmptyMediaPath(t *testing.T) {
	svc := New(newFakeStore(), nil, nil, nil, nil, nil, nil)
	_, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: 1})
	require.Error(t, err)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCreateTaskDefaultsScheduledAtToNow(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, nil, nil, nil, nil, nil, nil)
	id, err := svc.CreateTask(context.Background(), CreateTaskInput{ProjectID: 1, MediaPath: "clip.mp4"})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
	require.WithinDuration(t, time.Now().UTC(), fs.tasks[1].ScheduledAt, time.Second)
}

func TestBulkActionReportsPerIDOutcomeWithoutAbortingOnFailure(t *testing.T) {
	fs := newFakeStore()
	fs.tasks[1] = store.PublishingTask{ID: 1, Status: store.StatusPending}
	svc := New(fs, nil, nil, nil, nil, nil, nil)

	results := svc.BulkAction(context.Background(), []int64{1, 999}, "cancel")
	require.Len(t, results, 2)
	require.Equal(t, int64(1), results[0].ID)
	require.Empty(t, results[0].Error)
	require.Equal(t, int64(999), results[1].ID)
	require.NotEmpty(t, results[1].Error)
	require.Contains(t, fs.cancelCalls, int64(1))
}

func TestBulkActionRejectsUnsupportedAction(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, nil, nil, nil, nil, nil, nil)
	results := svc.BulkAction(context.Background(), []int64{1}, "explode")
	require.Len(t, results, 1)
	require.Contains(t, results[0].Error, "unsupported action")
}

func TestSchedulerStatusReportsBacklogAndLastRun(t *testing.T) {
	fs := newFakeStore()
	fs.counts[store.StatusPending] = 3
	lastRun := time.Now().UTC().Add(-time.Minute)
	svc := New(fs, nil, &fakeScheduler{lastRun: lastRun}, nil, nil, nil, nil)

	status, err := svc.SchedulerStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, status.Backlog)
	require.Equal(t, lastRun, status.LastRun)
}

func TestGovernorStatusReportsEachNamedGovernor(t *testing.T) {
	governors := map[string]GovernorStatusProvider{
		"twitter": &fakeGovernor{pressure: governor.Pressure{MinuteRemaining: 0.5, DayRemaining: 0.9}},
	}
	svc := New(newFakeStore(), nil, nil, governors, nil, nil, nil)
	status := svc.GovernorStatus()
	require.Equal(t, 0.9, status["twitter"].DayRemaining)
}

func TestHealthReportsDownWorkersWhenPoolHasZeroActive(t *testing.T) {
	fs := newFakeStore()
	svc := New(fs, nil, nil, nil, nil, &fakePool{active: 0}, nil)
	health := svc.Health(context.Background())
	require.Len(t, health, 2)
	require.Equal(t, "workers", health[1].Name)
	require.Equal(t, "down", health[1].Status)
}

func TestHealthReportsDownDBOnPingError(t *testing.T) {
	fs := newFakeStore()
	fs.pingErr = errors.New("connection refused")
	svc := New(fs, nil, nil, nil, nil, nil, nil)
	health := svc.Health(context.Background())
	require.Equal(t, "db", health[0].Name)
	require.Equal(t, "down", health[0].Status)
}

func TestHealthFlagsGovernorDegradedWhenDailyQuotaExhausted(t *testing.T) {
	governors := map[string]GovernorStatusProvider{
		"twitter": &fakeGovernor{pressure: governor.Pressure{DayRemaining: 0}},
	}
	svc := New(newFakeStore(), nil, nil, governors, nil, nil, nil)
	health := svc.Health(context.Background())
	require.Len(t, health, 2)
	require.Equal(t, "governor:twitter", health[1].Name)
	require.Equal(t, "degraded", health[1].Status)
}

func TestAuthenticateKeyDelegatesToStore(t *testing.T) {
	svc := New(newFakeStore(), nil, nil, nil, nil, nil, nil)
	user, perms, err := svc.AuthenticateKey(context.Background(), "good-key")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, []string{"admin"}, perms)

	_, _, err = svc.AuthenticateKey(context.Background(), "bad-key")
	require.Error(t, err)
}

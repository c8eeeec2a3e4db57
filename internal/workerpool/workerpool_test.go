package workerpool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publishengine/internal/apperrors"
	"publishengine/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []store.PublishingTask
	completed []store.CompletionOutcome
	claims    int
}

func (f *fakeStore) ClaimDueTasks(ctx context.Context, workerID string, now time.Time, limit int, leaseTTL time.Duration) ([]store.PublishingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := f.pending[:n]
	f.pending = f.pending[n:]
	return claimed, nil
}

func (f *fakeStore) CompleteTask(ctx context.Context, taskID int64, expectedVersion int64, outcome store.CompletionOutcome, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, outcome)
	return nil
}

type stubGenerator struct {
	caption string
	err     error
}

func (g *stubGenerator) Generate(ctx context.Context, contentData []byte) (string, error) {
	return g.caption, g.err
}
func (g *stubGenerator) Name() string                      { return "stub" }
func (g *stubGenerator) Healthy(ctx context.Context) error { return nil }

type stubPublisher struct {
	id  string
	err error
}

func (p *stubPublisher) Publish(ctx context.Context, mediaPath, caption string) (string, error) {
	return p.id, p.err
}
func (p *stubPublisher) Name() string                      { return "stub" }
func (p *stubPublisher) Healthy(ctx context.Context) error { return nil }

type stubGovernor struct{ err error }

func (g *stubGovernor) Acquire(ctx context.Context) error { return g.err }

func baseConfig(mediaRoot string) Config {
	return Config{
		Count:         1,
		BatchSize:     5,
		CheckInterval: 5 * time.Millisecond,
		TaskTimeout:   time.Second,
		MaxRetries:    3,
		BackoffBase:   10 * time.Millisecond,
		BackoffMax:    time.Second,
		LeaseTTL:      time.Minute,
		MediaRoot:     mediaRoot,
		GeneratorOn:   true,
	}
}

func writeMediaFile(t *testing.T, root, relPath string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("data"), 0o644))
}

func TestExecuteOneSuccess(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "clip.mp4")

	fs := &fakeStore{}
	pool := New(baseConfig(root), fs, &stubGenerator{caption: "hello"}, &stubPublisher{id: "T1"}, &stubGovernor{}, nil)

	task := store.PublishingTask{ID: 1, MediaPath: "clip.mp4", Version: 1}
	pool.executeOne(context.Background(), task)

	require.Len(t, fs.completed, 1)
	require.Equal(t, store.OutcomeSuccess, fs.completed[0].Result)
	require.Equal(t, "T1", *fs.completed[0].PlatformPostID)
}

func TestExecuteOneMissingMediaIsPermanent(t *testing.T) {
	root := t.TempDir()
	fs := &fakeStore{}
	pool := New(baseConfig(root), fs, &stubGenerator{caption: "hello"}, &stubPublisher{id: "T1"}, &stubGovernor{}, nil)

	task := store.PublishingTask{ID: 2, MediaPath: "missing.mp4", Version: 1}
	pool.executeOne(context.Background(), task)

	require.Len(t, fs.completed, 1)
	require.Equal(t, store.OutcomePermanent, fs.completed[0].Result)
}

func TestExecuteOneTransientPublishError(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "clip.mp4")

	fs := &fakeStore{}
	pool := New(baseConfig(root), fs, &stubGenerator{caption: "hello"},
		&stubPublisher{err: &apperrors.TransientError{Message: "network blip"}}, &stubGovernor{}, nil)

	task := store.PublishingTask{ID: 3, MediaPath: "clip.mp4", Version: 1}
	pool.executeOne(context.Background(), task)

	require.Len(t, fs.completed, 1)
	require.Equal(t, store.OutcomeTransient, fs.completed[0].Result)
}

func TestExecuteOneQuotaError(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "clip.mp4")

	fs := &fakeStore{}
	pool := New(baseConfig(root), fs, &stubGenerator{caption: "hello"}, &stubPublisher{id: "T1"},
		&stubGovernor{err: apperrors.NewQuota(nil, "daily cap reached", 120)}, nil)

	task := store.PublishingTask{ID: 4, MediaPath: "clip.mp4", Version: 1}
	pool.executeOne(context.Background(), task)

	require.Len(t, fs.completed, 1)
	require.Equal(t, store.OutcomeQuota, fs.completed[0].Result)
	require.Equal(t, 120*time.Second, fs.completed[0].AdviseCooldown)
}

func TestExecuteOneBypassesGeneratorWhenCaptionPresent(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "clip.mp4")

	fs := &fakeStore{}
	cfg := baseConfig(root)
	cfg.GeneratorOn = false
	pool := New(cfg, fs, nil, &stubPublisher{id: "T2"}, &stubGovernor{}, nil)

	task := store.PublishingTask{ID: 5, MediaPath: "clip.mp4", Version: 1, ContentData: []byte(`{"caption":"preauthored"}`)}
	pool.executeOne(context.Background(), task)

	require.Len(t, fs.completed, 1)
	require.Equal(t, store.OutcomeSuccess, fs.completed[0].Result)
	require.Equal(t, "preauthored", *fs.completed[0].Caption)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	root := t.TempDir()
	fs := &fakeStore{}
	pool := New(baseConfig(root), fs, &stubGenerator{}, &stubPublisher{}, &stubGovernor{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after context cancellation")
	}
}

func TestRunOnceTalliesSuccessAndFailure(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "ok.mp4")

	fs := &fakeStore{pending: []store.PublishingTask{
		{ID: 1, MediaPath: "ok.mp4", Version: 1},
		{ID: 2, MediaPath: "missing.mp4", Version: 1},
	}}
	pool := New(baseConfig(root), fs, &stubGenerator{caption: "hello"}, &stubPublisher{id: "T1"}, &stubGovernor{}, nil)

	succeeded, failed, err := pool.RunOnce(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)
	require.Len(t, fs.completed, 2)
}

func TestRunOnceRespectsLimit(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, "a.mp4")
	writeMediaFile(t, root, "b.mp4")
	writeMediaFile(t, root, "c.mp4")

	fs := &fakeStore{pending: []store.PublishingTask{
		{ID: 1, MediaPath: "a.mp4", Version: 1},
		{ID: 2, MediaPath: "b.mp4", Version: 1},
		{ID: 3, MediaPath: "c.mp4", Version: 1},
	}}
	pool := New(baseConfig(root), fs, &stubGenerator{caption: "hello"}, &stubPublisher{id: "T1"}, &stubGovernor{}, nil)

	succeeded, failed, err := pool.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, succeeded)
	require.Equal(t, 0, failed)
	require.Equal(t, 1, fs.claims)
}

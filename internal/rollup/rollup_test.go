package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publishengine/internal/store"
)

type hourlyCall struct {
	hour      time.Time
	projectID int64
	success   int64
	failed    int64
	duration  float64
}

type fakeLogStore struct {
	pending    []store.UnrolledLog
	upserts    []hourlyCall
	rolledUp   []int64
	batchSizes []int
}

func (f *fakeLogStore) ListUnrolledLogs(ctx context.Context, limit int) ([]store.UnrolledLog, error) {
	f.batchSizes = append(f.batchSizes, limit)
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	batch := f.pending[:n]
	f.pending = f.pending[n:]
	return batch, nil
}

func (f *fakeLogStore) UpsertHourly(ctx context.Context, hour time.Time, projectID int64, successDelta, failDelta int64, durationDelta float64) error {
	f.upserts = append(f.upserts, hourlyCall{hour: hour, projectID: projectID, success: successDelta, failed: failDelta, duration: durationDelta})
	return nil
}

func (f *fakeLogStore) MarkRolledUp(ctx context.Context, logIDs []int64, now time.Time) error {
	f.rolledUp = append(f.rolledUp, logIDs...)
	return nil
}

func logAt(id int64, projectID int64, hour time.Time, outcome store.LogOutcome, duration float64) store.UnrolledLog {
	return store.UnrolledLog{
		PublishingLog: store.PublishingLog{ID: id, TaskID: id, Outcome: outcome, DurationS: duration, PublishedAt: hour},
		ProjectID:     projectID,
	}
}

func TestRunOnceAccumulatesSuccessAndFailureCounts(t *testing.T) {
	hour := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	fs := &fakeLogStore{pending: []store.UnrolledLog{
		logAt(1, 10, hour.Add(5*time.Minute), store.OutcomeSuccess, 2.0),
		logAt(2, 10, hour.Add(10*time.Minute), store.OutcomeSuccess, 3.0),
		logAt(3, 10, hour.Add(20*time.Minute), store.OutcomePermanent, 1.0),
	}}
	r := New(Config{BatchSize: 100}, fs)

	require.NoError(t, r.RunOnce(context.Background(), time.Now()))

	require.Len(t, fs.upserts, 1)
	call := fs.upserts[0]
	require.Equal(t, int64(10), call.projectID)
	require.Equal(t, int64(2), call.success)
	require.Equal(t, int64(1), call.failed)
	require.Equal(t, 6.0, call.duration)
	require.ElementsMatch(t, []int64{1, 2, 3}, fs.rolledUp)
}

func TestRunOnceSplitsAcrossHourAndProjectBuckets(t *testing.T) {
	hourA := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	hourB := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	fs := &fakeLogStore{pending: []store.UnrolledLog{
		logAt(1, 10, hourA, store.OutcomeSuccess, 1.0),
		logAt(2, 20, hourA, store.OutcomeSuccess, 1.0),
		logAt(3, 10, hourB, store.OutcomeSuccess, 1.0),
	}}
	r := New(Config{BatchSize: 100}, fs)

	require.NoError(t, r.RunOnce(context.Background(), time.Now()))
	require.Len(t, fs.upserts, 3)
}

func TestRunOnceDrainsMultipleBatches(t *testing.T) {
	hour := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	var pending []store.UnrolledLog
	for i := int64(1); i <= 5; i++ {
		pending = append(pending, logAt(i, 1, hour, store.OutcomeSuccess, 1.0))
	}
	fs := &fakeLogStore{pending: pending}
	r := New(Config{BatchSize: 2}, fs)

	require.NoError(t, r.RunOnce(context.Background(), time.Now()))

	require.Len(t, fs.rolledUp, 5)
	require.Len(t, fs.batchSizes, 3) // 2, 2, 1 then empty check folded into the short final batch
}

func TestRunOnceNoOpWhenNothingPending(t *testing.T) {
	fs := &fakeLogStore{}
	r := New(Config{}, fs)
	require.NoError(t, r.RunOnce(context.Background(), time.Now()))
	require.Empty(t, fs.upserts)
}

package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publishengine/internal/apperrors"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAcquireSucceedsWithinBurst(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	g, err := New("publish", Config{PerMinute: 60, Burst: 3, PerDay: 100}, time.UTC, fixedClock(now), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
}

func TestAcquireReturnsQuotaWhenDailyExhaustedBeforeDeadline(t *testing.T) {
	now := time.Date(2026, 8, 3, 23, 0, 0, 0, time.UTC) // 1h from midnight reset
	g, err := New("publish", Config{PerMinute: 6000, Burst: 10, PerDay: 1}, time.UTC, fixedClock(now), nil)
	require.NoError(t, err)

	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = g.Acquire(ctx)
	require.Error(t, err)
	cooldown, ok := apperrors.IsQuota(err)
	require.True(t, ok)
	require.Equal(t, int64(3600), cooldown)
}

func TestCurrentPressureReflectsDailyConsumption(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	g, err := New("publish", Config{PerMinute: 6000, Burst: 10, PerDay: 4}, time.UTC, fixedClock(now), nil)
	require.NoError(t, err)

	require.Equal(t, 1.0, g.CurrentPressure().DayRemaining)
	require.NoError(t, g.Acquire(context.Background()))
	require.Equal(t, 0.75, g.CurrentPressure().DayRemaining)
}

func TestNewRejectsNonPositiveDailyCapacity(t *testing.T) {
	_, err := New("publish", Config{PerMinute: 60, Burst: 1, PerDay: 0}, time.UTC, nil, nil)
	require.Error(t, err)
}

// Package governor implements the Rate Governor: a short-term token
// bucket for per-minute API pressure plus a hand-rolled daily ceiling,
// per spec.md §4.5.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"publishengine/internal/apperrors"
	"publishengine/internal/logging"
	"publishengine/internal/metrics"
)

// Pressure reports how much of each bucket remains, for the Scheduler's
// adaptive-spacing hook and the operator status surface.
type Pressure struct {
	MinuteRemaining float64 // fraction in [0, 1]
	DayRemaining    float64 // fraction in [0, 1]
}

// Config is the Rate Governor's tunable behavior, sourced from
// config.RateConfig.
type Config struct {
	PerMinute float64
	Burst     int
	PerDay    int
}

// Governor gates outbound calls for one api_kind. Multiple api_kinds (the
// Publisher's platform API vs. a remote Generator's API, say) get
// independent Governor instances — this package does not itself key by
// kind, leaving that composition to the caller.
type Governor struct {
	name   string
	minute *rate.Limiter
	daily  *dailyBucket
	clock  func() time.Time
	logger logging.Logger
}

// New constructs a Governor. loc is the timezone the daily bucket resets
// in — local midnight, matching the Scheduler's own timezone discipline
// rather than a UTC-anchored rolling window (the implementation choice
// spec.md §4.5 leaves open, documented here). clock defaults to
// time.Now when nil; tests inject a fixed clock so day-boundary behavior
// is deterministic instead of depending on when the test happens to run.
func New(name string, cfg Config, loc *time.Location, clock func() time.Time, logger logging.Logger) (*Governor, error) {
	if cfg.PerDay <= 0 {
		return nil, fmt.Errorf("governor %s: per_day must be positive, got %d", name, cfg.PerDay)
	}
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = time.Now
	}
	return &Governor{
		name:   name,
		minute: rate.NewLimiter(rate.Limit(cfg.PerMinute/60), cfg.Burst),
		daily:  newDailyBucket(cfg.PerDay, loc, clock),
		clock:  clock,
		logger: logging.OrNop(logger),
	}, nil
}

// Acquire blocks until both the minute and daily buckets admit a call, or
// ctx ends first. A context deadline that the daily bucket cannot refill
// before yields an *apperrors.QuotaError carrying the advised cooldown,
// distinct from a plain ctx-cancellation/timeout error.
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.minute.Wait(ctx); err != nil {
		return &apperrors.TransientError{Err: err, Message: fmt.Sprintf("governor %s: minute bucket wait failed", g.name)}
	}
	if err := g.daily.acquire(ctx); err != nil {
		if _, ok := apperrors.IsQuota(err); ok {
			metrics.RecordGovernorQuotaExhausted(g.name)
		}
		return err
	}
	return nil
}

// CurrentPressure reports the fraction remaining in each bucket, consumed
// by the Scheduler's optional adaptive-spacing hook and the operator
// status surface (§6).
func (g *Governor) CurrentPressure() Pressure {
	minuteFraction := 1.0
	if b := g.minute.Burst(); b > 0 {
		minuteFraction = g.minute.Tokens() / float64(b)
		if minuteFraction > 1 {
			minuteFraction = 1
		}
		if minuteFraction < 0 {
			minuteFraction = 0
		}
	}
	dayFraction := g.daily.fractionRemaining(g.clock())
	metrics.RecordGovernorPressure(g.name, minuteFraction, dayFraction)
	return Pressure{
		MinuteRemaining: minuteFraction,
		DayRemaining:    dayFraction,
	}
}

// dailyBucket is a hand-rolled ceiling with a single refill per local day,
// since rate.Limiter has no calendar-day concept. clock is injected so
// tests can pin "now" instead of racing the real calendar's midnight.
type dailyBucket struct {
	mu        sync.Mutex
	capacity  int
	remaining int
	resetAt   time.Time
	loc       *time.Location
	clock     func() time.Time
}

func newDailyBucket(capacity int, loc *time.Location, clock func() time.Time) *dailyBucket {
	return &dailyBucket{
		capacity:  capacity,
		remaining: capacity,
		resetAt:   nextLocalMidnight(clock(), loc),
		loc:       loc,
		clock:     clock,
	}
}

func nextLocalMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if !midnight.After(local) {
		midnight = midnight.AddDate(0, 0, 1)
	}
	return midnight
}

func (d *dailyBucket) refillIfDue(now time.Time) {
	if !now.Before(d.resetAt) {
		d.remaining = d.capacity
		d.resetAt = nextLocalMidnight(now, d.loc)
	}
}

func (d *dailyBucket) acquire(ctx context.Context) error {
	for {
		d.mu.Lock()
		now := d.clock()
		d.refillIfDue(now)
		if d.remaining > 0 {
			d.remaining--
			d.mu.Unlock()
			return nil
		}
		resetAt := d.resetAt
		d.mu.Unlock()

		cooldown := resetAt.Sub(now)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < cooldown {
			return apperrors.NewQuota(nil, "daily API quota exhausted", int64(cooldown.Seconds()))
		}

		timer := time.NewTimer(cooldown)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Refill instant reached; loop around to claim a token.
		}
	}
}

func (d *dailyBucket) fractionRemaining(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refillIfDue(now)
	if d.capacity == 0 {
		return 0
	}
	return float64(d.remaining) / float64(d.capacity)
}

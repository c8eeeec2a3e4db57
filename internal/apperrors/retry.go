package apperrors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"publishengine/internal/logging"
)

// RetryConfig configures bounded exponential backoff with jitter, matching
// spec.md §7's "3 attempts with 50/200/500 ms backoff" style local retry and
// the Worker Pool's retry_count-driven backoff of §4.4.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultRetryConfig mirrors spec.md §7's storage/transient retry discipline.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is a function that may be retried.
type RetryableFunc func(ctx context.Context) error

// Retry runs fn, retrying transient failures with jittered exponential
// backoff up to config.MaxAttempts additional attempts.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn RetryableFunc) error {
	logger = logging.OrNop(logger)
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded after %d attempts", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("max retries (%d) exhausted", config.MaxAttempts+1)
			break
		}

		delay := calculateBackoff(attempt, config)
		logger.Debug("attempt %d failed, waiting %v: %v", attempt+1, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// RetryWithResult is Retry for functions that also produce a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	err := Retry(ctx, config, logger, func(ctx context.Context) error {
		var innerErr error
		zero, innerErr = fn(ctx)
		return innerErr
	})
	return zero, err
}

// calculateBackoff is base*2^attempt clamped to MaxDelay, plus up to
// JitterFactor of uniform jitter — the Backoff rule of spec.md §4.4.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay = time.Duration(float64(delay) + rand.Float64()*jitter)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}

// WorkerBackoff computes spec.md §4.4's task-retry backoff:
// base * 2^retry_count clamped to max, plus uniform jitter in [0, base].
func WorkerBackoff(retryCount int, base, max time.Duration) time.Duration {
	multiplier := math.Pow(2, float64(retryCount))
	delay := time.Duration(float64(base) * multiplier)
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Float64() * float64(base))
	delay += jitter
	return delay
}

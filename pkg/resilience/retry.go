package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/docarchive/pkg/errors"
)

// RetryConfig bounds a retried operation. Delays grow by Multiplier from
// InitialDelay up to MaxDelay, each spread by up to JitterFraction either
// way so workers retrying the same broken dependency do not line up.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
	return cfg
}

// Retry calls fn until it succeeds or the attempts are exhausted.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	return RetryIf(ctx, name, cfg, func(error) bool { return true }, func(int) error { return fn() })
}

// RetryIf is Retry with a predicate: an error for which shouldRetry returns
// false is returned immediately, unwrapped, without consuming further
// attempts. fn is told which attempt it is, starting at 1.
func RetryIf(ctx context.Context, name string, cfg RetryConfig, shouldRetry func(error) bool, fn func(attempt int) error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := computeDelay(attempt, cfg)
		logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"reason", apperrors.ReasonOf(lastErr),
			"error", lastErr,
			"next_delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, lastErr)
}

// computeDelay returns the wait after the given failed attempt, jittered and
// clamped to [InitialDelay/2, MaxDelay].
func computeDelay(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	backoff = math.Min(backoff, float64(cfg.MaxDelay))
	backoff += backoff * cfg.JitterFraction * (2*rand.Float64() - 1)
	backoff = math.Max(backoff, float64(cfg.InitialDelay)/2)
	return time.Duration(math.Min(backoff, float64(cfg.MaxDelay)))
}

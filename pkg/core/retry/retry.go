// Package retry centralizes the transient/permanent classification of
// provider failures and runs operations under exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	backoff "github.com/sethvargo/go-retry"
)

// Policy configures the backoff schedule. Delay before attempt k
// (0-indexed) is min(Initial × Multiplier^k, Max) plus a uniform jitter
// proportional to that delay.
type Policy struct {
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
	Jitter      float64
	MaxAttempts int
}

// DefaultPolicy returns the standard policy for batch provider calls.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
		Jitter:      0.1,
		MaxAttempts: 4,
	}
}

// backoff builds the schedule as a Backoff the retry library can drive.
func (p Policy) backoff() backoff.Backoff {
	attempt := 0
	var b backoff.Backoff = backoff.BackoffFunc(func() (time.Duration, bool) {
		d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
		attempt++
		if d > float64(p.Max) {
			d = float64(p.Max)
		}
		d += rand.Float64() * p.Jitter * d
		return time.Duration(d), false
	})
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	}
	return b
}

// Do runs fn until it succeeds, fails permanently, or the attempt
// budget is exhausted. Transient failures (per Classify) are retried;
// permanent ones surface immediately. Every failure is logged with the
// operation name, attempt number, and classification.
func Do(ctx context.Context, logger *slog.Logger, op string, p Policy, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if p.MaxAttempts <= 0 {
		p = DefaultPolicy()
	}

	attempt := 0
	return backoff.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}

		verdict := Classify(err)
		if verdict == Transient && attempt < p.MaxAttempts {
			logger.Warn("operation failed, will retry",
				"op", op,
				"attempt", attempt,
				"classification", verdict.String(),
				"error", err)
			return backoff.RetryableError(err)
		}

		logger.Error("operation failed",
			"op", op,
			"attempt", attempt,
			"classification", verdict.String(),
			"error", err)
		return err
	})
}

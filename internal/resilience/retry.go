// Package resilience provides retry and circuit breaking for outbound
// event delivery.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff controls retries with exponential backoff and jitter.
type Backoff struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	// Jitter is a fraction of the computed delay (0.25 = ±25%).
	Jitter float64
}

// DefaultBackoff returns the delivery defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		Initial:     500 * time.Millisecond,
		Max:         10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// NewBackoff builds a Backoff from config values, keeping defaults for
// anything unset.
func NewBackoff(maxAttempts, initialMs, maxMs int) Backoff {
	b := DefaultBackoff()
	if maxAttempts > 0 {
		b.MaxAttempts = maxAttempts
	}
	if initialMs > 0 {
		b.Initial = time.Duration(initialMs) * time.Millisecond
	}
	if maxMs > 0 {
		b.Max = time.Duration(maxMs) * time.Millisecond
	}
	return b
}

// Retry runs fn until it succeeds, returns a permanent error, exhausts the
// attempts, or ctx is done. The last error is returned.
func Retry(ctx context.Context, b Backoff, op string, fn func(ctx context.Context) error) error {
	b = b.normalize()

	var err error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == b.MaxAttempts-1 {
			return err
		}

		zap.L().Debug("resilience: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func (b Backoff) normalize() Backoff {
	d := DefaultBackoff()
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	return b
}

func (b Backoff) delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

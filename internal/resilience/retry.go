// Package resilience wraps remote generative calls with retry, exponential
// backoff with jitter, per-provider circuit breaking, and ordered fallback.
//
// The central entry point is [Do], which runs a primary call up to
// 1+MaxRetries times with doubling, jittered delays between attempts, and
// resolves a fallback value when the retry budget is exhausted. [Chain]
// composes multiple providers of the same type with per-entry circuit
// breakers so a failing primary is bypassed in favour of healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Options tunes the retry loop of [Do]. The zero value gets defaults of
// 3 retries, a 2s initial delay, and up to 1s of jitter per wait.
type Options struct {
	// MaxRetries is the number of additional attempts after the first.
	// Negative disables retrying entirely.
	MaxRetries int

	// BaseDelay is the wait before the first retry. Each subsequent wait
	// doubles the previous one.
	BaseDelay time.Duration

	// MaxJitter bounds the random extra wait added to each delay. The jitter
	// is drawn uniformly from [0, MaxJitter).
	MaxJitter time.Duration

	// Sleep waits for d or until ctx is done. Nil means a timer-based wait.
	// Injectable so tests can observe delays without waiting them out.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter draws the random extra wait, given MaxJitter. Nil means a
	// uniform draw. Injectable for deterministic tests.
	Jitter func(max time.Duration) time.Duration
}

// withDefaults fills zero-valued fields.
func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.MaxJitter == 0 {
		o.MaxJitter = time.Second
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.Jitter == nil {
		o.Jitter = uniformJitter
	}
	return o
}

// Result carries the value of a resilient call plus how it was obtained.
type Result[T any] struct {
	// Value is the call's (or the fallback's) result.
	Value T

	// Degraded is true when Value came from the fallback instead of the
	// primary call. Degraded results should be labelled as such downstream.
	Degraded bool

	// Attempts is the number of times the primary call ran.
	Attempts int
}

// Do runs fn with retry, backoff, and fallback semantics.
//
// fn runs up to 1+MaxRetries times. After a retryable failure (see
// [Classify]) Do waits BaseDelay plus jitter, doubling the delay each
// attempt; the wait aborts early if ctx is cancelled. A non-retryable
// failure stops immediately and is returned without consulting the
// fallback. When the retry budget is exhausted and fallback is non-nil,
// its value is returned with Degraded set; a nil fallback (or a fallback
// that itself fails) yields the last primary error.
func Do[T any](ctx context.Context, name string, opts Options, fn func(context.Context) (T, error), fallback func(context.Context) (T, error)) (Result[T], error) {
	opts = opts.withDefaults()

	var (
		res     Result[T]
		lastErr error
	)
	delay := opts.BaseDelay

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Attempts = attempt
			return res, fmt.Errorf("%s: %w", name, err)
		}

		value, err := fn(ctx)
		res.Attempts = attempt + 1
		if err == nil {
			res.Value = value
			return res, nil
		}
		lastErr = err

		if Classify(err) == NonRetryable {
			return res, fmt.Errorf("%s: %w", name, err)
		}
		if attempt == opts.MaxRetries {
			break
		}

		wait := delay + opts.Jitter(opts.MaxJitter)
		slog.Warn("remote call failed, backing off",
			"call", name,
			"attempt", attempt+1,
			"wait", wait,
			"error", err)
		if err := opts.Sleep(ctx, wait); err != nil {
			return res, fmt.Errorf("%s: %w", name, err)
		}
		delay *= 2
	}

	if fallback == nil {
		return res, fmt.Errorf("%s: retries exhausted: %w", name, lastErr)
	}

	slog.Warn("retries exhausted, resolving fallback", "call", name, "error", lastErr)
	value, err := fallback(ctx)
	if err != nil {
		return res, fmt.Errorf("%s: fallback after %w: %v", name, lastErr, err)
	}
	res.Value = value
	res.Degraded = true
	return res, nil
}

// sleepContext waits for d or until ctx is cancelled, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// uniformJitter draws uniformly from [0, max).
func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

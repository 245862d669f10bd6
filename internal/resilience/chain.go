package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/lokalos/citydna/internal/observe"
	"github.com/lokalos/citydna/pkg/intel"
)

// ErrAllFailed is returned when every entry in a [Chain] fails or has an open
// circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// ChainConfig configures the per-entry circuit breaker created for each
// provider added to a [Chain].
type ChainConfig struct {
	Breaker BreakerConfig

	// Metrics, when non-nil, records per-provider latency and error counts.
	Metrics *observe.Metrics
}

// chainEntry pairs a provider value with its dedicated circuit breaker.
type chainEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain orders multiple instances of the same provider type behind per-entry
// circuit breakers. Entries are tried in registration order; entries with an
// open breaker are skipped.
//
// Chain is safe for concurrent use after all Add calls complete.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     ChainConfig
}

// NewChain creates an empty [Chain]. Providers are registered with
// [Chain.Add]; the first added is the primary.
func NewChain[T any](cfg ChainConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a provider with its own circuit breaker.
func (c *Chain[T]) Add(name string, value T) {
	cbCfg := c.cfg.Breaker
	cbCfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of registered providers.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Execute tries fn against each entry in order until one succeeds. Returns
// [ErrAllFailed] wrapped with the last error if every entry fails.
func (c *Chain[T]) Execute(fn func(T) error) error {
	_, err := Run(c, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// Run tries fn against each entry in the chain until one succeeds, returning
// the result value. A package-level function because Go does not support
// method-level type parameters.
func Run[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		start := time.Now()
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if c.cfg.Metrics != nil && !errors.Is(err, ErrCircuitOpen) {
			c.cfg.Metrics.ProviderDuration.Record(context.Background(),
				time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("provider", entry.name)))
			if err != nil {
				c.cfg.Metrics.RecordProviderError(context.Background(),
					entry.name, Classify(err).String())
			}
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", entry.name)
			continue
		}
		if errors.Is(err, intel.ErrUnsupported) {
			// Capability mismatch, not a failure: the next tier may serve it.
			slog.Debug("provider cannot serve request, trying next",
				"provider", entry.name, "error", err)
			continue
		}
		slog.Warn("provider failed, trying next",
			"provider", entry.name, "error", err)
	}
	if c.Len() == 0 {
		return zero, ErrAllFailed
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

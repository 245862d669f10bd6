// Package observe provides application-wide observability primitives for
// CityDNA: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all CityDNA metrics.
const meterName = "github.com/lokalos/citydna"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CallDuration tracks end-to-end feature-call latency, including retries
	// and fallback resolution. Use with attributes:
	//   attribute.String("feature", ...), attribute.String("outcome", ...)
	CallDuration metric.Float64Histogram

	// ProviderDuration tracks a single provider request's latency. Use with:
	//   attribute.String("provider", ...)
	ProviderDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// RetryAttempts counts retry waits taken by feature calls. Use with:
	//   attribute.String("feature", ...)
	RetryAttempts metric.Int64Counter

	// FallbackSubstitutions counts feature calls resolved by a fallback
	// payload instead of live data. Use with:
	//   attribute.String("feature", ...), attribute.String("source", ...)
	FallbackSubstitutions metric.Int64Counter

	// ProviderErrors counts provider failures. Use with:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets are wide because a feature call may sit through three doubling
// backoff waits before resolving.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallDuration, err = m.Float64Histogram("citydna.call.duration",
		metric.WithDescription("End-to-end feature call latency by feature and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("citydna.provider.duration",
		metric.WithDescription("Single provider request latency by provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("citydna.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.RetryAttempts, err = m.Int64Counter("citydna.call.retries",
		metric.WithDescription("Total retry waits taken by feature calls."),
	); err != nil {
		return nil, err
	}
	if met.FallbackSubstitutions, err = m.Int64Counter("citydna.call.fallbacks",
		metric.WithDescription("Total feature calls resolved by fallback payloads."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("citydna.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCall records one finished feature call with its outcome
// ("ok", "degraded", or "error").
func (m *Metrics) RecordCall(ctx context.Context, feature, outcome string, seconds float64) {
	m.CallDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("feature", feature),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordRetry records one retry wait taken by a feature call.
func (m *Metrics) RecordRetry(ctx context.Context, feature string) {
	m.RetryAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("feature", feature)),
	)
}

// RecordFallback records a feature call resolved from a fallback source
// ("snapshot" or "baseline").
func (m *Metrics) RecordFallback(ctx context.Context, feature, source string) {
	m.FallbackSubstitutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("feature", feature),
			attribute.String("source", source),
		),
	)
}

// RecordProviderError records a provider failure by provider name and error
// kind ("retryable" or "non-retryable").
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

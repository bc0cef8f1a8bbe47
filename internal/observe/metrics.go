// Package observe provides the restreamer's observability primitives:
// OpenTelemetry metrics, distributed tracing, trace-aware structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so they can be scraped from /metrics.
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/restreamer/pkg/ads"
)

// meterName is the instrumentation scope name used for all restreamer metrics.
const meterName = "github.com/MrWong99/restreamer"

// Compile-time check that Metrics can instrument an ads planner.
var _ ads.Recorder = (*Metrics)(nil)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Splicing ---

	// MixedFrames counts frames emitted by the mixers. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("kind", ...)
	MixedFrames metric.Int64Counter

	// AdSegments counts ad segment transitions. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("event", "start"|"end")
	AdSegments metric.Int64Counter

	// MixDuration tracks the time spent mixing a single frame.
	MixDuration metric.Float64Histogram

	// --- Planner ---

	// AdSelections counts ads handed out by the planner. Use with attribute:
	//   attribute.String("ad_id", ...)
	AdSelections metric.Int64Counter

	// PlannerAnomalies counts selections made while the previous ad was
	// never reported finished.
	PlannerAnomalies metric.Int64Counter

	// --- Ad providers ---

	// ProviderRequests counts ad provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed ad provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...)
	ProviderErrors metric.Int64Counter

	// ProviderDuration tracks ad provider call latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("op", ...)
	ProviderDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveStreams tracks the number of streams currently being restreamed.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for ad
// provider calls, which range from cache hits to remote decodes.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// mixBuckets defines histogram bucket boundaries (in seconds) for per-frame
// mixing, which must stay far below one frame duration.
var mixBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Splicing.
	if met.MixedFrames, err = m.Int64Counter("restreamer.mixer.frames",
		metric.WithDescription("Total frames emitted by the mixers by mode and content kind."),
	); err != nil {
		return nil, err
	}
	if met.AdSegments, err = m.Int64Counter("restreamer.mixer.ad_segments",
		metric.WithDescription("Total ad segment transitions by mode and event."),
	); err != nil {
		return nil, err
	}
	if met.MixDuration, err = m.Float64Histogram("restreamer.mixer.duration",
		metric.WithDescription("Time spent mixing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(mixBuckets...),
	); err != nil {
		return nil, err
	}

	// Planner.
	if met.AdSelections, err = m.Int64Counter("restreamer.planner.selections",
		metric.WithDescription("Total ads selected by the planner by ad ID."),
	); err != nil {
		return nil, err
	}
	if met.PlannerAnomalies, err = m.Int64Counter("restreamer.planner.anomalies",
		metric.WithDescription("Total selections made while the previous ad was still in flight."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("restreamer.provider.requests",
		metric.WithDescription("Total ad provider calls by provider, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("restreamer.provider.errors",
		metric.WithDescription("Total ad provider errors by provider and operation."),
	); err != nil {
		return nil, err
	}
	if met.ProviderDuration, err = m.Float64Histogram("restreamer.provider.duration",
		metric.WithDescription("Latency of ad provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("restreamer.active_streams",
		metric.WithDescription("Number of streams currently being restreamed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("restreamer.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordMixedFrame records one frame emitted by the mixer of mode.
func (m *Metrics) RecordMixedFrame(ctx context.Context, mode, kind string) {
	m.MixedFrames.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("kind", kind),
		),
	)
}

// RecordAdSegment records an ad segment transition. event is "start" or
// "end".
func (m *Metrics) RecordAdSegment(ctx context.Context, mode, event string) {
	m.AdSegments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("event", event),
		),
	)
}

// RecordAdSelected implements [ads.Recorder].
func (m *Metrics) RecordAdSelected(ctx context.Context, id string) {
	m.AdSelections.Add(ctx, 1, metric.WithAttributes(attribute.String("ad_id", id)))
}

// RecordPlannerAnomaly implements [ads.Recorder].
func (m *Metrics) RecordPlannerAnomaly(ctx context.Context) {
	m.PlannerAnomalies.Add(ctx, 1)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, op, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, op string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("op", op),
		),
	)
}

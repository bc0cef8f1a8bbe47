package observe

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/audio"
)

// instrumentedProvider decorates an [ads.Provider] with a span, a request
// counter and a latency observation per call.
type instrumentedProvider struct {
	name  string
	inner ads.Provider
	m     *Metrics
}

var _ ads.Provider = (*instrumentedProvider)(nil)

// InstrumentProvider wraps p so that every call is traced and recorded in m
// under the provider label name.
func InstrumentProvider(name string, p ads.Provider, m *Metrics) ads.Provider {
	return &instrumentedProvider{name: name, inner: p, m: m}
}

// InstrumentReporter wraps r the same way [InstrumentProvider] wraps a full
// provider. Only the lifecycle operations are reachable through the result.
func InstrumentReporter(name string, r ads.Reporter, m *Metrics) ads.Reporter {
	return &instrumentedProvider{name: name, inner: ads.Compose(nil, r), m: m}
}

func (p *instrumentedProvider) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, "ads."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("provider", p.name))...),
	)
	return ctx, func(err error) {
		defer span.End()
		p.m.ProviderDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("provider", p.name),
				attribute.String("op", op),
			),
		)
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.m.RecordProviderError(ctx, p.name, op)
			slog.DebugContext(ctx, "ad backend call failed", "provider", p.name, "op", op, "err", err)
		}
		p.m.RecordProviderRequest(ctx, p.name, op, status)
	}
}

func (p *instrumentedProvider) Content(ctx context.Context) ([]ads.ContentItem, error) {
	ctx, done := p.observe(ctx, "content")
	items, err := p.inner.Content(ctx)
	done(err)
	return items, err
}

func (p *instrumentedProvider) Get(ctx context.Context, id ads.AdID, params ads.CodecParams) ([]audio.Frame, error) {
	ctx, done := p.observe(ctx, "get", attribute.String("ad_id", string(id)))
	frames, err := p.inner.Get(ctx, id, params)
	done(err)
	return frames, err
}

func (p *instrumentedProvider) ReportStarted(ctx context.Context, client uuid.UUID, id ads.AdID) error {
	ctx, done := p.observe(ctx, "report_started", attribute.String("ad_id", string(id)))
	err := p.inner.ReportStarted(ctx, client, id)
	done(err)
	return err
}

func (p *instrumentedProvider) ReportFinished(ctx context.Context, client uuid.UUID, id ads.AdID, started time.Time) error {
	ctx, done := p.observe(ctx, "report_finished", attribute.String("ad_id", string(id)))
	err := p.inner.ReportFinished(ctx, client, id, started)
	done(err)
	return err
}

package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/audio"
)

// AdsFallback implements [ads.Provider] with automatic failover across multiple
// ad backends. Each backend has its own circuit breaker.
//
// A backend answering [ads.ErrNotFound] is healthy; it only lacks the asset.
// Such answers move on to the next backend without counting against the
// breaker.
type AdsFallback struct {
	group *FallbackGroup[ads.Provider]
}

// Compile-time interface assertion.
var _ ads.Provider = (*AdsFallback)(nil)

// NewAdsFallback creates an [AdsFallback] with primary as the preferred backend.
func NewAdsFallback(primary ads.Provider, primaryName string, cfg FallbackConfig) *AdsFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = adsIsFailure
	}
	return &AdsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

func adsIsFailure(err error) bool {
	return DefaultIsFailure(err) && !errors.Is(err, ads.ErrNotFound)
}

// AddFallback registers an additional ad provider as a fallback.
func (f *AdsFallback) AddFallback(name string, provider ads.Provider) {
	f.group.AddFallback(name, provider)
}

// States returns the breaker state of every backend keyed by name.
func (f *AdsFallback) States() map[string]State { return f.group.States() }

// Content lists the ads of the first healthy backend that has any. An empty
// listing falls through to the next backend.
func (f *AdsFallback) Content(ctx context.Context) ([]ads.ContentItem, error) {
	return ExecuteWithResult(ctx, f.group, func(p ads.Provider) ([]ads.ContentItem, error) {
		items, err := p.Content(ctx)
		if err == nil && len(items) == 0 {
			return nil, ads.ErrEmptyPlan
		}
		return items, err
	})
}

// Get fetches the track from the first healthy backend that has it.
func (f *AdsFallback) Get(ctx context.Context, id ads.AdID, params ads.CodecParams) ([]audio.Frame, error) {
	return ExecuteWithResult(ctx, f.group, func(p ads.Provider) ([]audio.Frame, error) {
		return p.Get(ctx, id, params)
	})
}

// ReportStarted delivers the start event to the first healthy backend.
func (f *AdsFallback) ReportStarted(ctx context.Context, client uuid.UUID, id ads.AdID) error {
	return f.group.Execute(ctx, func(p ads.Provider) error {
		return p.ReportStarted(ctx, client, id)
	})
}

// ReportFinished delivers the finish event to the first healthy backend.
func (f *AdsFallback) ReportFinished(ctx context.Context, client uuid.UUID, id ads.AdID, started time.Time) error {
	return f.group.Execute(ctx, func(p ads.Provider) error {
		return p.ReportFinished(ctx, client, id, started)
	})
}

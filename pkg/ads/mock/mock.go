// Package mock provides a test double for the ads.Provider interface.
//
// Use Provider to serve a fixed inventory and to verify the lifecycle events
// a planner reports.
//
// Example:
//
//	p := &mock.Provider{
//	    ContentResult: []ads.ContentItem{{ID: "a"}, {ID: "b"}},
//	    Tracks:        map[ads.AdID][]audio.Frame{"a": framesA, "b": framesB},
//	}
//	planner, _ := ads.NewPlanner(ctx, p, params)
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/audio"
)

// GetCall records a single invocation of Get.
type GetCall struct {
	ID     ads.AdID
	Params ads.CodecParams
}

// StartedCall records a single invocation of ReportStarted.
type StartedCall struct {
	Client uuid.UUID
	ID     ads.AdID
}

// FinishedCall records a single invocation of ReportFinished.
type FinishedCall struct {
	Client  uuid.UUID
	ID      ads.AdID
	Started time.Time
}

// Provider is a mock implementation of ads.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ContentResult is returned by Content.
	ContentResult []ads.ContentItem

	// ContentErr, if non-nil, is returned as the error from Content.
	ContentErr error

	// Tracks maps ad IDs to the frames returned by Get. A missing entry makes
	// Get fail with ads.ErrNotFound.
	Tracks map[ads.AdID][]audio.Frame

	// GetErr, if non-nil, is returned as the error from Get.
	GetErr error

	// StartedErr, if non-nil, is returned as the error from ReportStarted.
	StartedErr error

	// FinishedErr, if non-nil, is returned as the error from ReportFinished.
	FinishedErr error

	// --- Call records ---

	// ContentCalls counts calls to Content.
	ContentCalls int

	// GetCalls records every call to Get in order.
	GetCalls []GetCall

	// StartedCalls records every call to ReportStarted in order.
	StartedCalls []StartedCall

	// FinishedCalls records every call to ReportFinished in order.
	FinishedCalls []FinishedCall
}

// Content records the call and returns ContentResult, ContentErr.
func (p *Provider) Content(_ context.Context) ([]ads.ContentItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ContentCalls++
	if p.ContentErr != nil {
		return nil, p.ContentErr
	}
	out := make([]ads.ContentItem, len(p.ContentResult))
	copy(out, p.ContentResult)
	return out, nil
}

// Get records the call and returns the configured track for id.
func (p *Provider) Get(_ context.Context, id ads.AdID, params ads.CodecParams) ([]audio.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GetCalls = append(p.GetCalls, GetCall{ID: id, Params: params})
	if p.GetErr != nil {
		return nil, p.GetErr
	}
	track, ok := p.Tracks[id]
	if !ok {
		return nil, fmt.Errorf("mock: %q: %w", id, ads.ErrNotFound)
	}
	return track, nil
}

// ReportStarted records the call and returns StartedErr.
func (p *Provider) ReportStarted(_ context.Context, client uuid.UUID, id ads.AdID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartedCalls = append(p.StartedCalls, StartedCall{Client: client, ID: id})
	return p.StartedErr
}

// ReportFinished records the call and returns FinishedErr.
func (p *Provider) ReportFinished(_ context.Context, client uuid.UUID, id ads.AdID, started time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FinishedCalls = append(p.FinishedCalls, FinishedCall{Client: client, ID: id, Started: started})
	return p.FinishedErr
}

// Snapshot returns copies of the recorded lifecycle calls. Thread-safe.
func (p *Provider) Snapshot() (started []StartedCall, finished []FinishedCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartedCall(nil), p.StartedCalls...), append([]FinishedCall(nil), p.FinishedCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ContentCalls = 0
	p.GetCalls = nil
	p.StartedCalls = nil
	p.FinishedCalls = nil
}

// Ensure Provider implements ads.Provider at compile time.
var _ ads.Provider = (*Provider)(nil)

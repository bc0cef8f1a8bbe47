package ads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/restreamer/pkg/audio"
)

// Recorder receives planner events for instrumentation.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	// RecordAdSelected is called every time the rotation advances.
	RecordAdSelected(ctx context.Context, id string)

	// RecordPlannerAnomaly is called when an ad goes on air while the
	// previous one was never reported finished.
	RecordPlannerAnomaly(ctx context.Context)
}

// PlannerOption configures a [Planner] during construction.
type PlannerOption func(*Planner)

// WithClientID sets the client identity reported to the provider. Defaults
// to a random UUID.
func WithClientID(id uuid.UUID) PlannerOption {
	return func(p *Planner) { p.clientID = id }
}

// WithClock overrides the time source used to stamp ad start times.
func WithClock(now func() time.Time) PlannerOption {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRecorder registers r to receive selection and anomaly events.
func WithRecorder(r Recorder) PlannerOption {
	return func(p *Planner) { p.recorder = r }
}

// WithPlannerLogger sets the logger. Defaults to [slog.Default].
func WithPlannerLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// activeItem is the ad currently in flight for lifecycle reporting.
type activeItem struct {
	id      AdID
	started time.Time
}

// Planner decides which ad plays next for one client session and reports
// the playback lifecycle of each selection.
//
// The rotation plan is the inventory listing in its original order, fixed
// at construction. Selection advances a lock-free cursor, so concurrent
// [Planner.Next] calls never wait on each other's provider calls. The ad in
// flight is guarded by its own read/write lock, which is never held across a
// provider call.
//
// All methods are safe for concurrent use.
type Planner struct {
	clientID uuid.UUID
	provider Provider
	params   CodecParams
	plan     []AdID
	cursor   atomic.Uint64

	mu     sync.RWMutex
	active *activeItem

	now      func() time.Time
	recorder Recorder
	logger   *slog.Logger
}

// NewPlanner builds a rotation plan from the provider's current listing.
//
// It fails when the listing cannot be fetched or when it is empty; an empty
// inventory is a configuration error that retrying will not fix.
func NewPlanner(ctx context.Context, provider Provider, params CodecParams, opts ...PlannerOption) (*Planner, error) {
	p := &Planner{
		clientID: uuid.New(),
		provider: provider,
		params:   params,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}

	content, err := provider.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("ads: list content: %w", err)
	}
	if len(content) == 0 {
		return nil, ErrEmptyPlan
	}
	p.plan = arrangePlan(content)

	p.logger.Debug("ads planner ready",
		"client", p.clientID,
		"plan_size", len(p.plan),
		"params", params.String(),
	)
	return p, nil
}

// arrangePlan keeps the listing order; rotation is plain round robin.
func arrangePlan(content []ContentItem) []AdID {
	plan := make([]AdID, len(content))
	for i, item := range content {
		plan[i] = item.ID
	}
	return plan
}

// Selection is an ad picked by [Planner.Select] together with its frames.
// It is not in flight until passed to [Planner.Start].
type Selection struct {
	ID     AdID
	Frames []audio.Frame
}

// Next selects the next ad in rotation, reports it as started and returns its
// frames.
//
// Calling Next while the previous selection was never passed to
// [Planner.Finished] is logged as an anomaly; the rotation still advances.
// A failure to report the start or to fetch the frames is returned. The
// selection stays recorded in that case so the next call reports the
// anomaly.
func (p *Planner) Next(ctx context.Context) ([]audio.Frame, error) {
	id := p.advance(ctx)
	if err := p.begin(ctx, id); err != nil {
		return nil, err
	}
	return p.fetch(ctx, id)
}

// Select advances the rotation and fetches the chosen ad without putting it
// in flight. Callers that load an ad ahead of its break use Select and call
// [Planner.Start] once the ad actually goes on air.
func (p *Planner) Select(ctx context.Context) (Selection, error) {
	id := p.advance(ctx)
	frames, err := p.fetch(ctx, id)
	if err != nil {
		return Selection{}, err
	}
	return Selection{ID: id, Frames: frames}, nil
}

// Start records sel as the ad in flight and reports it as started. Starting
// while another ad is still in flight is logged as an anomaly. The ad stays
// in flight when the report fails, so [Planner.Finished] still closes it.
func (p *Planner) Start(ctx context.Context, sel Selection) error {
	return p.begin(ctx, sel.ID)
}

// advance moves the lock-free cursor and returns the ad it points at.
func (p *Planner) advance(ctx context.Context) AdID {
	idx := (p.cursor.Add(1) - 1) % uint64(len(p.plan))
	id := p.plan[idx]
	if p.recorder != nil {
		p.recorder.RecordAdSelected(ctx, id.String())
	}
	return id
}

// begin puts id in flight and reports the start.
func (p *Planner) begin(ctx context.Context, id AdID) error {
	p.mu.RLock()
	prev := p.active
	p.mu.RUnlock()
	if prev != nil {
		p.logger.ErrorContext(ctx, "ads planner: track is not completed",
			"client", p.clientID,
			"ad_id", prev.id,
			"started", prev.started,
		)
		if p.recorder != nil {
			p.recorder.RecordPlannerAnomaly(ctx)
		}
	}

	p.mu.Lock()
	p.active = &activeItem{id: id, started: p.now()}
	p.mu.Unlock()

	if err := p.provider.ReportStarted(ctx, p.clientID, id); err != nil {
		return fmt.Errorf("ads: client %s: report started %s: %w", p.clientID, id, err)
	}
	return nil
}

func (p *Planner) fetch(ctx context.Context, id AdID) ([]audio.Frame, error) {
	frames, err := p.provider.Get(ctx, id, p.params)
	if err != nil {
		return nil, fmt.Errorf("ads: client %s: obtain track %s: %w", p.clientID, id, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("ads: client %s: obtain track %s: %w", p.clientID, id, ErrNotFound)
	}
	return frames, nil
}

// Finished clears the ad in flight and reports it as finished. Reporting
// errors are logged and never returned: playback must not stall because
// telemetry failed. Finished without a prior [Planner.Next] is a no-op.
func (p *Planner) Finished(ctx context.Context) {
	p.mu.Lock()
	item := p.active
	p.active = nil
	p.mu.Unlock()

	if item == nil {
		return
	}
	if err := p.provider.ReportFinished(ctx, p.clientID, item.id, item.started); err != nil {
		p.logger.ErrorContext(ctx, "ads planner: failed to report finished",
			"client", p.clientID,
			"ad_id", item.id,
			"err", err,
		)
	}
}

// ClientID returns the identity reported to the provider.
func (p *Planner) ClientID() uuid.UUID { return p.clientID }

// Plan returns a copy of the rotation plan.
func (p *Planner) Plan() []AdID {
	return append([]AdID(nil), p.plan...)
}

// Active returns the ad in flight and its start time. ok is false when no
// ad is in flight.
func (p *Planner) Active() (id AdID, started time.Time, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active == nil {
		return "", time.Time{}, false
	}
	return p.active.id, p.active.started, true
}

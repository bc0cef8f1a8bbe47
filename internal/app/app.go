// Package app wires the restreamer subsystems into a running stream.
//
// The App struct owns the full lifecycle: New builds the classifier, the ad
// provider chain, the planner and the splicing session from the config, Run
// pushes frames through the session, and Shutdown tears everything down in
// order.
//
// For testing, inject test doubles via functional options (WithMetrics,
// WithClassifier, WithClock). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/restreamer/internal/config"
	"github.com/MrWong99/restreamer/internal/health"
	"github.com/MrWong99/restreamer/internal/observe"
	"github.com/MrWong99/restreamer/internal/resilience"
	"github.com/MrWong99/restreamer/internal/restream"
	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
	"github.com/MrWong99/restreamer/pkg/classify"
	"github.com/MrWong99/restreamer/pkg/types"
)

// NamedInventory is an ad inventory together with the name it is reported
// under in logs, metrics and health checks.
type NamedInventory struct {
	Name      string
	Inventory ads.Inventory
}

// Providers holds the ad backends built by main.go via the config registry.
type Providers struct {
	// Inventories are tried in order. At least one is required in ads mode.
	Inventories []NamedInventory

	// Reporter receives playback lifecycle events. Nil selects
	// [ads.LogReporter].
	Reporter ads.Reporter
}

// App owns all subsystem lifetimes for one restreamed stream.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New.
	metrics    *observe.Metrics
	classifier classify.Classifier
	clock      func() time.Time
	params     ads.CodecParams
	table      []crossfade.Pair
	fallback   *resilience.AdsFallback
	planner    *ads.Planner
	session    *restream.Session

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClassifier injects a classifier instead of loading the configured cue
// sheet.
func WithClassifier(c classify.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithClock overrides the clock used to stamp ad start times.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.clock = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// In ads mode New contacts the ad backends: it lists their content and loads
// the first ad, so an unusable inventory fails here instead of mid-stream.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stream format ─────────────────────────────────────────────────
	if err := a.initFormat(); err != nil {
		return nil, fmt.Errorf("app: init format: %w", err)
	}

	// ── 2. Classifier ────────────────────────────────────────────────────
	if err := a.initClassifier(); err != nil {
		return nil, fmt.Errorf("app: init classifier: %w", err)
	}

	// ── 3. Ads planner ───────────────────────────────────────────────────
	if cfg.Stream.Mode == config.ModeAds {
		if err := a.initAds(ctx); err != nil {
			return nil, fmt.Errorf("app: init ads: %w", err)
		}
	}

	// ── 4. Session ───────────────────────────────────────────────────────
	sc := restream.Config{
		Mode:       cfg.Stream.Mode,
		Table:      a.table,
		Classifier: a.classifier,
		Buffer:     cfg.Stream.Buffer,
	}
	if a.planner != nil {
		sc.Planner = a.planner
	}
	session, err := restream.New(ctx, sc, restream.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	a.session = session

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initFormat derives the codec parameters and the crossfade table.
func (a *App) initFormat() error {
	s := a.cfg.Stream
	layout := audio.Planar
	if s.Layout == config.LayoutInterleaved {
		layout = audio.Interleaved
	}
	a.params = ads.CodecParams{
		SampleRate:      s.SampleRate,
		Channels:        s.Channels,
		Layout:          layout,
		SamplesPerFrame: s.SamplesPerFrame,
	}
	if err := a.params.Validate(); err != nil {
		return err
	}

	curve, err := crossfade.ByName(s.Crossfade.Curve)
	if err != nil {
		return err
	}
	a.table, err = crossfade.Generate(curve, s.Crossfade.Frames)
	return err
}

// initClassifier loads the cue sheet, or labels everything with the default
// kind when none is configured.
func (a *App) initClassifier() error {
	if a.classifier != nil {
		return nil
	}
	cc := a.cfg.Stream.Classifier
	if cc.CueSheet != "" {
		cs, err := classify.LoadCueSheet(cc.CueSheet)
		if err != nil {
			return err
		}
		slog.Info("loaded cue sheet", "path", cc.CueSheet, "cues", len(cs.Cues), "ad_time", cs.AdTime())
		a.classifier = cs
		return nil
	}
	kind, err := types.ParseContentKind(cc.Default)
	if err != nil {
		return err
	}
	a.classifier = classify.Static(kind)
	return nil
}

// initAds builds the failover chain over the configured inventories and the
// planner on top of it.
func (a *App) initAds(ctx context.Context) error {
	invs := a.providers.Inventories
	if len(invs) == 0 {
		return fmt.Errorf("ads mode requires at least one inventory")
	}
	rep := a.providers.Reporter
	if rep == nil {
		rep = ads.LogReporter{}
	}

	cb := a.cfg.Ads.CircuitBreaker
	fcfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("ad backend breaker changed state", "backend", name, "from", from, "to", to)
			},
		},
	}

	// Lifecycle events bypass the failover chain: every backend shares the
	// same reporter, so a reporting failure must not trip an inventory's
	// breaker.
	backend := func(inv NamedInventory) ads.Provider {
		return observe.InstrumentProvider(inv.Name, ads.Compose(inv.Inventory, rep), a.metrics)
	}
	a.fallback = resilience.NewAdsFallback(backend(invs[0]), invs[0].Name, fcfg)
	for _, inv := range invs[1:] {
		a.fallback.AddFallback(inv.Name, backend(inv))
	}
	provider := ads.Compose(a.fallback, observe.InstrumentReporter("reporter", rep, a.metrics))

	clientID := uuid.New()
	if id := a.cfg.Ads.ClientID; id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("ads.client_id: %w", err)
		}
		clientID = parsed
	}

	popts := []ads.PlannerOption{
		ads.WithClientID(clientID),
		ads.WithRecorder(a.metrics),
	}
	if a.clock != nil {
		popts = append(popts, ads.WithClock(a.clock))
	}
	planner, err := ads.NewPlanner(ctx, provider, a.params, popts...)
	if err != nil {
		return err
	}
	a.planner = planner
	slog.Info("ads planner ready",
		"client", clientID,
		"plan", len(planner.Plan()),
		"backends", len(invs),
	)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Params returns the codec parameters of the output stream.
func (a *App) Params() ads.CodecParams { return a.params }

// Session returns the splicing session.
func (a *App) Session() *restream.Session { return a.session }

// Planner returns the ads planner, or nil outside ads mode.
func (a *App) Planner() *ads.Planner { return a.planner }

// Checkers returns the readiness checks for the wired subsystems.
func (a *App) Checkers() []health.Checker {
	var cs []health.Checker
	if a.fallback != nil {
		cs = append(cs, health.BreakerChecker("ads", a.fallback.States))
	}
	return cs
}

// AddCloser registers fn to run during Shutdown, after the closers
// registered before it.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run splices the frames from in into out and blocks until in is closed or
// ctx is cancelled. It closes out before returning.
func (a *App) Run(ctx context.Context, in <-chan audio.Frame, out chan<- audio.Frame) error {
	slog.Info("app running",
		"mode", a.cfg.Stream.Mode,
		"format", a.params.String(),
		"crossfade", a.cfg.Stream.Crossfade.Curve,
	)
	return a.session.Run(ctx, in, out)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in registration order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		st := a.session.Stats()
		slog.Info("shutdown complete",
			"frames", st.Frames,
			"ad_segments", st.AdSegments,
			"reload_failures", st.ReloadFails,
		)
	})
	return shutdownErr
}

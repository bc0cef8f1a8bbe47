// Package restream drives one output stream through the splicing pipeline.
//
// A [Session] runs two stages connected by a buffered channel:
//
//	input frames → classify → mix → output frames
//
// The classify stage labels every input frame with a [types.ContentKind]. The
// mix stage feeds each labelled frame to the mixer selected by the session
// mode and forwards exactly one output frame per input frame. In
// [config.ModeAds] the session also keeps the ads planner in step with the mixer:
// every time an ad break ends the finished ad is reported and the next one
// is loaded for the following break.
package restream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/restreamer/internal/config"
	"github.com/MrWong99/restreamer/internal/observe"
	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
	"github.com/MrWong99/restreamer/pkg/audio/mixer"
	"github.com/MrWong99/restreamer/pkg/classify"
	"github.com/MrWong99/restreamer/pkg/types"
)

// defaultBuffer is the capacity of the channel between the stages when
// [Config.Buffer] is zero.
const defaultBuffer = 64

// Planner selects ads and reports their lifecycle. Select fetches an ad
// without putting it on air; Start and Finished bracket the break it plays in.
type Planner interface {
	Select(ctx context.Context) (ads.Selection, error)
	Start(ctx context.Context, sel ads.Selection) error
	Finished(ctx context.Context)
}

var _ Planner = (*ads.Planner)(nil)

// Config holds everything a [Session] needs.
type Config struct {
	// Mode selects the mixer. Required.
	Mode config.Mode

	// Table is the crossfade table used by the silence and ads mixers.
	Table []crossfade.Pair

	// Classifier labels input frames. Nil labels every frame as music.
	Classifier classify.Classifier

	// Planner supplies ad tracks. Required in [config.ModeAds].
	Planner Planner

	// Buffer is the capacity of the channel between the stages.
	Buffer int
}

// Option is a functional option for [New].
type Option func(*Session)

// WithMetrics records mixer activity on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// segmentTracker is implemented by mixers that know whether they are inside
// an ad break.
type segmentTracker interface {
	InAdSegment() bool
}

// labelled is a frame tagged by the classify stage.
type labelled struct {
	kind  types.ContentKind
	frame audio.Frame
}

// Stats summarises a finished or running session.
type Stats struct {
	Frames      uint64
	AdSegments  uint64
	Reloads     uint64
	ReloadFails uint64
}

// Session splices one stream. Run may be called only once.
type Session struct {
	mode       config.Mode
	mixer      audio.Mixer
	ads        *mixer.AdsMixer
	tracker    segmentTracker
	classifier classify.Classifier
	planner    Planner
	buffer     int
	metrics    *observe.Metrics
	logger     *slog.Logger

	// staged is the ad the mixer plays in the next break; onAir is set
	// while it plays.
	staged ads.Selection
	onAir  bool

	mu    sync.Mutex
	stats Stats
	ran   bool
}

// New builds a session for cfg. In ads mode it fetches the first ad track, so
// a failing provider is reported here rather than at the first break. The ad
// is not reported as started until its break begins.
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	s := &Session{
		mode:       cfg.Mode,
		classifier: cfg.Classifier,
		planner:    cfg.Planner,
		buffer:     cfg.Buffer,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.classifier == nil {
		s.classifier = classify.Static(types.Music)
	}
	if s.buffer <= 0 {
		s.buffer = defaultBuffer
	}

	switch cfg.Mode {
	case config.ModePassthrough:
		s.mixer = mixer.NewPassthrough()

	case config.ModeSilence:
		m, err := mixer.NewSilenceMixer(cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("restream: silence mixer: %w", err)
		}
		s.mixer, s.tracker = m, m

	case config.ModeAds:
		if cfg.Planner == nil {
			return nil, errors.New("restream: ads mode requires a planner")
		}
		sel, err := cfg.Planner.Select(ctx)
		if err != nil {
			return nil, fmt.Errorf("restream: first ad: %w", err)
		}
		m, err := mixer.NewAdsMixer(sel.Frames, cfg.Table, mixer.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("restream: ads mixer: %w", err)
		}
		s.mixer, s.tracker, s.ads = m, m, m
		s.staged = sel

	default:
		return nil, fmt.Errorf("restream: unknown mode %q", cfg.Mode)
	}
	return s, nil
}

// Mode returns the session's mode.
func (s *Session) Mode() config.Mode { return s.mode }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run reads frames from in until it is closed or ctx is done, and writes one
// spliced frame to out per input frame. Run closes out before returning.
//
// When ctx is cancelled the remaining input is drained in the background so
// the producer never blocks on a send. Run returns nil when in was closed and
// every frame was forwarded, and ctx.Err() otherwise.
func (s *Session) Run(ctx context.Context, in <-chan audio.Frame, out chan<- audio.Frame) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return errors.New("restream: session already ran")
	}
	s.ran = true
	s.mu.Unlock()

	defer close(out)

	if s.metrics != nil {
		s.metrics.ActiveStreams.Add(ctx, 1)
		defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	}
	// A stream that stops mid-break still closes the ad it cut off.
	defer func() {
		if s.onAir {
			s.planner.Finished(context.WithoutCancel(ctx))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	mid := make(chan labelled, s.buffer)

	g.Go(func() error {
		defer close(mid)
		return s.classify(gctx, in, mid)
	})
	g.Go(func() error {
		return s.mix(gctx, mid, out)
	})

	err := g.Wait()
	if err != nil {
		go audio.Drain(in)
	}
	s.logger.Info("restream: session finished",
		"mode", s.mode,
		"frames", s.Stats().Frames,
		"ad_segments", s.Stats().AdSegments,
		"err", err,
	)
	return err
}

func (s *Session) classify(ctx context.Context, in <-chan audio.Frame, mid chan<- labelled) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok := <-in:
			if !ok {
				return nil
			}
			l := labelled{kind: s.classifier.Classify(fr), frame: fr}
			select {
			case mid <- l:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Session) mix(ctx context.Context, mid <-chan labelled, out chan<- audio.Frame) error {
	mode := string(s.mode)
	for l := range mid {
		wasAd := s.inAd()
		start := time.Now()
		fr := s.mixer.Push(l.kind, l.frame)
		if s.metrics != nil {
			s.metrics.MixDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("mode", mode)))
			s.metrics.RecordMixedFrame(ctx, mode, l.kind.String())
		}

		s.mu.Lock()
		s.stats.Frames++
		s.mu.Unlock()

		switch isAd := s.inAd(); {
		case !wasAd && isAd:
			s.segmentStarted(ctx, mode)
		case wasAd && !isAd:
			s.segmentEnded(ctx, mode)
		}

		select {
		case out <- fr:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (s *Session) inAd() bool {
	return s.tracker != nil && s.tracker.InAdSegment()
}

func (s *Session) segmentStarted(ctx context.Context, mode string) {
	s.mu.Lock()
	s.stats.AdSegments++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordAdSegment(ctx, mode, "start")
	}
	s.logger.DebugContext(ctx, "restream: ad segment started", "mode", mode)
	if s.ads == nil {
		return
	}

	ctx, span := observe.StartSpan(ctx, "restream.ad_break.start",
		trace.WithAttributes(observe.Attr("ad_id", s.staged.ID.String())))
	defer span.End()
	s.onAir = true
	if err := s.planner.Start(ctx, s.staged); err != nil {
		span.RecordError(err)
		s.logger.WarnContext(ctx, "restream: cannot report ad start", "ad_id", s.staged.ID, "err", err)
	}
}

// segmentEnded reports the finished ad and stages the next one. The mixer
// keeps looping the previous track when the next one cannot be loaded, so a
// failing provider never interrupts the stream.
func (s *Session) segmentEnded(ctx context.Context, mode string) {
	if s.metrics != nil {
		s.metrics.RecordAdSegment(ctx, mode, "end")
	}
	s.logger.DebugContext(ctx, "restream: ad segment ended", "mode", mode)
	if s.ads == nil {
		return
	}

	ctx, span := observe.StartSpan(ctx, "restream.ad_break.end",
		trace.WithAttributes(observe.Attr("ad_id", s.staged.ID.String())))
	defer span.End()

	s.planner.Finished(ctx)
	s.onAir = false
	sel, err := s.planner.Select(ctx)
	if err == nil {
		err = s.ads.Reload(sel.Frames)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		s.stats.ReloadFails++
		s.logger.ErrorContext(ctx, "restream: cannot load next ad, repeating the current one", "err", err)
		return
	}
	s.staged = sel
	s.stats.Reloads++
}

package restream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/restreamer/internal/config"
	"github.com/MrWong99/restreamer/internal/observe"
	"github.com/MrWong99/restreamer/internal/restream"
	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/ads/mock"
	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
	"github.com/MrWong99/restreamer/pkg/classify"
	"github.com/MrWong99/restreamer/pkg/types"
)

var params = ads.CodecParams{SampleRate: 48000, Channels: 1, Layout: audio.Planar, SamplesPerFrame: 480}

func constFrame(v float32) audio.Frame {
	fr := audio.NewFrame(params.Format(), params.SamplesPerFrame)
	for i := range fr.Planes[0] {
		fr.Planes[0][i] = v
	}
	return fr
}

func track(n int, v float32) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = constFrame(v)
	}
	return frames
}

// script returns a classifier that labels the i-th frame with kinds[i] and
// music afterwards.
func script(kinds []types.ContentKind) classify.Classifier {
	i := 0
	return classify.Func(func(audio.Frame) types.ContentKind {
		defer func() { i++ }()
		if i < len(kinds) {
			return kinds[i]
		}
		return types.Music
	})
}

func repeat(kind types.ContentKind, n int) []types.ContentKind {
	out := make([]types.ContentKind, n)
	for i := range out {
		out[i] = kind
	}
	return out
}

// breakScript is 5 content, 5 advertisement and 16 content frames.
func breakScript() []types.ContentKind {
	k := repeat(types.Music, 5)
	k = append(k, repeat(types.Advertisement, 5)...)
	return append(k, repeat(types.Music, 16)...)
}

// runAll feeds n frames through s and collects the output.
func runAll(t *testing.T, s *restream.Session, n int) []audio.Frame {
	t.Helper()
	in := make(chan audio.Frame)
	out := make(chan audio.Frame)
	go func() {
		defer close(in)
		for range n {
			in <- constFrame(0.5)
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background(), in, out) }()

	var got []audio.Frame
	for fr := range out {
		got = append(got, fr)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
	return got
}

func newPlanner(t *testing.T, p *mock.Provider) *ads.Planner {
	t.Helper()
	pl, err := ads.NewPlanner(context.Background(), p, params)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}
	return pl
}

func TestSession_PassthroughRestamps(t *testing.T) {
	t.Parallel()
	s, err := restream.New(context.Background(), restream.Config{Mode: config.ModePassthrough})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := runAll(t, s, 5)
	if len(got) != 5 {
		t.Fatalf("got %d frames, want 5", len(got))
	}
	step := constFrame(0).Duration()
	for i, fr := range got {
		if want := time.Duration(i+1) * step; fr.PTS != want {
			t.Errorf("frame %d: pts %v, want %v", i, fr.PTS, want)
		}
	}
	if st := s.Stats(); st.Frames != 5 || st.AdSegments != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSession_SilenceCountsSegments(t *testing.T) {
	t.Parallel()
	kinds := append(repeat(types.Music, 3), repeat(types.Advertisement, 4)...)
	kinds = append(kinds, repeat(types.Talk, 3)...)
	kinds = append(kinds, repeat(types.Advertisement, 2)...)

	s, err := restream.New(context.Background(), restream.Config{
		Mode:       config.ModeSilence,
		Table:      crossfade.MustGenerate(crossfade.Linear{}, 3),
		Classifier: script(kinds),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := runAll(t, s, len(kinds))
	if len(got) != len(kinds) {
		t.Fatalf("got %d frames, want %d", len(got), len(kinds))
	}
	if st := s.Stats(); st.AdSegments != 2 {
		t.Errorf("ad segments = %d, want 2", st.AdSegments)
	}
	// The last frame is the middle of the second fade to silence.
	if v := got[len(got)-1].Planes[0][0]; v != 0.25 {
		t.Errorf("last sample = %v, want 0.25", v)
	}
}

func TestSession_AdsReloadsAfterEachBreak(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		ContentResult: []ads.ContentItem{{ID: "a"}, {ID: "b"}},
		Tracks: map[ads.AdID][]audio.Frame{
			"a": track(3, 1),
			"b": track(3, -1),
		},
	}
	s, err := restream.New(context.Background(), restream.Config{
		Mode:       config.ModeAds,
		Table:      crossfade.MustGenerate(crossfade.Parabolic{}, 4),
		Classifier: script(breakScript()),
		Planner:    newPlanner(t, p),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := runAll(t, s, len(breakScript()))
	if len(got) != 26 {
		t.Fatalf("got %d frames, want 26", len(got))
	}
	st := s.Stats()
	if st.AdSegments != 1 || st.Reloads != 1 || st.ReloadFails != 0 {
		t.Errorf("stats = %+v", st)
	}

	// Only "a" aired. "b" was fetched for a break that never came.
	started, finished := p.Snapshot()
	if len(started) != 1 || started[0].ID != "a" {
		t.Errorf("started = %+v, want only a", started)
	}
	if len(finished) != 1 || finished[0].ID != "a" {
		t.Errorf("finished = %+v, want only a", finished)
	}
	if len(p.GetCalls) != 2 || p.GetCalls[1].ID != "b" {
		t.Errorf("get calls = %+v, want a then b", p.GetCalls)
	}
}

// callLog is a Planner that records its calls together with the number of
// frames the session had mixed at the time.
type callLog struct {
	ids    []ads.AdID
	next   int
	frames func() uint64
	calls  []string
}

func (c *callLog) at() uint64 {
	if c.frames == nil {
		return 0
	}
	return c.frames()
}

func (c *callLog) Select(context.Context) (ads.Selection, error) {
	id := c.ids[c.next%len(c.ids)]
	c.next++
	c.calls = append(c.calls, fmt.Sprintf("select %s@%d", id, c.at()))
	return ads.Selection{ID: id, Frames: track(3, 1)}, nil
}

func (c *callLog) Start(_ context.Context, sel ads.Selection) error {
	c.calls = append(c.calls, fmt.Sprintf("start %s@%d", sel.ID, c.at()))
	return nil
}

func (c *callLog) Finished(context.Context) {
	c.calls = append(c.calls, fmt.Sprintf("finished@%d", c.at()))
}

func TestSession_ReportsOnlyAiredBreaks(t *testing.T) {
	t.Parallel()

	// Two breaks, and the stream ends in the middle of the second one.
	kinds := breakScript()[:20]
	kinds = append(kinds, repeat(types.Advertisement, 3)...)

	tests := []struct {
		name  string
		kinds []types.ContentKind
		want  []string
	}{
		{
			name:  "no break",
			kinds: repeat(types.Music, 8),
			want:  []string{"select a@0"},
		},
		{
			name:  "one break",
			kinds: breakScript(),
			want:  []string{"select a@0", "start a@6", "finished@11", "select b@11"},
		},
		{
			name:  "stream ends during a break",
			kinds: kinds,
			want: []string{
				"select a@0", "start a@6", "finished@11", "select b@11",
				"start b@21", "finished@23",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			log := &callLog{ids: []ads.AdID{"a", "b"}}
			s, err := restream.New(context.Background(), restream.Config{
				Mode:       config.ModeAds,
				Table:      crossfade.MustGenerate(crossfade.Parabolic{}, 4),
				Classifier: script(tt.kinds),
				Planner:    log,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			log.frames = func() uint64 { return s.Stats().Frames }

			runAll(t, s, len(tt.kinds))

			if len(log.calls) != len(tt.want) {
				t.Fatalf("calls = %v, want %v", log.calls, tt.want)
			}
			for i := range tt.want {
				if log.calls[i] != tt.want[i] {
					t.Errorf("call %d = %q, want %q (all: %v)", i, log.calls[i], tt.want[i], log.calls)
				}
			}
		})
	}
}

func TestSession_AdsKeepsTrackWhenNextFails(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		ContentResult: []ads.ContentItem{{ID: "a"}, {ID: "gone"}},
		Tracks:        map[ads.AdID][]audio.Frame{"a": track(3, 1)},
	}
	s, err := restream.New(context.Background(), restream.Config{
		Mode:       config.ModeAds,
		Table:      crossfade.MustGenerate(crossfade.Parabolic{}, 4),
		Classifier: script(breakScript()),
		Planner:    newPlanner(t, p),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := runAll(t, s, len(breakScript()))
	if len(got) != 26 {
		t.Fatalf("got %d frames, want 26", len(got))
	}
	if st := s.Stats(); st.ReloadFails != 1 || st.Reloads != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	down := errors.New("backend down")
	table := crossfade.MustGenerate(crossfade.Linear{}, 3)

	tests := []struct {
		name string
		cfg  func(t *testing.T) restream.Config
	}{
		{"unknown mode", func(*testing.T) restream.Config {
			return restream.Config{Mode: "karaoke"}
		}},
		{"ads without planner", func(*testing.T) restream.Config {
			return restream.Config{Mode: config.ModeAds, Table: table}
		}},
		{"silence short table", func(*testing.T) restream.Config {
			return restream.Config{Mode: config.ModeSilence, Table: table[:1]}
		}},
		{"first ad fails", func(t *testing.T) restream.Config {
			p := &mock.Provider{ContentResult: []ads.ContentItem{{ID: "a"}}, GetErr: down}
			return restream.Config{Mode: config.ModeAds, Table: table, Planner: newPlanner(t, p)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := restream.New(context.Background(), tt.cfg(t)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestSession_RunTwice(t *testing.T) {
	t.Parallel()
	s, err := restream.New(context.Background(), restream.Config{Mode: config.ModePassthrough})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runAll(t, s, 1)

	in := make(chan audio.Frame)
	close(in)
	if err := s.Run(context.Background(), in, make(chan audio.Frame)); err == nil {
		t.Error("second Run should fail")
	}
}

func TestSession_CancelDrainsInput(t *testing.T) {
	t.Parallel()
	s, err := restream.New(context.Background(), restream.Config{Mode: config.ModePassthrough, Buffer: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan audio.Frame)
	out := make(chan audio.Frame) // never read

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx, in, out) }()

	in <- constFrame(0)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			in <- constFrame(0)
		}
		close(in)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked after cancel")
	}
	if _, ok := <-out; ok {
		t.Error("out should be closed")
	}
}

func TestSession_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	kinds := append(repeat(types.Music, 2), repeat(types.Advertisement, 3)...)
	s, err := restream.New(context.Background(), restream.Config{
		Mode:       config.ModeSilence,
		Table:      crossfade.MustGenerate(crossfade.Linear{}, 3),
		Classifier: script(kinds),
	}, restream.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runAll(t, s, len(kinds))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[met.Name] += dp.Value
				}
			}
		}
	}
	if sums["restreamer.mixer.frames"] != 5 {
		t.Errorf("mixed frames = %d, want 5", sums["restreamer.mixer.frames"])
	}
	if sums["restreamer.mixer.ad_segments"] != 1 {
		t.Errorf("ad segments = %d, want 1", sums["restreamer.mixer.ad_segments"])
	}
	if sums["restreamer.active_streams"] != 0 {
		t.Errorf("active streams = %d, want 0 after Run", sums["restreamer.active_streams"])
	}
}

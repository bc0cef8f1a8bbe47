package mixer

import (
	"log/slog"

	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
	"github.com/MrWong99/restreamer/pkg/types"
)

// adTrack loops over the frames of one ad and counts how many of them have
// been played in the current pass.
type adTrack struct {
	frames []audio.Frame
	played int
}

// next returns the next frame, starting over once every frame was played.
func (t *adTrack) next() (audio.Frame, bool) {
	if len(t.frames) == 0 {
		return audio.Frame{}, false
	}
	if t.played == len(t.frames) {
		t.played = 0
	}
	fr := t.frames[t.played]
	t.played++
	return fr, true
}

func (t *adTrack) left() int { return len(t.frames) - t.played }
func (t *adTrack) len() int  { return len(t.frames) }
func (t *adTrack) rewind()   { t.played = 0 }

func (t *adTrack) shape() audio.Frame {
	if len(t.frames) == 0 {
		return audio.Frame{}
	}
	return t.frames[0]
}

// AdsMixer splices a looping ad track over advertisement breaks.
//
// The caller drives it with one call per input frame: [AdsMixer.Content] for
// frames classified as programme content and [AdsMixer.Advertisement] for
// frames classified as advertisement ([AdsMixer.Push] dispatches on the
// kind). Every call returns exactly one output frame.
//
// Content frames are delayed through a lookahead buffer. While an ad plays
// the buffer keeps filling, and when the ad ends the buffered content is
// played back behind a crossfade, so content that arrives during the exit
// fade is not lost. A break only starts once the buffer is no longer than
// the ad track; until then advertisement frames are treated as content.
//
// A break ends on the first content frame that arrives while at most half a
// crossfade table of ad frames is left, which reserves exactly the tail
// needed for the exit fade. Content arriving earlier is still mixed into the
// running ad.
//
// Output timestamps are manufactured by an internal [audio.Pts]; input
// timestamps are ignored.
//
// AdsMixer is not safe for concurrent use.
type AdsMixer struct {
	ads     adTrack
	pending []audio.Frame // swapped in at the start of the next break
	half    int           // len(table)/2
	fader   *crossfade.Fader
	inAd    bool
	buffer  frameQueue
	pts     *audio.Pts
	logger  *slog.Logger
	warned  bool
}

// NewAdsMixer returns a mixer that loops track during ad breaks and fades
// with table at both ends of a break.
//
// It fails when track is empty, when its frames differ in shape, or when
// table holds fewer than two pairs. These are configuration errors; once
// constructed the mixer never fails.
func NewAdsMixer(track []audio.Frame, table []crossfade.Pair, opts ...Option) (*AdsMixer, error) {
	if err := validateTrack(track); err != nil {
		return nil, err
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &AdsMixer{
		ads:    adTrack{frames: track},
		half:   len(table) / 2,
		fader:  crossfade.NewFader(table),
		pts:    audio.PtsFrom(track[0]),
		logger: o.logger,
	}, nil
}

// Push dispatches frame to [AdsMixer.Advertisement] or [AdsMixer.Content]
// according to kind.
func (m *AdsMixer) Push(kind types.ContentKind, frame audio.Frame) audio.Frame {
	if kind.IsAdvertisement() {
		return m.Advertisement(frame)
	}
	return m.Content(frame)
}

// Content handles a frame classified as programme content.
func (m *AdsMixer) Content(frame audio.Frame) audio.Frame {
	m.checkShape(frame)
	m.buffer.PushBack(frame)

	if m.inAd && m.ads.left() > m.half {
		return m.advertisement(frame)
	}
	m.stopSegment()

	p := m.fader.Next()
	ad := audio.Silence(frame)
	if p.FadeOut > 0 {
		if fr, ok := m.ads.next(); ok {
			ad = fr
		}
	}
	content, ok := m.buffer.PopFront()
	if !ok {
		content = frame
	}
	return p.Mix(ad, content).WithPTS(m.pts.Next())
}

// Advertisement handles a frame classified as advertisement.
func (m *AdsMixer) Advertisement(frame audio.Frame) audio.Frame {
	m.checkShape(frame)
	return m.advertisement(frame)
}

func (m *AdsMixer) advertisement(frame audio.Frame) audio.Frame {
	if !m.inAd && m.buffer.Len() > m.ads.len() {
		return m.Content(frame)
	}
	m.startSegment()

	p := m.fader.Next()
	ad := audio.Silence(frame)
	if p.FadeIn > 0 {
		if fr, ok := m.ads.next(); ok {
			ad = fr
		}
	}
	return p.Mix(frame, ad).WithPTS(m.pts.Next())
}

// Reload replaces the ad track. The new track takes effect at the start of
// the next break so a running exit fade keeps drawing from the old one.
// It fails when track is empty or does not match the current track's shape.
func (m *AdsMixer) Reload(track []audio.Frame) error {
	if err := validateTrack(track); err != nil {
		return err
	}
	if err := m.ads.shape().CheckShape(track[0]); err != nil {
		return err
	}
	m.pending = track
	return nil
}

// InAdSegment reports whether the mixer is currently inside an ad break.
func (m *AdsMixer) InAdSegment() bool { return m.inAd }

// Buffered returns the number of content frames held in the lookahead
// buffer.
func (m *AdsMixer) Buffered() int { return m.buffer.Len() }

func (m *AdsMixer) startSegment() {
	if m.inAd {
		return
	}
	if m.pending != nil {
		m.ads = adTrack{frames: m.pending}
		m.pending = nil
	}
	m.ads.rewind()
	m.fader.Reset()
	m.inAd = true
}

func (m *AdsMixer) stopSegment() {
	if !m.inAd {
		return
	}
	m.fader.Reset()
	m.inAd = false
}

// checkShape logs the first input frame whose shape differs from the ad
// track. Mismatched frames are still mixed over their common samples.
func (m *AdsMixer) checkShape(frame audio.Frame) {
	if m.warned {
		return
	}
	if err := m.ads.shape().CheckShape(frame); err != nil {
		m.warned = true
		m.logger.Warn("ads mixer: input does not match ad track", "err", err)
	}
}

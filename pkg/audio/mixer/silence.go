package mixer

import (
	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
	"github.com/MrWong99/restreamer/pkg/types"
)

const (
	// defaultSamplesPerFrame and defaultSampleRate seed the timestamp
	// sequencer until the first frame replaces them.
	defaultSamplesPerFrame = 2048
	defaultSampleRate      = 48000
)

// SilenceMixer fades advertisement breaks out to silence. It follows the
// classifier verdict frame by frame with no lookahead: an
// [types.Advertisement] frame fades from the programme to silence, any
// other kind fades back. Every state change restarts the crossfade table
// from its first pair.
//
// SilenceMixer is not safe for concurrent use.
type SilenceMixer struct {
	fader *crossfade.Fader
	inAd  bool
	pts   *audio.Pts
}

// NewSilenceMixer returns a mixer that fades with table. The fader starts at
// the first pair, so the very first frames of a stream fade in from silence.
func NewSilenceMixer(table []crossfade.Pair) (*SilenceMixer, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return &SilenceMixer{
		fader: crossfade.NewExactFader(table),
		pts:   audio.NewPts(defaultSamplesPerFrame, defaultSampleRate),
	}, nil
}

// Push mixes one input frame according to kind.
func (m *SilenceMixer) Push(kind types.ContentKind, frame audio.Frame) audio.Frame {
	m.pts.Update(frame)
	silence := audio.Silence(frame)

	out, in := silence, frame
	if kind.IsAdvertisement() {
		if !m.inAd {
			m.fader.Reset()
			m.inAd = true
		}
		out, in = frame, silence
	} else if m.inAd {
		m.fader.Reset()
		m.inAd = false
	}

	return m.fader.Next().Mix(out, in).WithPTS(m.pts.Next())
}

// InAdSegment reports whether the last pushed frame was part of a break.
func (m *SilenceMixer) InAdSegment() bool { return m.inAd }

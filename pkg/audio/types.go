package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrShapeMismatch is returned when two frames that must be mixed together do
// not share channel layout, sample format and frame size.
var ErrShapeMismatch = errors.New("audio: frame shape mismatch")

// Layout describes how the channels of a frame are laid out in memory.
type Layout int

const (
	// Interleaved stores all channels in a single plane: L R L R …
	Interleaved Layout = iota

	// Planar stores one plane per channel.
	Planar
)

// String returns the FFmpeg-style name of the layout.
func (l Layout) String() string {
	if l == Planar {
		return "fltp"
	}
	return "flt"
}

// Format describes the sample rate, channel count and memory layout of an
// audio stream. Samples are always 32-bit floats in [-1, 1].
type Format struct {
	SampleRate int
	Channels   int
	Layout     Layout
}

// String returns a human-readable form, e.g. "48000Hz stereo flt".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels) + " " + f.Layout.String()
}

// planes returns the number of sample planes a frame in this format carries.
func (f Format) planes() int {
	if f.Layout == Planar {
		return max(f.Channels, 1)
	}
	return 1
}

// Frame is one block of decoded PCM audio flowing through the pipeline.
//
// Frames are treated as immutable values: every operation that changes
// samples returns a new Frame with freshly allocated planes, so a Frame may be
// shared freely between the decoder, the lookahead buffer and the encoder.
type Frame struct {
	// Format is the sample format descriptor shared by all planes.
	Format Format

	// Planes holds the raw samples. Interleaved frames have exactly one plane
	// of Samples()*Channels values; planar frames have one plane of Samples()
	// values per channel.
	Planes [][]float32

	// PTS is the presentation timestamp relative to stream start.
	PTS time.Duration
}

// NewFrame allocates a zeroed frame of the given format holding samples
// samples per channel.
func NewFrame(f Format, samples int) Frame {
	n := f.planes()
	per := samples
	if f.Layout == Interleaved {
		per = samples * max(f.Channels, 1)
	}
	planes := make([][]float32, n)
	for i := range planes {
		planes[i] = make([]float32, per)
	}
	return Frame{Format: f, Planes: planes}
}

// Samples returns the number of samples per channel (the frame size).
func (fr Frame) Samples() int {
	if len(fr.Planes) == 0 {
		return 0
	}
	n := len(fr.Planes[0])
	if fr.Format.Layout == Interleaved && fr.Format.Channels > 1 {
		n /= fr.Format.Channels
	}
	return n
}

// Duration returns the playback duration of the frame.
func (fr Frame) Duration() time.Duration {
	if fr.Format.SampleRate <= 0 {
		return 0
	}
	return samplesToDuration(int64(fr.Samples()), int64(fr.Format.SampleRate))
}

// IsEmpty reports whether the frame carries no samples at all.
func (fr Frame) IsEmpty() bool { return fr.Samples() == 0 }

// WithPTS returns a copy of fr stamped with pts. Sample planes are shared.
func (fr Frame) WithPTS(pts time.Duration) Frame {
	fr.PTS = pts
	return fr
}

// Clone returns a deep copy of fr.
func (fr Frame) Clone() Frame {
	planes := make([][]float32, len(fr.Planes))
	for i, p := range fr.Planes {
		planes[i] = append([]float32(nil), p...)
	}
	fr.Planes = planes
	return fr
}

// SameShape reports whether fr and other can be mixed sample by sample: same
// format, same number of planes and same plane lengths.
func (fr Frame) SameShape(other Frame) bool {
	if fr.Format != other.Format || len(fr.Planes) != len(other.Planes) {
		return false
	}
	for i := range fr.Planes {
		if len(fr.Planes[i]) != len(other.Planes[i]) {
			return false
		}
	}
	return true
}

// CheckShape returns a wrapped [ErrShapeMismatch] describing the difference
// between fr and other, or nil when they share a shape.
func (fr Frame) CheckShape(other Frame) error {
	if fr.SameShape(other) {
		return nil
	}
	return fmt.Errorf("%w: %s/%d samples vs %s/%d samples",
		ErrShapeMismatch, fr.Format, fr.Samples(), other.Format, other.Samples())
}

// Silence returns a frame with the shape and timestamp of like whose samples
// are all zero.
func Silence(like Frame) Frame {
	planes := make([][]float32, len(like.Planes))
	for i, p := range like.Planes {
		planes[i] = make([]float32, len(p))
	}
	return Frame{Format: like.Format, Planes: planes, PTS: like.PTS}
}

// Interleave returns all samples of fr as a single interleaved slice.
func (fr Frame) Interleave() []float32 {
	if fr.Format.Layout == Interleaved || len(fr.Planes) <= 1 {
		if len(fr.Planes) == 0 {
			return nil
		}
		return append([]float32(nil), fr.Planes[0]...)
	}
	n := fr.Samples()
	ch := len(fr.Planes)
	out := make([]float32, n*ch)
	for i := range n {
		for c := range ch {
			out[i*ch+c] = fr.Planes[c][i]
		}
	}
	return out
}

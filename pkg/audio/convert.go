package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Converter normalises frames to a target [Format]. It logs a warning on the
// first format mismatch so misconfigured assets are visible without flooding
// the log. Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts fr to the target format. If the source format already
// matches the target, the frame is returned unchanged (zero allocation).
// Conversion order: resample first, then channel convert, then re-layout.
func (c *Converter) Convert(fr Frame) Frame {
	if fr.Format == c.Target {
		return fr
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", fr.Format.String(),
			"to", c.Target.String(),
		)
	})

	samples := fr.Interleave()
	channels := max(fr.Format.Channels, 1)

	// Step 1: Resample first (avoids resampling stereo when target is mono).
	if fr.Format.SampleRate != c.Target.SampleRate {
		samples = Resample(samples, channels, fr.Format.SampleRate, c.Target.SampleRate)
	}

	// Step 2: Channel conversion.
	if channels != c.Target.Channels {
		samples = Remix(samples, channels, c.Target.Channels)
	}

	return FromInterleaved(c.Target, samples, fr.PTS)
}

// FromInterleaved builds a frame in format f from interleaved samples,
// splitting them into planes when f is planar. The slice is not copied for
// interleaved formats.
func FromInterleaved(f Format, samples []float32, pts time.Duration) Frame {
	ch := max(f.Channels, 1)
	if f.Layout == Interleaved || ch == 1 {
		return Frame{Format: f, Planes: [][]float32{samples}, PTS: pts}
	}
	n := len(samples) / ch
	planes := make([][]float32, ch)
	for c := range planes {
		planes[c] = make([]float32, n)
	}
	for i := range n {
		for c := range ch {
			planes[c][i] = samples[i*ch+c]
		}
	}
	return Frame{Format: f, Planes: planes, PTS: pts}
}

// Reframe cuts a continuous interleaved sample stream into frames of exactly
// samplesPerFrame samples per channel. A trailing partial frame is padded
// with silence so every frame shares the same shape. Frames are stamped with
// consecutive timestamps starting at zero.
func Reframe(f Format, samples []float32, samplesPerFrame int) []Frame {
	ch := max(f.Channels, 1)
	if samplesPerFrame <= 0 || len(samples) == 0 {
		return nil
	}
	per := samplesPerFrame * ch
	count := (len(samples) + per - 1) / per
	frames := make([]Frame, 0, count)
	pts := NewPts(samplesPerFrame, f.SampleRate)
	var at time.Duration
	for off := 0; off < len(samples); off += per {
		chunk := make([]float32, per)
		copy(chunk, samples[off:min(off+per, len(samples))])
		frames = append(frames, FromInterleaved(f, chunk, at))
		at = pts.Next()
	}
	return frames
}

// Remix converts interleaved samples between channel counts. Mono is
// duplicated into every output channel; multi-channel input is averaged down
// to mono, and other combinations map channels by index, filling missing
// channels with silence.
func Remix(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)
	for i := range frames {
		in := samples[i*from : i*from+from]
		switch {
		case from == 1:
			for c := range to {
				out[i*to+c] = in[0]
			}
		case to == 1:
			var sum float32
			for _, s := range in {
				sum += s
			}
			out[i] = sum / float32(from)
		default:
			for c := range min(from, to) {
				out[i*to+c] = in[c]
			}
		}
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for c := range channels {
			s0 := samples[srcIdx*channels+c]
			s1 := samples[next*channels+c]
			out[i*channels+c] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

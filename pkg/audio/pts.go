package audio

import "time"

// Pts manufactures presentation timestamps for emitted frames.
//
// Once a mixer takes over emission, input timestamps are discarded: every
// output frame is stamped with the next value of a Pts, so the output is
// strictly monotonic and gap-free even when two independently timestamped
// sources are spliced together.
//
// The cursor is counted in samples, not in durations, so long streams do not
// accumulate rounding drift. A Pts is not safe for concurrent use; it belongs
// to exactly one mixer.
type Pts struct {
	samplesPerFrame int64
	sampleRate      int64
	cursor          int64 // samples emitted so far
}

// NewPts returns a sequencer for frames of samplesPerFrame samples at
// sampleRate Hz, positioned at zero.
func NewPts(samplesPerFrame, sampleRate int) *Pts {
	return &Pts{
		samplesPerFrame: int64(samplesPerFrame),
		sampleRate:      int64(sampleRate),
	}
}

// PtsFrom returns a sequencer matching the sample rate and frame size of fr.
func PtsFrom(fr Frame) *Pts {
	return NewPts(fr.Samples(), fr.Format.SampleRate)
}

// Next advances the cursor by one frame duration and returns the new
// timestamp.
func (p *Pts) Next() time.Duration {
	p.cursor += p.samplesPerFrame
	return p.current()
}

// Current returns the last timestamp handed out by [Pts.Next].
func (p *Pts) Current() time.Duration { return p.current() }

// Update resynchronises the frame size and sample rate from an observed
// frame. On a rate change the cursor is rebased so the last timestamp handed
// out keeps its value.
func (p *Pts) Update(fr Frame) {
	if n := fr.Samples(); n > 0 {
		p.samplesPerFrame = int64(n)
	}
	rate := int64(fr.Format.SampleRate)
	if rate <= 0 || rate == p.sampleRate {
		return
	}
	if p.sampleRate > 0 {
		p.cursor = p.cursor * rate / p.sampleRate
	}
	p.sampleRate = rate
}

// Shift moves the cursor by d to absorb a discontinuity introduced by
// splicing. Negative shifts never move the cursor below zero.
func (p *Pts) Shift(d time.Duration) {
	if p.sampleRate <= 0 {
		return
	}
	p.cursor += int64(d) * p.sampleRate / int64(time.Second)
	if p.cursor < 0 {
		p.cursor = 0
	}
}

// FrameDuration returns the spacing between two consecutive timestamps.
func (p *Pts) FrameDuration() time.Duration {
	if p.sampleRate <= 0 {
		return 0
	}
	return samplesToDuration(p.samplesPerFrame, p.sampleRate)
}

func (p *Pts) current() time.Duration {
	if p.sampleRate <= 0 {
		return 0
	}
	return samplesToDuration(p.cursor, p.sampleRate)
}

// samplesToDuration converts a sample count to a duration without overflowing
// int64 on multi-day streams.
func samplesToDuration(n, rate int64) time.Duration {
	secs, rem := n/rate, n%rate
	return time.Duration(secs)*time.Second + time.Duration(rem*int64(time.Second)/rate)
}

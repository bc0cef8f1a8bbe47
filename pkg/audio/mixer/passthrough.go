package mixer

import (
	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/types"
)

// Passthrough forwards every frame untouched and only re-stamps it, so a
// stream without ad handling still carries gap-free timestamps.
type Passthrough struct {
	pts *audio.Pts
}

// NewPassthrough returns a [Passthrough] mixer.
func NewPassthrough() *Passthrough {
	return &Passthrough{pts: audio.NewPts(defaultSamplesPerFrame, defaultSampleRate)}
}

// Push returns frame stamped with the next timestamp. kind is ignored.
func (m *Passthrough) Push(_ types.ContentKind, frame audio.Frame) audio.Frame {
	m.pts.Update(frame)
	return frame.WithPTS(m.pts.Next())
}

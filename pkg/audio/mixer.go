package audio

import "github.com/MrWong99/restreamer/pkg/types"

// Mixer decides, frame by frame, what the output stream carries: untouched
// programme content, a crossfade, replacement audio or silence.
//
// A Mixer is driven by exactly one sequential processing path per stream.
// Every call to Push consumes one input frame and returns exactly one output
// frame stamped with a freshly sequenced timestamp; input timestamps are
// discarded. Push never blocks and never fails: data gaps are filled with
// silence so the output stream cannot stall.
//
// Implementations are not safe for concurrent use.
type Mixer interface {
	// Push feeds the next input frame together with the classifier's verdict
	// for it and returns the frame to emit.
	Push(kind types.ContentKind, frame Frame) Frame
}

package crossfade

import (
	"fmt"
	"math"

	"github.com/MrWong99/restreamer/pkg/audio"
)

// Pair is one step of a crossfade: the gain applied to the outgoing (left)
// source and the gain applied to the incoming (right) source.
type Pair struct {
	FadeOut float64
	FadeIn  float64
}

// End is the terminal pair of every fade: only the incoming source is heard.
var End = Pair{FadeOut: 0, FadeIn: 1}

// Equal compares both coefficients bit for bit. Unlike ==, NaN equals an
// identical NaN and +0 differs from -0, so generated tables can be compared
// exactly.
func (p Pair) Equal(o Pair) bool {
	return math.Float64bits(p.FadeOut) == math.Float64bits(o.FadeOut) &&
		math.Float64bits(p.FadeIn) == math.Float64bits(o.FadeIn)
}

// Apply blends one sample of each source: FadeOut*left + FadeIn*right.
func (p Pair) Apply(left, right float64) float64 {
	return float64(p.FadeOut*left) + float64(p.FadeIn*right)
}

// Mix applies the pair sample by sample to two frames of identical shape and
// returns a new frame carrying right's format and timestamp. Neither input is
// modified.
//
// Frames of different shapes are mixed over their common prefix; the rest of
// the result is taken from right scaled by FadeIn. Callers validate shapes up
// front, so this only matters for malformed input.
func (p Pair) Mix(left, right audio.Frame) audio.Frame {
	out := audio.Frame{
		Format: right.Format,
		Planes: make([][]float32, len(right.Planes)),
		PTS:    right.PTS,
	}
	for i, r := range right.Planes {
		var l []float32
		if i < len(left.Planes) {
			l = left.Planes[i]
		}
		dst := make([]float32, len(r))
		for j, rs := range r {
			var ls float32
			if j < len(l) {
				ls = l[j]
			}
			dst[j] = float32(p.Apply(float64(ls), float64(rs)))
		}
		out.Planes[i] = dst
	}
	return out
}

// String formats the pair as "(fade_out, fade_in)".
func (p Pair) String() string {
	return fmt.Sprintf("(%v, %v)", p.FadeOut, p.FadeIn)
}

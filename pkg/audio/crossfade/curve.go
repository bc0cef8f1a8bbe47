// Package crossfade generates crossfade coefficient tables and applies them to
// pairs of audio frames.
//
// A table is an ordered slice of [Pair] values sampled from a [Curve]. Index 0
// is "fully fade_out" and the last index is "fully fade_in" for every monotonic
// curve. Tables are consumed one pair per emitted frame through a [Fader].
//
// All curves are pure: the same curve and size always yield a bit-identical
// table.
package crossfade

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrTableSize is returned by [Generate] when fewer than two points are
// requested.
var ErrTableSize = errors.New("crossfade: table size must be at least 2")

// Curve describes one crossfade shape over its natural domain.
//
// Implementations must be stateless.
type Curve interface {
	// Span returns the length of the domain. Tables run from 0 to Span.
	Span() float64

	// Step returns the distance between two consecutive sample points for a
	// table of size points. size is always >= 2.
	Step(size int) float64

	// Calculate returns the coefficient pair at position x of the domain.
	Calculate(x float64) Pair
}

// Generate samples c at size evenly spaced points starting at zero.
//
// The last point is taken at exactly Span and, for odd sizes, the middle point
// at exactly Span/2, so accumulated rounding in n*step never moves the anchors.
func Generate(c Curve, size int) ([]Pair, error) {
	if size < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTableSize, size)
	}
	step := c.Step(size)
	table := make([]Pair, size)
	for n := range table {
		table[n] = c.Calculate(position(c, n, size, step))
	}
	return table, nil
}

// position returns the domain coordinate of point n in a table of size points.
func position(c Curve, n, size int, step float64) float64 {
	switch {
	case n == size-1:
		return c.Span()
	case size%2 == 1 && n == size/2:
		return c.Span() / 2
	default:
		return float64(n) * step
	}
}

// MustGenerate is like [Generate] but panics on an invalid size. It is meant
// for package-level tables built from constants.
func MustGenerate(c Curve, size int) []Pair {
	t, err := Generate(c, size)
	if err != nil {
		panic(err)
	}
	return t
}

// unitStep spreads size points over [0, 1].
func unitStep(size int) float64 { return 1 / float64(size-1) }

// Linear fades with (1-x, x).
type Linear struct{}

func (Linear) Span() float64 { return 1 }

func (Linear) Step(size int) float64 { return unitStep(size) }

func (Linear) Calculate(x float64) Pair { return Pair{FadeOut: 1 - x, FadeIn: x} }

// EqualPower is the cheap polynomial approximation of an equal-power fade.
// Coefficients overshoot 1 slightly near the ends; that is part of the curve.
type EqualPower struct{}

func (EqualPower) Span() float64 { return 1 }

func (EqualPower) Step(size int) float64 { return unitStep(size) }

func (EqualPower) Calculate(x float64) Pair {
	// Explicit float64 conversions stop the compiler from fusing the
	// multiply-adds, which would change the last bit on some architectures.
	x2 := 1 - x
	a := x * x2
	b := a + float64(1.4186*float64(a*a))
	in := b + x
	out := b + x2
	return Pair{FadeOut: out * out, FadeIn: in * in}
}

// Cossin fades with (cos x, sin x) over [0, π/2]. The squared coefficients
// always sum to one, so perceived power stays constant.
type Cossin struct{}

func (Cossin) Span() float64 { return math.Pi / 2 }

func (Cossin) Step(size int) float64 { return math.Pi / 2 / float64(size-1) }

func (Cossin) Calculate(x float64) Pair { return Pair{FadeOut: math.Cos(x), FadeIn: math.Sin(x)} }

// Parabolic is the production default. Each side is a downward parabola
// anchored at its own end of [0, 1] and clamped at zero:
//
//	fade_out = max(0, 1-3x²)
//	fade_in  = max(0, 1-3(1-x)²)
//
// The two sides never overlap by more than a quarter, which keeps short
// tables free of the level bump a linear fade produces.
type Parabolic struct{}

func (Parabolic) Span() float64 { return 1 }

func (Parabolic) Step(size int) float64 { return unitStep(size) }

func (Parabolic) Calculate(x float64) Pair {
	x2 := 1 - x
	return Pair{
		FadeOut: max(0, 1-3*float64(x*x)),
		FadeIn:  max(0, 1-3*float64(x2*x2)),
	}
}

// Semicircle uses two independent quarter-circle arcs over [0, 2]. Both
// coefficients are zero at the midpoint, producing a short gap between the
// two sources.
type Semicircle struct{}

func (Semicircle) Span() float64 { return 2 }

func (Semicircle) Step(size int) float64 { return 2 / float64(size-1) }

func (Semicircle) Calculate(x float64) Pair {
	var p Pair
	if x <= 1 {
		p.FadeOut = math.Sqrt(1 - x*x)
	}
	if x >= 1 {
		d := x - 2
		p.FadeIn = math.Sqrt(1 - d*d)
	}
	return p
}

var curves = map[string]Curve{
	"linear":      Linear{},
	"equal-power": EqualPower{},
	"cossin":      Cossin{},
	"parabolic":   Parabolic{},
	"semicircle":  Semicircle{},
}

// ByName returns the curve registered under name. Lookup is case-insensitive.
func ByName(name string) (Curve, error) {
	c, ok := curves[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("crossfade: unknown curve %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names returns the sorted names accepted by [ByName].
func Names() []string {
	names := make([]string, 0, len(curves))
	for n := range curves {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

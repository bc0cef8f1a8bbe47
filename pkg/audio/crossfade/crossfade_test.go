package crossfade_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
)

func pairs(vals ...[2]float64) []crossfade.Pair {
	out := make([]crossfade.Pair, len(vals))
	for i, v := range vals {
		out[i] = crossfade.Pair{FadeOut: v[0], FadeIn: v[1]}
	}
	return out
}

func assertTableExact(t *testing.T, got, want []crossfade.Pair) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("table length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLinear_Table(t *testing.T) {
	t.Parallel()
	got := crossfade.MustGenerate(crossfade.Linear{}, 11)
	assertTableExact(t, got, pairs(
		[2]float64{1.0, 0.0},
		[2]float64{0.9, 0.1},
		[2]float64{0.8, 0.2},
		[2]float64{0.7, 0.30000000000000004},
		[2]float64{0.6, 0.4},
		[2]float64{0.5, 0.5},
		[2]float64{0.3999999999999999, 0.6000000000000001},
		[2]float64{0.29999999999999993, 0.7000000000000001},
		[2]float64{0.19999999999999996, 0.8},
		[2]float64{0.09999999999999998, 0.9},
		[2]float64{0.0, 1.0},
	))
}

func TestLinear_Formula(t *testing.T) {
	t.Parallel()
	for _, n := range []int{2, 3, 7, 64} {
		table := crossfade.MustGenerate(crossfade.Linear{}, n)
		for i, p := range table {
			x := float64(i) * (1 / float64(n-1))
			switch {
			case i == n-1:
				x = 1
			case n%2 == 1 && i == n/2:
				x = 0.5
			}
			want := crossfade.Pair{FadeOut: 1 - x, FadeIn: x}
			if !p.Equal(want) {
				t.Errorf("size %d index %d: got %v, want %v", n, i, p, want)
			}
		}
	}
}

func TestEqualPower_Table(t *testing.T) {
	t.Parallel()
	got := crossfade.MustGenerate(crossfade.EqualPower{}, 11)
	assertTableExact(t, got, pairs(
		[2]float64{1.0, 0.0},
		[2]float64{1.0029835420672355, 0.04059848606723561},
		[2]float64{0.9926458906771458, 0.15706649867714562},
		[2]float64{0.9458734593312678, 0.3278252513312678},
		[2]float64{0.8495518311530496, 0.5208672871530496},
		[2]float64{0.7033547889062499, 0.7033547889062499},
		[2]float64{0.5208672871530495, 0.8495518311530498},
		[2]float64{0.3278252513312675, 0.9458734593312678},
		[2]float64{0.15706649867714553, 0.9926458906771456},
		[2]float64{0.04059848606723558, 1.0029835420672355},
		[2]float64{0.0, 1.0},
	))
}

func TestCossin_Table(t *testing.T) {
	t.Parallel()
	want := pairs(
		[2]float64{1.0, 0.0},
		[2]float64{0.9876883405951378, 0.15643446504023087},
		[2]float64{0.9510565162951535, 0.3090169943749474},
		[2]float64{0.8910065241883679, 0.45399049973954675},
		[2]float64{0.8090169943749475, 0.5877852522924731},
		[2]float64{0.7071067811865476, 0.7071067811865475},
		[2]float64{0.5877852522924731, 0.8090169943749475},
		[2]float64{0.4539904997395468, 0.8910065241883678},
		[2]float64{0.30901699437494745, 0.9510565162951535},
		[2]float64{0.15643446504023092, 0.9876883405951378},
		[2]float64{6.123233995736766e-17, 1.0},
	)
	got := crossfade.MustGenerate(crossfade.Cossin{}, 11)
	if len(got) != len(want) {
		t.Fatalf("table length = %d, want %d", len(got), len(want))
	}
	// Trigonometric results may differ in the last ulp between libm
	// implementations, so this table is compared with a tight tolerance.
	const eps = 1e-15
	for i := range want {
		if math.Abs(got[i].FadeOut-want[i].FadeOut) > eps || math.Abs(got[i].FadeIn-want[i].FadeIn) > eps {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if !got[0].Equal(crossfade.Pair{FadeOut: 1, FadeIn: 0}) {
		t.Errorf("first pair = %v, want exactly (1, 0)", got[0])
	}
}

func TestParabolic_Tables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size int
		want []crossfade.Pair
	}{
		{size: 3, want: pairs([2]float64{1, 0}, [2]float64{0.25, 0.25}, [2]float64{0, 1})},
		{size: 4, want: pairs(
			[2]float64{1, 0},
			[2]float64{0.6666666666666667, 0},
			[2]float64{0, 0.6666666666666666},
			[2]float64{0, 1},
		)},
	}
	for _, tc := range tests {
		got := crossfade.MustGenerate(crossfade.Parabolic{}, tc.size)
		assertTableExact(t, got, tc.want)
	}
}

func TestSemicircle_Midpoint(t *testing.T) {
	t.Parallel()
	for n := 3; n <= 2001; n += 2 {
		table := crossfade.MustGenerate(crossfade.Semicircle{}, n)
		mid := table[n/2]
		if !mid.Equal(crossfade.Pair{}) {
			t.Errorf("size %d: midpoint = %v, want (0, 0)", n, mid)
		}
	}
}

func TestMonotonicCurves_Endpoints(t *testing.T) {
	t.Parallel()

	curves := []struct {
		name  string
		curve crossfade.Curve
	}{
		{"linear", crossfade.Linear{}},
		{"equal-power", crossfade.EqualPower{}},
		{"parabolic", crossfade.Parabolic{}},
		{"semicircle", crossfade.Semicircle{}},
	}
	for _, c := range curves {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			for n := 2; n <= 2000; n++ {
				table := crossfade.MustGenerate(c.curve, n)
				if !table[0].Equal(crossfade.Pair{FadeOut: 1, FadeIn: 0}) {
					t.Errorf("size %d: first = %v, want (1, 0)", n, table[0])
				}
				if !table[n-1].Equal(crossfade.End) {
					t.Errorf("size %d: last = %v, want (0, 1)", n, table[n-1])
				}
			}
		})
	}
}

func TestGenerate_InvalidSize(t *testing.T) {
	t.Parallel()
	for _, n := range []int{-1, 0, 1} {
		_, err := crossfade.Generate(crossfade.Linear{}, n)
		if !errors.Is(err, crossfade.ErrTableSize) {
			t.Errorf("size %d: err = %v, want ErrTableSize", n, err)
		}
	}
}

func TestByName(t *testing.T) {
	t.Parallel()
	for _, name := range crossfade.Names() {
		if _, err := crossfade.ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}
	if c, err := crossfade.ByName(" Parabolic "); err != nil || c != (crossfade.Parabolic{}) {
		t.Errorf("ByName should be case-insensitive, got %v, %v", c, err)
	}
	if _, err := crossfade.ByName("sigmoid"); err == nil {
		t.Error("expected error for unknown curve")
	}
}

func TestPair_Equal(t *testing.T) {
	t.Parallel()
	nan := math.NaN()
	p := crossfade.Pair{FadeOut: nan, FadeIn: 0.5}
	if !p.Equal(p) {
		t.Error("Equal must be reflexive, including for NaN")
	}
	if (crossfade.Pair{FadeOut: 0}).Equal(crossfade.Pair{FadeOut: math.Copysign(0, -1)}) {
		t.Error("+0 and -0 must compare unequal")
	}
}

func TestPair_Mix(t *testing.T) {
	t.Parallel()

	f := audio.Format{SampleRate: 48000, Channels: 2, Layout: audio.Planar}
	left := audio.Frame{Format: f, Planes: [][]float32{{1, 1}, {0.5, 0.5}}}
	right := audio.Frame{Format: f, Planes: [][]float32{{0, 0.5}, {1, 0}}, PTS: 7}

	got := crossfade.Pair{FadeOut: 0.25, FadeIn: 0.75}.Mix(left, right)

	want := [][]float32{{0.25, 0.625}, {0.875, 0.125}}
	for c := range want {
		for i := range want[c] {
			if got.Planes[c][i] != want[c][i] {
				t.Errorf("plane %d sample %d = %v, want %v", c, i, got.Planes[c][i], want[c][i])
			}
		}
	}
	if got.PTS != 7 {
		t.Errorf("PTS = %v, want right's PTS", got.PTS)
	}
	if left.Planes[0][0] != 1 || right.Planes[0][1] != 0.5 {
		t.Error("Mix modified its inputs")
	}
}

func TestFader_IdleUntilReset(t *testing.T) {
	t.Parallel()

	table := crossfade.MustGenerate(crossfade.Linear{}, 3)
	f := crossfade.NewFader(table)

	for range 5 {
		if p := f.Next(); !p.Equal(crossfade.End) {
			t.Fatalf("idle fader yielded %v, want End", p)
		}
	}
	if !f.Idle() {
		t.Error("fresh fader should be idle")
	}

	f.Reset()
	if f.Idle() {
		t.Error("fader should not be idle right after Reset")
	}
	for i, want := range table {
		if p := f.Next(); !p.Equal(want) {
			t.Errorf("step %d: %v, want %v", i, p, want)
		}
	}
	for range 3 {
		if p := f.Next(); !p.Equal(crossfade.End) {
			t.Errorf("exhausted fader yielded %v, want End", p)
		}
	}
	if !f.Idle() {
		t.Error("exhausted fader should report Idle")
	}
}

func TestFader_ResetMidFade(t *testing.T) {
	t.Parallel()

	table := crossfade.MustGenerate(crossfade.Linear{}, 5)
	f := crossfade.NewFader(table)
	f.Reset()
	f.Next()
	f.Next()
	f.Reset()
	if p := f.Next(); !p.Equal(table[0]) {
		t.Errorf("after mid-fade reset: %v, want %v", p, table[0])
	}
}

func TestExactFader_RepeatsLastPair(t *testing.T) {
	t.Parallel()

	table := crossfade.MustGenerate(crossfade.Parabolic{}, 3)
	f := crossfade.NewExactFader(table)

	var got []crossfade.Pair
	for range 5 {
		got = append(got, f.Next())
	}
	want := []crossfade.Pair{table[0], table[1], table[2], table[2], table[2]}
	assertTableExact(t, got, want)

	f.Reset()
	if p := f.Next(); !p.Equal(table[0]) {
		t.Errorf("after reset: %v, want %v", p, table[0])
	}
}

package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/restreamer/pkg/audio"
)

var monoFmt = audio.Format{SampleRate: 48000, Channels: 1, Layout: audio.Interleaved}

func TestRemix_MonoToStereo(t *testing.T) {
	got := audio.Remix([]float32{0.1, 0.2, 0.3}, 1, 2)
	want := []float32{0.1, 0.1, 0.2, 0.2, 0.3, 0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRemix_StereoToMono(t *testing.T) {
	// Two stereo frames: L=0.5,R=0.25 and L=-0.5,R=-0.25
	got := audio.Remix([]float32{0.5, 0.25, -0.5, -0.25}, 2, 1)
	want := []float32{0.375, -0.375}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 1, 48000, 48000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_Upsample(t *testing.T) {
	in := []float32{0, 1}
	out := audio.Resample(in, 1, 24000, 48000)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_InvalidRates(t *testing.T) {
	in := []float32{0.1, 0.2}
	if out := audio.Resample(in, 1, 0, 48000); len(out) != len(in) {
		t.Errorf("zero src rate should return input unchanged, got %d samples", len(out))
	}
}

func TestConverter_FastPath(t *testing.T) {
	conv := audio.Converter{Target: monoFmt}
	in := audio.FromInterleaved(monoFmt, []float32{0.1, 0.2}, 0)
	out := conv.Convert(in)
	if &out.Planes[0][0] != &in.Planes[0][0] {
		t.Error("matching format should return the frame unchanged")
	}
}

func TestConverter_ToPlanarStereo(t *testing.T) {
	target := audio.Format{SampleRate: 48000, Channels: 2, Layout: audio.Planar}
	conv := audio.Converter{Target: target}
	in := audio.FromInterleaved(monoFmt, []float32{0.1, 0.2, 0.3}, 40*time.Millisecond)

	out := conv.Convert(in)

	if out.Format != target {
		t.Fatalf("format = %v, want %v", out.Format, target)
	}
	if len(out.Planes) != 2 {
		t.Fatalf("planes = %d, want 2", len(out.Planes))
	}
	if out.Samples() != 3 {
		t.Errorf("samples = %d, want 3", out.Samples())
	}
	if out.PTS != 40*time.Millisecond {
		t.Errorf("pts = %v, want 40ms", out.PTS)
	}
	for c := range 2 {
		if out.Planes[c][1] != 0.2 {
			t.Errorf("plane %d sample 1 = %v, want 0.2", c, out.Planes[c][1])
		}
	}
}

func TestReframe(t *testing.T) {
	f := audio.Format{SampleRate: 1000, Channels: 2, Layout: audio.Interleaved}
	samples := make([]float32, 2*25) // 25 stereo samples
	for i := range samples {
		samples[i] = 1
	}

	frames := audio.Reframe(f, samples, 10)

	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	for i, fr := range frames {
		if fr.Samples() != 10 {
			t.Errorf("frame %d: samples = %d, want 10", i, fr.Samples())
		}
		if want := time.Duration(i) * 10 * time.Millisecond; fr.PTS != want {
			t.Errorf("frame %d: pts = %v, want %v", i, fr.PTS, want)
		}
	}
	last := frames[2].Planes[0]
	if last[9] != 1 || last[10] != 0 {
		t.Errorf("trailing frame should be padded with silence, got %v", last)
	}
}

func TestReframe_Empty(t *testing.T) {
	if got := audio.Reframe(monoFmt, nil, 1024); got != nil {
		t.Errorf("expected nil for empty input, got %d frames", len(got))
	}
}

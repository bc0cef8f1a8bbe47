// Package wavio reads and writes PCM WAV files as float32 sample streams.
//
// Decoding accepts 8, 16, 24 and 32-bit integer PCM and normalises samples to
// [-1, 1]. Encoding writes integer PCM at a chosen bit depth, clipping
// out-of-range samples.
package wavio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/restreamer/pkg/audio"
)

// ErrNotWAV is returned when the input is not a valid PCM WAV file.
var ErrNotWAV = errors.New("wavio: not a valid PCM WAV file")

// DefaultBitDepth is used by [Writer] when no bit depth is given.
const DefaultBitDepth = 16

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// Clip is a fully decoded WAV file.
type Clip struct {
	// Format describes the decoded samples. Layout is always interleaved.
	Format audio.Format

	// Samples holds all samples interleaved, normalised to [-1, 1].
	Samples []float32

	// BitDepth is the bit depth of the source file.
	BitDepth int
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	ch := max(c.Format.Channels, 1)
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)/ch) * time.Second / time.Duration(c.Format.SampleRate)
}

// Info is the header information of a WAV file.
type Info struct {
	Format   audio.Format
	BitDepth int
	Duration time.Duration
}

// ReadInfo reads only the header of r.
func ReadInfo(r io.ReadSeeker) (Info, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Info{}, ErrNotWAV
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("wavio: locate data chunk: %w", err)
	}
	info := Info{
		Format:   audio.Format{SampleRate: int(d.SampleRate), Channels: int(d.NumChans), Layout: audio.Interleaved},
		BitDepth: int(d.BitDepth),
	}
	// The RIFF size includes headers, so the duration is derived from the
	// data chunk alone.
	if bytesPerSample := int64(d.NumChans) * int64(d.BitDepth) / 8; bytesPerSample > 0 && d.SampleRate > 0 {
		samples := d.PCMLen() / bytesPerSample
		info.Duration = time.Duration(samples) * time.Second / time.Duration(d.SampleRate)
	}
	return info, nil
}

// Decode reads a complete WAV file from r.
func Decode(r io.ReadSeeker) (*Clip, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrNotWAV
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format tag %d", ErrNotWAV, d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavio: decode: %w", err)
	}

	depth := int(d.BitDepth)
	scale := fullScale(depth)
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if depth == 8 {
			v -= 128 // 8-bit WAV is unsigned
		}
		samples[i] = float32(float64(v) / scale)
	}

	return &Clip{
		Format:   audio.Format{SampleRate: int(d.SampleRate), Channels: int(d.NumChans), Layout: audio.Interleaved},
		Samples:  samples,
		BitDepth: depth,
	}, nil
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavio: %w", err)
	}
	defer f.Close()
	clip, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return clip, nil
}

// fullScale returns the magnitude that maps to 1.0 for a bit depth.
func fullScale(depth int) float64 {
	switch depth {
	case 8:
		return 128
	case 24:
		return 8388608
	case 32:
		return 2147483648
	default:
		return 32768
	}
}

// Writer encodes frames into a WAV stream. The header is finalised by
// [Writer.Close], which therefore needs a seekable destination.
type Writer struct {
	enc      *wav.Encoder
	format   audio.Format
	bitDepth int
	buf      *goaudio.IntBuffer
	written  int
}

// NewWriter starts a WAV stream of format f on w. A bitDepth of zero selects
// [DefaultBitDepth].
func NewWriter(w io.WriteSeeker, f audio.Format, bitDepth int) (*Writer, error) {
	if bitDepth == 0 {
		bitDepth = DefaultBitDepth
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("wavio: unsupported bit depth %d", bitDepth)
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("wavio: invalid format %s", f)
	}
	return &Writer{
		enc:      wav.NewEncoder(w, f.SampleRate, bitDepth, f.Channels, wavFormatPCM),
		format:   f,
		bitDepth: bitDepth,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// WriteFrame appends fr to the stream. fr must match the writer's sample
// rate and channel count; planar frames are interleaved.
func (w *Writer) WriteFrame(fr audio.Frame) error {
	if fr.Format.SampleRate != w.format.SampleRate || fr.Format.Channels != w.format.Channels {
		return fmt.Errorf("wavio: frame format %s does not match stream %s", fr.Format, w.format)
	}
	return w.WriteSamples(fr.Interleave())
}

// WriteSamples appends interleaved samples to the stream.
func (w *Writer) WriteSamples(samples []float32) error {
	scale := fullScale(w.bitDepth)
	lo, hi := -scale, scale-1
	data := w.buf.Data[:0]
	for _, s := range samples {
		v := math.Round(float64(s) * scale)
		v = min(max(v, lo), hi)
		iv := int(v)
		if w.bitDepth == 8 {
			iv += 128
		}
		data = append(data, iv)
	}
	w.buf.Data = data
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("wavio: write: %w", err)
	}
	w.written += len(samples) / w.format.Channels
	return nil
}

// Written returns the number of samples per channel written so far.
func (w *Writer) Written() int { return w.written }

// Close finalises the WAV header. It does not close the destination.
func (w *Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("wavio: close: %w", err)
	}
	return nil
}

// WriteFile writes interleaved samples of format f to a new WAV file at path.
func WriteFile(path string, f audio.Format, samples []float32, bitDepth int) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavio: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	w, err := NewWriter(file, f, bitDepth)
	if err != nil {
		return err
	}
	if err := w.WriteSamples(samples); err != nil {
		return err
	}
	return w.Close()
}

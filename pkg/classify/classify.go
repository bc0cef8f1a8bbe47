// Package classify labels input frames with a [types.ContentKind].
//
// In production the verdict comes from an external audio model; the
// [Classifier] interface is the seam the stream driver consumes. [CueSheet]
// is a deterministic classifier driven by a YAML list of time ranges, used
// for replaying recorded streams whose ad breaks are known in advance.
package classify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/types"
)

// Classifier decides what kind of content a frame carries.
//
// Implementations are called once per frame from the stream goroutine and
// must return quickly.
type Classifier interface {
	Classify(fr audio.Frame) types.ContentKind
}

// Func adapts an ordinary function to [Classifier].
type Func func(fr audio.Frame) types.ContentKind

// Classify calls f(fr).
func (f Func) Classify(fr audio.Frame) types.ContentKind { return f(fr) }

// Static returns a classifier that labels every frame as kind.
func Static(kind types.ContentKind) Classifier {
	return Func(func(audio.Frame) types.ContentKind { return kind })
}

// Cue labels the half-open PTS range [Start, End).
type Cue struct {
	Start time.Duration     `yaml:"start"`
	End   time.Duration     `yaml:"end"`
	Kind  types.ContentKind `yaml:"kind"`
}

// Contains reports whether pts falls inside the cue.
func (c Cue) Contains(pts time.Duration) bool { return pts >= c.Start && pts < c.End }

// CueSheet classifies frames by their presentation timestamp.
//
// Example YAML:
//
//	default: music
//	cues:
//	  - start: 30s
//	    end: 1m15s
//	    kind: advertisement
//	  - start: 2m
//	    end: 2m30s
//	    kind: talk
type CueSheet struct {
	// Default is returned for timestamps outside every cue. Sheets loaded
	// without a default key fall back to music.
	Default types.ContentKind `yaml:"default"`

	// Cues are the labelled ranges. [CueSheet.Validate] sorts them by start.
	Cues []Cue `yaml:"cues"`
}

var _ Classifier = (*CueSheet)(nil)

// LoadCueSheet reads and validates a cue sheet from disk.
func LoadCueSheet(path string) (*CueSheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classify: open cue sheet %q: %w", path, err)
	}
	defer f.Close()

	cs, err := LoadCueSheetFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("classify: cue sheet %q: %w", path, err)
	}
	return cs, nil
}

// LoadCueSheetFromReader parses and validates cue sheet YAML from r.
func LoadCueSheetFromReader(r io.Reader) (*CueSheet, error) {
	cs := CueSheet{Default: types.Music}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("classify: decode cue sheet: %w", err)
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return &cs, nil
}

// Validate sorts the cues by start time and rejects empty, negative or
// overlapping ranges.
func (cs *CueSheet) Validate() error {
	sort.SliceStable(cs.Cues, func(i, j int) bool { return cs.Cues[i].Start < cs.Cues[j].Start })

	var errs []error
	for i, c := range cs.Cues {
		if c.Start < 0 {
			errs = append(errs, fmt.Errorf("cue %d: start %v is negative", i, c.Start))
		}
		if c.End <= c.Start {
			errs = append(errs, fmt.Errorf("cue %d: end %v must be after start %v", i, c.End, c.Start))
		}
		if i > 0 && c.Start < cs.Cues[i-1].End {
			errs = append(errs, fmt.Errorf("cue %d: starts at %v before cue %d ends at %v", i, c.Start, i-1, cs.Cues[i-1].End))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("classify: invalid cue sheet: %w", err)
	}
	return nil
}

// Classify returns the kind of the cue containing fr.PTS, or cs.Default.
func (cs *CueSheet) Classify(fr audio.Frame) types.ContentKind {
	return cs.KindAt(fr.PTS)
}

// KindAt returns the kind of the cue containing pts, or cs.Default. The cues
// must be sorted, which [CueSheet.Validate] guarantees.
func (cs *CueSheet) KindAt(pts time.Duration) types.ContentKind {
	i := sort.Search(len(cs.Cues), func(i int) bool { return cs.Cues[i].End > pts })
	if i < len(cs.Cues) && cs.Cues[i].Contains(pts) {
		return cs.Cues[i].Kind
	}
	return cs.Default
}

// AdTime returns the total duration covered by advertisement cues.
func (cs *CueSheet) AdTime() time.Duration {
	var total time.Duration
	for _, c := range cs.Cues {
		if c.Kind.IsAdvertisement() {
			total += c.End - c.Start
		}
	}
	return total
}

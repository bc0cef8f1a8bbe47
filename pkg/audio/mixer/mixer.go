package mixer

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
)

// Compile-time interface assertions.
var (
	_ audio.Mixer = (*AdsMixer)(nil)
	_ audio.Mixer = (*SilenceMixer)(nil)
	_ audio.Mixer = (*Passthrough)(nil)
)

// Option configures a mixer during construction.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for shape warnings. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// validateTrack checks that track is non-empty and that every frame shares
// the shape of the first.
func validateTrack(track []audio.Frame) error {
	if len(track) == 0 {
		return fmt.Errorf("mixer: ad track is empty")
	}
	for i, fr := range track[1:] {
		if err := track[0].CheckShape(fr); err != nil {
			return fmt.Errorf("mixer: ad track frame %d: %w", i+1, err)
		}
	}
	return nil
}

func validateTable(table []crossfade.Pair) error {
	if len(table) < 2 {
		return fmt.Errorf("mixer: %w: got %d", crossfade.ErrTableSize, len(table))
	}
	return nil
}

// Package wavdir implements an [ads.Inventory] backed by a directory of WAV
// files. Each file is one ad; its ID is the file name without extension.
//
// Decoded tracks are cached per ad and codec parameters. Concurrent requests
// for the same track share a single decode.
package wavdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/audio"
	"github.com/MrWong99/restreamer/pkg/audio/wavio"
)

// Compile-time interface assertion.
var _ ads.Inventory = (*Inventory)(nil)

// Inventory serves ads from the WAV files of one directory.
//
// All methods are safe for concurrent use.
type Inventory struct {
	dir    string
	logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string][]audio.Frame
}

// Option configures an [Inventory].
type Option func(*Inventory)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(inv *Inventory) {
		if l != nil {
			inv.logger = l
		}
	}
}

// New returns an inventory over dir. The directory must exist.
func New(dir string, opts ...Option) (*Inventory, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("wavdir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("wavdir: %s is not a directory", dir)
	}
	inv := &Inventory{
		dir:    dir,
		logger: slog.Default(),
		cache:  make(map[string][]audio.Frame),
	}
	for _, o := range opts {
		o(inv)
	}
	return inv, nil
}

// Content lists every readable WAV file, sorted by file name. Files that
// fail to parse are skipped with a warning.
func (inv *Inventory) Content(ctx context.Context) ([]ads.ContentItem, error) {
	entries, err := os.ReadDir(inv.dir)
	if err != nil {
		return nil, fmt.Errorf("wavdir: list %s: %w", inv.dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var items []ads.ContentItem
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !isWAV(e.Name()) {
			continue
		}
		path := filepath.Join(inv.dir, e.Name())
		info, err := readInfo(path)
		if err != nil {
			inv.logger.Warn("wavdir: skipping unreadable file", "path", path, "err", err)
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		items = append(items, ads.ContentItem{
			ID:       ads.AdID(name),
			Name:     name,
			Path:     path,
			Duration: info.Duration,
		})
	}
	return items, nil
}

// Get decodes ad id, converts it to params and cuts it into frames of
// params.SamplesPerFrame samples. The last frame is padded with silence.
func (inv *Inventory) Get(ctx context.Context, id ads.AdID, params ads.CodecParams) ([]audio.Frame, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("wavdir: %w", err)
	}
	key := string(id) + "@" + params.String()

	inv.mu.RLock()
	frames, ok := inv.cache[key]
	inv.mu.RUnlock()
	if ok {
		return frames, nil
	}

	v, err, _ := inv.group.Do(key, func() (any, error) {
		inv.mu.RLock()
		cached, ok := inv.cache[key]
		inv.mu.RUnlock()
		if ok {
			return cached, nil
		}
		frames, err := inv.load(ctx, id, params)
		if err != nil {
			return nil, err
		}
		inv.mu.Lock()
		inv.cache[key] = frames
		inv.mu.Unlock()
		return frames, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]audio.Frame), nil
}

func (inv *Inventory) load(ctx context.Context, id ads.AdID, params ads.CodecParams) ([]audio.Frame, error) {
	name := string(id)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("wavdir: invalid id %q: %w", name, ads.ErrNotFound)
	}
	path, err := inv.locate(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clip, err := wavio.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wavdir: %w", err)
	}

	target := params.Format()
	conv := audio.Converter{Target: audio.Format{
		SampleRate: target.SampleRate,
		Channels:   target.Channels,
		Layout:     audio.Interleaved,
	}}
	interleaved := conv.Convert(audio.FromInterleaved(clip.Format, clip.Samples, 0)).Planes[0]

	frames := audio.Reframe(target, interleaved, params.SamplesPerFrame)
	if len(frames) == 0 {
		return nil, fmt.Errorf("wavdir: %q is empty: %w", name, ads.ErrNotFound)
	}
	inv.logger.Debug("wavdir: track decoded",
		"ad_id", name,
		"frames", len(frames),
		"source", clip.Format.String(),
		"target", params.String(),
	)
	return frames, nil
}

// Evict drops every cached track. Subsequent calls to Get decode again.
func (inv *Inventory) Evict() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	clear(inv.cache)
}

// locate returns the path of the WAV file for ad name. The lowercase
// extension is tried first; any other casing of ".wav" is found by listing
// the directory.
func (inv *Inventory) locate(name string) (string, error) {
	path := filepath.Join(inv.dir, name+".wav")
	_, err := os.Stat(path)
	if err == nil {
		return path, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("wavdir: %w", err)
	}

	entries, err := os.ReadDir(inv.dir)
	if err != nil {
		return "", fmt.Errorf("wavdir: list %s: %w", inv.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !isWAV(e.Name()) {
			continue
		}
		if strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())) == name {
			return filepath.Join(inv.dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("wavdir: %q: %w", name, ads.ErrNotFound)
}

func isWAV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".wav")
}

func readInfo(path string) (wavio.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return wavio.Info{}, err
	}
	defer f.Close()
	return wavio.ReadInfo(f)
}

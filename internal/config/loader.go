package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/restreamer/pkg/audio/crossfade"
	"github.com/MrWong99/restreamer/pkg/types"
)

// ValidProviderNames lists the built-in provider names per role.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"inventory": {"wavdir", "postgres"},
	"reporter":  {"log", "postgres"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all validation failures
// found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Stream
	s := cfg.Stream
	if !s.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("stream.mode %q is invalid; valid values: passthrough, silence, ads", s.Mode))
	}
	if s.Language != "" {
		if !slices.Contains(SupportedLanguages, s.Language) {
			errs = append(errs, fmt.Errorf("stream.language %q is not supported; valid values: %v", s.Language, SupportedLanguages))
		}
		if s.Mode != ModeAds {
			slog.Warn("stream.language is only used in ads mode", "mode", s.Mode, "language", s.Language)
		}
	}
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("stream.sample_rate %d must be positive", s.SampleRate))
	}
	if s.Channels <= 0 {
		errs = append(errs, fmt.Errorf("stream.channels %d must be positive", s.Channels))
	}
	if !s.Layout.IsValid() {
		errs = append(errs, fmt.Errorf("stream.layout %q is invalid; valid values: planar, interleaved", s.Layout))
	}
	if s.SamplesPerFrame <= 0 {
		errs = append(errs, fmt.Errorf("stream.samples_per_frame %d must be positive", s.SamplesPerFrame))
	}
	if s.Buffer < 0 {
		errs = append(errs, fmt.Errorf("stream.buffer %d must not be negative", s.Buffer))
	}
	if _, err := crossfade.ByName(s.Crossfade.Curve); err != nil {
		errs = append(errs, fmt.Errorf("stream.crossfade.curve: %w", err))
	}
	if s.Crossfade.Frames < 2 {
		errs = append(errs, fmt.Errorf("stream.crossfade.frames %d must be at least 2", s.Crossfade.Frames))
	}
	if _, err := types.ParseContentKind(s.Classifier.Default); err != nil {
		errs = append(errs, fmt.Errorf("stream.classifier.default: %w", err))
	}
	if s.Classifier.CueSheet == "" && s.Mode != ModePassthrough {
		slog.Warn("stream.classifier.cue_sheet is empty; every frame is labelled with the default kind",
			"default", s.Classifier.Default)
	}

	// Ads
	a := cfg.Ads
	if s.Mode == ModeAds && len(a.Inventories) == 0 {
		errs = append(errs, fmt.Errorf("ads.inventories: at least one inventory is required in ads mode"))
	}
	for i, inv := range a.Inventories {
		if inv.Name == "" {
			errs = append(errs, fmt.Errorf("ads.inventories[%d].name is required", i))
			continue
		}
		validateProviderName("inventory", inv.Name)
		if inv.Name == "postgres" && a.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("ads.inventories[%d]: inventory %q requires ads.postgres_dsn", i, inv.Name))
		}
	}
	validateProviderName("reporter", a.Reporter.Name)
	if a.Reporter.Name == "postgres" && a.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("ads.reporter: reporter %q requires ads.postgres_dsn", a.Reporter.Name))
	}
	if a.ClientID != "" {
		if _, err := uuid.Parse(a.ClientID); err != nil {
			errs = append(errs, fmt.Errorf("ads.client_id %q is not a UUID: %w", a.ClientID, err))
		}
	}
	cb := a.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("ads.circuit_breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given role.
func validateProviderName(role, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[role]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"role", role,
		"name", name,
		"known", known,
	)
}

// Package types defines the shared types used across all restreamer packages.
//
// These types are shared by the classifier, the mixers and the stream driver.
// Each package defines its own domain types; only cross-cutting data
// structures live here.
package types

import (
	"fmt"
	"strings"
)

// ContentKind is the classifier's verdict for a single input frame.
type ContentKind int

const (
	// Unknown is used when the classifier could not decide. Mixers treat it
	// like regular programme content.
	Unknown ContentKind = iota

	// Music marks musical programme content.
	Music

	// Talk marks spoken programme content (hosts, news, interviews).
	Talk

	// Advertisement marks a commercial break that should be replaced.
	Advertisement
)

// String returns the lower-case name of the content kind.
func (k ContentKind) String() string {
	switch k {
	case Music:
		return "music"
	case Talk:
		return "talk"
	case Advertisement:
		return "advertisement"
	default:
		return "unknown"
	}
}

// IsAdvertisement reports whether k marks a commercial break.
func (k ContentKind) IsAdvertisement() bool { return k == Advertisement }

// ParseContentKind converts a case-insensitive name into a [ContentKind].
// "ad" is accepted as a short form of "advertisement".
func ParseContentKind(s string) (ContentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "music":
		return Music, nil
	case "talk":
		return Talk, nil
	case "advertisement", "ad":
		return Advertisement, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("types: unknown content kind %q", s)
}

// UnmarshalText implements [encoding.TextUnmarshaler] so content kinds can be
// read directly from YAML cue sheets and config files.
func (k *ContentKind) UnmarshalText(text []byte) error {
	v, err := ParseContentKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (k ContentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

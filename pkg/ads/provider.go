// Package ads defines the ad inventory contract consumed by the splicing core
// and the [Planner] that rotates through it.
//
// An ad provider is split into two roles. An [Inventory] lists the available
// ad assets and hands out their decoded frames normalised to a session's
// [CodecParams]. A [Reporter] receives playback lifecycle events so plays can
// be billed or audited. [Compose] joins the two into a [Provider].
//
// All implementations must be safe for concurrent use.
package ads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/restreamer/pkg/audio"
)

// ErrNotFound is returned by [Inventory.Get] when no track exists for the
// requested ID.
var ErrNotFound = errors.New("ads: track not found")

// ErrEmptyPlan is returned by [NewPlanner] when the inventory lists no ads.
var ErrEmptyPlan = errors.New("ads: inventory is empty")

// AdID identifies one ad asset. It is opaque to the core.
type AdID string

// String returns the ID as a plain string.
func (id AdID) String() string { return string(id) }

// ContentItem describes one ad asset in an inventory listing.
type ContentItem struct {
	// ID is the asset identifier passed back to [Inventory.Get].
	ID AdID

	// Name is a human-readable label.
	Name string

	// Path locates the asset in the backing store. May be empty.
	Path string

	// Duration is the playback length of the asset. Zero when unknown.
	Duration time.Duration
}

// CodecParams is the target shape of one output stream. Ad tracks are
// returned already normalised to it so they can be mixed sample by sample
// with the programme.
type CodecParams struct {
	SampleRate      int
	Channels        int
	Layout          audio.Layout
	SamplesPerFrame int
}

// Format returns the sample format described by p.
func (p CodecParams) Format() audio.Format {
	return audio.Format{SampleRate: p.SampleRate, Channels: p.Channels, Layout: p.Layout}
}

// Validate reports whether p describes a usable stream.
func (p CodecParams) Validate() error {
	var errs []error
	if p.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", p.SampleRate))
	}
	if p.Channels <= 0 {
		errs = append(errs, fmt.Errorf("channels must be positive, got %d", p.Channels))
	}
	if p.SamplesPerFrame <= 0 {
		errs = append(errs, fmt.Errorf("samples per frame must be positive, got %d", p.SamplesPerFrame))
	}
	return errors.Join(errs...)
}

// String returns a compact form such as "48000Hz/2ch/fltp/1024".
func (p CodecParams) String() string {
	return fmt.Sprintf("%dHz/%dch/%s/%d", p.SampleRate, p.Channels, p.Layout, p.SamplesPerFrame)
}

// Inventory lists ad assets and serves their decoded frames.
type Inventory interface {
	// Content returns every ad currently available, in rotation order.
	Content(ctx context.Context) ([]ContentItem, error)

	// Get returns the frames of ad id normalised to params. All returned
	// frames share the same shape. Returns an error wrapping [ErrNotFound]
	// when the inventory has no such ad.
	Get(ctx context.Context, id AdID, params CodecParams) ([]audio.Frame, error)
}

// Reporter receives playback lifecycle events.
type Reporter interface {
	// ReportStarted records that client began playing ad id.
	ReportStarted(ctx context.Context, client uuid.UUID, id AdID) error

	// ReportFinished records that client finished playing ad id, which
	// started at started.
	ReportFinished(ctx context.Context, client uuid.UUID, id AdID, started time.Time) error
}

// Provider is the full ad provider contract used by [Planner].
type Provider interface {
	Inventory
	Reporter
}

type composed struct {
	Inventory
	Reporter
}

// Compose returns a [Provider] serving content from inv and sending
// lifecycle events to rep.
func Compose(inv Inventory, rep Reporter) Provider {
	return composed{Inventory: inv, Reporter: rep}
}

// LogReporter is a [Reporter] that only writes lifecycle events to a
// structured log. It is used when no persistent play store is configured.
type LogReporter struct {
	Logger *slog.Logger
}

var _ Reporter = LogReporter{}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ReportStarted logs the start event. It never fails.
func (r LogReporter) ReportStarted(ctx context.Context, client uuid.UUID, id AdID) error {
	r.logger().InfoContext(ctx, "ad started", "client", client, "ad_id", id)
	return nil
}

// ReportFinished logs the finish event with the play duration. It never
// fails.
func (r LogReporter) ReportFinished(ctx context.Context, client uuid.UUID, id AdID, started time.Time) error {
	r.logger().InfoContext(ctx, "ad finished",
		"client", client,
		"ad_id", id,
		"played", time.Since(started).Round(time.Millisecond),
	)
	return nil
}

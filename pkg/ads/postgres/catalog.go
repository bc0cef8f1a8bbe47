package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/restreamer/pkg/ads"
	"github.com/MrWong99/restreamer/pkg/audio"
)

// Compile-time interface check.
var _ ads.Inventory = (*Catalog)(nil)

// Catalog lists the enabled rows of ad_catalog as the ad rotation and serves
// their frames from another inventory, typically a directory of audio files.
type Catalog struct {
	db     DB
	frames ads.Inventory
}

// NewCatalog returns a catalog reading rows from db and decoding assets
// through frames.
func NewCatalog(db DB, frames ads.Inventory) *Catalog {
	return &Catalog{db: db, frames: frames}
}

// Content returns the enabled ads ordered by position, then ID.
func (c *Catalog) Content(ctx context.Context) ([]ads.ContentItem, error) {
	const query = `
		SELECT id, name, path, duration_ms
		FROM ad_catalog
		WHERE enabled
		ORDER BY position, id`

	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ads postgres: list catalog: %w", err)
	}
	defer rows.Close()

	var items []ads.ContentItem
	for rows.Next() {
		var (
			id, name, path string
			durationMS     int64
		)
		if err := rows.Scan(&id, &name, &path, &durationMS); err != nil {
			return nil, fmt.Errorf("ads postgres: scan catalog: %w", err)
		}
		items = append(items, ads.ContentItem{
			ID:       ads.AdID(id),
			Name:     name,
			Path:     path,
			Duration: time.Duration(durationMS) * time.Millisecond,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ads postgres: iterate catalog: %w", err)
	}
	return items, nil
}

// Get delegates to the frame inventory.
func (c *Catalog) Get(ctx context.Context, id ads.AdID, params ads.CodecParams) ([]audio.Frame, error) {
	return c.frames.Get(ctx, id, params)
}

// Upsert inserts item into the catalog at position, or updates the row with
// the same ID. The row is (re)enabled.
func (c *Catalog) Upsert(ctx context.Context, item ads.ContentItem, position int) error {
	const query = `
		INSERT INTO ad_catalog (id, name, path, duration_ms, position, enabled)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			path        = EXCLUDED.path,
			duration_ms = EXCLUDED.duration_ms,
			position    = EXCLUDED.position,
			enabled     = TRUE`

	if item.ID == "" {
		return fmt.Errorf("ads postgres: upsert: empty ad id")
	}
	if _, err := c.db.Exec(ctx, query,
		string(item.ID), item.Name, item.Path, item.Duration.Milliseconds(), position,
	); err != nil {
		return fmt.Errorf("ads postgres: upsert %q: %w", item.ID, err)
	}
	return nil
}

// Disable removes id from the rotation without deleting its play history.
// It returns an error wrapping [ads.ErrNotFound] if the catalog has no such
// row.
func (c *Catalog) Disable(ctx context.Context, id ads.AdID) error {
	tag, err := c.db.Exec(ctx, `UPDATE ad_catalog SET enabled = FALSE WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("ads postgres: disable %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ads postgres: disable %q: %w", id, ads.ErrNotFound)
	}
	return nil
}

// Sync upserts every item in listing order, so the catalog mirrors an
// inventory such as a directory of files.
func (c *Catalog) Sync(ctx context.Context, items []ads.ContentItem) error {
	for i, item := range items {
		if err := c.Upsert(ctx, item, i); err != nil {
			return err
		}
	}
	return nil
}

// Package postgres persists ad playback reports and the ad catalog in
// PostgreSQL.
//
// [Store] implements [ads.Reporter]: every ad start inserts a row into
// ad_plays and the matching finish closes it. [Catalog] implements
// [ads.Inventory] by listing the rotation from ad_catalog and delegating the
// decoding of each asset to another inventory.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	provider := ads.Compose(postgres.NewCatalog(store.DB(), files), store)
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/restreamer/pkg/ads"
)

// Schema is the SQL DDL for the ad_catalog and ad_plays tables. Execute it
// via [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS ad_catalog (
    id          TEXT        PRIMARY KEY,
    name        TEXT        NOT NULL DEFAULT '',
    path        TEXT        NOT NULL DEFAULT '',
    duration_ms BIGINT      NOT NULL DEFAULT 0,
    position    INTEGER     NOT NULL DEFAULT 0,
    enabled     BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ad_plays (
    id          BIGSERIAL   PRIMARY KEY,
    client_id   TEXT        NOT NULL,
    ad_id       TEXT        NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_ad_plays_client ON ad_plays(client_id, ad_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_ad_plays_started ON ad_plays(started_at);
`

// DB is the database interface used by [Store] and [Catalog]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ ads.Reporter = (*Store)(nil)

// Store records ad plays. It is safe for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
	now  func() time.Time
}

// New returns a [Store] over an existing connection or pool. The caller is
// responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// NewStore connects to the PostgreSQL database at dsn, verifies the
// connection and applies [Schema].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ads postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ads postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ads postgres: ping: %w", err)
	}

	s := New(pool)
	s.pool = pool
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the connection used by the store.
func (s *Store) DB() DB { return s.db }

// Close releases the pool opened by [NewStore]. It is a no-op for stores
// created with [New].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ads postgres: ping: %w", err)
	}
	return nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ads postgres: migrate: %w", err)
	}
	return nil
}

// ReportStarted inserts an open play row for client and id.
func (s *Store) ReportStarted(ctx context.Context, client uuid.UUID, id ads.AdID) error {
	const query = `
		INSERT INTO ad_plays (client_id, ad_id, started_at)
		VALUES ($1, $2, $3)`

	if _, err := s.db.Exec(ctx, query, client.String(), string(id), s.now().UTC()); err != nil {
		return fmt.Errorf("ads postgres: report started %q: %w", id, err)
	}
	return nil
}

// ReportFinished closes the most recent open play of id by client. When no
// open row exists, for example because the start report was lost, a complete
// row is inserted using started as the start time.
func (s *Store) ReportFinished(ctx context.Context, client uuid.UUID, id ads.AdID, started time.Time) error {
	const update = `
		UPDATE ad_plays SET finished_at = $3
		WHERE id = (
			SELECT id FROM ad_plays
			WHERE client_id = $1 AND ad_id = $2 AND finished_at IS NULL
			ORDER BY started_at DESC
			LIMIT 1
		)`

	finished := s.now().UTC()
	tag, err := s.db.Exec(ctx, update, client.String(), string(id), finished)
	if err != nil {
		return fmt.Errorf("ads postgres: report finished %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	const insert = `
		INSERT INTO ad_plays (client_id, ad_id, started_at, finished_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, insert, client.String(), string(id), started.UTC(), finished); err != nil {
		return fmt.Errorf("ads postgres: report finished %q: %w", id, err)
	}
	return nil
}

// PlayStat aggregates the plays of one ad.
type PlayStat struct {
	ID ads.AdID

	// Plays counts every started play.
	Plays int64

	// Completed counts plays that were reported finished.
	Completed int64

	// LastPlayed is the start time of the most recent play.
	LastPlayed time.Time
}

// Stats returns per-ad play counts for plays started at or after since,
// ordered by ad ID.
func (s *Store) Stats(ctx context.Context, since time.Time) ([]PlayStat, error) {
	const query = `
		SELECT ad_id, count(*), count(finished_at), max(started_at)
		FROM ad_plays
		WHERE started_at >= $1
		GROUP BY ad_id
		ORDER BY ad_id`

	rows, err := s.db.Query(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("ads postgres: stats: %w", err)
	}
	defer rows.Close()

	var stats []PlayStat
	for rows.Next() {
		var (
			st PlayStat
			id string
		)
		if err := rows.Scan(&id, &st.Plays, &st.Completed, &st.LastPlayed); err != nil {
			return nil, fmt.Errorf("ads postgres: scan stats: %w", err)
		}
		st.ID = ads.AdID(id)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ads postgres: iterate stats: %w", err)
	}
	return stats, nil
}

// OpenPlays returns the number of plays by client that were started but
// never reported finished.
func (s *Store) OpenPlays(ctx context.Context, client uuid.UUID) (int64, error) {
	const query = `SELECT count(*) FROM ad_plays WHERE client_id = $1 AND finished_at IS NULL`

	var n int64
	if err := s.db.QueryRow(ctx, query, client.String()).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ads postgres: open plays: %w", err)
	}
	return n, nil
}

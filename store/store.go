// Package store is the out-of-scope persistence collaborator: a
// Postgres-backed implementation of the repositories the core needs for
// video sources, videos, pages, and the versioned config snapshot.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres wraps a pgx connection pool and exposes the repository methods
// used by config, source, workflow, and task.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool against dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping verifies the pool can still reach the database, for readiness
// probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Stat exposes pool statistics for the ambient database-pool metrics.
func (p *Postgres) Stat() (maxConns, acquired int32) {
	s := p.pool.Stat()
	return s.MaxConns(), s.AcquiredConns()
}

const schema = `
CREATE TABLE IF NOT EXISTS video_sources (
	id BIGSERIAL PRIMARY KEY,
	kind SMALLINT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	path TEXT NOT NULL,
	latest_row_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	rule_expr TEXT NOT NULL DEFAULT '',
	use_dynamic_api BOOLEAN NOT NULL DEFAULT FALSE,
	fid TEXT NOT NULL DEFAULT '',
	sid TEXT NOT NULL DEFAULT '',
	mid TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS videos (
	id BIGSERIAL PRIMARY KEY,
	bvid TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	upper_id TEXT NOT NULL,
	upper_name TEXT NOT NULL,
	pubtime TIMESTAMPTZ NOT NULL,
	favtime TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	source_id BIGINT NOT NULL REFERENCES video_sources(id),
	source_kind SMALLINT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	single_page BOOLEAN,
	should_download BOOLEAN NOT NULL DEFAULT TRUE,
	is_paid_video BOOLEAN NOT NULL DEFAULT FALSE,
	valid BOOLEAN NOT NULL DEFAULT TRUE,
	download_status INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pages (
	id BIGSERIAL PRIMARY KEY,
	video_id BIGINT NOT NULL REFERENCES videos(id),
	pid INTEGER NOT NULL,
	cid TEXT NOT NULL,
	name TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	width INTEGER,
	height INTEGER,
	path TEXT NOT NULL DEFAULT '',
	download_status INTEGER NOT NULL DEFAULT 0,
	UNIQUE (video_id, cid)
);

CREATE TABLE IF NOT EXISTS config (
	id SMALLINT PRIMARY KEY DEFAULT 1,
	version BIGINT NOT NULL,
	payload JSONB NOT NULL,
	CHECK (id = 1)
);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Migrate applies the schema idempotently.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

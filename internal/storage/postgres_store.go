package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qepting91/listing-watcher/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS snapshot_sources (
	source_key TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	saved_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_entries (
	source_key  TEXT NOT NULL,
	link        TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (source_key, link)
);`

// PostgresStore is the shared-database variant of SQLiteStore, for
// deployments that already run Postgres.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("PG_DSN parse: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("PG connect: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Load(ctx context.Context, sourceURL string) domain.Snapshot {
	snap, err := s.read(ctx, sourceURL)
	if err != nil {
		s.logger.Warn("Snapshot unreadable, starting empty", "source", sourceURL, "err", err)
		return domain.Snapshot{}
	}
	return snap
}

func (s *PostgresStore) read(ctx context.Context, sourceURL string) (domain.Snapshot, error) {
	key := SourceKey(sourceURL)

	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT source_url FROM snapshot_sources WHERE source_key = $1`, key).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreRead, err)
	}
	if owner != sourceURL {
		return nil, fmt.Errorf("%w: key owned by %q", domain.ErrStoreRead, owner)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT link, fingerprint FROM snapshot_entries WHERE source_key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreRead, err)
	}
	defer rows.Close()

	snap := domain.Snapshot{}
	for rows.Next() {
		var link, fp string
		if err := rows.Scan(&link, &fp); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrStoreRead, err)
		}
		snap[link] = domain.Fingerprint(fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreRead, err)
	}
	return snap, nil
}

func (s *PostgresStore) Save(ctx context.Context, sourceURL string, snap domain.Snapshot) error {
	key := SourceKey(sourceURL)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreWrite, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM snapshot_entries WHERE source_key = $1`, key); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	batch := &pgx.Batch{}
	for _, e := range entries(snap) {
		batch.Queue(`INSERT INTO snapshot_entries (source_key, link, fingerprint) VALUES ($1, $2, $3)`,
			key, e.Link, string(e.Fingerprint))
	}
	batch.Queue(`INSERT INTO snapshot_sources (source_key, source_url, saved_at) VALUES ($1, $2, $3)
		ON CONFLICT (source_key) DO UPDATE SET source_url = EXCLUDED.source_url, saved_at = EXCLUDED.saved_at`,
		key, sourceURL, time.Now().UTC())
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/qepting91/listing-watcher/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot_sources (
	source_key TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	saved_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_entries (
	source_key  TEXT NOT NULL,
	link        TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	PRIMARY KEY (source_key, link)
);`

// SQLiteStore keeps every source's snapshot in one SQLite file.
// A save replaces the source's rows inside a single transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) snapshots.db in dir.
func NewSQLiteStore(dir string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return OpenSQLite(filepath.Join(dir, "snapshots.db"), logger)
}

// OpenSQLite opens the database at path and applies the schema.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sourceURL string) domain.Snapshot {
	snap, err := s.read(ctx, sourceURL)
	if err != nil {
		s.logger.Warn("Snapshot unreadable, starting empty", "source", sourceURL, "err", err)
		return domain.Snapshot{}
	}
	return snap
}

func (s *SQLiteStore) read(ctx context.Context, sourceURL string) (domain.Snapshot, error) {
	key := SourceKey(sourceURL)

	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_url FROM snapshot_sources WHERE source_key = ?`, key).Scan(&owner)
	if err == sql.ErrNoRows {
		return domain.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreRead, err)
	}
	if owner != sourceURL {
		return nil, fmt.Errorf("%w: key owned by %q", domain.ErrStoreRead, owner)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT link, fingerprint FROM snapshot_entries WHERE source_key = ?`, key)
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

func (s *SQLiteStore) Save(ctx context.Context, sourceURL string, snap domain.Snapshot) error {
	key := SourceKey(sourceURL)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_entries WHERE source_key = ?`, key); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_entries (source_key, link, fingerprint) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	defer stmt.Close()

	for _, e := range entries(snap) {
		if _, err := stmt.ExecContext(ctx, key, e.Link, string(e.Fingerprint)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_sources (source_key, source_url, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(source_key) DO UPDATE SET source_url = excluded.source_url, saved_at = excluded.saved_at`,
		key, sourceURL, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

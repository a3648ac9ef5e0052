package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// Open selects the snapshot backend
func Open(ctx context.Context, backend, dir, dsn string, logger *slog.Logger) (domain.SnapshotStore, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir, logger)
	case "sqlite":
		return NewSQLiteStore(dir, logger)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("%w: PG_DSN is required for the postgres backend", domain.ErrConfig)
		}
		return NewPostgresStore(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("%w: unknown STORE_BACKEND: %s (use 'file', 'sqlite', or 'postgres')", domain.ErrConfig, backend)
	}
}

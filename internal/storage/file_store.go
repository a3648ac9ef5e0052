package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// Entry is one link/fingerprint pair as persisted
type Entry struct {
	Link        string             `json:"link"`
	Fingerprint domain.Fingerprint `json:"fingerprint"`
}

type document struct {
	SourceURL string    `json:"source_url"`
	SavedAt   time.Time `json:"saved_at"`
	Entries   []Entry   `json:"entries"`
}

// entries flattens a snapshot into pairs sorted by link
func entries(snap domain.Snapshot) []Entry {
	out := make([]Entry, 0, len(snap))
	for link, fp := range snap {
		out = append(out, Entry{Link: link, Fingerprint: fp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Link < out[j].Link })
	return out
}

// FileStore keeps one JSON document per source in Dir.
// Writes go to a temp file that is renamed over the previous document,
// so a failed save never leaves a half-written snapshot behind.
type FileStore struct {
	Dir    string
	Logger *slog.Logger
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store dir: %v", domain.ErrStoreWrite, err)
	}
	return &FileStore{Dir: dir, Logger: logger}, nil
}

func (fs *FileStore) path(sourceURL string) string {
	return filepath.Join(fs.Dir, SourceKey(sourceURL)+".json")
}

func (fs *FileStore) Load(_ context.Context, sourceURL string) domain.Snapshot {
	snap, err := fs.read(sourceURL)
	if err != nil {
		fs.Logger.Warn("Snapshot unreadable, starting empty", "source", sourceURL, "err", err)
		return domain.Snapshot{}
	}
	return snap
}

func (fs *FileStore) read(sourceURL string) (domain.Snapshot, error) {
	raw, err := os.ReadFile(fs.path(sourceURL))
	if os.IsNotExist(err) {
		return domain.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreRead, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrStoreRead, err)
	}
	if doc.SourceURL != sourceURL {
		return nil, fmt.Errorf("%w: document belongs to %q", domain.ErrStoreRead, doc.SourceURL)
	}

	snap := make(domain.Snapshot, len(doc.Entries))
	for _, e := range doc.Entries {
		snap[e.Link] = e.Fingerprint
	}
	return snap, nil
}

func (fs *FileStore) Save(_ context.Context, sourceURL string, snap domain.Snapshot) error {
	raw, err := json.MarshalIndent(document{
		SourceURL: sourceURL,
		SavedAt:   time.Now().UTC(),
		Entries:   entries(snap),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", domain.ErrStoreWrite, err)
	}

	target := fs.path(sourceURL)
	tmp, err := os.CreateTemp(fs.Dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

func (fs *FileStore) Close() error { return nil }

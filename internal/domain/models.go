package domain

import "context"

// Source is one monitored search-results page
type Source struct {
	URL   string `json:"url" yaml:"url"`
	Label string `json:"label,omitempty" yaml:"label"`
}

// Name returns the label, falling back to the URL
func (s Source) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return s.URL
}

// Listing is a single classified ad as scraped from a source page.
// Link is always absolute and is the identity key.
type Listing struct {
	SourceURL    string `json:"source_url"`
	Link         string `json:"link"`
	Title        string `json:"title"`
	Price        string `json:"price"`
	Condition    string `json:"condition"`
	LocationDate string `json:"location_date"`
	ImageURL     string `json:"image_url,omitempty"`
}

// Fingerprint summarises the mutable fields of a Listing
type Fingerprint string

// Snapshot maps listing link to fingerprint for one source
type Snapshot map[string]Fingerprint

// ChangeType tags a ChangeRecord
type ChangeType string

const (
	ChangeNew     ChangeType = "New"
	ChangeUpdated ChangeType = "Updated"
)

// ChangeRecord is a listing that is new or differs from the stored snapshot
type ChangeRecord struct {
	Listing
	ChangeType ChangeType `json:"change_type"`
}

// Collector fetches the current listings of a source page
type Collector interface {
	Scrape(ctx context.Context, sourceURL string) ([]Listing, error)
}

// SnapshotStore persists the latest snapshot per source.
// Load never fails: missing or corrupt data is an empty snapshot.
type SnapshotStore interface {
	Load(ctx context.Context, sourceURL string) Snapshot
	Save(ctx context.Context, sourceURL string, snap Snapshot) error
	Close() error
}

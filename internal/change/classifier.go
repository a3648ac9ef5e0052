// Package change decides which scraped listings are new or updated
// relative to the last stored snapshot of their source.
package change

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// fingerprintFields fixes the serialized key order. Link is identity and
// ImageURL is ignored, so neither takes part.
type fingerprintFields struct {
	Title        string `json:"title"`
	Price        string `json:"price"`
	Condition    string `json:"condition"`
	LocationDate string `json:"locationDate"`
}

// Fingerprint serializes the fields that count as a change.
func Fingerprint(l domain.Listing) domain.Fingerprint {
	b, err := json.Marshal(fingerprintFields{
		Title:        l.Title,
		Price:        l.Price,
		Condition:    l.Condition,
		LocationDate: l.LocationDate,
	})
	if err != nil {
		// strings only, cannot fail
		panic(err)
	}
	return domain.Fingerprint(b)
}

// Classify compares observed listings against prev and returns the
// snapshot that replaces it plus one record per new or updated link.
//
// Listings absent from observed are dropped from the result with no
// record; there is no "removed" change type. When a link occurs more
// than once the last occurrence wins and only one record is emitted, in
// the position of the first occurrence. prev is not modified.
func Classify(prev domain.Snapshot, observed []domain.Listing) (domain.Snapshot, []domain.ChangeRecord) {
	next := make(domain.Snapshot, len(observed))
	last := make(map[string]int, len(observed))
	var order []string

	for i, l := range observed {
		if _, seen := last[l.Link]; !seen {
			order = append(order, l.Link)
		}
		last[l.Link] = i
		next[l.Link] = Fingerprint(l)
	}

	var changes []domain.ChangeRecord
	for _, link := range order {
		l := observed[last[link]]
		fp := next[link]

		old, known := prev[link]
		switch {
		case !known:
			changes = append(changes, domain.ChangeRecord{Listing: l, ChangeType: domain.ChangeNew})
		case old != fp:
			changes = append(changes, domain.ChangeRecord{Listing: l, ChangeType: domain.ChangeUpdated})
		}
	}
	return next, changes
}

// NormalizeLink resolves href against the source page URL so that
// relative card links become absolute identity keys. Returns "" for an
// empty or unparseable href.
func NormalizeLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ""
	}
	return b.ResolveReference(ref).String()
}

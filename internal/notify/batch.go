// Package notify collects one cycle's change records into a digest and
// delivers it.
package notify

import (
	"context"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// Notifier delivers a rendered digest
type Notifier interface {
	Deliver(ctx context.Context, d Digest) error
}

// Group is the records of one source, in the order they were accumulated
type Group struct {
	SourceURL string
	Label     string
	Records   []domain.ChangeRecord
}

// Name is the heading used for the group in a digest
func (g Group) Name() string {
	return domain.Source{URL: g.SourceURL, Label: g.Label}.Name()
}

// Batch accumulates change records across the sources of one cycle.
// The zero value is ready to use. Not safe for concurrent use.
type Batch struct {
	groups []*Group
	index  map[string]*Group
	total  int
}

// Label names a source in the rendered digest. Optional.
func (b *Batch) Label(sourceURL, label string) {
	b.group(sourceURL).Label = label
}

// Accumulate appends records, grouping them by their source URL.
func (b *Batch) Accumulate(records ...domain.ChangeRecord) {
	for _, r := range records {
		g := b.group(r.SourceURL)
		g.Records = append(g.Records, r)
		b.total++
	}
}

func (b *Batch) group(sourceURL string) *Group {
	if b.index == nil {
		b.index = make(map[string]*Group)
	}
	g, ok := b.index[sourceURL]
	if !ok {
		g = &Group{SourceURL: sourceURL}
		b.index[sourceURL] = g
		b.groups = append(b.groups, g)
	}
	return g
}

// ShouldNotify reports whether there is anything to send
func (b *Batch) ShouldNotify() bool { return b.total > 0 }

// Len is the number of accumulated records
func (b *Batch) Len() int { return b.total }

// Groups returns the non-empty groups in order of first appearance.
func (b *Batch) Groups() []Group {
	var out []Group
	for _, g := range b.groups {
		if len(g.Records) == 0 {
			continue
		}
		out = append(out, Group{
			SourceURL: g.SourceURL,
			Label:     g.Label,
			Records:   append([]domain.ChangeRecord(nil), g.Records...),
		})
	}
	return out
}

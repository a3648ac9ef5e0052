package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// MockClient implements domain.Collector but returns fake data.
// Prices are fixed, so repeated cycles settle to no changes.
type MockClient struct {
	Count int
}

func NewMockClient() *MockClient {
	return &MockClient{Count: 5}
}

func (mc *MockClient) Scrape(ctx context.Context, sourceURL string) ([]domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}

	base := strings.TrimRight(sourceURL, "/")
	var listings []domain.Listing
	for i := 0; i < mc.Count; i++ {
		listings = append(listings, domain.Listing{
			SourceURL:    sourceURL,
			Link:         fmt.Sprintf("%s/mock-listing-%d.html", base, i),
			Title:        fmt.Sprintf("Simulated listing #%d", i),
			Price:        fmt.Sprintf("%d zł", 100+i*25),
			Condition:    "Używane",
			LocationDate: "Warszawa - Dzisiaj",
			ImageURL:     "http://localhost/mock.jpg",
		})
	}
	return listings, nil
}

func (mc *MockClient) Close() error { return nil }

package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// PublicClient fetches the results page with a plain GET. Works for
// pages that render their cards server-side.
type PublicClient struct {
	httpClient *http.Client
	userAgent  string
}

func NewPublicClient(userAgent string, timeout time.Duration) *PublicClient {
	return &PublicClient{
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

func (pc *PublicClient) Scrape(ctx context.Context, sourceURL string) ([]domain.Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	req.Header.Set("User-Agent", pc.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrFetch, sourceURL, resp.StatusCode)
	}

	return ParseListings(sourceURL, resp.Body)
}

func (pc *PublicClient) Close() error { return nil }

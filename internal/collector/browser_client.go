package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/qepting91/listing-watcher/internal/domain"
)

// BrowserClient renders result pages in headless Chrome. One browser is
// launched at startup and reused for every scrape until Close.
type BrowserClient struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewBrowserClient launches a local Chrome (bin may be empty to let rod
// locate one) or connects to remoteURL when set.
func NewBrowserClient(bin, remoteURL string, timeout time.Duration, logger *slog.Logger) (*BrowserClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bc := &BrowserClient{timeout: timeout, logger: logger}

	wsURL := remoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(true).
			Set("no-sandbox").
			Set("disable-blink-features", "AutomationControlled")
		if bin != "" {
			l = l.Bin(bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		bc.lnch = l
		logger.Info("Launched local chrome", "url", wsURL)
	} else {
		logger.Info("Connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if bc.lnch != nil {
			bc.lnch.Kill()
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	bc.browser = b
	return bc, nil
}

func (bc *BrowserClient) Scrape(ctx context.Context, sourceURL string) ([]domain.Listing, error) {
	page, err := stealth.Page(bc.browser)
	if err != nil {
		return nil, fmt.Errorf("%w: open tab: %v", domain.ErrFetch, err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, bc.timeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(sourceURL); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %v", domain.ErrFetch, sourceURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		bc.logger.Warn("Wait load timeout", "url", sourceURL, "err", err)
	}
	// cards are injected by client-side rendering after load
	if err := p.WaitStable(time.Second); err != nil {
		bc.logger.Warn("Page did not settle", "url", sourceURL, "err", err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("%w: read DOM: %v", domain.ErrFetch, err)
	}
	return ParseListings(sourceURL, strings.NewReader(html))
}

// Close shuts the browser down and, for a local launch, removes its
// profile directory.
func (bc *BrowserClient) Close() error {
	err := bc.browser.Close()
	if bc.lnch != nil {
		bc.lnch.Cleanup()
	}
	return err
}

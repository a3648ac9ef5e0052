package collector

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/qepting91/listing-watcher/internal/config"
	"github.com/qepting91/listing-watcher/internal/domain"
)

// Client is a collector holding resources that must be released on shutdown
type Client interface {
	domain.Collector
	io.Closer
}

// NewCollector selects the correct implementation based on COLLECTOR_MODE
func NewCollector(cfg *config.Config, logger *slog.Logger) (Client, error) {
	switch cfg.CollectorMode {
	case "browser":
		return NewBrowserClient(cfg.ChromeBin, cfg.ChromeRemoteURL, cfg.ScrapeTimeout, logger)
	case "http":
		return NewPublicClient(cfg.UserAgent, cfg.ScrapeTimeout), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("%w: unknown COLLECTOR_MODE: %s (use 'browser', 'http', or 'mock')", domain.ErrConfig, cfg.CollectorMode)
	}
}

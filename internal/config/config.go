// Package config reads the watcher settings from the environment (and an
// optional .env file). Anything invalid is reported as domain.ErrConfig.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/qepting91/listing-watcher/internal/domain"
	"github.com/qepting91/listing-watcher/internal/ingest"
)

type Config struct {
	Sources  []domain.Source
	Interval time.Duration
	LogLevel slog.Level

	CollectorMode   string
	ChromeBin       string
	ChromeRemoteURL string
	ScrapeTimeout   time.Duration
	UserAgent       string

	StoreBackend string
	StoreDir     string
	PostgresDSN  string

	MailMode      string
	SMTPHost      string
	SMTPPort      int
	EmailUser     string
	EmailPass     string
	EmailTo       string
	SubjectPrefix string

	// Port for the dashboard and /metrics; empty disables the listener
	Port string
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests need not touch
// the real environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		CollectorMode:   get("COLLECTOR_MODE", "browser"),
		ChromeBin:       get("CHROME_BIN", ""),
		ChromeRemoteURL: get("CHROME_REMOTE_URL", ""),
		UserAgent:       get("USER_AGENT", defaultUserAgent),
		StoreBackend:    get("STORE_BACKEND", "file"),
		StoreDir:        get("STORE_DIR", "data"),
		PostgresDSN:     get("PG_DSN", ""),
		MailMode:        get("MAIL_MODE", "smtp"),
		SMTPHost:        get("SMTP_HOST", "smtp.gmail.com"),
		EmailUser:       get("EMAIL_USER", ""),
		EmailPass:       getenv("EMAIL_PASS"),
		EmailTo:         get("EMAIL_TO", ""),
		SubjectPrefix:   get("SUBJECT_PREFIX", "Listing Alert"),
		Port:            get("PORT", "8080"),
	}
	if cfg.Port == "0" || strings.EqualFold(cfg.Port, "off") {
		cfg.Port = ""
	}

	var errs []error

	interval, err := positiveInt(get("INTERVAL_SECONDS", "60"))
	if err != nil {
		errs = append(errs, fmt.Errorf("INTERVAL_SECONDS: %w", err))
	}
	cfg.Interval = time.Duration(interval) * time.Second

	timeout, err := positiveInt(get("SCRAPE_TIMEOUT_SECONDS", "45"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SCRAPE_TIMEOUT_SECONDS: %w", err))
	}
	cfg.ScrapeTimeout = time.Duration(timeout) * time.Second

	cfg.SMTPPort, err = positiveInt(get("SMTP_PORT", "587"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SMTP_PORT: %w", err))
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	cfg.Sources, err = collectSources(get)
	if err != nil {
		errs = append(errs, err)
	}

	switch cfg.MailMode {
	case "smtp":
		for _, req := range []struct{ name, val string }{
			{"EMAIL_USER", cfg.EmailUser},
			{"EMAIL_PASS", cfg.EmailPass},
			{"EMAIL_TO", cfg.EmailTo},
		} {
			if req.val == "" {
				errs = append(errs, fmt.Errorf("%s is required when MAIL_MODE=smtp", req.name))
			}
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_MODE: %s (use 'smtp' or 'log')", cfg.MailMode))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	return cfg, nil
}

// collectSources merges TARGET_URL, TARGET_URLS and SOURCES_FILE,
// dropping exact duplicates. A duplicate keeps the first position and
// the first non-empty label.
func collectSources(get func(key, def string) string) ([]domain.Source, error) {
	var sources []domain.Source
	if u := get("TARGET_URL", ""); u != "" {
		sources = append(sources, domain.Source{URL: u})
	}
	for _, u := range strings.Split(get("TARGET_URLS", ""), ",") {
		if u = strings.TrimSpace(u); u != "" {
			sources = append(sources, domain.Source{URL: u})
		}
	}
	if path := get("SOURCES_FILE", ""); path != "" {
		fromFile, err := ingest.LoadSources(path)
		if err != nil {
			return nil, fmt.Errorf("SOURCES_FILE: %w", err)
		}
		sources = append(sources, fromFile...)
	}

	seen := make(map[string]int)
	var out []domain.Source
	for _, s := range sources {
		if !validSourceURL(s.URL) {
			return nil, fmt.Errorf("source URL must be absolute http(s): %q", s.URL)
		}
		if i, ok := seen[s.URL]; ok {
			if out[i].Label == "" {
				out[i].Label = s.Label
			}
			continue
		}
		seen[s.URL] = len(out)
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("no sources configured (set TARGET_URL, TARGET_URLS or SOURCES_FILE)")
	}
	return out, nil
}

func validSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

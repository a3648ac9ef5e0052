package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/qepting91/listing-watcher/internal/collector"
	"github.com/qepting91/listing-watcher/internal/config"
	"github.com/qepting91/listing-watcher/internal/domain"
	"github.com/qepting91/listing-watcher/internal/monitor"
	"github.com/qepting91/listing-watcher/internal/notify"
	"github.com/qepting91/listing-watcher/internal/storage"
)

// app owns the external resources of one process run
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector collector.Client
	store     domain.SnapshotStore
	scheduler *monitor.Scheduler
}

func setupLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.MailMode == "log" {
		return notify.LogNotifier{Logger: logger}, nil
	}
	return notify.NewMailer(notify.MailerConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPass,
		To:       cfg.EmailTo,
		FromName: cfg.SubjectPrefix + " Monitor",
	})
}

// newApp acquires everything up front; on failure whatever was already
// acquired is released before returning.
func newApp(ctx context.Context) (*app, error) {
	// 1. Setup
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: setupLogger(cfg.LogLevel)}

	// 2. Notifier
	notifier, err := newNotifier(cfg, a.logger)
	if err != nil {
		return nil, err
	}

	// 3. Snapshot store
	a.store, err = storage.Open(ctx, cfg.StoreBackend, cfg.StoreDir, cfg.PostgresDSN, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	// 4. Collector (launches the browser in browser mode)
	a.collector, err = collector.NewCollector(cfg, a.logger)
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("initialize collector: %w", err)
	}
	a.logger.Info("Collector initialized", "mode", cfg.CollectorMode, "store", cfg.StoreBackend)

	a.scheduler = monitor.New(cfg.Sources, a.collector, a.store, notifier, monitor.Config{
		Interval:      cfg.Interval,
		SubjectPrefix: cfg.SubjectPrefix,
	}, monitor.NewMetrics(), a.logger)
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.collector.Close(), a.store.Close())
}

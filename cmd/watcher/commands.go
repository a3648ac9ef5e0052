package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qepting91/listing-watcher/internal/dashboard"
	"github.com/qepting91/listing-watcher/internal/storage"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "watcher",
		Short:        "Watch classifieds search results and email new or changed listings",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newOnceCmd(), newKeyCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll every source on the configured interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.logger.Error("Releasing resources failed", "err", err)
				}
			}()

			var srv *http.Server
			if a.cfg.Port != "" {
				srv = &http.Server{
					Addr:              ":" + a.cfg.Port,
					Handler:           dashboard.NewRouter(a.scheduler, a.scheduler.Metrics().Handler()),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					a.logger.Info("Starting Dashboard", "port", a.cfg.Port)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("Dashboard failed", "err", err)
					}
				}()
			}

			// blocks until the signal and any in-flight cycle have finished
			a.scheduler.Run(ctx)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}
			a.logger.Info("Watcher stopped")
			return nil
		},
	}
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and exit (non-zero if every source failed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rep, _ := a.scheduler.RunCycle(cmd.Context())
			if rep.Failed() {
				return fmt.Errorf("all %d sources failed", len(rep.Sources))
			}
			return nil
		},
	}
}

func newKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <source-url>",
		Short: "Print the snapshot storage key for a source URL",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), storage.SourceKey(args[0]))
		},
	}
}

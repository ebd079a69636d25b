// Package cmd defines the CLI commands for the awardharvest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jdbirch/awardharvest/internal/api"
	"github.com/jdbirch/awardharvest/internal/app"
	"github.com/jdbirch/awardharvest/internal/config"
)

var (
	cfgFile string
	devMode bool
)

type appKeyType struct{}

var appKey appKeyType

// newApp is the application factory; tests swap it for one that returns
// an app over memory providers.
var newApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if devMode {
		cfg.Logging.Development = true
	}
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "awardharvest",
		Short: "Enriches research-award records with detail-page protocol data.",
		Long: `awardharvest walks a funder's public awards API, renders each award's
detail page in a headless browser, and extracts the protocol documents and
investigator names the API itself does not carry. It supports a bounded
search-and-export mode and a resumable full-dataset harvest.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			zap.ReplaceGlobals(a.Logger())
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				a.Close(closeCtx)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults apply when omitted)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "force development logging")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newArchiveCmd())

	return cmd
}

// Execute runs the root command under a signal-aware context: SIGINT or
// SIGTERM cancels the run, and the pipeline stops at the next safe
// boundary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// startOpsServer launches the ops HTTP server when enabled and returns a
// shutdown function. The snapshot func feeds /v1/runs/current.
func startOpsServer(a *app.App, snapshot api.SnapshotFunc) func() {
	opsCfg := a.Config().Ops
	if !opsCfg.Enabled {
		return func() {}
	}

	server := api.NewServer(
		a.Runs(),
		snapshot,
		a.Registry(),
		a.HTTPMetrics(),
		api.Config{APIKey: opsCfg.APIKey, RequestTimeout: opsCfg.Timeout()},
		a.Logger(),
	)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", opsCfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.Logger().Info("ops server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger().Error("ops server failed", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.Logger().Warn("ops server shutdown failed", zap.Error(err))
		}
	}
}

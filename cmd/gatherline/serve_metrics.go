// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/config"
	"github.com/gatherline/gatherline/internal/docstore"
	"github.com/gatherline/gatherline/internal/model"
	"github.com/gatherline/gatherline/internal/observability"
)

// Shutdown grace period for the observability server.
const serveMetricsStopTimeout = 5 * time.Second

// NewServeMetricsCmd creates the serve-metrics subcommand.
func NewServeMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics and health probes",
		Long: `Runs the observability HTTP server, exposing /metrics and the
/healthz probes, with the object cache's collectors registered.
Stops on SIGINT or SIGTERM.`,
		RunE: runServeMetrics,
	}
}

func runServeMetrics(cmd *cobra.Command, _ []string) error {
	appCfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, appCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Readiness tracks the store: if a probe count fails, report not ready.
	server := observability.NewServer(appCfg.Metrics.Addr, func() bool {
		probeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, probeErr := store.Count(probeCtx, docstore.Query{Collection: model.CollectionUsers})
		return probeErr == nil
	})

	c := cache.New(store, model.NewRegistry(), cache.Options{
		Logger:  slog.Default(),
		Metrics: cache.NewMetrics(server.Registry()),
	})

	errCh, err := server.Start()
	if err != nil {
		return err
	}
	cmd.Printf("Serving metrics on %s\n", server.Addr())
	slog.Info("metrics server ready", "addr", server.Addr(), "live_entities", c.Live())

	select {
	case <-ctx.Done():
	case serveErr := <-errCh:
		if serveErr != nil {
			return serveErr
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), serveMetricsStopTimeout)
	defer cancel()
	return server.Stop(stopCtx)
}

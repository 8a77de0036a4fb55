// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/exprprior/services/prior"
	"github.com/AleutianAI/exprprior/services/prior/server"
	"github.com/AleutianAI/exprprior/services/prior/telemetry"
)

const reloadDebounce = 250 * time.Millisecond

type serveOptions struct {
	port    int
	watch   bool
	noStore bool
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve masks, validation and sampling over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port (default server.port)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the prior when the config file changes")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "run without the population store")
	return cmd
}

func (a *app) runServe(ctx context.Context, opts serveOptions) error {
	logger := a.slog()
	if opts.watch && a.configPath == "" {
		return errors.New("--watch needs --config")
	}

	shutdown, err := telemetry.Init(ctx, telemetry.FromPrior(a.cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("exprprior/server"))
	if err != nil {
		return err
	}
	rt, err := server.NewRuntime(a.cfg, logger)
	if err != nil {
		return err
	}

	srvOpts := []server.Option{server.WithMetrics(metrics), server.WithLogger(logger)}
	if !opts.noStore {
		db, store, err := a.openStore()
		if err != nil {
			return fmt.Errorf("open population store: %w", err)
		}
		defer db.Close()
		srvOpts = append(srvOpts, server.WithStore(store))
	}
	srv, err := server.New(rt, srvOpts...)
	if err != nil {
		return err
	}

	port := a.cfg.Server.Port
	if opts.port > 0 {
		port = opts.port
	}
	addr := fmt.Sprintf(":%d", port)

	var w *configWatcher
	if opts.watch {
		w, err = newConfigWatcher(a.configPath, reloadDebounce, func() error {
			return reloadRuntime(srv, a.configPath, logger)
		}, logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, addr) })
	if w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// reloadRuntime rebuilds the runtime from path and swaps it into srv. srv is
// left untouched when the new configuration does not load or build.
func reloadRuntime(srv *server.Server, path string, logger *slog.Logger) error {
	cfg, err := prior.LoadConfig(path)
	if err != nil {
		return err
	}
	rt, err := server.NewRuntime(cfg, logger)
	if err != nil {
		return err
	}
	srv.Reload(rt)
	return nil
}

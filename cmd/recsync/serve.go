// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mobiletoly/go-recsync/internal/configwatch"
	"github.com/mobiletoly/go-recsync/internal/control"
	"github.com/mobiletoly/go-recsync/recsync"
)

var autoSyncInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as an agent: auto-sync, background uploads and the control API",
	Long: `Run until interrupted.

On start the app-start trigger runs once; afterwards the foreground trigger is
evaluated every --interval, so a pull happens whenever the library is stale.
The upload queue drains in the background. When a config file is given, edits
to its [sync] budgets are applied without a restart. The control API listens
when control.enabled is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if autoSyncInterval <= 0 {
			return fmt.Errorf("--interval must be positive, got %s", autoSyncInterval)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(a *app) error {
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return ignoreCanceled(a.uploader.Run(ctx))
			})

			g.Go(func() error {
				runAutoSync(ctx, a.engine, autoSyncInterval)
				return nil
			})

			if configPath != "" {
				w := configwatch.New(configPath, a.engine, a.logger)
				g.Go(func() error { return w.Run(ctx) })
			}

			if a.cfg.Control.Enabled {
				srv := control.NewServer(a.cfg.ControlAddr(), &control.Deps{
					Engine:  a.engine,
					Queue:   a.queue,
					Auth:    recsync.NewTokenIssuer(a.cfg.Control.JWTSecret),
					Library: a.store,
					Logger:  a.logger,
				})
				g.Go(func() error { return srv.Run(ctx) })
			}

			a.logger.Info("agent started", "auto_sync_interval", autoSyncInterval, "control", a.cfg.Control.Enabled)
			err := g.Wait()
			a.logger.Info("agent stopped")
			return err
		})
	},
}

// runAutoSync fires the app-start trigger once and then the foreground
// trigger on every tick; the engine's gates decide whether a pull happens.
func runAutoSync(ctx context.Context, engine *recsync.Engine, interval time.Duration) {
	engine.SyncOnAppStart(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			engine.SyncOnForeground(ctx)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	serveCmd.Flags().DurationVar(&autoSyncInterval, "interval", time.Minute, "how often the foreground trigger is evaluated")
}

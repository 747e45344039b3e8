package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tablesync/internal/core"
	"github.com/JonMunkholm/tablesync/internal/web"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run on schedule with the ops HTTP server",
		Long: `Run the scheduler and, when SERVER_ENABLED is true, the ops HTTP server:

  GET  /healthz        liveness
  GET  /metrics        Prometheus metrics
  GET  /api/status     whether a run is active, plus the last report
  GET  /api/runs/last  report of the last completed run
  POST /api/run        start a run now (X-API-Key when SERVER_API_KEYS is set)

On SIGINT or SIGTERM the server stops accepting requests and the active run
finishes its current table before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root)
		},
	}

	cmd.Flags().Int("port", 0, "ops server port (SERVER_PORT)")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions) error {
	cfg := root.cfg
	logger := root.logger

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	scheduler, err := core.NewScheduler(a.processor, cfg.Schedule, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if cfg.Server.Enabled {
		server := web.NewServer(cfg.Server, web.Deps{
			Trigger: scheduler,
			Status:  a.processor,
			Metrics: a.registry.Handler(),
			Logger:  logger,
		})
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		guard := a.processor.Guard()
		if !guard.Active() {
			return nil
		}

		logger.Info("waiting for active run to finish", "status", guard.Status())
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := guard.WaitForDrain(drainCtx); err != nil {
			logger.Warn("active run did not finish in time", "error", err)
			return nil
		}
		logger.Info("active run finished")
		return nil
	})

	logger.Info("tablesync serving",
		"mode", cfg.Sync.Mode,
		"tables", len(cfg.Sync.Tables),
		"server", cfg.Server.Enabled,
	)
	return g.Wait()
}

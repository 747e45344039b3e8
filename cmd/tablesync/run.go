package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tablesync/internal/core"
)

// runOptions holds options for the run command.
type runOptions struct {
	forever bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Export or import every configured table",
		Long: `Run one pass over SYNC_TABLES in the configured mode and print a summary.

With --forever the pass repeats on SYNC_CRON, or every SYNC_INTERVAL when no
cron expression is set, until interrupted. Failed runs are logged and the
next run waits for the schedule unless SYNC_RETRY_IMMEDIATELY is set.`,
		Example: `  # Export two tables to CSV once
  tablesync run --mode export --tables orders,customers --format csv

  # Import daily at 02:30
  SYNC_MODE=import SYNC_CRON="30 2 * * *" tablesync run --forever`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRun(ctx, cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.forever, "forever", false, "repeat on the configured schedule until interrupted")

	return cmd
}

func runRun(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	a, err := newApp(root.cfg, root.logger)
	if err != nil {
		return err
	}

	runner := reportingRunner{runner: a.processor, out: cmd.OutOrStdout()}

	if !opts.forever {
		_, err := runner.Process(core.ContextWithTrigger(ctx, core.TriggerOnce))
		return err
	}

	scheduler, err := core.NewScheduler(runner, root.cfg.Schedule, root.logger)
	if err != nil {
		return err
	}
	return scheduler.Run(ctx)
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kairos-watch/capture/pkg/logger"
)

func newWorkerCmd(load loader) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run capture loops, the scheduler and the lock reaper",
		Long: `worker claims queued capture jobs and processes them until it receives
SIGINT or SIGTERM. Depending on configuration it also enqueues due targets
and returns stale jobs to the queue. Metrics are served on metrics.addr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if migrate {
				if err := a.Storage.Migrate(ctx); err != nil {
					return err
				}
			}

			metricsErr := make(chan error, 1)
			go func() { metricsErr <- a.ServeMetrics(ctx) }()

			w := a.NewWorker()
			cfg := w.Config()
			a.Log.Info("Starting worker",
				logger.String("worker_id", w.ID()),
				logger.Int("concurrency", cfg.Concurrency),
				logger.Bool("scheduler", cfg.EnableScheduler),
				logger.Bool("reaper", cfg.EnableReaper),
				logger.String("version", version),
			)

			err = w.Start(ctx)
			stop()
			if mErr := <-metricsErr; mErr != nil {
				a.Log.Error("Metrics server stopped", logger.Error(mErr))
			}
			a.Log.Info("Worker stopped", logger.String("worker_id", w.ID()))

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before starting")
	return cmd
}

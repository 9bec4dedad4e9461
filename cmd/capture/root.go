package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kairos-watch/capture/internal/app"
	"github.com/kairos-watch/capture/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// loader builds the application from the --config flag.
type loader func(ctx context.Context) (*app.App, error)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "capture",
		Short: "Scheduled marketplace page capture and change detection",
		Long: `capture schedules captures of marketplace pages, stores each run,
detects changes against the previous run and sends alerts when a
target's thresholds are crossed.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./capture.yaml or ./config/capture.yaml)")

	load := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg)
	}

	root.AddCommand(
		newVersionCmd(),
		newWorkerCmd(load),
		newMigrateCmd(load),
		newTargetCmd(load),
		newRuleCmd(load),
		newEnqueueCmd(load),
		newScheduleCmd(load),
		newReapCmd(load),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "capture version %s\n", version)
		},
	}
}

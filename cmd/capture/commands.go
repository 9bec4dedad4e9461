package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kairos-watch/capture/pkg/alert"
	"github.com/kairos-watch/capture/pkg/core"
	"github.com/kairos-watch/capture/pkg/queue"
	"github.com/kairos-watch/capture/pkg/worker"
)

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Storage.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newTargetCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Manage monitored targets",
	}

	var (
		marketplace string
		targetType  string
		url         string
		cadence     string
		disabled    bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a marketplace page for capture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			target := &core.Target{
				Marketplace: marketplace,
				TargetType:  core.TargetType(targetType),
				URL:         url,
				Cadence:     cadence,
				Enabled:     !disabled,
			}
			if err := a.Queue.AddTarget(cmd.Context(), target); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), target.ID)
			return nil
		},
	}
	add.Flags().StringVar(&marketplace, "marketplace", "", "marketplace name, e.g. etsy")
	add.Flags().StringVar(&targetType, "type", string(core.TargetListing), "listing, search or ranking")
	add.Flags().StringVar(&url, "url", "", "absolute page URL")
	add.Flags().StringVar(&cadence, "cadence", "", `cron expression or descriptor such as "@every 6h"`)
	add.Flags().BoolVar(&disabled, "disabled", false, "store the target without scheduling it")
	_ = add.MarkFlagRequired("marketplace")
	_ = add.MarkFlagRequired("url")

	cmd.AddCommand(add)
	return cmd
}

func newRuleCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage alert rules",
	}

	var (
		targetID    string
		name        string
		thresholds  string
		destination string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Attach an alert rule to a target",
		Example: `  capture rule add --target <id> --name price-watch \
    --thresholds '{"priceDeltaPct": 5, "titleChanged": true}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(thresholds), &parsed); err != nil {
				return fmt.Errorf("thresholds must be a JSON object: %w", err)
			}
			for key := range parsed {
				if !alert.Known(key) {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: unknown threshold %q is ignored\n", key)
				}
			}

			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if _, err := a.Storage.GetTarget(cmd.Context(), targetID); err != nil {
				return err
			}
			rule := &core.AlertRule{
				TargetID:    targetID,
				Name:        name,
				Enabled:     true,
				Thresholds:  parsed,
				Destination: destination,
			}
			if err := a.Storage.SaveAlertRule(cmd.Context(), rule); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rule.ID)
			return nil
		},
	}
	add.Flags().StringVar(&targetID, "target", "", "target ID")
	add.Flags().StringVar(&name, "name", "", "rule name")
	add.Flags().StringVar(&thresholds, "thresholds", "{}", "threshold object as JSON")
	add.Flags().StringVar(&destination, "destination", "", "transport address, e.g. a webhook URL")
	_ = add.MarkFlagRequired("target")

	cmd.AddCommand(add)
	return cmd
}

func newEnqueueCmd(load loader) *cobra.Command {
	var (
		targetID string
		delay    time.Duration
	)
	cmd := &cobra.Command{
		Use:     "enqueue",
		Aliases: []string{"trigger"},
		Short:   "Queue an immediate manual capture of a target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var opts []queue.Option
			if delay > 0 {
				opts = append(opts, queue.Delay(delay))
			}
			jobID, err := a.Queue.Trigger(cmd.Context(), targetID, opts...)
			if errors.Is(err, core.ErrDuplicateJob) {
				return fmt.Errorf("target %s already has a queued or running capture", targetID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&targetID, "target", "", "target ID")
	cmd.Flags().DurationVar(&delay, "delay", 0, "run the capture after this delay")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newScheduleCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Enqueue every target whose cadence is due, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.NewWorker().ScheduleDue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d\n", n)
			return nil
		},
	}
}

func newReapCmd(load loader) *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Return jobs with expired locks to the queue, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if staleAfter <= 0 {
				staleAfter = a.Config.Worker.StaleAfter
			}
			released, err := a.NewWorker(worker.WithReaper(staleAfter)).Reap(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d\n", released)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "lock age after which a job is released (default worker.stale_after)")
	return cmd
}

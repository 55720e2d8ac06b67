package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/daemonctl"
	"warden/internal/telemetry"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		httpPush bool
		metric   string
		labels   []string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a daemon's status, optionally forwarding it to the push gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			port, cfg, err := ctx.resolve()
			if err != nil {
				return err
			}

			result, sendErr := daemonctl.Send(cmd.Context(), port, "status", 0, ctx.dummy, ctx.clientLogger())
			if !httpPush {
				if sendErr != nil {
					return replyError(stdout, result, sendErr)
				}
				printReply(stdout, result)
				fmt.Fprintln(stdout, "success")
				return nil
			}

			// --http publishes reachability instead of printing: up when
			// the daemon acknowledged, down otherwise.
			if cfg == nil {
				return errors.New("--http needs --json or --name so the push gateway can be found")
			}
			if cfg.Telemetry.PushURL == "" {
				return errors.New("config has no telemetry.pushUrl")
			}
			value := 0.0
			if sendErr == nil && result != nil && result.OK {
				value = 1.0
			}
			labelSet, err := parseLabels(labels)
			if err != nil {
				return err
			}
			labelSet["daemon"] = cfg.Name()

			if ctx.dummy {
				fmt.Fprintf(stdout, "would push %s=%g to %s\n", metric, value, cfg.Telemetry.PushURL)
				fmt.Fprintln(stdout, "success")
				return nil
			}
			sink := telemetry.NewPushSink(telemetry.PushConfig{
				URL:      cfg.Telemetry.PushURL,
				Job:      "warden",
				Instance: cfg.Name(),
				Prefix:   cfg.Telemetry.Prefix,
				Interval: time.Second,
				Timeout:  cfg.MessagingDeadline(),
			}, ctx.clientLogger())
			err = sink.Publish(cmd.Context(), []telemetry.Metric{{
				Name:   metric,
				Value:  value,
				Labels: labelSet,
			}})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "pushed %s=%g to %s\n", metric, value, cfg.Telemetry.PushURL)
			fmt.Fprintln(stdout, "success")
			return nil
		},
	}
	cmd.Flags().BoolVar(&httpPush, "http", false, "Push daemon reachability to the configured push gateway")
	cmd.Flags().StringVar(&metric, "metric", "status", "Metric name used with --http")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Extra K=V label for the pushed metric (repeatable)")
	return cmd
}

func parseLabels(pairs []string) (map[string]string, error) {
	labels := make(map[string]string, len(pairs)+1)
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid label %q, expected K=V", pair)
		}
		labels[key] = value
	}
	return labels, nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/config"
	"warden/internal/daemonctl"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured daemons and whether they answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			dir, err := configDir()
			if err != nil {
				return err
			}
			paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
			if err != nil {
				return err
			}
			sort.Strings(paths)
			if len(paths) == 0 {
				fmt.Fprintf(stdout, "no daemon configs in %s\n", dir)
				return nil
			}

			colorize := shouldColorize(stdout)
			rows := make([][]string, 0, len(paths))
			for _, path := range paths {
				cfg, err := config.Load(path)
				if err != nil {
					rows = append(rows, []string{
						strings.TrimSuffix(filepath.Base(path), ".json"),
						"-", "-", "invalid: " + err.Error(),
					})
					continue
				}
				state := "stopped"
				if !ctx.dummy {
					_, sendErr := daemonctl.Send(cmd.Context(), cfg.ListeningPort,
						"status", 2*time.Second, false, ctx.clientLogger())
					if sendErr == nil {
						state = "running"
					}
				}
				rows = append(rows, []string{
					cfg.Name(),
					strconv.Itoa(cfg.ListeningPort),
					cfg.Worker,
					colorState(state, colorize),
				})
			}

			fmt.Fprintln(stdout, renderTable([]string{"NAME", "PORT", "WORKER", "STATE"}, rows))
			return nil
		},
	}
}

func newSampleConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config NAME",
		Short: "Write an annotated sample config into the config directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := configDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, args[0]+".json")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func configDir() (string, error) {
	if dir := os.Getenv("WARDEN_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	return config.DefaultConfigDir()
}

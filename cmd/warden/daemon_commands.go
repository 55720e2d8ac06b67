package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/daemonctl"
	"warden/internal/daemonrun"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var (
		timeout    int
		foreground bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch a daemon for the given config",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if ctx.port != 0 {
				return errors.New("start needs --json or --name, not --port")
			}
			port, cfg, err := ctx.resolve()
			if err != nil {
				return err
			}

			if ctx.dummy {
				fmt.Fprintf(stdout, "would launch daemon %s on port %d\n", cfg.Name(), port)
				fmt.Fprintln(stdout, "success")
				return nil
			}

			if foreground {
				fmt.Fprintf(stdout, "running daemon %s in the foreground on port %d\n", cfg.Name(), port)
				code, err := daemonrun.Run(cmd.Context(), daemonrun.Options{
					ConfigPath: ctx.configPath,
					Name:       ctx.name,
				})
				if err != nil {
					return err
				}
				if code != 0 {
					return fmt.Errorf("daemon %s exited with %d accumulated errors", cfg.Name(), code)
				}
				fmt.Fprintln(stdout, "success")
				return nil
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			err = daemonctl.Launch(exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath,
				Name:       ctx.name,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "launching daemon %s...\n", cfg.Name())

			wait := time.Duration(timeout) * time.Second
			if err := daemonctl.WaitForReady(cmd.Context(), port, wait, ctx.clientLogger()); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "daemon %s listening on port %d\n", cfg.Name(), port)
			fmt.Fprintln(stdout, "success")
			return nil
		},
	}
	cmd.Flags().IntVar(&timeout, "timeout", 10, "Seconds to wait for the daemon to answer")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run the daemon in this process instead of detaching")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var (
		ignore  bool
		wait    bool
		timeout int
	)
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a daemon to terminate",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			port, _, err := ctx.resolve()
			if err != nil {
				return err
			}

			result, err := daemonctl.Stop(cmd.Context(), port, daemonctl.StopOptions{
				Timeout: time.Duration(timeout) * time.Second,
				Wait:    wait,
				Ignore:  ignore,
				Dummy:   ctx.dummy,
			}, ctx.clientLogger())
			if err != nil {
				if errors.Is(err, daemonctl.ErrNotRunning) {
					return fmt.Errorf("no daemon on port %d (use --ignore to tolerate)", port)
				}
				return err
			}

			switch {
			case ctx.dummy:
				fmt.Fprintf(stdout, "would stop daemon on port %d\n", port)
			case !result.WasRunning:
				fmt.Fprintf(stdout, "no daemon on port %d\n", port)
			case wait:
				fmt.Fprintf(stdout, "daemon (pid %d) terminated\n", result.PID)
			default:
				fmt.Fprintf(stdout, "daemon (pid %d) acknowledged terminate\n", result.PID)
			}
			fmt.Fprintln(stdout, "success")
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignore, "ignore", false, "Treat a daemon that is not running as success")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the process leaves the process table")
	cmd.Flags().IntVar(&timeout, "timeout", 30, "Seconds to wait for acknowledgement and process death")
	return cmd
}

func newHupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "hup",
		Short: "Ask a daemon to reload its configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			port, _, err := ctx.resolve()
			if err != nil {
				return err
			}
			result, err := daemonctl.Send(cmd.Context(), port, "hup", 0, ctx.dummy, ctx.clientLogger())
			if err != nil {
				return replyError(stdout, result, err)
			}
			printReply(stdout, result)
			fmt.Fprintln(stdout, "success")
			return nil
		},
	}
}

func newCommandCommand(ctx *commandContext) *cobra.Command {
	var (
		command string
		timeout int
	)
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Send an arbitrary control command to a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			if command == "" {
				return errors.New("--command is required")
			}
			port, _, err := ctx.resolve()
			if err != nil {
				return err
			}
			result, err := daemonctl.Send(cmd.Context(), port, command,
				time.Duration(timeout)*time.Second, ctx.dummy, ctx.clientLogger())
			if err != nil {
				return replyError(stdout, result, err)
			}
			printReply(stdout, result)
			fmt.Fprintln(stdout, "success")
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Command string to send")
	cmd.Flags().IntVar(&timeout, "timeout", 10, "Seconds to wait for the acknowledgement")
	return cmd
}

// daemonExecutable locates wardend next to the warden binary, falling
// back to PATH.
func daemonExecutable() (string, error) {
	self, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(self), "wardend")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath("wardend")
	if err != nil {
		return "", fmt.Errorf("locate wardend executable: %w", err)
	}
	return path, nil
}

package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"warden/internal/config"
	"warden/internal/control"
)

// ErrNotRunning indicates no daemon answered on the target port.
var ErrNotRunning = errors.New("daemon not running")

const (
	livenessPollTick = 200 * time.Millisecond

	// DefaultWaitTimeout bounds the client-side waits for daemon
	// acknowledgement and for process death.
	DefaultWaitTimeout = 30 * time.Second
)

// Target selects the daemon an administrative verb operates on. Exactly
// one of ConfigPath, Name, or Port must be set.
type Target struct {
	ConfigPath string
	Name       string
	Port       int
}

// Resolve validates the target and returns the control port. When the
// target is a config path or daemon name, the loaded config is returned
// as well.
func (t Target) Resolve() (int, *config.Config, error) {
	set := 0
	if t.ConfigPath != "" {
		set++
	}
	if t.Name != "" {
		set++
	}
	if t.Port != 0 {
		set++
	}
	if set != 1 {
		return 0, nil, errors.New("exactly one of --json, --name, or --port is required")
	}

	switch {
	case t.Port != 0:
		if t.Port < 0 {
			return 0, nil, fmt.Errorf("invalid port %d", t.Port)
		}
		return t.Port, nil, nil
	case t.ConfigPath != "":
		cfg, err := config.Load(t.ConfigPath)
		if err != nil {
			return 0, nil, err
		}
		return cfg.ListeningPort, cfg, nil
	default:
		cfg, err := config.LoadNamed(t.Name)
		if err != nil {
			return 0, nil, err
		}
		return cfg.ListeningPort, cfg, nil
	}
}

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath    string
	Name          string
	IgnoreSignals bool
}

// Launch starts a detached wardend process for the target config.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}

	var args []string
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		args = append(args, "--json", path)
	}
	if name := strings.TrimSpace(opts.Name); name != "" {
		args = append(args, "--name", name)
	}
	if opts.IgnoreSignals {
		args = append(args, "--ignore-signals")
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// Send issues one control command against the target port.
func Send(ctx context.Context, port int, command string, timeout time.Duration, dummy bool, logger *slog.Logger) (*control.Result, error) {
	client := &control.Client{
		Port:    port,
		Timeout: timeout,
		Dummy:   dummy,
		Logger:  logger,
	}
	result, err := client.Send(ctx, command)
	if err != nil && result == nil {
		// The client never reached the sentinel loop, so nothing
		// answered on the port.
		return nil, fmt.Errorf("%w on port %d: %v", ErrNotRunning, port, err)
	}
	return result, err
}

// WaitForReady polls the daemon with status until it acknowledges or the
// timeout elapses. Used after Launch.
func WaitForReady(ctx context.Context, port int, timeout time.Duration, logger *slog.Logger) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		client := &control.Client{Port: port, Timeout: time.Second, Logger: logger}
		result, err := client.Send(ctx, "status")
		if err == nil && result.OK {
			return nil
		}
		lastErr = err
		time.Sleep(livenessPollTick)
	}
	if lastErr == nil {
		lastErr = errors.New("no acknowledgement")
	}
	return fmt.Errorf("daemon did not become ready on port %d: %w", port, lastErr)
}

// Alive reports whether the process exists, using signal 0.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// WaitGone polls process liveness after a terminate acknowledgement.
// This watches the process table, not protocol traffic: the daemon stops
// answering before its pid disappears.
func WaitGone(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(livenessPollTick)
	}
	return fmt.Errorf("%w: process %d still alive after %s", control.ErrTimeout, pid, timeout)
}

// StopOptions controls stop orchestration.
type StopOptions struct {
	Timeout time.Duration
	Wait    bool
	Ignore  bool
	Dummy   bool
}

// StopResult captures the stop outcome.
type StopResult struct {
	PID          int
	Acknowledged bool
	WasRunning   bool
}

// Stop sends terminate and, when requested, waits for the process to
// leave the process table. With Ignore set, a daemon that is not running
// counts as success.
func Stop(ctx context.Context, port int, opts StopOptions, logger *slog.Logger) (StopResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	result, err := Send(ctx, port, "terminate", timeout, opts.Dummy, logger)
	if err != nil {
		if opts.Ignore && errors.Is(err, ErrNotRunning) {
			return StopResult{}, nil
		}
		if result != nil {
			return StopResult{PID: result.PID, WasRunning: len(result.Lines) > 0}, err
		}
		return StopResult{}, err
	}

	stop := StopResult{PID: result.PID, Acknowledged: result.OK, WasRunning: true}
	if opts.Wait && !opts.Dummy {
		if err := WaitGone(result.PID, timeout); err != nil {
			return stop, err
		}
	}
	return stop, nil
}

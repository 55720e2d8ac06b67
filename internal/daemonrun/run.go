package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"warden/internal/config"
	"warden/internal/daemon"
	"warden/internal/logging"
	"warden/internal/workers"
)

// Options configures daemon process runtime behavior.
type Options struct {
	ConfigPath    string
	Name          string
	LogLevel      string
	IgnoreSignals bool
}

// Run hosts a daemon process until it terminates, returning the
// accumulated error counter as the process exit code. A startup failure
// is returned as an error before any loop iteration happens.
func Run(cmdCtx context.Context, opts Options) (int, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.ConfigPath != "" && opts.Name != "":
		return 0, errors.New("supply either a config path or a daemon name, not both")
	case opts.ConfigPath != "":
		cfg, err = config.Load(opts.ConfigPath)
	case opts.Name != "":
		cfg, err = config.LoadNamed(opts.Name)
	default:
		return 0, errors.New("a config path or daemon name is required")
	}
	if err != nil {
		return 0, fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logDir, err := config.ExpandPath(cfg.LogDir)
	if err != nil {
		return 0, fmt.Errorf("resolve log dir: %w", err)
	}
	logger, err := logging.NewDaemonLogger(logDir, cfg.Name(), level, cfg.LogFormat)
	if err != nil {
		return 0, fmt.Errorf("init logger: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return 0, err
	}
	d.IgnoreSignals(opts.IgnoreSignals)

	if cfg.Worker != "" {
		worker, err := workers.Lookup(cfg.Worker)
		if err != nil {
			d.Close()
			return 0, err
		}
		if err := worker.Init(d); err != nil {
			d.Close()
			return 0, fmt.Errorf("init worker %s: %w", cfg.Worker, err)
		}
		logger.Info("worker attached", logging.String("worker", worker.Name()))
	}

	return d.Run(signalCtx), nil
}

package main

import (
	"log/slog"
	"sync"

	"warden/internal/config"
	"warden/internal/daemonctl"
	"warden/internal/logging"
)

// commandContext carries the persistent flag values shared by every
// administrative verb.
type commandContext struct {
	configPath string
	name       string
	port       int
	dummy      bool
	verbose    bool

	loggerOnce sync.Once
	logger     *slog.Logger
}

func (c *commandContext) target() daemonctl.Target {
	return daemonctl.Target{
		ConfigPath: c.configPath,
		Name:       c.name,
		Port:       c.port,
	}
}

// resolve returns the control port and, when the target was a config
// path or name, the loaded config.
func (c *commandContext) resolve() (int, *config.Config, error) {
	return c.target().Resolve()
}

func (c *commandContext) clientLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		level := "warn"
		if c.verbose {
			level = "debug"
		}
		logger, err := logging.New(logging.Options{
			Level:            level,
			Format:           "console",
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		})
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Interval clamping has
// already happened in normalization; validation only rejects states the
// daemon cannot run with.
func (c *Config) Validate() error {
	if err := c.validateListening(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateTelemetry(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateListening() error {
	if c.ListeningPort <= 0 {
		return errors.New("listeningPort is mandatory and must be positive")
	}
	if c.ListeningPort > 65535 {
		return fmt.Errorf("listeningPort %d out of range", c.ListeningPort)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("logFormat: unsupported value %q", c.LogFormat)
	}
}

func (c *Config) validateTelemetry() error {
	// A sink interval without its endpoint is not an error; the daemon
	// skips that sink and logs a warning. Endpoints that are present
	// must still be well-formed.
	if url := strings.TrimSpace(c.Telemetry.PushURL); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("telemetry.pushUrl %q must be an http(s) URL", c.Telemetry.PushURL)
		}
	}
	return nil
}

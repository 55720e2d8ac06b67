package daemon

import (
	"fmt"
	"strings"
	"time"

	"warden/internal/control"
	"warden/internal/logging"
)

func (d *Daemon) registerBuiltins() error {
	builtins := map[string]control.Handler{
		"status":    d.handleStatus,
		"stats":     d.handleStats,
		"terminate": d.handleTerminate,
		"hup":       d.handleHup,
		"help":      d.handleHelp,
	}
	for name, handler := range builtins {
		if err := d.dispatch.Register(name, handler); err != nil {
			return fmt.Errorf("register builtin %s: %w", name, err)
		}
	}
	return nil
}

func (d *Daemon) handleStatus(r *control.Reply) error {
	r.Linef("daemon %s (pid %d, run %s)", d.cfg.Name(), d.pid, d.runID)
	r.Linef("uptime: %s", time.Since(d.started).Round(time.Second))
	r.Linef("config: %s", d.cfg.Path())
	r.Linef("listening port: %d", d.server.Port())
	r.Linef("intervals: listening=%dms messaging=%dms httping=%dms texting=%dms alive=%dms",
		d.cfg.ListeningInterval, d.cfg.MessagingInterval, d.cfg.HttpingInterval,
		d.cfg.TextingInterval, d.cfg.AliveInterval)
	for _, fn := range d.statusFns {
		for _, line := range fn() {
			r.Line(line)
		}
	}
	return nil
}

func (d *Daemon) handleStats(r *control.Reply) error {
	r.Linef("errors: %d", d.errCount)
	for _, line := range d.publisher.Stats() {
		r.Line(line)
	}
	for _, fn := range d.statsFns {
		for _, line := range fn() {
			r.Line(line)
		}
	}
	return nil
}

// handleTerminate only flips the stop flag. The reply reaches the client
// before the loop observes the flag, so the client never waits on a
// closed socket.
func (d *Daemon) handleTerminate(r *control.Reply) error {
	d.stopping = true
	r.Line("terminating")
	return nil
}

func (d *Daemon) handleHup(r *control.Reply) error {
	prevMessaging := d.cfg.MessagingInterval
	prevHttping := d.cfg.HttpingInterval
	prevTexting := d.cfg.TextingInterval
	if err := d.cfg.Reload(); err != nil {
		d.logger.Warn("reload failed, previous configuration kept",
			logging.String(logging.FieldCommand, "hup"),
			logging.Error(err))
		return fmt.Errorf("reload failed: %v", err)
	}
	d.publisher.SetEnabled(d.cfg.Enabled)
	for _, warning := range d.cfg.Warnings() {
		r.Linef("warning: %s", warning)
	}
	// Sink schedules were frozen at startup; interval edits need a
	// restart to take effect.
	if d.cfg.MessagingInterval != prevMessaging ||
		d.cfg.HttpingInterval != prevHttping ||
		d.cfg.TextingInterval != prevTexting {
		r.Line("warning: telemetry interval changes take effect on restart")
	}
	d.logger.Info("configuration reloaded",
		logging.String(logging.FieldCommand, "hup"),
		logging.String("path", d.cfg.Path()))
	r.Line("configuration reloaded")
	return nil
}

func (d *Daemon) handleHelp(r *control.Reply) error {
	r.Linef("commands: %s", strings.Join(d.dispatch.Commands(), " "))
	return nil
}

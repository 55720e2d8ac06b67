package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"warden/internal/config"
	"warden/internal/control"
	"warden/internal/daemon"
	"warden/internal/logging"
	"warden/internal/telemetry"
)

const (
	defaultDrainInterval = 5 * time.Second
	recentAlertLimit     = 10
)

func init() {
	register("alertwatch", func() Worker { return &alertWatch{} })
}

// alertWatch watches a directory for alert files. Filesystem events
// queue on the watcher's buffered channel and are drained on the
// scheduling thread every workerInterval, so alert accounting needs no
// synchronization.
type alertWatch struct {
	logger  *slog.Logger
	dir     string
	watcher *fsnotify.Watcher

	alerts uint64
	recent []string
}

func (w *alertWatch) Name() string { return "alertwatch" }

func (w *alertWatch) Init(d *daemon.Daemon) error {
	cfg := d.Config()
	w.logger = logging.NewComponentLogger(d.Logger(), "alertwatch")

	dir := cfg.StringProp("monitoredDir", "")
	if dir == "" {
		return errors.New("alertwatch requires a monitoredDir in its config")
	}
	expanded, err := config.ExpandPath(dir)
	if err != nil {
		return fmt.Errorf("resolve monitoredDir: %w", err)
	}
	w.dir = expanded

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create directory watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.watcher = watcher

	interval := time.Duration(cfg.IntProp("workerInterval", int(defaultDrainInterval/time.Millisecond))) * time.Millisecond
	if err := d.RegisterTask("alertwatch.drain", interval, w.drain); err != nil {
		watcher.Close()
		return err
	}
	if err := d.RegisterCommand("alerts", w.handleAlerts); err != nil {
		watcher.Close()
		return err
	}
	d.AddStatus(func() []string {
		return []string{fmt.Sprintf("watching %s, %d alerts seen", w.dir, w.alerts)}
	})
	d.AddStats(func() []string {
		return []string{fmt.Sprintf("alerts: %d", w.alerts)}
	})
	d.AddMetrics(func() []telemetry.Metric {
		return []telemetry.Metric{{
			Name:   "alerts_total",
			Value:  float64(w.alerts),
			Labels: map[string]string{"dir": w.dir},
		}}
	})
	d.OnDisconnect(func(context.Context) error {
		return w.watcher.Close()
	})
	return nil
}

// drain consumes every queued filesystem event without blocking.
func (w *alertWatch) drain(context.Context) error {
	for {
		select {
		case event, open := <-w.watcher.Events:
			if !open {
				return errors.New("directory watcher closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.alerts++
			w.remember(filepath.Base(event.Name))
			w.logger.Info("alert file observed",
				logging.String("file", event.Name),
				logging.String("op", event.Op.String()))
		case err, open := <-w.watcher.Errors:
			if !open {
				return errors.New("directory watcher closed")
			}
			return fmt.Errorf("watch %s: %w", w.dir, err)
		default:
			return nil
		}
	}
}

func (w *alertWatch) remember(name string) {
	w.recent = append(w.recent, name)
	if len(w.recent) > recentAlertLimit {
		w.recent = w.recent[len(w.recent)-recentAlertLimit:]
	}
}

func (w *alertWatch) handleAlerts(r *control.Reply) error {
	r.Linef("alerts seen: %d", w.alerts)
	for _, name := range w.recent {
		r.Linef("recent: %s", name)
	}
	return nil
}

package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"warden/internal/control"
	"warden/internal/daemon"
	"warden/internal/logging"
	"warden/internal/telemetry"
)

const (
	defaultProbeInterval = 30 * time.Second
	probeDialTimeout     = 2 * time.Second
)

func init() {
	register("nodestatus", func() Worker { return &nodeStatus{} })
}

// nodeStatus probes a list of TCP endpoints on workerInterval and
// reports per-endpoint reachability through status, stats, telemetry,
// and an on-demand check command.
type nodeStatus struct {
	logger    *slog.Logger
	endpoints []string

	up       map[string]bool
	checks   uint64
	failures uint64
}

func (w *nodeStatus) Name() string { return "nodestatus" }

func (w *nodeStatus) Init(d *daemon.Daemon) error {
	cfg := d.Config()
	w.logger = logging.NewComponentLogger(d.Logger(), "nodestatus")
	w.endpoints = cfg.StringsProp("endpoints")
	if len(w.endpoints) == 0 {
		return errors.New("nodestatus requires an endpoints list in its config")
	}
	w.up = make(map[string]bool, len(w.endpoints))

	interval := time.Duration(cfg.IntProp("workerInterval", int(defaultProbeInterval/time.Millisecond))) * time.Millisecond
	if err := d.RegisterTask("nodestatus.probe", interval, w.probe); err != nil {
		return err
	}
	if err := d.RegisterCommand("check", w.handleCheck); err != nil {
		return err
	}
	d.AddStatus(w.statusLines)
	d.AddStats(w.statsLines)
	d.AddMetrics(w.metrics)
	return nil
}

func (w *nodeStatus) probe(ctx context.Context) error {
	var firstErr error
	for _, endpoint := range w.endpoints {
		w.checks++
		conn, err := net.DialTimeout("tcp", endpoint, probeDialTimeout)
		if err != nil {
			w.failures++
			if w.up[endpoint] {
				w.logger.Warn("node went down",
					logging.String("endpoint", endpoint),
					logging.Error(err))
			}
			w.up[endpoint] = false
			if firstErr == nil {
				firstErr = fmt.Errorf("probe %s: %w", endpoint, err)
			}
			continue
		}
		conn.Close()
		if !w.up[endpoint] {
			w.logger.Info("node is up", logging.String("endpoint", endpoint))
		}
		w.up[endpoint] = true
	}
	return firstErr
}

func (w *nodeStatus) handleCheck(r *control.Reply) error {
	err := w.probe(context.Background())
	for _, line := range w.statusLines() {
		r.Line(line)
	}
	return err
}

func (w *nodeStatus) statusLines() []string {
	lines := make([]string, 0, len(w.endpoints))
	for _, endpoint := range w.sortedEndpoints() {
		state := "down"
		if w.up[endpoint] {
			state = "up"
		}
		lines = append(lines, fmt.Sprintf("node %s: %s", endpoint, state))
	}
	return lines
}

func (w *nodeStatus) statsLines() []string {
	return []string{fmt.Sprintf("node checks: %d, failed: %d", w.checks, w.failures)}
}

func (w *nodeStatus) metrics() []telemetry.Metric {
	metrics := make([]telemetry.Metric, 0, len(w.endpoints))
	for _, endpoint := range w.sortedEndpoints() {
		value := 0.0
		if w.up[endpoint] {
			value = 1.0
		}
		metrics = append(metrics, telemetry.Metric{
			Name:   "node_up",
			Value:  value,
			Labels: map[string]string{"node": endpoint},
		})
	}
	return metrics
}

func (w *nodeStatus) sortedEndpoints() []string {
	endpoints := make([]string, len(w.endpoints))
	copy(endpoints, w.endpoints)
	sort.Strings(endpoints)
	return endpoints
}

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"warden/internal/logging"
)

// TextConfig configures the node-exporter textfile collector sink.
type TextConfig struct {
	Dir      string
	Job      string
	Prefix   string
	Interval time.Duration
}

// TextSink writes metric snapshots to a .prom file in the textfile
// collector directory. The write goes through a temp file and rename, so
// a scraper never observes a half-written snapshot.
type TextSink struct {
	sinkBase
	path   string
	logger *slog.Logger
}

// NewTextSink creates the textfile sink. The target file is
// <dir>/<job>.prom.
func NewTextSink(cfg TextConfig, logger *slog.Logger) *TextSink {
	return &TextSink{
		sinkBase: sinkBase{
			name:     "text",
			kind:     KindText,
			interval: cfg.Interval,
			prefix:   cfg.Prefix,
			enabled:  cfg.Interval > 0,
		},
		path:   filepath.Join(cfg.Dir, cfg.Job+".prom"),
		logger: logging.NewComponentLogger(logger, "telemetry.text"),
	}
}

func (s *TextSink) base() *sinkBase { return &s.sinkBase }

// Path returns the target snapshot file.
func (s *TextSink) Path() string { return s.path }

func (s *TextSink) Publish(_ context.Context, metrics []Metric) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.recordPublish(err)
		return fmt.Errorf("create textfile dir: %w", err)
	}
	reg, err := snapshotRegistry(s.prefix, metrics)
	if err != nil {
		s.recordPublish(err)
		return fmt.Errorf("build textfile snapshot: %w", err)
	}
	if err := prometheus.WriteToTextfile(s.path, reg); err != nil {
		s.recordPublish(err)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.recordPublish(nil)
	s.logger.Debug("wrote metrics file",
		logging.String("path", s.path),
		logging.Int("count", len(metrics)))
	return nil
}

// Disconnect removes the snapshot file so scrapers stop reporting a
// daemon that no longer runs.
func (s *TextSink) Disconnect(context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}

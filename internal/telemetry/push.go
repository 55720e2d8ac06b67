package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"

	"warden/internal/logging"
)

// PushConfig configures the HTTP push gateway sink.
type PushConfig struct {
	URL      string
	Job      string
	Instance string
	Prefix   string
	Interval time.Duration
	Timeout  time.Duration
}

// PushSink sends each metric snapshot to a Prometheus push gateway. Every
// publish replaces the sink's metric group on the gateway, so stale
// values from a previous snapshot never linger.
type PushSink struct {
	sinkBase
	url      string
	job      string
	instance string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPushSink creates the push gateway sink.
func NewPushSink(cfg PushConfig, logger *slog.Logger) *PushSink {
	return &PushSink{
		sinkBase: sinkBase{
			name:     "http",
			kind:     KindHTTP,
			interval: cfg.Interval,
			prefix:   cfg.Prefix,
			enabled:  cfg.Interval > 0,
		},
		url:      cfg.URL,
		job:      cfg.Job,
		instance: cfg.Instance,
		timeout:  cfg.Timeout,
		logger:   logging.NewComponentLogger(logger, "telemetry.http"),
	}
}

func (s *PushSink) base() *sinkBase { return &s.sinkBase }

func (s *PushSink) Publish(ctx context.Context, metrics []Metric) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	reg, err := snapshotRegistry(s.prefix, metrics)
	if err != nil {
		s.recordPublish(err)
		return fmt.Errorf("build push snapshot: %w", err)
	}
	pusher := push.New(s.url, s.job).Gatherer(reg)
	if s.instance != "" {
		pusher = pusher.Grouping("instance", s.instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		s.recordPublish(err)
		return fmt.Errorf("push to %s: %w", s.url, err)
	}
	s.recordPublish(nil)
	s.logger.Debug("pushed metrics",
		logging.String("url", s.url),
		logging.Int("count", len(metrics)))
	return nil
}

// Disconnect is a no-op: the gateway keeps the last pushed group, and
// deleting it is an operator decision, not a daemon lifecycle concern.
func (s *PushSink) Disconnect(context.Context) error { return nil }

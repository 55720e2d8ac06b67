package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"warden/internal/logging"
	"warden/internal/sched"
)

// Sink kinds.
const (
	KindBus  = "bus"
	KindHTTP = "http"
	KindText = "text"
)

// Metric is one named observation with an optional label set.
type Metric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// Collector produces the current metric set. It runs on the scheduling
// thread, so it may read daemon state without synchronization.
type Collector func() []Metric

// Sink is one telemetry destination with its own publication interval.
type Sink interface {
	Name() string
	Kind() string
	Interval() time.Duration
	Enabled() bool
	Publish(ctx context.Context, metrics []Metric) error
	// Disconnect performs the sink's shutdown obligation. Only the bus
	// sink does real work here: it republishes empty payloads so retained
	// values never outlive the daemon.
	Disconnect(ctx context.Context) error
}

// sinkBase carries the bookkeeping common to all sinks.
type sinkBase struct {
	name     string
	kind     string
	interval time.Duration
	prefix   string
	enabled  bool

	lastPublish time.Time
	publishes   uint64
	failures    uint64
}

func (b *sinkBase) Name() string            { return b.name }
func (b *sinkBase) Kind() string            { return b.kind }
func (b *sinkBase) Interval() time.Duration { return b.interval }
func (b *sinkBase) Enabled() bool           { return b.enabled }

func (b *sinkBase) recordPublish(err error) {
	b.lastPublish = time.Now()
	if err != nil {
		b.failures++
		return
	}
	b.publishes++
}

// Publisher formats metrics and pushes them to its registered sinks, each
// on its own interval. A sink publishes only when both its own enabled
// flag and the publisher's global publish switch allow it.
type Publisher struct {
	sinks   []Sink
	collect Collector
	logger  *slog.Logger
	enabled bool
}

// NewPublisher creates a publisher around the given collector. The
// global publish switch starts enabled.
func NewPublisher(logger *slog.Logger, collect Collector) *Publisher {
	return &Publisher{
		collect: collect,
		logger:  logging.NewComponentLogger(logger, "telemetry"),
		enabled: true,
	}
}

// AddSink registers a sink. A sink with a non-positive interval is kept
// for bookkeeping but never scheduled: it stays silent over an
// arbitrarily long run.
func (p *Publisher) AddSink(sink Sink) {
	p.sinks = append(p.sinks, sink)
}

// SetEnabled flips the global per-invocation publish switch.
func (p *Publisher) SetEnabled(enabled bool) { p.enabled = enabled }

// Enabled reports the global publish switch.
func (p *Publisher) Enabled() bool { return p.enabled }

// Sinks returns the registered sinks in registration order.
func (p *Publisher) Sinks() []Sink {
	out := make([]Sink, len(p.sinks))
	copy(out, p.sinks)
	return out
}

// PublishTo collects the current metric set and pushes it to one sink,
// honoring both enablement gates.
func (p *Publisher) PublishTo(ctx context.Context, sink Sink) error {
	if !p.enabled || !sink.Enabled() {
		return nil
	}
	var metrics []Metric
	if p.collect != nil {
		metrics = p.collect()
	}
	err := sink.Publish(ctx, metrics)
	if err != nil {
		return fmt.Errorf("publish to %s sink: %w", sink.Name(), err)
	}
	p.logger.Debug("published metrics",
		logging.String(logging.FieldSink, sink.Name()),
		logging.Int("count", len(metrics)))
	return nil
}

// RegisterTasks adds one scheduler task per sink with a positive
// interval. Must run before the scheduler freezes.
func (p *Publisher) RegisterTasks(s *sched.Scheduler) error {
	for _, sink := range p.sinks {
		if sink.Interval() <= 0 {
			continue
		}
		sink := sink
		name := "telemetry." + sink.Name()
		if _, err := s.Add(name, sink.Interval(), func(ctx context.Context) error {
			return p.PublishTo(ctx, sink)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Alive publishes a liveness metric through the retained bus sink, if one
// is registered and enabled. Other sinks carry liveness implicitly via
// their own publishes.
func (p *Publisher) Alive(ctx context.Context, daemon string) error {
	if !p.enabled {
		return nil
	}
	for _, sink := range p.sinks {
		if sink.Kind() != KindBus || !sink.Enabled() {
			continue
		}
		err := sink.Publish(ctx, []Metric{{
			Name:   "alive",
			Value:  1,
			Labels: map[string]string{"daemon": daemon},
		}})
		if err != nil {
			return fmt.Errorf("publish alive: %w", err)
		}
	}
	return nil
}

// Disconnect runs every sink's shutdown obligation. Failures are logged
// and do not stop the remaining hooks.
func (p *Publisher) Disconnect(ctx context.Context) {
	for _, sink := range p.sinks {
		if err := sink.Disconnect(ctx); err != nil {
			p.logger.Warn("sink disconnect failed",
				logging.String(logging.FieldSink, sink.Name()),
				logging.Error(err))
		}
	}
}

// Stats renders per-sink counters for the stats command.
func (p *Publisher) Stats() []string {
	lines := make([]string, 0, len(p.sinks))
	for _, sink := range p.sinks {
		status := "enabled"
		if sink.Interval() <= 0 {
			status = "disabled"
		}
		detail := fmt.Sprintf("sink %s (%s): %s", sink.Name(), sink.Kind(), status)
		if base := baseOf(sink); base != nil {
			detail = fmt.Sprintf("%s, published %d, failed %d", detail, base.publishes, base.failures)
			if !base.lastPublish.IsZero() {
				detail = fmt.Sprintf("%s, last %s", detail, base.lastPublish.UTC().Format(time.RFC3339))
			}
		}
		lines = append(lines, detail)
	}
	return lines
}

type baseHolder interface {
	base() *sinkBase
}

func baseOf(sink Sink) *sinkBase {
	if holder, ok := sink.(baseHolder); ok {
		return holder.base()
	}
	return nil
}

// metricKey builds the dotted bus key for a metric, applying the sink
// prefix and sanitizing characters the bus disallows in keys.
func metricKey(prefix, name string) string {
	parts := make([]string, 0, 2)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, name)
	joined := strings.Join(parts, ".")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, joined)
}

// promName builds a Prometheus-safe metric name from the sink prefix and
// metric name.
func promName(prefix, name string) string {
	joined := name
	if prefix != "" {
		joined = prefix + "_" + name
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_' || r == ':':
			return r
		default:
			return '_'
		}
	}, joined)
	if mapped == "" || (mapped[0] >= '0' && mapped[0] <= '9') {
		mapped = "_" + mapped
	}
	return mapped
}

// sortedLabelKeys returns label keys in deterministic order.
func sortedLabelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

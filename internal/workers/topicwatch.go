package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go"

	"warden/internal/control"
	"warden/internal/daemon"
	"warden/internal/logging"
	"warden/internal/telemetry"
)

const topicQueueDepth = 256

func init() {
	register("topicwatch", func() Worker { return &topicWatch{} })
}

// topicWatch subscribes to a set of bus subjects and counts traffic per
// subject. Messages buffer on subscription channels and are drained on
// the scheduling thread, matching the one-thread daemon model.
type topicWatch struct {
	logger *slog.Logger
	topics []string

	conn     *nats.Conn
	inbox    chan *nats.Msg
	subs     []*nats.Subscription
	seen     map[string]uint64
	lastSeen map[string]time.Time
}

func (w *topicWatch) Name() string { return "topicwatch" }

func (w *topicWatch) Init(d *daemon.Daemon) error {
	cfg := d.Config()
	w.logger = logging.NewComponentLogger(d.Logger(), "topicwatch")

	w.topics = cfg.StringsProp("topics")
	if len(w.topics) == 0 {
		return errors.New("topicwatch requires a topics list in its config")
	}
	url := cfg.Telemetry.BusURL
	if url == "" {
		return errors.New("topicwatch requires telemetry.busUrl in its config")
	}

	conn, err := nats.Connect(url,
		nats.Name("warden-topicwatch"),
		nats.Timeout(cfg.MessagingDeadline()))
	if err != nil {
		return fmt.Errorf("connect bus %s: %w", url, err)
	}
	w.conn = conn
	w.inbox = make(chan *nats.Msg, topicQueueDepth)
	w.seen = make(map[string]uint64, len(w.topics))
	w.lastSeen = make(map[string]time.Time, len(w.topics))
	for _, topic := range w.topics {
		sub, err := conn.ChanSubscribe(topic, w.inbox)
		if err != nil {
			conn.Close()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		w.subs = append(w.subs, sub)
	}

	interval := time.Duration(cfg.IntProp("workerInterval", 1000)) * time.Millisecond
	if err := d.RegisterTask("topicwatch.drain", interval, w.drain); err != nil {
		conn.Close()
		return err
	}
	if err := d.RegisterCommand("topics", w.handleTopics); err != nil {
		conn.Close()
		return err
	}
	d.AddStatus(w.statusLines)
	d.AddStats(func() []string {
		return []string{fmt.Sprintf("bus messages seen: %d", w.total())}
	})
	d.AddMetrics(w.metrics)
	d.OnDisconnect(func(context.Context) error {
		for _, sub := range w.subs {
			_ = sub.Unsubscribe()
		}
		w.conn.Close()
		return nil
	})
	return nil
}

func (w *topicWatch) drain(context.Context) error {
	for {
		select {
		case msg := <-w.inbox:
			w.seen[msg.Subject]++
			w.lastSeen[msg.Subject] = time.Now()
		default:
			return nil
		}
	}
}

func (w *topicWatch) total() uint64 {
	var total uint64
	for _, count := range w.seen {
		total += count
	}
	return total
}

func (w *topicWatch) statusLines() []string {
	lines := make([]string, 0, len(w.topics))
	topics := make([]string, len(w.topics))
	copy(topics, w.topics)
	sort.Strings(topics)
	for _, topic := range topics {
		line := fmt.Sprintf("topic %s: %d messages", topic, w.seen[topic])
		if last, ok := w.lastSeen[topic]; ok {
			line = fmt.Sprintf("%s, last %s", line, last.UTC().Format(time.RFC3339))
		}
		lines = append(lines, line)
	}
	return lines
}

func (w *topicWatch) metrics() []telemetry.Metric {
	metrics := make([]telemetry.Metric, 0, len(w.topics))
	for _, topic := range w.topics {
		metrics = append(metrics, telemetry.Metric{
			Name:   "topic_messages_total",
			Value:  float64(w.seen[topic]),
			Labels: map[string]string{"topic": topic},
		})
	}
	return metrics
}

func (w *topicWatch) handleTopics(r *control.Reply) error {
	for _, line := range w.statusLines() {
		r.Line(line)
	}
	return nil
}

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"warden/internal/logging"
)

// KV is the slice of the bucket API the bus sink needs. The production
// implementation is a JetStream key-value bucket.
type KV interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// BusConfig configures the retained message bus sink.
type BusConfig struct {
	URL      string
	Bucket   string
	Prefix   string
	Interval time.Duration
	Timeout  time.Duration
}

// BusSink publishes each metric as a retained value on a message bus:
// the bucket always holds the last published payload per key, so late
// subscribers see current state immediately. On disconnect it overwrites
// every key it ever wrote with an empty payload.
type BusSink struct {
	sinkBase
	url     string
	bucket  string
	timeout time.Duration
	logger  *slog.Logger

	conn *nats.Conn
	kv   KV
	keys map[string]struct{}
}

// NewBusSink creates the bus sink. Connection is deferred to the first
// publish so a daemon can start while the bus is down.
func NewBusSink(cfg BusConfig, logger *slog.Logger) *BusSink {
	return &BusSink{
		sinkBase: sinkBase{
			name:     "bus",
			kind:     KindBus,
			interval: cfg.Interval,
			prefix:   cfg.Prefix,
			enabled:  cfg.Interval > 0,
		},
		url:     cfg.URL,
		bucket:  cfg.Bucket,
		timeout: cfg.Timeout,
		logger:  logging.NewComponentLogger(logger, "telemetry.bus"),
		keys:    make(map[string]struct{}),
	}
}

// NewBusSinkWithKV creates a bus sink bound to an existing bucket,
// bypassing connection management.
func NewBusSinkWithKV(cfg BusConfig, kv KV, logger *slog.Logger) *BusSink {
	sink := NewBusSink(cfg, logger)
	sink.kv = kv
	return sink
}

func (s *BusSink) base() *sinkBase { return &s.sinkBase }

// payload is the JSON document stored per metric key.
type payload struct {
	Name   string            `json:"name"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels,omitempty"`
	TS     time.Time         `json:"ts"`
}

func (s *BusSink) connect(ctx context.Context) error {
	if s.kv != nil {
		return nil
	}
	conn, err := nats.Connect(s.url,
		nats.Name("warden"),
		nats.Timeout(s.timeout),
		nats.RetryOnFailedConnect(false))
	if err != nil {
		return fmt.Errorf("connect bus %s: %w", s.url, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("bus jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  s.bucket,
		History: 1,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("bus bucket %s: %w", s.bucket, err)
	}
	s.conn = conn
	s.kv = kv
	s.logger.Info("connected to message bus",
		logging.String("url", s.url),
		logging.String("bucket", s.bucket))
	return nil
}

// Publish stores every metric under its dotted key. The bucket keeps
// only the latest revision per key.
func (s *BusSink) Publish(ctx context.Context, metrics []Metric) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.recordPublish(err)
		return err
	}
	for _, m := range metrics {
		key := metricKey(s.prefix, m.Name)
		body, err := json.Marshal(payload{
			Name:   m.Name,
			Value:  m.Value,
			Labels: m.Labels,
			TS:     time.Now().UTC(),
		})
		if err != nil {
			s.recordPublish(err)
			return fmt.Errorf("encode metric %s: %w", m.Name, err)
		}
		if _, err := s.kv.Put(ctx, key, body); err != nil {
			s.recordPublish(err)
			return fmt.Errorf("bus put %s: %w", key, err)
		}
		s.keys[key] = struct{}{}
	}
	s.recordPublish(nil)
	return nil
}

// Disconnect republishes an empty payload on every key this sink wrote,
// then closes the connection. Retained values never outlive the daemon.
func (s *BusSink) Disconnect(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var firstErr error
	if s.kv != nil {
		for key := range s.keys {
			if _, err := s.kv.Put(ctx, key, nil); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("clear bus key %s: %w", key, err)
			}
		}
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if firstErr != nil {
		return firstErr
	}
	s.logger.Debug("bus sink disconnected", logging.Int("keys_cleared", len(s.keys)))
	return nil
}

func (s *BusSink) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {}
}

package telemetry_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"warden/internal/logging"
	"warden/internal/sched"
	"warden/internal/telemetry"
)

type fakeKV struct {
	mu     sync.Mutex
	values map[string][]byte
	puts   int
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string][]byte)}
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.puts++
	return uint64(f.puts), nil
}

func (f *fakeKV) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	return value, ok
}

func busSink(kv telemetry.KV) *telemetry.BusSink {
	return telemetry.NewBusSinkWithKV(telemetry.BusConfig{
		URL:      "nats://127.0.0.1:4222",
		Bucket:   "warden_telemetry",
		Prefix:   "warden",
		Interval: time.Second,
	}, kv, logging.NewNop())
}

func TestBusSinkRetainsLastValue(t *testing.T) {
	kv := newFakeKV()
	sink := busSink(kv)

	ctx := context.Background()
	if err := sink.Publish(ctx, []telemetry.Metric{{Name: "x", Value: 3}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := sink.Publish(ctx, []telemetry.Metric{{Name: "x", Value: 5}}); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	body, ok := kv.get("warden.x")
	if !ok {
		t.Fatal("expected key warden.x to be set")
	}
	var got struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Name != "x" || got.Value != 5 {
		t.Fatalf("expected latest value 5 for x, got %+v", got)
	}
}

func TestBusSinkDisconnectEmptiesRetainedKeys(t *testing.T) {
	kv := newFakeKV()
	sink := busSink(kv)

	ctx := context.Background()
	if err := sink.Publish(ctx, []telemetry.Metric{{Name: "x", Value: 3}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := sink.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	body, ok := kv.get("warden.x")
	if !ok {
		t.Fatal("key should still exist after disconnect")
	}
	if len(body) != 0 {
		t.Fatalf("expected empty payload after disconnect, got %q", body)
	}
}

func TestZeroIntervalSinkNeverPublishes(t *testing.T) {
	kv := newFakeKV()
	sink := telemetry.NewBusSinkWithKV(telemetry.BusConfig{
		Bucket: "warden_telemetry",
		Prefix: "warden",
	}, kv, logging.NewNop())

	pub := telemetry.NewPublisher(logging.NewNop(), func() []telemetry.Metric {
		return []telemetry.Metric{{Name: "x", Value: 1}}
	})
	pub.AddSink(sink)

	s := sched.New(logging.NewNop(), nil)
	if err := pub.RegisterTasks(s); err != nil {
		t.Fatalf("register tasks: %v", err)
	}
	if len(s.Tasks()) != 0 {
		t.Fatalf("expected no scheduled tasks, got %d", len(s.Tasks()))
	}

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 3600; i++ {
		s.RunDue(ctx, now.Add(time.Duration(i)*time.Second))
	}
	if kv.puts != 0 {
		t.Fatalf("disabled sink published %d times", kv.puts)
	}
}

func TestPublisherGlobalSwitch(t *testing.T) {
	kv := newFakeKV()
	pub := telemetry.NewPublisher(logging.NewNop(), func() []telemetry.Metric {
		return []telemetry.Metric{{Name: "x", Value: 1}}
	})
	sink := busSink(kv)
	pub.AddSink(sink)

	pub.SetEnabled(false)
	if err := pub.PublishTo(context.Background(), sink); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if kv.puts != 0 {
		t.Fatal("publish switch off, sink should stay silent")
	}

	pub.SetEnabled(true)
	if err := pub.PublishTo(context.Background(), sink); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if kv.puts != 1 {
		t.Fatalf("expected one put, got %d", kv.puts)
	}
}

func TestAlivePublishesThroughBus(t *testing.T) {
	kv := newFakeKV()
	pub := telemetry.NewPublisher(logging.NewNop(), nil)
	pub.AddSink(busSink(kv))

	if err := pub.Alive(context.Background(), "myserviced"); err != nil {
		t.Fatalf("alive: %v", err)
	}
	body, ok := kv.get("warden.alive")
	if !ok {
		t.Fatal("expected alive key on the bus")
	}
	var got struct {
		Value  float64           `json:"value"`
		Labels map[string]string `json:"labels"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Value != 1 || got.Labels["daemon"] != "myserviced" {
		t.Fatalf("unexpected alive payload: %+v", got)
	}
}

func TestTextSinkWritesAndRemovesSnapshot(t *testing.T) {
	dir := t.TempDir()
	sink := telemetry.NewTextSink(telemetry.TextConfig{
		Dir:      dir,
		Job:      "myserviced",
		Interval: time.Second,
	}, logging.NewNop())

	ctx := context.Background()
	metrics := []telemetry.Metric{
		{Name: "queue_depth", Value: 3},
		{Name: "errors", Value: 0, Labels: map[string]string{"kind": "io"}},
	}
	if err := sink.Publish(ctx, metrics); err != nil {
		t.Fatalf("publish: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "myserviced.prom"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "queue_depth 3") {
		t.Fatalf("snapshot missing queue_depth: %s", text)
	}
	if !strings.Contains(text, `errors{kind="io"} 0`) {
		t.Fatalf("snapshot missing labeled metric: %s", text)
	}

	if err := sink.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := os.Stat(sink.Path()); !os.IsNotExist(err) {
		t.Fatal("snapshot should be removed on disconnect")
	}
}

func TestPushSinkSendsSnapshot(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		body = string(payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := telemetry.NewPushSink(telemetry.PushConfig{
		URL:      server.URL,
		Job:      "warden",
		Instance: "myserviced",
		Interval: time.Second,
		Timeout:  2 * time.Second,
	}, logging.NewNop())

	err := sink.Publish(context.Background(), []telemetry.Metric{{Name: "queue_depth", Value: 3}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "/metrics/job/warden") {
		t.Fatalf("unexpected push path %q", path)
	}
	if !strings.Contains(path, "instance/myserviced") {
		t.Fatalf("push path missing instance grouping: %q", path)
	}
	if !strings.Contains(body, "queue_depth") {
		t.Fatalf("push body missing metric: %q", body)
	}
}

func TestStatsReportsSinkCounters(t *testing.T) {
	kv := newFakeKV()
	pub := telemetry.NewPublisher(logging.NewNop(), func() []telemetry.Metric {
		return []telemetry.Metric{{Name: "x", Value: 1}}
	})
	sink := busSink(kv)
	pub.AddSink(sink)

	if err := pub.PublishTo(context.Background(), sink); err != nil {
		t.Fatalf("publish: %v", err)
	}
	lines := pub.Stats()
	if len(lines) != 1 {
		t.Fatalf("expected one stats line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "sink bus (bus)") || !strings.Contains(lines[0], "published 1") {
		t.Fatalf("unexpected stats line: %q", lines[0])
	}
}

package testsupport

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"warden/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(map[string]any)

// WithPort overrides the listening port on the test config.
func WithPort(port int) ConfigOption {
	return func(doc map[string]any) {
		doc["listeningPort"] = port
	}
}

// WithWorker selects a worker routine on the test config.
func WithWorker(name string) ConfigOption {
	return func(doc map[string]any) {
		doc["worker"] = name
	}
}

// WithKey sets an arbitrary top-level key on the test config.
func WithKey(key string, value any) ConfigOption {
	return func(doc map[string]any) {
		doc[key] = value
	}
}

// NewConfig writes a daemon config file named testd.json under a unique
// temp directory and loads it. It defaults to a free listening port,
// fast intervals, temp log/run directories, and no telemetry sinks.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	doc := map[string]any{
		"enabled":           true,
		"listeningPort":     FreePort(t),
		"listeningInterval": 500,
		"messagingInterval": 0,
		"httpingInterval":   0,
		"textingInterval":   0,
		"aliveInterval":     0,
		"logDir":            filepath.Join(base, "logs"),
		"runDir":            filepath.Join(base, "run"),
	}
	for _, opt := range opts {
		opt(doc)
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("marshal test config: %v", err)
	}
	path := filepath.Join(base, "testd.json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load test config: %v", err)
	}
	return cfg
}

// FreePort reserves and releases an ephemeral TCP port. The window
// between release and reuse is small enough for tests.
func FreePort(t testing.TB) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	if err := listener.Close(); err != nil {
		t.Fatalf("release port: %v", err)
	}
	return port
}

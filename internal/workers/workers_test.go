package workers_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"warden/internal/config"
	"warden/internal/control"
	"warden/internal/daemon"
	"warden/internal/logging"
	"warden/internal/testsupport"
	"warden/internal/workers"
)

func startWorkerDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()

	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("create daemon: %v", err)
	}
	worker, err := workers.Lookup(cfg.Worker)
	if err != nil {
		t.Fatalf("lookup worker: %v", err)
	}
	if err := worker.Init(d); err != nil {
		t.Fatalf("init worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return d
}

func send(t *testing.T, port int, command string) (*control.Result, error) {
	t.Helper()
	client := &control.Client{Port: port, Timeout: 5 * time.Second, Logger: logging.NewNop()}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Send(ctx, command)
}

func TestLookupUnknownWorker(t *testing.T) {
	_, err := workers.Lookup("nonesuch")
	if err == nil {
		t.Fatal("expected error for unknown worker")
	}
	if !strings.Contains(err.Error(), "alertwatch") {
		t.Fatalf("error should list available workers: %v", err)
	}
}

func TestNamesAreSorted(t *testing.T) {
	names := workers.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestNodeStatusReportsEndpointState(t *testing.T) {
	up, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer up.Close()
	go func() {
		for {
			conn, err := up.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	downAddr := fmt.Sprintf("127.0.0.1:%d", testsupport.FreePort(t))

	cfg := testsupport.NewConfig(t,
		testsupport.WithWorker("nodestatus"),
		testsupport.WithKey("endpoints", []string{up.Addr().String(), downAddr}),
		testsupport.WithKey("workerInterval", 500),
	)
	d := startWorkerDaemon(t, cfg)

	result, err := send(t, d.Port(), "check")
	if err != nil && result == nil {
		t.Fatalf("check: %v", err)
	}
	body := strings.Join(result.Lines, "\n")
	if !strings.Contains(body, fmt.Sprintf("node %s: up", up.Addr().String())) {
		t.Fatalf("reachable endpoint not reported up: %s", body)
	}
	if !strings.Contains(body, fmt.Sprintf("node %s: down", downAddr)) {
		t.Fatalf("unreachable endpoint not reported down: %s", body)
	}

	status, err := send(t, d.Port(), "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(strings.Join(status.Lines, "\n"), "node ") {
		t.Fatalf("status missing node lines: %v", status.Lines)
	}
}

func TestNodeStatusRequiresEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorker("nodestatus"))
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("create daemon: %v", err)
	}
	defer d.Stop()

	worker, err := workers.Lookup("nodestatus")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := worker.Init(d); err == nil {
		t.Fatal("expected init failure without endpoints")
	}
}

func TestAlertWatchCountsNewFiles(t *testing.T) {
	watched := t.TempDir()
	cfg := testsupport.NewConfig(t,
		testsupport.WithWorker("alertwatch"),
		testsupport.WithKey("monitoredDir", watched),
		testsupport.WithKey("workerInterval", 500),
	)
	d := startWorkerDaemon(t, cfg)

	path := filepath.Join(watched, "disk-full.alert")
	if err := os.WriteFile(path, []byte("disk full on node7\n"), 0o644); err != nil {
		t.Fatalf("write alert: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		result, err := send(t, d.Port(), "alerts")
		if err != nil {
			t.Fatalf("alerts: %v", err)
		}
		body := strings.Join(result.Lines, "\n")
		if strings.Contains(body, "recent: disk-full.alert") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("alert never observed: %s", body)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

package control_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"warden/internal/control"
	"warden/internal/logging"
)

// serveOne runs accept/serve passes in the background until stop is
// closed, mimicking the daemon loop.
func serveOne(t *testing.T, srv *control.Server) chan struct{} {
	t.Helper()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			conn, err := srv.PollAccept(100 * time.Millisecond)
			if err != nil {
				return
			}
			if conn != nil {
				srv.ServeConn(conn)
			}
		}
	}()
	return stop
}

func newTestServer(t *testing.T, d *control.Dispatcher) *control.Server {
	t.Helper()
	srv, err := control.NewServer(0, d, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	stop := serveOne(t, srv)
	t.Cleanup(func() { close(stop) })
	return srv
}

func TestSendReceivesLinesAndSentinel(t *testing.T) {
	d := control.NewDispatcher()
	if err := d.Register("status", func(r *control.Reply) error {
		r.Line("uptime: 5s")
		r.Linef("listeningPort: %d", 14001)
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv := newTestServer(t, d)

	client := &control.Client{Port: srv.Port(), Timeout: 5 * time.Second, PollTick: 50 * time.Millisecond, Logger: logging.NewNop()}
	result, err := client.Send(context.Background(), "status")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !result.OK {
		t.Fatal("expected OK result")
	}
	if result.PID != os.Getpid() {
		t.Fatalf("sentinel pid = %d, want %d", result.PID, os.Getpid())
	}
	if len(result.Lines) != 3 {
		t.Fatalf("lines = %v, want 2 info lines plus sentinel", result.Lines)
	}
	if result.Lines[0] != "uptime: 5s" || result.Lines[1] != "listeningPort: 14001" {
		t.Fatalf("unexpected info lines: %v", result.Lines)
	}
	if result.Lines[2] != fmt.Sprintf("%d OK", os.Getpid()) {
		t.Fatalf("unexpected sentinel: %q", result.Lines[2])
	}
}

func TestUnknownCommandRefused(t *testing.T) {
	srv := newTestServer(t, control.NewDispatcher())

	client := &control.Client{Port: srv.Port(), Timeout: 5 * time.Second, PollTick: 50 * time.Millisecond, Logger: logging.NewNop()}
	result, err := client.Send(context.Background(), "frobnicate")
	if !errors.Is(err, control.ErrRefused) {
		t.Fatalf("expected ErrRefused, got %v", err)
	}
	if result.OK {
		t.Fatal("expected NOT-OK result")
	}
	if len(result.Lines) == 0 || result.Lines[0] != fmt.Sprintf("%d unknown command", os.Getpid()) {
		t.Fatalf("unexpected lines: %v", result.Lines)
	}
}

func TestHandlerErrorContained(t *testing.T) {
	d := control.NewDispatcher()
	if err := d.Register("explode", func(r *control.Reply) error {
		return errors.New("worker state missing")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register("panic", func(r *control.Reply) error {
		panic("unexpected nil")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register("ping", func(r *control.Reply) error { return nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv := newTestServer(t, d)

	client := &control.Client{Port: srv.Port(), Timeout: 5 * time.Second, PollTick: 50 * time.Millisecond, Logger: logging.NewNop()}

	if _, err := client.Send(context.Background(), "explode"); !errors.Is(err, control.ErrRefused) {
		t.Fatalf("expected ErrRefused for handler error, got %v", err)
	}
	if _, err := client.Send(context.Background(), "panic"); !errors.Is(err, control.ErrRefused) {
		t.Fatalf("expected ErrRefused for handler panic, got %v", err)
	}
	// The daemon must keep serving after handler failures.
	if result, err := client.Send(context.Background(), "ping"); err != nil || !result.OK {
		t.Fatalf("server wedged after failures: %v %v", result, err)
	}
}

func TestSendTimesOutDistinctly(t *testing.T) {
	// A listener that accepts but never responds.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	var held []net.Conn
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				for _, c := range held {
					c.Close()
				}
				return
			}
			held = append(held, conn)
		}
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	client := &control.Client{Port: port, Timeout: 300 * time.Millisecond, PollTick: 50 * time.Millisecond, Logger: logging.NewNop()}
	_, err = client.Send(context.Background(), "status")
	if !errors.Is(err, control.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, control.ErrRefused) {
		t.Fatal("timeout must not read as a refusal")
	}
}

func TestDummyModeNeverConnects(t *testing.T) {
	// Port 1 is never listening; dummy mode must not care.
	client := &control.Client{Port: 1, Dummy: true, Logger: logging.NewNop()}
	result, err := client.Send(context.Background(), "terminate")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !result.OK {
		t.Fatal("dummy mode must synthesize success")
	}
}

func TestRegisterAfterFreeze(t *testing.T) {
	d := control.NewDispatcher()
	d.Freeze()
	err := d.Register("late", func(r *control.Reply) error { return nil })
	if !errors.Is(err, control.ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
}

func TestSentinelCodec(t *testing.T) {
	pid, ok, matched := control.ParseSentinel("4321 OK")
	if !matched || !ok || pid != 4321 {
		t.Fatalf("ParseSentinel OK: %d %v %v", pid, ok, matched)
	}
	pid, ok, matched = control.ParseSentinel("77 NOT-OK")
	if !matched || ok || pid != 77 {
		t.Fatalf("ParseSentinel NOT-OK: %d %v %v", pid, ok, matched)
	}
	for _, line := range []string{"", "OK", "abc OK", "12 MAYBE", "uptime: 5s"} {
		if _, _, matched := control.ParseSentinel(line); matched {
			t.Fatalf("line %q must not parse as sentinel", line)
		}
	}
}

func TestPortExclusivity(t *testing.T) {
	d := control.NewDispatcher()
	srv, err := control.NewServer(0, d, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	if _, err := control.NewServer(srv.Port(), control.NewDispatcher(), logging.NewNop()); err == nil {
		t.Fatal("expected second bind on the same port to fail")
	}
}

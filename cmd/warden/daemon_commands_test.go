package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"warden/internal/config"
	"warden/internal/daemon"
	"warden/internal/logging"
	"warden/internal/testsupport"
)

func runVerb(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func startTestDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("create daemon: %v", err)
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

func TestStatusVerbPrintsReplyAndSuccess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startTestDaemon(t, cfg)

	out, err := runVerb(t, "status", "--port", strconv.Itoa(d.Port()))
	if err != nil {
		t.Fatalf("status verb: %v\n%s", err, out)
	}
	if !strings.Contains(out, fmt.Sprintf("listening port: %d", d.Port())) {
		t.Fatalf("output missing port: %s", out)
	}
	if !strings.Contains(out, "success") {
		t.Fatalf("output missing terminal success line: %s", out)
	}
}

func TestStatusVerbRequiresExactlyOneTarget(t *testing.T) {
	if _, err := runVerb(t, "status"); err == nil {
		t.Fatal("expected target validation error")
	}
	if _, err := runVerb(t, "status", "--port", "7777", "--name", "myserviced"); err == nil {
		t.Fatal("expected rejection of two targets")
	}
}

func TestCommandVerbSurfacesRefusal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startTestDaemon(t, cfg)

	out, err := runVerb(t, "command",
		"--port", strconv.Itoa(d.Port()),
		"--command", "frobnicate")
	if err == nil {
		t.Fatalf("unknown command should fail, got: %s", out)
	}
	if !strings.Contains(out, "unknown command") {
		t.Fatalf("refusal detail not surfaced: %s", out)
	}
}

func TestStopVerbAgainstRunningDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startTestDaemon(t, cfg)

	out, err := runVerb(t, "stop", "--port", strconv.Itoa(d.Port()))
	if err != nil {
		t.Fatalf("stop verb: %v\n%s", err, out)
	}
	if !strings.Contains(out, "acknowledged terminate") {
		t.Fatalf("unexpected stop output: %s", out)
	}
}

func TestStopVerbIgnoreToleratesDeadDaemon(t *testing.T) {
	port := testsupport.FreePort(t)
	out, err := runVerb(t, "stop", "--port", strconv.Itoa(port), "--ignore")
	if err != nil {
		t.Fatalf("stop --ignore: %v\n%s", err, out)
	}
	if !strings.Contains(out, "success") {
		t.Fatalf("missing success line: %s", out)
	}
}

func TestDummyModeNeverConnects(t *testing.T) {
	port := testsupport.FreePort(t)
	out, err := runVerb(t, "status", "--port", strconv.Itoa(port), "--dummy")
	if err != nil {
		t.Fatalf("dummy status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "success") {
		t.Fatalf("dummy mode should synthesize success: %s", out)
	}
}

func TestSampleConfigAndList(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_CONFIG_DIR", dir)

	out, err := runVerb(t, "sample-config", "exampled")
	if err != nil {
		t.Fatalf("sample-config: %v\n%s", err, out)
	}
	if !strings.Contains(out, "exampled.json") {
		t.Fatalf("path not reported: %s", out)
	}

	out, err = runVerb(t, "list")
	if err != nil {
		t.Fatalf("list: %v\n%s", err, out)
	}
	if !strings.Contains(out, "exampled") || !strings.Contains(out, "stopped") {
		t.Fatalf("list missing daemon row: %s", out)
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels([]string{"site=fra1", "rack=b7"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if labels["site"] != "fra1" || labels["rack"] != "b7" {
		t.Fatalf("unexpected labels: %v", labels)
	}
	if _, err := parseLabels([]string{"bogus"}); err == nil {
		t.Fatal("expected error for malformed label")
	}
}

package sched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"warden/internal/logging"
	"warden/internal/sched"
)

func TestRunDueFiresAtIntervals(t *testing.T) {
	s := sched.New(logging.NewNop(), nil)
	var fast, slow int
	if _, err := s.Add("fast", time.Second, func(context.Context) error {
		fast++
		return nil
	}); err != nil {
		t.Fatalf("Add fast: %v", err)
	}
	if _, err := s.Add("slow", 3*time.Second, func(context.Context) error {
		slow++
		return nil
	}); err != nil {
		t.Fatalf("Add slow: %v", err)
	}
	s.Freeze()

	// Simulate a 9 second run with one pass per second.
	start := time.Unix(1000, 0)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		s.RunDue(ctx, start.Add(time.Duration(i)*time.Second))
	}

	if fast != 9 {
		t.Fatalf("fast fired %d times, want 9", fast)
	}
	// floor(9s / 3s) = 3, first pass counts as due.
	if slow != 3 {
		t.Fatalf("slow fired %d times, want 3", slow)
	}
}

func TestAddAfterFreezeFailsFast(t *testing.T) {
	s := sched.New(logging.NewNop(), nil)
	s.Freeze()
	if _, err := s.Add("late", time.Second, func(context.Context) error { return nil }); !errors.Is(err, sched.ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
}

func TestDuplicateTaskNameRejected(t *testing.T) {
	s := sched.New(logging.NewNop(), nil)
	noop := func(context.Context) error { return nil }
	if _, err := s.Add("poll", time.Second, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add("poll", time.Second, noop); err == nil {
		t.Fatal("expected duplicate name rejection")
	}
}

func TestShortIntervalClamped(t *testing.T) {
	s := sched.New(logging.NewNop(), nil)
	task, err := s.Add("eager", 10*time.Millisecond, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if task.Interval != sched.MinInterval {
		t.Fatalf("interval = %v, want clamp to %v", task.Interval, sched.MinInterval)
	}
}

func TestTaskErrorIsContainedAndCounted(t *testing.T) {
	var failures []string
	s := sched.New(logging.NewNop(), func(name string, err error) {
		failures = append(failures, name)
	})
	boom := errors.New("boom")
	if _, err := s.Add("flaky", time.Second, func(context.Context) error { return boom }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add("panicky", time.Second, func(context.Context) error { panic("kaboom") }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Freeze()

	now := time.Unix(2000, 0)
	if fired := s.RunDue(context.Background(), now); fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
	if len(failures) != 2 {
		t.Fatalf("failures = %v, want both tasks reported", failures)
	}

	// Failed tasks retry at the next natural interval.
	if fired := s.RunDue(context.Background(), now.Add(time.Second)); fired != 2 {
		t.Fatalf("retry fired = %d, want 2", fired)
	}
}

func TestDisabledTaskNeverRuns(t *testing.T) {
	s := sched.New(logging.NewNop(), nil)
	ran := false
	task, err := s.Add("dormant", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	task.Enabled = false
	s.Freeze()

	for i := 0; i < 5; i++ {
		s.RunDue(context.Background(), time.Unix(int64(3000+i), 0))
	}
	if ran {
		t.Fatal("disabled task must not run")
	}
}

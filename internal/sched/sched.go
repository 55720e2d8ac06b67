package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/logging"
)

// MinInterval is the floor applied to task intervals. Shorter intervals
// are clamped up with a warning rather than rejected.
const MinInterval = 500 * time.Millisecond

// ErrFrozen indicates a registration attempt after the loop started.
var ErrFrozen = errors.New("scheduler is frozen")

// Func is a task callback. It runs synchronously on the loop thread with
// exclusive access to daemon state; a long-running callback delays every
// other task and the control socket.
type Func func(ctx context.Context) error

// Task is one registered periodic callback.
type Task struct {
	Name     string
	Interval time.Duration
	Enabled  bool

	fn      Func
	lastRun time.Time
}

// LastRun returns the time the task last fired, zero before the first run.
func (t *Task) LastRun() time.Time { return t.lastRun }

// Scheduler holds the frozen registry of periodic tasks and runs due ones
// cooperatively. It is not safe for concurrent use: all registration and
// every RunDue call must happen on the single scheduling thread.
type Scheduler struct {
	tasks  []*Task
	frozen bool
	logger *slog.Logger

	onError func(name string, err error)
}

// New constructs an empty scheduler. onError is invoked for every task
// failure after it has been logged; it may be nil.
func New(logger *slog.Logger, onError func(name string, err error)) *Scheduler {
	return &Scheduler{
		logger:  logging.NewComponentLogger(logger, "sched"),
		onError: onError,
	}
}

// Add registers a task. Registration is only legal before Freeze; the
// task set is immutable once the loop starts. Intervals below MinInterval
// are clamped with a warning.
func (s *Scheduler) Add(name string, interval time.Duration, fn Func) (*Task, error) {
	if s.frozen {
		return nil, fmt.Errorf("add task %q: %w", name, ErrFrozen)
	}
	if name == "" {
		return nil, errors.New("task name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("task %q requires a callback", name)
	}
	for _, existing := range s.tasks {
		if existing.Name == name {
			return nil, fmt.Errorf("task %q already registered", name)
		}
	}
	if interval < MinInterval {
		s.logger.Warn("task interval below minimum, clamped",
			logging.String(logging.FieldTask, name),
			logging.Duration("interval", interval),
			logging.Duration("minimum", MinInterval))
		interval = MinInterval
	}
	task := &Task{Name: name, Interval: interval, Enabled: true, fn: fn}
	s.tasks = append(s.tasks, task)
	return task, nil
}

// Freeze seals the registry. Idempotent.
func (s *Scheduler) Freeze() {
	s.frozen = true
}

// Frozen reports whether registration is closed.
func (s *Scheduler) Frozen() bool { return s.frozen }

// Tasks returns the registered tasks in registration order.
func (s *Scheduler) Tasks() []*Task {
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// RunDue executes every enabled task whose interval has elapsed since its
// last run, synchronously and in registration order, and returns the
// number of tasks fired. A task failure or panic is caught here, logged,
// and reported through onError; the task simply retries at its next
// natural interval.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	fired := 0
	for _, task := range s.tasks {
		if !task.Enabled || task.Interval <= 0 {
			continue
		}
		if !task.lastRun.IsZero() && now.Sub(task.lastRun) < task.Interval {
			continue
		}
		task.lastRun = now
		fired++
		if err := s.runOne(ctx, task); err != nil {
			s.logger.Error("task failed",
				logging.String(logging.FieldTask, task.Name),
				logging.Error(err))
			if s.onError != nil {
				s.onError(task.Name, err)
			}
		}
	}
	return fired
}

func (s *Scheduler) runOne(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", task.Name, r)
		}
	}()
	return task.fn(ctx)
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"warden/internal/config"
	"warden/internal/control"
	"warden/internal/logging"
	"warden/internal/sched"
	"warden/internal/telemetry"
)

// maxAcceptFailures is the number of consecutive accept errors after
// which the control socket is considered unusable and the loop stops.
const maxAcceptFailures = 5

// Daemon composes the scheduler, control server, and telemetry publisher
// around one configuration. It enforces single-instance execution per
// daemon name through a lock file, and its state is mutated only by the
// scheduling thread once Run starts.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *sched.Scheduler
	dispatch  *control.Dispatcher
	server    *control.Server
	publisher *telemetry.Publisher

	runID    string
	pid      int
	started  time.Time
	lock     *flock.Flock
	lockPath string
	pidPath  string

	stopping      bool
	ignoreSignals bool
	errCount      int

	statusFns   []func() []string
	statsFns    []func() []string
	metricFns   []func() []telemetry.Metric
	disconnects []func(context.Context) error
}

// New validates the configuration, acquires the instance lock, writes
// the pid file, and binds the control port. A failure at any of these
// steps leaves no daemon artifacts behind.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	for _, warning := range cfg.Warnings() {
		logger.Warn(warning, logging.String(logging.FieldDaemon, cfg.Name()))
	}

	runDir, err := config.ExpandPath(cfg.RunDir)
	if err != nil {
		return nil, fmt.Errorf("resolve run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		runID:    uuid.NewString(),
		pid:      os.Getpid(),
		lockPath: filepath.Join(runDir, cfg.Name()+".lock"),
		pidPath:  filepath.Join(runDir, cfg.Name()+".pid"),
	}
	d.scheduler = sched.New(logger, func(name string, err error) {
		d.errCount++
	})
	d.dispatch = control.NewDispatcher()

	d.lock = flock.New(d.lockPath)
	held, err := d.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", d.lockPath, err)
	}
	if !held {
		return nil, fmt.Errorf("daemon %s already running (lock %s held)", cfg.Name(), d.lockPath)
	}

	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(d.pid)+"\n"), 0o644); err != nil {
		d.releaseLock()
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	server, err := control.NewServer(cfg.ListeningPort, d.dispatch, logger)
	if err != nil {
		d.removeArtifacts()
		return nil, fmt.Errorf("bind control port %d: %w", cfg.ListeningPort, err)
	}
	d.server = server

	d.publisher = telemetry.NewPublisher(logger, d.collectMetrics)
	d.publisher.SetEnabled(cfg.Enabled)
	d.addConfiguredSinks()

	if err := d.registerBuiltins(); err != nil {
		d.server.Close()
		d.removeArtifacts()
		return nil, err
	}

	logger.Info("daemon initialized",
		logging.String(logging.FieldDaemon, cfg.Name()),
		logging.String(logging.FieldRunID, d.runID),
		logging.Int("pid", d.pid),
		logging.Int("port", d.server.Port()))
	return d, nil
}

func (d *Daemon) addConfiguredSinks() {
	tel := d.cfg.Telemetry
	if tick := d.cfg.MessagingTick(); tick > 0 && tel.BusURL == "" {
		d.logger.Warn("messagingInterval set but telemetry.busUrl missing, bus sink disabled")
	} else if tel.BusURL != "" {
		d.publisher.AddSink(telemetry.NewBusSink(telemetry.BusConfig{
			URL:      tel.BusURL,
			Bucket:   tel.BusBucket,
			Prefix:   tel.Prefix,
			Interval: d.cfg.MessagingTick(),
			Timeout:  d.cfg.MessagingDeadline(),
		}, d.logger))
	}
	if tick := d.cfg.HttpingTick(); tick > 0 && tel.PushURL == "" {
		d.logger.Warn("httpingInterval set but telemetry.pushUrl missing, push sink disabled")
	} else if tel.PushURL != "" {
		d.publisher.AddSink(telemetry.NewPushSink(telemetry.PushConfig{
			URL:      tel.PushURL,
			Job:      "warden",
			Instance: d.cfg.Name(),
			Prefix:   tel.Prefix,
			Interval: d.cfg.HttpingTick(),
			Timeout:  d.cfg.MessagingDeadline(),
		}, d.logger))
	}
	if tick := d.cfg.TextingTick(); tick > 0 && tel.TextDir == "" {
		d.logger.Warn("textingInterval set but telemetry.textDir missing, text sink disabled")
	} else if tel.TextDir != "" {
		dir, err := config.ExpandPath(tel.TextDir)
		if err != nil {
			d.logger.Warn("invalid telemetry.textDir, text sink disabled", logging.Error(err))
			return
		}
		d.publisher.AddSink(telemetry.NewTextSink(telemetry.TextConfig{
			Dir:      dir,
			Job:      d.cfg.Name(),
			Prefix:   tel.Prefix,
			Interval: d.cfg.TextingTick(),
		}, d.logger))
	}
}

// Name returns the daemon name derived from its config file.
func (d *Daemon) Name() string { return d.cfg.Name() }

// PID returns the daemon process id.
func (d *Daemon) PID() int { return d.pid }

// Port returns the bound control port.
func (d *Daemon) Port() int { return d.server.Port() }

// RunID returns the unique identifier of this daemon invocation.
func (d *Daemon) RunID() string { return d.runID }

// Config returns the live configuration.
func (d *Daemon) Config() *config.Config { return d.cfg }

// Logger returns the daemon logger.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// ErrorCount returns the accumulated error counter, used as the process
// exit status.
func (d *Daemon) ErrorCount() int { return d.errCount }

// RecordError increments the error counter and logs the cause.
func (d *Daemon) RecordError(err error) {
	if err == nil {
		return
	}
	d.errCount++
	d.logger.Error("daemon error", logging.Error(err))
}

// IgnoreSignals makes Run keep going when the surrounding context is
// cancelled, leaving terminate as the only way to stop.
func (d *Daemon) IgnoreSignals(ignore bool) { d.ignoreSignals = ignore }

// RegisterTask adds a periodic task. Must happen before Run.
func (d *Daemon) RegisterTask(name string, interval time.Duration, fn sched.Func) error {
	_, err := d.scheduler.Add(name, interval, fn)
	return err
}

// RegisterCommand adds a daemon-specific control command. Must happen
// before Run.
func (d *Daemon) RegisterCommand(name string, handler control.Handler) error {
	return d.dispatch.Register(name, handler)
}

// AddStatus contributes extra lines to the status command.
func (d *Daemon) AddStatus(fn func() []string) {
	d.statusFns = append(d.statusFns, fn)
}

// AddStats contributes extra lines to the stats command.
func (d *Daemon) AddStats(fn func() []string) {
	d.statsFns = append(d.statsFns, fn)
}

// AddMetrics contributes metrics to every telemetry snapshot.
func (d *Daemon) AddMetrics(fn func() []telemetry.Metric) {
	d.metricFns = append(d.metricFns, fn)
}

// OnDisconnect registers a shutdown hook, run in registration order
// before the control socket closes.
func (d *Daemon) OnDisconnect(fn func(context.Context) error) {
	d.disconnects = append(d.disconnects, fn)
}

func (d *Daemon) collectMetrics() []telemetry.Metric {
	labels := map[string]string{"daemon": d.cfg.Name()}
	metrics := []telemetry.Metric{
		{Name: "uptime_seconds", Value: time.Since(d.started).Seconds(), Labels: labels},
		{Name: "errors", Value: float64(d.errCount), Labels: labels},
	}
	for _, fn := range d.metricFns {
		metrics = append(metrics, fn()...)
	}
	return metrics
}

// Run freezes the registries and drives the cooperative loop: poll the
// control socket bounded by listeningInterval, service at most one
// connection, then run due tasks. It returns the accumulated error
// counter once the stop flag takes effect at a loop boundary.
func (d *Daemon) Run(ctx context.Context) int {
	if err := d.publisher.RegisterTasks(d.scheduler); err != nil {
		d.RecordError(err)
	}
	if tick := d.cfg.AliveTick(); tick > 0 {
		if err := d.RegisterTask("alive", tick, func(ctx context.Context) error {
			return d.publisher.Alive(ctx, d.cfg.Name())
		}); err != nil {
			d.RecordError(err)
		}
	}
	d.scheduler.Freeze()
	d.dispatch.Freeze()
	d.started = time.Now()

	d.logger.Info("daemon running",
		logging.String(logging.FieldDaemon, d.cfg.Name()),
		logging.Int("port", d.server.Port()),
		logging.Duration("listening_interval", d.cfg.ListeningTick()))

	acceptFailures := 0
	for {
		if !d.ignoreSignals && ctx.Err() != nil {
			d.logger.Info("interrupt received, stopping")
			d.stopping = true
		}
		if d.stopping {
			break
		}
		conn, err := d.server.PollAccept(d.cfg.ListeningTick())
		if err != nil {
			d.RecordError(fmt.Errorf("accept control connection: %w", err))
			acceptFailures++
			if acceptFailures >= maxAcceptFailures {
				d.logger.Error("control socket unusable, stopping", logging.Error(err))
				d.stopping = true
				continue
			}
			// A failed accept returns immediately; sleep so the loop
			// keeps its listeningInterval cadence instead of spinning.
			time.Sleep(d.cfg.ListeningTick())
		} else {
			acceptFailures = 0
			if conn != nil {
				d.server.ServeConn(conn)
			}
		}
		d.scheduler.RunDue(ctx, time.Now())
	}

	d.shutdown()
	return d.errCount
}

// Stop sets the stop flag. The loop honors it at its next boundary.
func (d *Daemon) Stop() { d.stopping = true }

// Close releases the socket, pid file, and lock without running the
// shutdown hooks. For startup failure paths before Run.
func (d *Daemon) Close() {
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			d.logger.Warn("close control socket", logging.Error(err))
		}
	}
	d.removeArtifacts()
}

func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, fn := range d.disconnects {
		if err := fn(ctx); err != nil {
			d.logger.Warn("disconnect hook failed", logging.Error(err))
		}
	}
	d.publisher.Disconnect(ctx)
	if err := d.server.Close(); err != nil {
		d.logger.Warn("close control socket", logging.Error(err))
	}
	d.removeArtifacts()
	d.logger.Info("daemon stopped",
		logging.String(logging.FieldDaemon, d.cfg.Name()),
		logging.Int("errors", d.errCount))
}

func (d *Daemon) removeArtifacts() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("remove pid file", logging.Error(err))
	}
	d.releaseLock()
}

func (d *Daemon) releaseLock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release lock", logging.Error(err))
	}
	if err := os.Remove(d.lockPath); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("remove lock file", logging.Error(err))
	}
	d.lock = nil
}

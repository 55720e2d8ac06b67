// Package workers holds the worker routines a daemon can host. The
// config key "worker" selects one by name; the worker then registers its
// periodic tasks, control commands, and telemetry contributions on the
// daemon before the run loop starts.
package workers

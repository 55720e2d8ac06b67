// Package daemon hosts a worker routine as a supervisable long-running
// process. One cooperative thread interleaves the control socket with
// the periodic task schedule, so tasks and command handlers always have
// exclusive access to daemon state. The builtin commands (status, stats,
// terminate, hup, help) are available on every daemon; workers add their
// own commands, tasks, metrics, and shutdown hooks before Run starts.
package daemon

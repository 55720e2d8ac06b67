// Package logging assembles structured slog loggers shared by the daemon
// runtime and the administrative CLI.
//
// It owns the configurable console/JSON handlers, centralizes level and
// output plumbing, and defines the standardized field keys (daemon, task,
// sink, command) so every component emits data with the same shape. The
// package also provides a no-op logger for tests and wiring code that
// cannot fail.
//
// Prefer these constructors over hand-rolled slog setup.
package logging

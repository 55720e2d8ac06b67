// Package control implements the daemon's line-oriented TCP control
// protocol and ships the matching client used by the CLI.
//
// It owns the wire codec (half-close framed request, informational lines,
// "<pid> OK"/"<pid> NOT-OK" sentinel), the frozen command dispatch table,
// and the timed-accept server primitive that the scheduling loop
// interleaves with due tasks. The client polls for the sentinel on a
// short tick and reports timeouts distinctly from refusals.
//
// Parsing and formatting are isolated here so the wire format could be
// swapped without touching handler logic.
package control

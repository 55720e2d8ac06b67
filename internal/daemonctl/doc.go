// Package daemonctl implements the client side of daemon
// administration: target resolution, detached daemon launch, control
// command delivery, and the wait helpers the stop and start verbs use.
// It knows only the wire protocol and the process table, never the
// daemon internals.
package daemonctl

// Package sched implements the daemon's cooperative task scheduler.
//
// Tasks are registered once during startup and the set is frozen before
// the loop begins. Each pass runs every due task synchronously on the
// scheduling thread; there is no preemption or time-boxing, so a stalled
// task delays all others and the control socket. Task failures are caught
// at the scheduler boundary and never escape the loop.
package sched

package control

import (
	"fmt"
	"regexp"
	"strconv"
)

// The wire protocol is plain UTF-8 text over TCP. A request is a single
// command string framed only by the client half-closing its write side.
// A response is zero or more informational lines followed by exactly one
// sentinel line of the form "<pid> OK" or "<pid> NOT-OK".

var sentinelPattern = regexp.MustCompile(`^(\d+)\s+(OK|NOT-OK)$`)

// FormatSentinel renders the terminal response line.
func FormatSentinel(pid int, ok bool) string {
	if ok {
		return fmt.Sprintf("%d OK", pid)
	}
	return fmt.Sprintf("%d NOT-OK", pid)
}

// ParseSentinel reports whether line is a sentinel and, if so, the
// emitting pid and the outcome.
func ParseSentinel(line string) (pid int, ok bool, matched bool) {
	m := sentinelPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, false
	}
	return pid, m[2] == "OK", true
}

// Reply accumulates the informational lines of one response.
type Reply struct {
	lines []string
}

// Line appends one informational line.
func (r *Reply) Line(s string) {
	r.lines = append(r.lines, s)
}

// Linef appends one formatted informational line.
func (r *Reply) Linef(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

// Lines returns the accumulated lines.
func (r *Reply) Lines() []string {
	return r.lines
}

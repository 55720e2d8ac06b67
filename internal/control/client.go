package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"warden/internal/logging"
)

// Client-side failure modes. A timeout signals daemon unresponsiveness
// and is reported distinctly from an explicit NOT-OK refusal.
var (
	ErrTimeout = errors.New("timed out waiting for daemon acknowledgement")
	ErrRefused = errors.New("daemon refused command")
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultPollTick    = time.Second
	defaultSendTimeout = 10 * time.Second
)

// Client speaks the control wire protocol. It knows nothing about the
// server internals beyond the line format and sentinel.
type Client struct {
	// Port of the target daemon's control socket.
	Port int
	// Timeout bounds the whole wait for the sentinel line.
	Timeout time.Duration
	// PollTick is the read-poll slice while waiting for response lines.
	PollTick time.Duration
	// Dummy short-circuits Send into a synthesized success without ever
	// connecting. Used for dry runs.
	Dummy  bool
	Logger *slog.Logger
}

// Result captures one completed exchange.
type Result struct {
	PID   int
	OK    bool
	Lines []string
}

// Send transmits command, half-closes the write side, and polls for the
// sentinel line. Every non-empty response line is surfaced in the result
// and logged. The returned error is ErrRefused for a NOT-OK sentinel and
// ErrTimeout when the sentinel never arrives in time.
func (c *Client) Send(ctx context.Context, command string) (*Result, error) {
	logger := logging.NewComponentLogger(c.Logger, "control-client")
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New("command is required")
	}

	if c.Dummy {
		logger.Info("dummy mode, command not sent", logging.String(logging.FieldCommand, command))
		return &Result{OK: true}, nil
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", c.Port), defaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon on port %d: %w", c.Port, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return nil, fmt.Errorf("half-close connection: %w", err)
		}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	tick := c.PollTick
	if tick <= 0 {
		tick = defaultPollTick
	}
	deadline := time.Now().Add(timeout)

	result := &Result{}
	reader := bufio.NewReader(conn)
	var pending strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if time.Now().After(deadline) {
			return result, ErrTimeout
		}
		_ = conn.SetReadDeadline(time.Now().Add(tick))
		chunk, err := reader.ReadString('\n')
		pending.WriteString(chunk)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			// EOF before a sentinel means the daemon dropped the
			// connection; treat like unresponsiveness.
			return result, fmt.Errorf("%w: connection closed before acknowledgement", ErrTimeout)
		}
		line := strings.TrimSpace(pending.String())
		pending.Reset()
		if line == "" {
			continue
		}
		logger.Debug("daemon reply", logging.String("line", line))
		result.Lines = append(result.Lines, line)
		if pid, ok, matched := ParseSentinel(line); matched {
			result.PID = pid
			result.OK = ok
			if !ok {
				return result, ErrRefused
			}
			return result, nil
		}
	}
}

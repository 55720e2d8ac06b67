package control

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"warden/internal/logging"
)

// ErrFrozen indicates a command registration attempt after startup
// completed.
var ErrFrozen = errors.New("command registry is frozen")

// Handler services one control command. Informational lines are written
// to the reply; a returned error is reported to the client as NOT-OK and
// never crashes the daemon.
type Handler func(r *Reply) error

// Dispatcher is the frozen table mapping exact command strings to
// handlers.
type Dispatcher struct {
	handlers map[string]Handler
	frozen   bool
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a command name to a handler. Registration closes once
// Freeze is called.
func (d *Dispatcher) Register(name string, handler Handler) error {
	if d.frozen {
		return fmt.Errorf("register command %q: %w", name, ErrFrozen)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("command name is required")
	}
	if handler == nil {
		return fmt.Errorf("command %q requires a handler", name)
	}
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("command %q already registered", name)
	}
	d.handlers[name] = handler
	return nil
}

// Freeze seals the table. Idempotent.
func (d *Dispatcher) Freeze() { d.frozen = true }

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dispatch runs the handler for command, catching errors and panics at
// this boundary. It returns the informational lines and the outcome;
// known=false means no handler matched.
func (d *Dispatcher) dispatch(command string) (lines []string, ok bool, known bool) {
	handler, exists := d.handlers[command]
	if !exists {
		return nil, false, false
	}
	reply := &Reply{}
	err := runHandler(handler, reply)
	if err != nil {
		reply.Line(err.Error())
		return reply.Lines(), false, true
	}
	return reply.Lines(), true, true
}

func runHandler(handler Handler, reply *Reply) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command handler panicked: %v", r)
		}
	}()
	return handler(reply)
}

// Server owns the control TCP socket. Accepting and serving happen on the
// scheduling thread: PollAccept bounds its wait by the listening interval
// so the same thread can interleave due tasks, and exactly one connection
// is serviced at a time. Additional clients wait in the OS listen backlog.
type Server struct {
	listener   *net.TCPListener
	dispatcher *Dispatcher
	logger     *slog.Logger
	pid        int

	// readTimeout bounds how long a connected client may take to send its
	// request and half-close.
	readTimeout time.Duration
}

// NewServer binds the control port. Port 0 picks an ephemeral port, which
// only tests use; daemon configs always carry an explicit port.
func NewServer(port int, dispatcher *Dispatcher, logger *slog.Logger) (*Server, error) {
	if dispatcher == nil {
		return nil, errors.New("control server requires a dispatcher")
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind control port %d: %w", port, err)
	}
	return &Server{
		listener:    listener.(*net.TCPListener),
		dispatcher:  dispatcher,
		logger:      logging.NewComponentLogger(logger, "control"),
		pid:         os.Getpid(),
		readTimeout: 5 * time.Second,
	}, nil
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// PollAccept waits up to timeout for one client connection. It returns
// (nil, nil) when the wait elapses without a client.
func (s *Server) PollAccept(timeout time.Duration) (net.Conn, error) {
	if err := s.listener.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set accept deadline: %w", err)
	}
	conn, err := s.listener.Accept()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return conn, nil
}

// ServeConn reads the full request, dispatches it, and writes the
// response followed by the sentinel line. The connection is closed before
// returning. Protocol errors are reported to the client via NOT-OK and
// never propagate.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	raw, err := io.ReadAll(conn)
	if err != nil {
		s.logger.Warn("read control request", logging.Error(err))
		s.respond(conn, []string{fmt.Sprintf("%d malformed request", s.pid)}, false)
		return
	}
	command := strings.TrimSpace(string(raw))
	s.logger.Debug("control request", logging.String(logging.FieldCommand, command))

	lines, ok, known := s.dispatcher.dispatch(command)
	if !known {
		s.respond(conn, []string{fmt.Sprintf("%d unknown command", s.pid)}, false)
		return
	}
	if !ok {
		s.logger.Warn("command failed",
			logging.String(logging.FieldCommand, command),
			logging.String("detail", strings.Join(lines, "; ")))
	}
	s.respond(conn, lines, ok)
}

func (s *Server) respond(conn net.Conn, lines []string, ok bool) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.readTimeout))
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(FormatSentinel(s.pid, ok))
	b.WriteByte('\n')
	if _, err := io.WriteString(conn, b.String()); err != nil {
		s.logger.Warn("write control response", logging.Error(err))
	}
}

// Close releases the listening socket.
func (s *Server) Close() error {
	return s.listener.Close()
}

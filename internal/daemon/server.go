package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned by Listen when another bridge answers on
// the socket path.
var ErrAlreadyRunning = errors.New("bridge already running")

// Handler answers one request.
type Handler interface {
	Dispatch(ctx context.Context, raw []byte) string
}

// Server owns the listening socket and serves one connection at a time:
// accept, read once, dispatch, write, close.
type Server struct {
	path          string
	acceptTimeout time.Duration
	connTimeout   time.Duration
	handler       Handler
	listener      *net.UnixListener
	log           *slog.Logger
}

// NewServer creates a server for the socket at path. Call Listen before Serve.
func NewServer(path string, acceptTimeout, connTimeout time.Duration, handler Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		path:          path,
		acceptTimeout: acceptTimeout,
		connTimeout:   connTimeout,
		handler:       handler,
		log:           log,
	}
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Listen binds the socket. A stale socket from a previous run is removed;
// a live one, or a non-socket file at the path, is an error. The socket
// is left accessible to every local user.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating socket directory for %s: %w", s.path, err)
	}

	conn, err := net.DialTimeout("unix", s.path, 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("%w on %s", ErrAlreadyRunning, s.path)
	}

	// Remove stale socket if no bridge is accepting connections.
	if info, statErr := os.Lstat(s.path); statErr == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("socket path exists and is not a unix socket: %s", s.path)
		}
		if rmErr := os.Remove(s.path); rmErr != nil {
			return fmt.Errorf("failed to remove stale socket %s: %w", s.path, rmErr)
		}
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("failed to stat socket path %s: %w", s.path, statErr)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0666); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to set socket permissions on %s: %w", s.path, err)
	}
	s.listener = ln

	s.log.Info("socket server listening", "socket", s.path)
	return nil
}

// Serve runs the accept loop until ctx is done, then closes the listener
// and removes the socket file. Each accept waits at most acceptTimeout so
// cancellation is observed promptly.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return fmt.Errorf("serve called before listen")
	}
	defer s.close()

	// Wake a pending Accept as soon as ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = s.listener.SetDeadline(time.Now())
	})
	defer stop()

	for ctx.Err() == nil {
		_ = s.listener.SetDeadline(time.Now().Add(s.acceptTimeout))
		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Error("accept error", "error", err)
			continue
		}
		s.serveConn(ctx, conn)
	}

	s.log.Info("socket server stopped")
	return nil
}

// serveConn handles a single request. The connection is closed on every path.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	log := s.log.With("conn", uuid.Must(uuid.NewV7()).String())

	_ = conn.SetReadDeadline(time.Now().Add(s.connTimeout))
	// Shutdown must not wait out an idle client's read deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, MaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		if errors.Is(err, io.EOF) {
			log.Debug("connection closed without a request")
			return
		}
		if ctx.Err() != nil {
			log.Debug("dropping idle connection for shutdown")
			return
		}
		log.Error("read error", "error", err)
		return
	}

	raw := buf[:n]
	if len(bytes.TrimSpace(raw)) == 0 {
		log.Debug("empty request")
		return
	}

	log.Debug("request", "bytes", n)
	reply := truncateReply(s.handler.Dispatch(ctx, raw), MaxResponseSize)

	_ = conn.SetWriteDeadline(time.Now().Add(s.connTimeout))
	if _, err := io.WriteString(conn, reply); err != nil {
		log.Error("write error", "error", err)
		return
	}
	log.Debug("response", "bytes", len(reply))
}

// truncateReply cuts reply to at most limit bytes without splitting a rune.
func truncateReply(reply string, limit int) string {
	if len(reply) <= limit {
		return reply
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(reply[cut]) {
		cut--
	}
	return reply[:cut]
}

func (s *Server) close() {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn("closing listener", "error", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing socket", "socket", s.path, "error", err)
	}
}

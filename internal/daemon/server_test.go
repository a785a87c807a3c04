package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// shortSocketPath returns a socket path short enough for sun_path limits.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "t.sock")
}

// echoHandler replies with the trimmed request and counts calls.
type echoHandler struct {
	mu    sync.Mutex
	calls int
}

func (h *echoHandler) Dispatch(ctx context.Context, raw []byte) string {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return "echo:" + strings.TrimSpace(string(raw))
}

func sendRaw(t *testing.T, path, msg string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if msg != "" {
		if _, err := io.WriteString(conn, msg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = conn.(*net.UnixConn).CloseWrite()

	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

// startServer listens and serves in the background. The returned cancel
// stops the server and waits for Serve to return.
func startServer(t *testing.T, path string, h Handler) (cancel func()) {
	t.Helper()
	s := NewServer(path, 100*time.Millisecond, time.Second, h, quietLog)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			stop()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Serve: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Error("Serve did not return after cancel")
			}
		})
	}
	t.Cleanup(cancel)
	return cancel
}

func TestServerRoundTrip(t *testing.T) {
	path := shortSocketPath(t)
	startServer(t, path, &echoHandler{})

	if got := sendRaw(t, path, "status\n"); got != "echo:status" {
		t.Errorf("reply = %q, want %q", got, "echo:status")
	}
}

func TestServerKeepsServingAfterUnknownCommand(t *testing.T) {
	path := shortSocketPath(t)
	d := newTestDispatcher(t, "", &fakeController{})
	startServer(t, path, d)

	if got := sendRaw(t, path, "make me a sandwich"); got != "unknown command: make me a sandwich" {
		t.Errorf("reply = %q", got)
	}
	if got := sendRaw(t, path, "status"); !strings.Contains(got, `"timer_state":"Stopped"`) {
		t.Errorf("second connection reply = %q", got)
	}
}

func TestServerEmptyRequestGetsNoReply(t *testing.T) {
	path := shortSocketPath(t)
	h := &echoHandler{}
	startServer(t, path, h)

	if got := sendRaw(t, path, ""); got != "" {
		t.Errorf("reply = %q, want empty", got)
	}
	if got := sendRaw(t, path, "   \n"); got != "" {
		t.Errorf("whitespace reply = %q, want empty", got)
	}
	if got := sendRaw(t, path, "ping"); got != "echo:ping" {
		t.Errorf("reply after empty requests = %q", got)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls != 1 {
		t.Errorf("handler called %d times, want 1", h.calls)
	}
}

func TestServerShutdownRemovesSocket(t *testing.T) {
	path := shortSocketPath(t)
	cancel := startServer(t, path, &echoHandler{})

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("socket missing while serving: %v", err)
	}

	start := time.Now()
	cancel()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %v, want under 1s", elapsed)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown: %v", err)
	}
}

func TestServerSocketIsWorldAccessible(t *testing.T) {
	path := shortSocketPath(t)
	startServer(t, path, &echoHandler{})

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0666 {
		t.Errorf("socket mode = %o, want 666", perm)
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	path := shortSocketPath(t)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	ln.SetUnlinkOnClose(false)
	_ = ln.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stale socket not left behind: %v", err)
	}

	startServer(t, path, &echoHandler{})
	if got := sendRaw(t, path, "hi"); got != "echo:hi" {
		t.Errorf("reply = %q", got)
	}
}

func TestListenRefusesSecondInstance(t *testing.T) {
	path := shortSocketPath(t)
	startServer(t, path, &echoHandler{})

	s := NewServer(path, time.Second, time.Second, &echoHandler{}, quietLog)
	if err := s.Listen(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Listen() = %v, want ErrAlreadyRunning", err)
	}
}

func TestListenRefusesRegularFile(t *testing.T) {
	path := shortSocketPath(t)
	if err := os.WriteFile(path, []byte("not a socket"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewServer(path, time.Second, time.Second, &echoHandler{}, quietLog)
	err := s.Listen()
	if err == nil || !strings.Contains(err.Error(), "not a unix socket") {
		t.Fatalf("Listen() = %v, want not-a-socket error", err)
	}
}

func TestServeBeforeListen(t *testing.T) {
	s := NewServer(shortSocketPath(t), time.Second, time.Second, &echoHandler{}, quietLog)
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestServerShutdownWithIdleClient(t *testing.T) {
	path := shortSocketPath(t)
	s := NewServer(path, 100*time.Millisecond, 5*time.Second, &echoHandler{}, quietLog)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	// Connect and send nothing, leaving the server blocked in Read.
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown with an idle client took %v, want under 1s", elapsed)
	}
}

// bigHandler replies with a fixed oversized body.
type bigHandler struct{ reply string }

func (h bigHandler) Dispatch(ctx context.Context, raw []byte) string { return h.reply }

func TestServerCapsReplySize(t *testing.T) {
	path := shortSocketPath(t)
	startServer(t, path, bigHandler{reply: ErrorPrefix + strings.Repeat("x", 2*MaxResponseSize)})

	got := sendRaw(t, path, "stop")
	if len(got) != MaxResponseSize {
		t.Errorf("reply length = %d, want %d", len(got), MaxResponseSize)
	}
	if !strings.HasPrefix(got, ErrorPrefix) {
		t.Errorf("reply lost its prefix: %q", got[:20])
	}
}

func TestTruncateReply(t *testing.T) {
	tests := []struct {
		reply string
		limit int
		want  string
	}{
		{"OK", 4096, "OK"},
		{"abcdef", 4, "abcd"},
		{"ab🍅", 4, "ab"}, // the tomato is 4 bytes; never split it
		{"ab🍅", 6, "ab🍅"},
		{"🍅🍅", 5, "🍅"},
	}
	for _, tt := range tests {
		if got := truncateReply(tt.reply, tt.limit); got != tt.want {
			t.Errorf("truncateReply(%q, %d) = %q, want %q", tt.reply, tt.limit, got, tt.want)
		}
	}
}

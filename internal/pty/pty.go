// Package pty owns a single PTY-backed child process per session: spawn,
// write, resize, and kill-and-reap.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/comacode/comacode/internal/gwerr"
	"github.com/comacode/comacode/internal/replay"
)

// EnvPair is an ordered (name, value) environment entry; order matters
// because these are appended after the host process's environment and
// before COLUMNS/LINES, and a later duplicate name wins.
type EnvPair struct {
	Name  string
	Value string
}

// TerminalConfig is the initial shape of a spawned PTY (spec.md §3).
type TerminalConfig struct {
	Rows  uint16
	Cols  uint16
	Shell string
	Env   []EnvPair
}

// normalizeSize clamps rows/cols to a minimum of 1, per spec.md §8's
// boundary behavior for rows=0 or cols=0.
func normalizeSize(rows, cols uint16) (uint16, uint16) {
	if rows == 0 {
		rows = 1
	}
	if cols == 0 {
		cols = 1
	}
	return rows, cols
}

// Session owns one PTY master and the child process attached to it. All
// mutation goes through its methods; callers outside this package never
// touch the master handle directly.
type Session struct {
	mu     sync.Mutex
	ptmx   *os.File
	cmd    *exec.Cmd
	rows   uint16
	cols   uint16
	closed bool

	readCh chan []byte
	errCh  chan error
	done   chan struct{}
	replay *replay.Buffer
}

// readChannelCapacity is the bounded buffer size between the blocking PTY
// read thread and the async consumer (spec.md §4.3, §9: typical capacity
// 100 buffers).
const readChannelCapacity = 100

const readBufferSize = 8192

// terminateGrace is how long Cleanup waits for SIGTERM to take effect
// before escalating to SIGKILL. A var, not a const, so tests can shrink
// it rather than wait out the real grace period.
var terminateGrace = 5 * time.Second

// Spawn opens a PTY pair, sets its initial size from cfg, and starts the
// configured shell. The size is exported to the child as COLUMNS/LINES
// and also applied via the PTY ioctl at start time, since shells read env
// before querying the driver.
func Spawn(cfg TerminalConfig) (*Session, error) {
	rows, cols := normalizeSize(cfg.Rows, cfg.Cols)

	shell := cfg.Shell
	if shell == "" {
		shell = defaultShell()
	}

	cmd := exec.Command(shell)
	cmd.Env = buildEnv(cfg.Env, rows, cols)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindPTY, "start pty", err)
	}

	sess := &Session{
		ptmx:   ptmx,
		cmd:    cmd,
		rows:   rows,
		cols:   cols,
		readCh: make(chan []byte, readChannelCapacity),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
		replay: replay.New(),
	}
	go sess.readLoop()
	return sess, nil
}

func buildEnv(pairs []EnvPair, rows, cols uint16) []string {
	env := os.Environ()
	for _, p := range pairs {
		env = append(env, fmt.Sprintf("%s=%s", p.Name, p.Value))
	}
	env = append(env, fmt.Sprintf("COLUMNS=%d", cols), fmt.Sprintf("LINES=%d", rows))
	return env
}

func defaultShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// readLoop drives the blocking PTY read on a dedicated goroutine and
// forwards buffers into the bounded channel the Output pump consumes.
func (s *Session) readLoop() {
	defer close(s.readCh)
	defer close(s.done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.replay.Write(chunk)
			s.readCh <- chunk
		}
		if err != nil {
			s.errCh <- err
			return
		}
	}
}

// Output returns the channel of PTY output buffers; it is closed when the
// PTY read loop terminates (on EOF or error).
func (s *Session) Output() <-chan []byte { return s.readCh }

// Snapshot returns a copy of the most recent output retained in the
// session's bounded replay buffer, for answering RequestSnapshot.
func (s *Session) Snapshot() []byte { return s.replay.Snapshot() }

// Done returns a channel closed when the PTY read loop has terminated
// (child exited or read error), independent of whether all buffered
// output has been drained from Output yet.
func (s *Session) Done() <-chan struct{} { return s.done }

// ReadErr returns the error that terminated the read loop, or nil if it
// has not terminated yet. Call only after Output()'s channel is closed.
func (s *Session) ReadErr() error {
	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

// Write sends bytes to the PTY master, failing fast if the session is
// already closed.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gwerr.New(gwerr.KindPTY, "write to closed session")
	}
	if _, err := s.ptmx.Write(data); err != nil {
		return gwerr.Wrap(gwerr.KindPTY, "pty write failed", err)
	}
	return nil
}

// Resize updates the PTY driver's window size. Failures are logged by the
// caller, not treated as session-fatal (spec.md §4.3).
func (s *Session) Resize(rows, cols uint16) error {
	rows, cols = normalizeSize(rows, cols)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gwerr.New(gwerr.KindPTY, "resize on closed session")
	}
	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return gwerr.Wrap(gwerr.KindPTY, "pty resize failed", err)
	}
	s.rows, s.cols = rows, cols
	return nil
}

// Size returns the currently stored terminal size.
func (s *Session) Size() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// PID returns the child process id, or 0 if the process has not started.
func (s *Session) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Cleanup sends a terminate signal to the child, waits up to
// terminateGrace for it to exit, escalates to SIGKILL if it has not, and
// releases the PTY master. It is safe to call more than once; only the
// first call has effect. Callers guarantee at-least-once invocation per
// created session.
func (s *Session) Cleanup() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)

		waited := make(chan struct{})
		go func() {
			_ = s.cmd.Wait()
			close(waited)
		}()

		select {
		case <-waited:
		case <-time.After(terminateGrace):
			_ = s.cmd.Process.Kill()
			<-waited
		}
	}
	return s.ptmx.Close()
}

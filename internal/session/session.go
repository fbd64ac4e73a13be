// Package session maps SessionIds to PTY-backed sessions: create, write,
// resize, reader access, and cleanup, plus a periodic sweep of sessions
// whose children have already exited.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/comacode/comacode/internal/gwerr"
	"github.com/comacode/comacode/internal/pty"
)

// SweepInterval is how often the manager checks for exited children
// (spec.md §4.5: every 30s).
const SweepInterval = 30 * time.Second

// Manager owns the SessionId -> *pty.Session map. Writes, resizes and
// cleanup go through the manager by id; Create and Get also hand out the
// *pty.Session itself, which callers use for read-side access (Output,
// Done, Snapshot, Size).
type Manager struct {
	mu       sync.Mutex
	sessions map[uint64]*pty.Session
	nextID   atomic.Uint64

	stopSweep chan struct{}
}

// NewManager builds an empty manager and starts its background sweeper.
func NewManager() *Manager {
	m := &Manager{
		sessions:  make(map[uint64]*pty.Session),
		stopSweep: make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create spawns a new PTY session and assigns it a fresh, monotonically
// increasing SessionId. Ids are not dense and are not recycled within a
// run.
func (m *Manager) Create(cfg pty.TerminalConfig) (uint64, *pty.Session, error) {
	sess, err := pty.Spawn(cfg)
	if err != nil {
		return 0, nil, err
	}

	id := m.nextID.Add(1)
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return id, sess, nil
}

// Get returns the session for id, or nil if it does not exist.
func (m *Manager) Get(id uint64) *pty.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Write forwards bytes to the session's PTY master.
func (m *Manager) Write(id uint64, data []byte) error {
	sess := m.Get(id)
	if sess == nil {
		return gwerr.New(gwerr.KindPTY, "write: unknown session id")
	}
	return sess.Write(data)
}

// Resize updates the session's terminal size.
func (m *Manager) Resize(id uint64, rows, cols uint16) error {
	sess := m.Get(id)
	if sess == nil {
		return gwerr.New(gwerr.KindPTY, "resize: unknown session id")
	}
	return sess.Resize(rows, cols)
}

// Cleanup kills and reaps the session's child, then removes it from the
// map. The child is always reaped before the id is removed.
func (m *Manager) Cleanup(id uint64) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := sess.Cleanup()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	return err
}

// Count returns the number of live sessions, for dashboard telemetry.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the background sweeper. It does not clean up any remaining
// sessions; callers are responsible for calling Cleanup on each id they
// created.
func (m *Manager) Close() {
	close(m.stopSweep)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepExited()
		}
	}
}

func (m *Manager) sweepExited() {
	m.mu.Lock()
	var stale []uint64
	for id, sess := range m.sessions {
		select {
		case <-sess.Done():
			stale = append(stale, id)
		default:
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		_ = m.Cleanup(id)
	}
}

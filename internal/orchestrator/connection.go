package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/comacode/comacode/internal/admission"
	"github.com/comacode/comacode/internal/audit"
	"github.com/comacode/comacode/internal/config"
	"github.com/comacode/comacode/internal/dashboard"
	"github.com/comacode/comacode/internal/gwerr"
	"github.com/comacode/comacode/internal/logx"
	"github.com/comacode/comacode/internal/pty"
	"github.com/comacode/comacode/internal/pump"
	"github.com/comacode/comacode/internal/session"
	"github.com/comacode/comacode/internal/wire"
)

// Stream is the minimal surface a transport connection must expose to be
// driven by a Connection: a raw byte stream plus the peer's address.
type Stream interface {
	io.ReadWriteCloser
	RemoteIP() string
}

// Connection drives one inbound stream through the admission → handshake
// → session → cleanup lifecycle.
type Connection struct {
	stream     Stream
	admission  *admission.Controller
	sessions   *session.Manager
	dashboard  *dashboard.Server
	audit      *audit.Log
	thresholds pump.Thresholds
	writer     *wire.FrameWriter
	state      atomic.Value // State
	traceID    string

	sessionID   uint64
	hasSession  bool
	pump        *pump.Pump
	pendingSize struct {
		rows, cols uint16
		set        bool
	}
}

// New builds a Connection ready to Run. dash and auditLog may be nil, in
// which case dashboard events and audit records for this connection's
// sessions are simply skipped. cfg's smart-flush fields seed the output
// pump spawned for this connection's session.
func New(stream Stream, adm *admission.Controller, sessions *session.Manager, dash *dashboard.Server, auditLog *audit.Log, cfg config.HostConfig) *Connection {
	c := &Connection{
		stream:    stream,
		admission: adm,
		sessions:  sessions,
		dashboard: dash,
		audit:     auditLog,
		thresholds: pump.Thresholds{
			SmallReadThreshold:  cfg.SmallReadThreshold,
			LargeBatchThreshold: cfg.LargeBatchThreshold,
			MaxLatency:          cfg.MaxLatency,
		},
		writer:  wire.NewFrameWriter(stream),
		traceID: uuid.NewString(),
	}
	c.setState(StateNew)
	return c
}

// publish pushes a session lifecycle event to the dashboard and records it
// to the audit log, when either is configured.
func (c *Connection) publish(sessionID uint64, kind, detail string) {
	if c.dashboard != nil {
		c.dashboard.Publish(dashboard.Event{
			SessionID: sessionID,
			Kind:      kind,
			Detail:    detail,
			At:        time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	if c.audit != nil {
		if err := c.audit.RecordSession(sessionID, kind, detail); err != nil {
			logx.Log.Warn("audit record failed", "trace_id", c.traceID, "session_id", sessionID, "error", err)
		}
	}
}

func (c *Connection) setState(s State) { c.state.Store(s) }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	s, _ := c.state.Load().(State)
	return s
}

// TraceID returns the connection's unique trace id, used to correlate log
// lines and audit records across its lifetime.
func (c *Connection) TraceID() string { return c.traceID }

// Run drives the full lifecycle. It returns only once the connection has
// reached TERMINATED or REJECTED; cleanup of any created session has
// already happened by the time it returns.
func (c *Connection) Run() {
	defer c.cleanup()

	ip := c.stream.RemoteIP()

	c.setState(StateRateChecked)
	if err := c.admission.CheckConnection(ip); err != nil {
		logx.Log.Debug("connection rejected before handshake", "trace_id", c.traceID, "ip", ip, "error", err)
		c.setState(StateRejected)
		return
	}

	c.setState(StateHandshaking)
	hello, err := wire.ReadFrame(c.stream)
	if err != nil || hello.Tag != wire.TagHello {
		logx.Log.Debug("handshake failed: expected Hello", "trace_id", c.traceID, "ip", ip, "error", err)
		c.setState(StateRejected)
		return
	}

	if err := c.admission.CheckHello(ip, hello.AuthToken, hello.ProtocolVersion); err != nil {
		logx.Log.Debug("hello rejected", "trace_id", c.traceID, "ip", ip, "error", err)
		c.setState(StateRejected)
		return
	}

	if err := c.writer.Send(wire.HelloAck()); err != nil {
		c.setState(StateClosing)
		return
	}
	c.setState(StateAuthenticated)
	c.setState(StateRunning)

	c.runLoop()
}

func (c *Connection) runLoop() {
	for {
		msg, err := wire.ReadFrame(c.stream)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				logx.Log.Debug("stream read error", "trace_id", c.traceID, "error", err)
			}
			c.setState(StateClosing)
			return
		}

		switch msg.Tag {
		case wire.TagInput:
			if err := c.handleInput(msg.Data); err != nil {
				logx.Log.Warn("input handling failed", "trace_id", c.traceID, "error", err)
				c.setState(StateClosing)
				return
			}
		case wire.TagCommand:
			if err := c.handleInput([]byte(msg.Text)); err != nil {
				logx.Log.Warn("command handling failed", "trace_id", c.traceID, "error", err)
				c.setState(StateClosing)
				return
			}
		case wire.TagResize:
			c.handleResize(msg.Rows, msg.Cols)
		case wire.TagPing:
			_ = c.writer.Send(wire.Pong())
		case wire.TagRequestSnapshot:
			rows, cols := c.currentSize()
			var data []byte
			if c.hasSession {
				if sess := c.sessions.Get(c.sessionID); sess != nil {
					data = sess.Snapshot()
				}
			}
			_ = c.writer.Send(wire.Snapshot(data, rows, cols))
		case wire.TagClose:
			c.setState(StateClosing)
			return
		default:
			logx.Log.Debug("unexpected message before close", "trace_id", c.traceID, "tag", msg.Tag)
			c.setState(StateClosing)
			return
		}
	}
}

func (c *Connection) currentSize() (rows, cols uint16) {
	if c.hasSession {
		if sess := c.sessions.Get(c.sessionID); sess != nil {
			return sess.Size()
		}
	}
	if c.pendingSize.set {
		return c.pendingSize.rows, c.pendingSize.cols
	}
	return 24, 80
}

func (c *Connection) handleResize(rows, cols uint16) {
	if !c.hasSession {
		c.pendingSize.rows, c.pendingSize.cols, c.pendingSize.set = rows, cols, true
		return
	}
	if err := c.sessions.Resize(c.sessionID, rows, cols); err != nil {
		logx.Log.Warn("resize failed", "trace_id", c.traceID, "error", err)
	}
}

// handleInput lazily creates the PTY session on the first Input/Command
// after authentication, applying any buffered Resize first, then
// attaches the output pump and writes the triggering bytes.
func (c *Connection) handleInput(data []byte) error {
	if !c.hasSession {
		rows, cols := uint16(24), uint16(80)
		if c.pendingSize.set {
			rows, cols = c.pendingSize.rows, c.pendingSize.cols
		}

		id, sess, err := c.sessions.Create(pty.TerminalConfig{Rows: rows, Cols: cols})
		if err != nil {
			_ = c.writer.Send(wire.Error("failed to start session"))
			return gwerr.Wrap(gwerr.KindPTY, "create session", err)
		}
		c.sessionID = id
		c.hasSession = true
		c.publish(id, "created", "")

		p := pump.NewWithThresholds(sess.Output(), c.writer, c.thresholds)
		c.pump = p
		go func() {
			if err := p.Run(); err != nil {
				logx.Log.Debug("pump terminated", "trace_id", c.traceID, "session_id", id, "error", err)
			}
		}()

		go c.watchExit(sess, id)
	}

	return c.sessions.Write(c.sessionID, data)
}

// watchExit sends an Exit event once the PTY's child terminates.
func (c *Connection) watchExit(sess *pty.Session, id uint64) {
	<-sess.Done()
	code := int32(0)
	if err := sess.ReadErr(); err != nil && !errors.Is(err, io.EOF) {
		code = -1
	}
	if c.pump != nil {
		stats := c.pump.Stats()
		logx.Log.Info("session ended",
			"trace_id", c.traceID,
			"session_id", id,
			"bytes_emitted", humanize.Bytes(stats.BytesEmitted),
			"frames_emitted", stats.FramesEmitted)
	}
	c.publish(id, "exited", fmt.Sprintf("code=%d", code))
	_ = c.writer.Send(wire.Exit(code))
}

// cleanup executes the non-negotiable guard from spec.md §4.8: kill+reap
// the child, drop the session, close the stream. The pump is not stopped
// directly; it returns once the session's output channel closes or a send
// on the closed stream fails. It runs on every exit path exactly once per
// connection. A rejected connection keeps its REJECTED state.
func (c *Connection) cleanup() {
	if c.hasSession {
		if err := c.sessions.Cleanup(c.sessionID); err != nil {
			logx.Log.Warn("session cleanup error", "trace_id", c.traceID, "session_id", c.sessionID, "error", err)
		}
		c.publish(c.sessionID, "cleaned_up", "")
	}
	_ = c.stream.Close()
	if c.State() != StateRejected {
		c.setState(StateTerminated)
	}
}

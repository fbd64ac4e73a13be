// Package dashboard serves a loopback-only HTTP surface that observes the
// gateway's status and pairing payload, and pushes session lifecycle
// events to connected browsers over a websocket. It never renders a
// terminal; that remains the client's concern.
package dashboard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/comacode/comacode/internal/audit"
	"github.com/comacode/comacode/internal/logx"
	"github.com/comacode/comacode/internal/pairing"
)

// Event is pushed to dashboard subscribers whenever a session's lifecycle
// changes.
type Event struct {
	SessionID uint64 `json:"session_id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	At        string `json:"at"`
}

// StatusFunc reports the current connection/session counts for /status.
type StatusFunc func() Status

// HistoryFunc returns the most recent connection events for /history.
type HistoryFunc func(limit int) ([]audit.ConnectionEvent, error)

// historyLimit bounds the /history response when the audit log is large.
const historyLimit = 50

// Status is the snapshot returned by /status.
type Status struct {
	ActiveSessions   int    `json:"active_sessions"`
	AdmittedTotal    uint64 `json:"admitted_total"`
	RejectedTotal    uint64 `json:"rejected_total"`
	ListenAddr       string `json:"listen_addr"`
	Fingerprint      string `json:"fingerprint"`
	ProtocolVersion  uint32 `json:"protocol_version"`
}

// Server is the loopback dashboard HTTP server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	payload pairing.Payload
	status  StatusFunc
	history HistoryFunc
}

type subscriber struct {
	send chan Event
}

// New builds a dashboard bound to loopback only, on the given port (0
// picks an ephemeral port). history may be nil, in which case /history
// always reports an empty list.
func New(port int, payload pairing.Payload, status StatusFunc, history HistoryFunc) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if port != 0 {
		ln.Close()
		ln, err = net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		listener:    ln,
		subscribers: make(map[*subscriber]struct{}),
		payload:     payload,
		status:      status,
		history:     history,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /pairing", s.handlePairing)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /history", s.handleHistory)

	s.httpServer = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the bound loopback address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve blocks, accepting dashboard connections until Close is called.
func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts down the HTTP server. Open /events websockets are hijacked
// connections, which the shutdown neither closes nor waits for.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Publish pushes an event to every connected dashboard subscriber,
// dropping it for any subscriber whose send buffer is full rather than
// blocking session processing on a slow browser tab.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		select {
		case sub.send <- ev:
		default:
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}

func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.payload)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.history == nil {
		json.NewEncoder(w).Encode([]audit.ConnectionEvent{})
		return
	}
	events, err := s.history(historyLimit)
	if err != nil {
		logx.Log.Warn("dashboard history lookup failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(events)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{send: make(chan Event, 64)}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.send:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				logx.Log.Debug("dashboard subscriber write failed", "error", err)
				return
			}
		}
	}
}

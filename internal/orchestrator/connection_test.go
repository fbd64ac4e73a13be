package orchestrator

import (
	"net"
	"testing"
	"time"

	"github.com/comacode/comacode/internal/admission"
	"github.com/comacode/comacode/internal/config"
	"github.com/comacode/comacode/internal/session"
	"github.com/comacode/comacode/internal/wire"
)

// pipeStream adapts a net.Conn (from net.Pipe) to the Stream interface
// with a fixed, fake remote IP, avoiding a real socket in tests.
type pipeStream struct {
	net.Conn
	ip string
}

func (p pipeStream) RemoteIP() string { return p.ip }

func newTestController(t *testing.T) (*admission.Controller, string) {
	t.Helper()
	c := admission.NewController(1, 100, 3)
	token, err := admission.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	c.Tokens.Add(token)
	return c, token
}

func TestHappyPathHandshakeAndEcho(t *testing.T) {
	clientConn, hostConn := net.Pipe()
	defer clientConn.Close()

	adm, token := newTestController(t)
	sessions := session.NewManager()
	defer sessions.Close()

	conn := New(pipeStream{Conn: hostConn, ip: "203.0.113.10"}, adm, sessions, nil, nil, config.Defaults())
	go conn.Run()

	if err := wire.WriteFrame(clientConn, wire.Hello(1, "test", 0, token)); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	ack, err := wire.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Tag != wire.TagHelloAck {
		t.Fatalf("expected HelloAck, got tag %v", ack.Tag)
	}

	if err := wire.WriteFrame(clientConn, wire.Resize(24, 80)); err != nil {
		t.Fatalf("write resize: %v", err)
	}
	if err := wire.WriteFrame(clientConn, wire.Input([]byte("echo hi-comacode\n"))); err != nil {
		t.Fatalf("write input: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	clientConn.SetReadDeadline(deadline)

	found := false
	for time.Now().Before(deadline) {
		msg, err := wire.ReadFrame(clientConn)
		if err != nil {
			break
		}
		if msg.Tag == wire.TagOutput && containsBytes(msg.Data, []byte("hi-comacode")) {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected an Output frame containing the echoed text")
	}

	if err := wire.WriteFrame(clientConn, wire.Close()); err != nil {
		t.Fatalf("write close: %v", err)
	}
}

func TestTraceIDIsUniquePerConnection(t *testing.T) {
	adm, _ := newTestController(t)
	sessions := session.NewManager()
	defer sessions.Close()

	_, hostConnA := net.Pipe()
	_, hostConnB := net.Pipe()
	defer hostConnA.Close()
	defer hostConnB.Close()

	a := New(pipeStream{Conn: hostConnA, ip: "203.0.113.12"}, adm, sessions, nil, nil, config.Defaults())
	b := New(pipeStream{Conn: hostConnB, ip: "203.0.113.13"}, adm, sessions, nil, nil, config.Defaults())

	if a.TraceID() == "" || b.TraceID() == "" {
		t.Fatal("expected non-empty trace ids")
	}
	if a.TraceID() == b.TraceID() {
		t.Fatal("expected distinct trace ids per connection")
	}
}

func TestWrongTokenRejectsWithoutAck(t *testing.T) {
	clientConn, hostConn := net.Pipe()
	defer clientConn.Close()

	adm, _ := newTestController(t)
	sessions := session.NewManager()
	defer sessions.Close()

	conn := New(pipeStream{Conn: hostConn, ip: "203.0.113.11"}, adm, sessions, nil, nil, config.Defaults())
	go conn.Run()

	if err := wire.WriteFrame(clientConn, wire.Hello(1, "test", 0, "0000000000000000000000000000000000000000000000000000000000000")); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := wire.ReadFrame(clientConn)
	if err == nil {
		t.Fatal("expected no HelloAck and connection close on invalid token")
	}
}

func containsBytes(haystack, needle []byte) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

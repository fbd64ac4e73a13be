package pty

import (
	"bytes"
	"testing"
	"time"
)

func collectOutput(t *testing.T, sess *Session, timeout time.Duration) []byte {
	t.Helper()
	var out bytes.Buffer
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-sess.Output():
			if !ok {
				return out.Bytes()
			}
			out.Write(chunk)
		case <-deadline:
			return out.Bytes()
		}
	}
}

func TestSpawnWriteAndReadEcho(t *testing.T) {
	sess, err := Spawn(TerminalConfig{Rows: 24, Cols: 80, Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sess.Cleanup()

	if err := sess.Write([]byte("echo hello-comacode\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := collectOutput(t, sess, 2*time.Second)
	if !bytes.Contains(out, []byte("hello-comacode")) {
		t.Fatalf("expected output to contain echoed text, got %q", out)
	}
}

func TestResizeUpdatesStoredSize(t *testing.T) {
	sess, err := Spawn(TerminalConfig{Rows: 24, Cols: 80, Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sess.Cleanup()

	if err := sess.Resize(40, 160); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	rows, cols := sess.Size()
	if rows != 40 || cols != 160 {
		t.Fatalf("Size() = (%d, %d), want (40, 160)", rows, cols)
	}

	if err := sess.Resize(40, 160); err != nil {
		t.Fatalf("second identical Resize: %v", err)
	}
	rows, cols = sess.Size()
	if rows != 40 || cols != 160 {
		t.Fatalf("Size() after repeat resize = (%d, %d), want (40, 160)", rows, cols)
	}
}

func TestZeroSizeNormalizedToOne(t *testing.T) {
	sess, err := Spawn(TerminalConfig{Rows: 0, Cols: 0, Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sess.Cleanup()

	rows, cols := sess.Size()
	if rows != 1 || cols != 1 {
		t.Fatalf("Size() = (%d, %d), want (1, 1)", rows, cols)
	}
}

func TestSnapshotReflectsRecentOutput(t *testing.T) {
	sess, err := Spawn(TerminalConfig{Rows: 24, Cols: 80, Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer sess.Cleanup()

	if err := sess.Write([]byte("echo snapshot-marker\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	collectOutput(t, sess, 2*time.Second)

	if !bytes.Contains(sess.Snapshot(), []byte("snapshot-marker")) {
		t.Fatalf("expected snapshot to contain echoed text, got %q", sess.Snapshot())
	}
}

func TestWriteAfterCleanupFailsWithoutPanic(t *testing.T) {
	sess, err := Spawn(TerminalConfig{Rows: 24, Cols: 80, Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := sess.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if err := sess.Write([]byte("echo should-fail\n")); err == nil {
		t.Fatal("expected error writing to closed session")
	}
}

func TestCleanupEscalatesToSigkillWhenChildIgnoresSigterm(t *testing.T) {
	old := terminateGrace
	terminateGrace = 200 * time.Millisecond
	defer func() { terminateGrace = old }()

	sess, err := Spawn(TerminalConfig{
		Rows: 24, Cols: 80, Shell: "/bin/sh",
		Env: []EnvPair{{Name: "PS1", Value: "$ "}},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := sess.Write([]byte("trap '' TERM; while true; do sleep 1; done\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(200 * time.Millisecond) // let the trap install before Cleanup signals

	done := make(chan error, 1)
	go func() { done <- sess.Cleanup() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Cleanup did not return after escalating to SIGKILL")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	sess, err := Spawn(TerminalConfig{Rows: 24, Cols: 80, Shell: "/bin/sh"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := sess.Cleanup(); err != nil {
		t.Fatalf("first Cleanup: %v", err)
	}
	if err := sess.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
}

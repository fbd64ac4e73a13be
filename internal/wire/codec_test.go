package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestRoundTripAllVariants(t *testing.T) {
	msgs := []Message{
		Hello(1, "0.1.0", 0, "deadbeef"),
		HelloAck(),
		Input([]byte("echo hi\r")),
		Command("echo hi"),
		Resize(24, 80),
		Output([]byte("hi\r\n")),
		Error("pty write failed"),
		Exit(0),
		RequestSnapshot(),
		Snapshot([]byte("snapshot bytes"), 24, 80),
		Ping(),
		Pong(),
		Close(),
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		if err := WriteFrame(&buf, m); err != nil {
			t.Fatalf("WriteFrame(%v): %v", m.Tag, err)
		}
	}

	for _, want := range msgs {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Tag != want.Tag {
			t.Fatalf("tag mismatch: got %v want %v", got.Tag, want.Tag)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("data mismatch for tag %v: got %q want %q", got.Tag, got.Data, want.Data)
		}
		if got.Text != want.Text || got.ErrorMessage != want.ErrorMessage {
			t.Fatalf("text mismatch for tag %v", got.Tag)
		}
		if got.Rows != want.Rows || got.Cols != want.Cols {
			t.Fatalf("size mismatch for tag %v", got.Tag)
		}
		if got.ProtocolVersion != want.ProtocolVersion || got.AuthToken != want.AuthToken {
			t.Fatalf("hello fields mismatch for tag %v", got.Tag)
		}
		if got.ExitCode != want.ExitCode {
			t.Fatalf("exit code mismatch for tag %v", got.Tag)
		}
	}

	if buf.Len() != 0 {
		t.Fatalf("leftover bytes in stream: %d", buf.Len())
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameLen+1)
	r := bytes.NewReader(header[:])

	_, err := ReadFrame(r)
	if err == nil {
		t.Fatal("expected error for oversized frame length")
	}
}

// partialReader trickles bytes one at a time to exercise the exact-read
// accumulation discipline rather than a single full-buffer read.
type partialReader struct {
	data []byte
	pos  int
}

func (p *partialReader) Read(b []byte) (int, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	n := copy(b, p.data[p.pos:p.pos+1])
	p.pos += n
	return n, nil
}

func TestReadFrameAccumulatesPartialReads(t *testing.T) {
	var buf bytes.Buffer
	want := Output([]byte("bulk output spanning multiple partial reads"))
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&partialReader{data: buf.Bytes()})
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("data mismatch: got %q want %q", got.Data, want.Data)
	}
}

func TestReadFrameEOFOnEmptyStream(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

package wire

import (
	"io"
	"sync"
)

// FrameWriter serializes WriteFrame calls from multiple goroutines onto a
// single stream. WriteFrame issues two separate Writes (header, then
// payload); without this lock two goroutines racing to send frames over
// the same stream (an output pump against a control reply, or a resize
// handler against a stdin reader) could interleave one frame's header
// with another's payload bytes. Both the host and the client route every
// outbound frame through one of these per connection.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter wraps w so concurrent Send calls serialize correctly.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Send writes one frame, holding the lock for the duration of both its
// header and payload writes.
func (f *FrameWriter) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return WriteFrame(f.w, msg)
}

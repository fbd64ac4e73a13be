package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/comacode/comacode/internal/gwerr"
)

// MaxFrameLen is the largest accepted payload length (spec.md §4.1).
const MaxFrameLen = 16 * 1024 * 1024

const lenHeaderSize = 4

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes msg into a CBOR payload.
func Encode(msg Message) ([]byte, error) {
	b, err := encMode.Marshal(msg)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindProtocol, "encode message", err)
	}
	return b, nil
}

// Decode deserializes a CBOR payload into a Message.
func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := decMode.Unmarshal(payload, &msg); err != nil {
		return Message{}, gwerr.Wrap(gwerr.KindProtocol, "decode message", gwerr.ErrDecodeFailure)
	}
	return msg, nil
}

// WriteFrame writes a single length-prefixed frame: a 4-byte big-endian
// payload length followed by exactly that many payload bytes. It never
// concatenates multiple messages into a single frame.
func WriteFrame(w io.Writer, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameLen {
		return gwerr.Wrap(gwerr.KindProtocol, "payload exceeds max frame length", gwerr.ErrFrameTooLarge)
	}

	var header [lenHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "write frame header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return gwerr.Wrap(gwerr.KindTransport, "write frame payload", err)
	}
	return nil
}

// ReadFrame reads exactly one length-prefixed frame from r. It reads the
// 4-byte header, validates the declared length against MaxFrameLen before
// allocating a buffer for it, then accumulates exactly that many bytes —
// it never attempts to decode from a partial read.
func ReadFrame(r io.Reader) (Message, error) {
	var header [lenHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Message{}, err
		}
		return Message{}, gwerr.Wrap(gwerr.KindTransport, "read frame header", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameLen {
		return Message{}, gwerr.Wrap(gwerr.KindProtocol,
			fmt.Sprintf("declared frame length %d exceeds max %d", length, MaxFrameLen),
			gwerr.ErrFrameTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Message{}, err
		}
		return Message{}, gwerr.Wrap(gwerr.KindTransport, "read frame payload", err)
	}

	return Decode(payload)
}

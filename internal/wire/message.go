// Package wire implements the length-prefixed framing and tagged message
// union that carries the entire NetworkMessage conversation for the life
// of a session.
package wire

// Tag identifies the variant carried by a Message.
type Tag uint8

const (
	TagHello Tag = iota + 1
	TagHelloAck
	TagInput
	TagCommand
	TagResize
	TagOutput
	TagError
	TagExit
	TagRequestSnapshot
	TagSnapshot
	TagPing
	TagPong
	TagClose
)

// Message is the closed tagged union described in spec.md §3. Only the
// fields relevant to Tag are populated; cbor omits zero-value fields via
// omitempty so the wire shape stays compact per variant.
type Message struct {
	Tag Tag `cbor:"1,keyasint"`

	// Hello
	ProtocolVersion uint32 `cbor:"2,keyasint,omitempty"`
	AppVersion      string `cbor:"3,keyasint,omitempty"`
	Capabilities    uint64 `cbor:"4,keyasint,omitempty"`
	AuthToken       string `cbor:"5,keyasint,omitempty"`

	// Input / Output / Snapshot
	Data []byte `cbor:"6,keyasint,omitempty"`

	// Command
	Text string `cbor:"7,keyasint,omitempty"`

	// Resize / Snapshot
	Rows uint16 `cbor:"8,keyasint,omitempty"`
	Cols uint16 `cbor:"9,keyasint,omitempty"`

	// Error
	ErrorMessage string `cbor:"10,keyasint,omitempty"`

	// Exit
	ExitCode int32 `cbor:"11,keyasint,omitempty"`
}

// Hello builds a Hello message.
func Hello(version uint32, appVersion string, capabilities uint64, authToken string) Message {
	return Message{
		Tag:             TagHello,
		ProtocolVersion: version,
		AppVersion:      appVersion,
		Capabilities:    capabilities,
		AuthToken:       authToken,
	}
}

// HelloAck builds the handshake acknowledgement.
func HelloAck() Message { return Message{Tag: TagHelloAck} }

// Input builds a client-to-host keystroke message.
func Input(data []byte) Message { return Message{Tag: TagInput, Data: data} }

// Command builds a legacy line-mode message; the host treats it as
// byte-equivalent to Input.
func Command(text string) Message { return Message{Tag: TagCommand, Text: text} }

// Resize builds a terminal resize message.
func Resize(rows, cols uint16) Message { return Message{Tag: TagResize, Rows: rows, Cols: cols} }

// Output builds a host-to-client output frame.
func Output(data []byte) Message { return Message{Tag: TagOutput, Data: data} }

// Error builds an error event.
func Error(message string) Message { return Message{Tag: TagError, ErrorMessage: message} }

// Exit builds a process exit event.
func Exit(code int32) Message { return Message{Tag: TagExit, ExitCode: code} }

// RequestSnapshot asks the host for a resync snapshot.
func RequestSnapshot() Message { return Message{Tag: TagRequestSnapshot} }

// Snapshot builds a resync snapshot reply.
func Snapshot(data []byte, rows, cols uint16) Message {
	return Message{Tag: TagSnapshot, Data: data, Rows: rows, Cols: cols}
}

// Ping and Pong are keepalive messages.
func Ping() Message { return Message{Tag: TagPing} }
func Pong() Message { return Message{Tag: TagPong} }

// Close requests graceful termination of the stream.
func Close() Message { return Message{Tag: TagClose} }

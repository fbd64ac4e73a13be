// Package orchestrator implements the per-connection state machine that
// chains admission, handshake, the session/pump pipeline, and cleanup.
package orchestrator

// State is a node in the per-connection state machine (spec.md §4.8).
type State string

const (
	StateNew           State = "NEW"
	StateRateChecked   State = "RATE_CHECKED"
	StateHandshaking   State = "HANDSHAKING"
	StateAuthenticated State = "AUTHENTICATED"
	StateRunning       State = "RUNNING"
	StateClosing       State = "CLOSING"
	StateTerminated    State = "TERMINATED"
	StateRejected      State = "REJECTED"
)

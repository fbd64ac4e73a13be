// Package pairing builds the small record a client parses to bootstrap
// its first connection: address, fingerprint, token, and protocol
// version.
package pairing

import "encoding/json"

// Payload is the serializable record the host emits once per run
// (spec.md §3, §4.9).
type Payload struct {
	IP              string `json:"ip"`
	Port            uint16 `json:"port"`
	Fingerprint     string `json:"fingerprint"`
	Token           string `json:"token"`
	ProtocolVersion uint32 `json:"protocol_version"`
}

// Marshal renders the payload as a compact JSON string, small enough to
// fit in a QR code.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Parse decodes a pairing payload from its JSON representation.
func Parse(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

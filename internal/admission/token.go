package admission

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenBytes is the entropy of a generated AuthToken (spec.md §3: 256-bit).
const TokenBytes = 32

// GenerateToken returns a fresh, full-entropy auth token in its canonical
// lowercase hex representation.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

package admission

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/comacode/comacode/internal/gwerr"
)

func TestRateLimitAdmitsFirstFiveThenRejects(t *testing.T) {
	c := NewController(1, 5, 3)
	ip := "203.0.113.1"

	for i := 0; i < 5; i++ {
		if err := c.CheckConnection(ip); err != nil {
			t.Fatalf("attempt %d: expected admission, got %v", i+1, err)
		}
	}
	if err := c.CheckConnection(ip); !errors.Is(err, gwerr.ErrRateLimitExceeded) {
		t.Fatalf("6th attempt: expected ErrRateLimitExceeded, got %v", err)
	}
}

func TestThirdAuthFailureBansIP(t *testing.T) {
	c := NewController(1, 100, 3)
	ip := "203.0.113.2"

	for i := 0; i < 2; i++ {
		err := c.CheckHello(ip, "0000000000000000000000000000000000000000000000000000000000000", 1)
		if !errors.Is(err, gwerr.ErrAuthFailed) {
			t.Fatalf("attempt %d: expected ErrAuthFailed, got %v", i+1, err)
		}
	}

	err := c.CheckHello(ip, "bad-token", 1)
	if !errors.Is(err, gwerr.ErrIPBanned) {
		t.Fatalf("3rd failure: expected ErrIPBanned, got %v", err)
	}

	if err := c.CheckConnection(ip); !errors.Is(err, gwerr.ErrIPBanned) {
		t.Fatalf("subsequent connection: expected ErrIPBanned, got %v", err)
	}
}

func TestValidTokenClearsFailuresAndChecksVersion(t *testing.T) {
	c := NewController(1, 100, 3)
	ip := "203.0.113.3"
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	c.Tokens.Add(token)

	if err := c.CheckHello(ip, "wrong-token", 1); !errors.Is(err, gwerr.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}

	if err := c.CheckHello(ip, token, 99); !errors.Is(err, gwerr.ErrProtocolVersionMismatch) {
		t.Fatalf("expected ErrProtocolVersionMismatch, got %v", err)
	}

	if err := c.CheckHello(ip, token, 1); err != nil {
		t.Fatalf("expected admission, got %v", err)
	}

	// The earlier failure was cleared, so two more stay below the threshold.
	for i := 0; i < 2; i++ {
		if err := c.CheckHello(ip, "wrong-token", 1); !errors.Is(err, gwerr.ErrAuthFailed) {
			t.Fatalf("failure %d after clear: expected ErrAuthFailed, got %v", i+1, err)
		}
	}
}

func TestMissingTokenRejected(t *testing.T) {
	c := NewController(1, 100, 3)
	err := c.CheckHello("203.0.113.4", "", 1)
	if !errors.Is(err, gwerr.ErrMissingAuthToken) {
		t.Fatalf("expected ErrMissingAuthToken, got %v", err)
	}
}

func TestRepeatedMissingTokenEventuallyBans(t *testing.T) {
	c := NewController(1, 100, 3)
	ip := "203.0.113.5"

	for i := 0; i < 2; i++ {
		err := c.CheckHello(ip, "", 1)
		if !errors.Is(err, gwerr.ErrMissingAuthToken) {
			t.Fatalf("attempt %d: expected ErrMissingAuthToken, got %v", i+1, err)
		}
	}

	if err := c.CheckHello(ip, "", 1); !errors.Is(err, gwerr.ErrIPBanned) {
		t.Fatalf("3rd missing-token attempt: expected ErrIPBanned, got %v", err)
	}
}

func TestTokenGenerationIsFullEntropyAndHexRoundTrips(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tok, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		if len(tok) != TokenBytes*2 {
			t.Fatalf("token length = %d, want %d", len(tok), TokenBytes*2)
		}
		raw, err := hex.DecodeString(tok)
		if err != nil || hex.EncodeToString(raw) != tok {
			t.Fatalf("token %q does not round-trip through hex", tok)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = struct{}{}
	}
}

// Package tofu implements the client-side trust-on-first-use peer of the
// host's identity store: remember the first observed fingerprint per
// host, and reject fail-closed on any later mismatch.
package tofu

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/comacode/comacode/internal/gwerr"
)

// Store persists known-host fingerprints to a single JSON file, keyed by
// host address (ip:port), in the client's data directory.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// Open loads (or creates) the store at dataDir/known_hosts.json.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "known_hosts.json")
	s := &Store{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, gwerr.Wrap(gwerr.KindTOFU, "read known hosts", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, gwerr.Wrap(gwerr.KindTOFU, "parse known hosts", err)
	}
	return s, nil
}

// Verify checks observed against the fingerprint previously recorded for
// host. If none is recorded, observed is pinned (trust on first use). If
// one is recorded and it differs, Verify fails closed.
func (s *Store) Verify(host, observed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	known, seen := s.data[host]
	if !seen {
		s.data[host] = observed
		return s.save()
	}
	if known != observed {
		return gwerr.New(gwerr.KindTOFU,
			"fingerprint mismatch for "+host+": known "+known+", observed "+observed)
	}
	return nil
}

// Forget removes a pinned host, allowing the next Verify to re-pin. This
// is the client's equivalent of acknowledging a deliberate host rotation.
func (s *Store) Forget(host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, host)
	return s.save()
}

func (s *Store) save() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return gwerr.Wrap(gwerr.KindTOFU, "marshal known hosts", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return gwerr.Wrap(gwerr.KindTOFU, "write known hosts", err)
	}
	return nil
}

package admission

import "sync"

// FailureTracker counts consecutive auth failures per IP and bans an IP
// permanently (for the process lifetime) once it crosses banThreshold.
// It is distinct from the connection RateLimiter: a brute-force attempt
// yields only one failed token per connection, so without a dedicated
// counter an attacker hidden below the rate limit could try tokens
// indefinitely (spec.md §4.6).
type FailureTracker struct {
	mu            sync.Mutex
	failures      map[string]int
	banned        map[string]struct{}
	banThreshold  int
}

// NewFailureTracker builds a tracker that bans an IP after banThreshold
// consecutive failed auth attempts.
func NewFailureTracker(banThreshold int) *FailureTracker {
	return &FailureTracker{
		failures:     make(map[string]int),
		banned:       make(map[string]struct{}),
		banThreshold: banThreshold,
	}
}

// Banned reports whether ip has crossed the ban threshold.
func (t *FailureTracker) Banned(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.banned[ip]
	return ok
}

// RecordFailure increments ip's failure count and bans it if the count
// reaches banThreshold. Returns true if this call caused the ban.
func (t *FailureTracker) RecordFailure(ip string) (banned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[ip]++
	if t.failures[ip] >= t.banThreshold {
		t.banned[ip] = struct{}{}
		return true
	}
	return false
}

// ClearFailures resets ip's failure count on a successful auth.
func (t *FailureTracker) ClearFailures(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, ip)
}

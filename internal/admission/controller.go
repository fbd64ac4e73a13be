package admission

import (
	"github.com/comacode/comacode/internal/gwerr"
)

// Controller wires the token store, rate limiter, and failure tracker
// into the five-step admission sequence from spec.md §4.6.
type Controller struct {
	Tokens      *TokenStore
	RateLimiter *RateLimiter
	Failures    *FailureTracker

	ProtocolVersion uint32
}

// NewController builds a Controller admitting ratePerMinute connection
// attempts per minute per IP and banning an IP after banThreshold auth
// failures (the config defaults are 5 and 3).
func NewController(protocolVersion uint32, ratePerMinute, banThreshold int) *Controller {
	return &Controller{
		Tokens:          NewTokenStore(),
		RateLimiter:     NewRateLimiter(ratePerMinute),
		Failures:        NewFailureTracker(banThreshold),
		ProtocolVersion: protocolVersion,
	}
}

// CheckConnection performs steps 1-2 of the admission sequence, before a
// Hello has even been read: ban check then rate-limit check.
func (c *Controller) CheckConnection(ip string) error {
	if c.Failures.Banned(ip) {
		return gwerr.Wrap(gwerr.KindAdmission, "connection rejected", gwerr.ErrIPBanned)
	}
	if !c.RateLimiter.Allow(ip) {
		return gwerr.Wrap(gwerr.KindAdmission, "connection rejected", gwerr.ErrRateLimitExceeded)
	}
	return nil
}

// CheckHello performs steps 3-4: token presence/validity and protocol
// version agreement. A valid token clears the IP's failure counter, even
// when the version check that follows fails.
func (c *Controller) CheckHello(ip, token string, protocolVersion uint32) error {
	if token == "" {
		if c.Failures.RecordFailure(ip) {
			return gwerr.Wrap(gwerr.KindAdmission, "connection rejected", gwerr.ErrIPBanned)
		}
		return gwerr.Wrap(gwerr.KindAdmission, "connection rejected", gwerr.ErrMissingAuthToken)
	}
	if !c.Tokens.Valid(token) {
		if c.Failures.RecordFailure(ip) {
			return gwerr.Wrap(gwerr.KindAdmission, "connection rejected", gwerr.ErrIPBanned)
		}
		return gwerr.Wrap(gwerr.KindAdmission, "connection rejected", gwerr.ErrAuthFailed)
	}
	c.Failures.ClearFailures(ip)

	if protocolVersion != c.ProtocolVersion {
		return gwerr.Wrap(gwerr.KindAdmission, "connection rejected", gwerr.ErrProtocolVersionMismatch)
	}
	return nil
}

package stream

import (
	"time"
)

// FailureTier classifies a disconnection for backoff purposes. Each tier
// tracks its own delay; a tier's delay persists across its failures and
// resets only on a subsequent successful connection.
type FailureTier int

const (
	// TierTCP covers transport drops and liveness timeouts.
	TierTCP FailureTier = iota
	// TierHTTP covers non-2xx responses other than rate limiting.
	TierHTTP
	// TierRateLimit covers HTTP 429 responses.
	TierRateLimit
)

func (t FailureTier) String() string {
	switch t {
	case TierTCP:
		return "tcp"
	case TierHTTP:
		return "http"
	case TierRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

const (
	tcpStep = 250 * time.Millisecond
	tcpMax  = 16 * time.Second

	httpBase = 5 * time.Second
	httpMax  = 320 * time.Second

	rateLimitBase = 60 * time.Second
	rateLimitMax  = 960 * time.Second
)

// tieredBackoff holds the current reconnect delay per failure tier.
// Not safe for concurrent use; owned by the manager's run loop.
type tieredBackoff struct {
	tcpDelay       time.Duration
	httpDelay      time.Duration
	rateLimitDelay time.Duration
}

func newTieredBackoff() *tieredBackoff {
	return &tieredBackoff{}
}

// next advances the given tier's delay and returns it. TCP grows linearly
// by a small step; HTTP and rate-limit grow exponentially from their bases.
func (b *tieredBackoff) next(tier FailureTier) time.Duration {
	switch tier {
	case TierTCP:
		b.tcpDelay += tcpStep
		if b.tcpDelay > tcpMax {
			b.tcpDelay = tcpMax
		}
		return b.tcpDelay
	case TierHTTP:
		if b.httpDelay == 0 {
			b.httpDelay = httpBase
		} else {
			b.httpDelay *= 2
		}
		if b.httpDelay > httpMax {
			b.httpDelay = httpMax
		}
		return b.httpDelay
	case TierRateLimit:
		if b.rateLimitDelay == 0 {
			b.rateLimitDelay = rateLimitBase
		} else {
			b.rateLimitDelay *= 2
		}
		if b.rateLimitDelay > rateLimitMax {
			b.rateLimitDelay = rateLimitMax
		}
		return b.rateLimitDelay
	default:
		return tcpStep
	}
}

// reset returns every tier to its initial value after a successful
// connection.
func (b *tieredBackoff) reset() {
	b.tcpDelay = 0
	b.httpDelay = 0
	b.rateLimitDelay = 0
}

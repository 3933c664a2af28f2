package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTCPBackoffMonotonicCappedAndReset(t *testing.T) {
	b := newTieredBackoff()

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		delays = append(delays, b.next(TierTCP))
	}

	// Non-decreasing, linear by the fixed step.
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
	assert.Equal(t, 250*time.Millisecond, delays[0])
	assert.Equal(t, 1250*time.Millisecond, delays[4])

	// Capped at the tier maximum.
	for i := 0; i < 100; i++ {
		b.next(TierTCP)
	}
	assert.Equal(t, tcpMax, b.next(TierTCP))

	// A success resets the tier to its initial value.
	b.reset()
	assert.Equal(t, 250*time.Millisecond, b.next(TierTCP))
}

func TestHTTPBackoffExponential(t *testing.T) {
	b := newTieredBackoff()

	assert.Equal(t, 5*time.Second, b.next(TierHTTP))
	assert.Equal(t, 10*time.Second, b.next(TierHTTP))
	assert.Equal(t, 20*time.Second, b.next(TierHTTP))
	assert.Equal(t, 40*time.Second, b.next(TierHTTP))

	for i := 0; i < 20; i++ {
		b.next(TierHTTP)
	}
	assert.Equal(t, httpMax, b.next(TierHTTP))
}

func TestRateLimitBackoffExponential(t *testing.T) {
	b := newTieredBackoff()

	assert.Equal(t, 60*time.Second, b.next(TierRateLimit))
	assert.Equal(t, 120*time.Second, b.next(TierRateLimit))

	for i := 0; i < 20; i++ {
		b.next(TierRateLimit)
	}
	assert.Equal(t, rateLimitMax, b.next(TierRateLimit))
}

func TestTiersAreIndependent(t *testing.T) {
	b := newTieredBackoff()

	// Advancing one tier leaves the others at their initial values.
	b.next(TierHTTP)
	b.next(TierHTTP)
	assert.Equal(t, 250*time.Millisecond, b.next(TierTCP))
	assert.Equal(t, 60*time.Second, b.next(TierRateLimit))

	// Each tier's delay persists across failures of other tiers.
	assert.Equal(t, 20*time.Second, b.next(TierHTTP))
}

package engine

import "time"

// tokenBucket gates aggregate egress to MaxSendRateBitsPerSec. Tokens
// accrue in bytes, at bitsPerSec/8 per second, refreshed on a timer tick
// rather than continuously -- the engine doesn't need wall-clock
// precision finer than TokenRefreshInterval, and a tick-based refill
// keeps the whole rate limiter free of floating-point drift across a long
// run (every refill adds the same integer byte count).
type tokenBucket struct {
	bitsPerSec   uint64
	perTick      uint64 // bytes added per refresh tick, derived from bitsPerSec
	tickInterval time.Duration
	tokens       int64
	// burst bounds how many tokens can accumulate while idle, so a long
	// quiet period doesn't let the engine blast an unbounded burst the
	// instant data arrives.
	burst int64
}

// newTokenBucket constructs a bucket for bitsPerSec bits/sec, refreshed
// every tickInterval. bitsPerSec of zero disables the limiter entirely
// (every consume call succeeds), matching
// maxSendRateBitsPerSecOrZeroToDisable in spec.md §6.
func newTokenBucket(bitsPerSec uint64, tickInterval time.Duration) *tokenBucket {
	b := &tokenBucket{bitsPerSec: bitsPerSec, tickInterval: tickInterval}
	if bitsPerSec > 0 {
		b.perTick = uint64(float64(bitsPerSec) / 8 * tickInterval.Seconds())
		if b.perTick == 0 {
			b.perTick = 1
		}
		b.burst = int64(b.perTick) * 4
		b.tokens = int64(b.perTick)
	}
	return b
}

// disabled reports whether this bucket imposes no limit at all.
func (b *tokenBucket) disabled() bool { return b.bitsPerSec == 0 }

// refresh adds one tick's worth of tokens, capped at the burst ceiling.
func (b *tokenBucket) refresh() {
	if b.disabled() {
		return
	}
	b.tokens += int64(b.perTick)
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
}

// tryConsume reports whether nBytes may be sent now, deducting them from
// the bucket if so. A disabled bucket always allows the send.
func (b *tokenBucket) tryConsume(nBytes int) bool {
	if b.disabled() {
		return true
	}
	if b.tokens < int64(nBytes) {
		return false
	}
	b.tokens -= int64(nBytes)
	return true
}

// setRate reconfigures the bucket for a new bits/sec cap, used by
// UpdateRate. Switching to zero disables the limiter; switching away from
// zero starts the bucket with one tick's worth of tokens, the same as a
// freshly constructed bucket.
func (b *tokenBucket) setRate(bitsPerSec uint64) {
	*b = *newTokenBucket(bitsPerSec, b.tickInterval)
}

// Package randid generates LTP session numbers and serial numbers per
// RFC 5326 §6.2: a random high part to make collisions between two
// engines' sessions astronomically unlikely, and an incrementing low part
// so that a single engine can never collide with its own recent history
// even if its random source repeats.
package randid

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"sync"
	"time"
)

// reseedEvery is how many outputs the PRNG produces before it is reseeded
// from the hardware entropy source.
const reseedEvery = 256

// remixEvery is how many outputs occur between XOR-mixing in a fresh
// hardware entropy value, independent of the full reseed. Mixing more
// often than reseeding means a leaked PRNG internal state still can't
// predict future output without also guessing the mixed-in entropy.
const remixEvery = 128

// Generator produces session numbers and serial numbers for one engine.
// It is safe for concurrent use: session and serial number generation
// take its own mutex, and the ping-number methods only read fields fixed
// at construction.
type Generator struct {
	mu          sync.Mutex
	engineIndex uint8 // 1..7
	force32     bool
	prng        *mrand.Rand
	sinceReseed int
	sinceRemix  int
	counter64   uint32 // wraps 1..2^24-1
	counter32   uint32 // wraps 1..2^21-1
}

// NewGenerator constructs a Generator for the given engine index (1..7).
// force32 selects 32-bit session numbers throughout.
func NewGenerator(engineIndex uint8, force32 bool) *Generator {
	if engineIndex < 1 || engineIndex > 7 {
		panic("randid: engineIndex must be in [1,7]")
	}
	g := &Generator{
		engineIndex: engineIndex,
		force32:     force32,
		counter64:   1,
		counter32:   1,
	}
	g.prng = mrand.New(mrand.NewSource(hwSeed()))
	return g
}

func hwSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand reading from the OS CSPRNG failing is not
		// recoverable in a way that preserves the security property;
		// fall back to a time-derived seed rather than panicking the
		// whole engine over session-id entropy.
		return time.Now().UnixNano()
	}
	return int64(binary.BigEndian.Uint64(b[:]))
}

func (g *Generator) maybeRemix() {
	g.sinceReseed++
	g.sinceRemix++
	if g.sinceReseed >= reseedEvery {
		g.prng = mrand.New(mrand.NewSource(hwSeed()))
		g.sinceReseed = 0
		g.sinceRemix = 0
		return
	}
	if g.sinceRemix >= remixEvery {
		// mix fresh hardware entropy into the PRNG's future output
		// without fully reseeding, so a leaked PRNG state alone still
		// doesn't predict it.
		mixed := uint64(g.prng.Int63()) ^ uint64(hwSeed())
		g.prng = mrand.New(mrand.NewSource(int64(mixed)))
		g.sinceRemix = 0
	}
}

// GetRandomSession returns the next session number for this engine.
func (g *Generator) GetRandomSession() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeRemix()
	if g.force32 {
		return uint64(g.next32())
	}
	return g.next64()
}

// next64 lays out a 64-bit session number as: engine index (bits 63..61,
// 3 bits), a reserved-zero bit (60), random (bits 59..24, 36 bits),
// counter (bits 23..0, 24 bits, 1..2^24-1). The 24-bit counter is what
// bounds a single engine to 16,777,215 distinct session numbers before it
// must wrap, per the RFC's collision-avoidance discipline.
func (g *Generator) next64() uint64 {
	random36 := g.prng.Uint64() & ((1 << 36) - 1)
	c := g.counter64
	g.counter64++
	if g.counter64 == 0 || g.counter64 > (1<<24)-1 {
		g.counter64 = 1
	}
	return uint64(g.engineIndex)<<61 | random36<<24 | uint64(c)
}

// next32 lays out a 32-bit session number as: engine index (bits 31..28,
// 4 bits), random (bits 27..21, 7 bits), counter (bits 20..0, 21 bits,
// 1..2^21-1).
func (g *Generator) next32() uint32 {
	random7 := g.prng.Uint32() & ((1 << 7) - 1)
	c := g.counter32
	g.counter32++
	if g.counter32 == 0 || g.counter32 > (1<<21)-1 {
		g.counter32 = 1
	}
	return uint32(g.engineIndex)<<28 | random7<<21 | c
}

// GetRandomSerialNumber returns a random 47-bit-entropy starting serial
// number; callers increment it monotonically thereafter. Serial numbers
// are never zero.
func (g *Generator) GetRandomSerialNumber() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maybeRemix()
	v := g.prng.Uint64() & ((1 << 47) - 1)
	if v == 0 {
		v = 1
	}
	return v
}

// PingSessionNumber64 returns the reserved 64-bit ping-session pattern
// for this engine: the engine index in the top 3 bits, all-ones elsewhere.
func (g *Generator) PingSessionNumber64() uint64 {
	return uint64(g.engineIndex)<<61 | ((uint64(1) << 61) - 1)
}

// PingSessionNumber32 returns the reserved 32-bit ping-session pattern.
func (g *Generator) PingSessionNumber32() uint32 {
	return uint32(g.engineIndex)<<28 | ((uint32(1) << 28) - 1)
}

// IsPingSession64 reports whether sessionNumber matches the reserved
// all-ones-below-the-engine-index ping pattern.
func IsPingSession64(sessionNumber uint64) bool {
	return sessionNumber&((uint64(1)<<61)-1) == (uint64(1)<<61)-1
}

// IsPingSession32 is the 32-bit analogue of IsPingSession64.
func IsPingSession32(sessionNumber uint32) bool {
	return sessionNumber&((uint32(1)<<28)-1) == (uint32(1)<<28)-1
}

// EngineIndexOf extracts the originating engine's index from a session
// number, choosing the 32- or 64-bit layout by inspecting the top byte,
// per spec.md §4.3: a non-zero top byte means the number is 64-bit.
func EngineIndexOf(sessionNumber uint64) uint8 {
	if sessionNumber>>56 != 0 {
		return uint8(sessionNumber >> 61)
	}
	return uint8(sessionNumber >> 28)
}

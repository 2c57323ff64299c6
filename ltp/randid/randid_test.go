package randid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetRandomSessionEncodesEngineIndex(t *testing.T) {
	g := NewGenerator(3, false)
	for i := 0; i < 100; i++ {
		s := g.GetRandomSession()
		require.Equal(t, uint8(3), EngineIndexOf(s))
		require.False(t, IsPingSession64(s))
	}
}

func TestGetRandomSession32BitEncodesEngineIndex(t *testing.T) {
	g := NewGenerator(5, true)
	for i := 0; i < 100; i++ {
		s := g.GetRandomSession()
		require.Less(t, s, uint64(1)<<32)
		require.Equal(t, uint8(5), EngineIndexOf(s))
		require.False(t, IsPingSession32(uint32(s)))
	}
}

func TestPingSessionPatternsAreReserved(t *testing.T) {
	g := NewGenerator(4, false)
	require.True(t, IsPingSession64(g.PingSessionNumber64()))
	require.Equal(t, uint8(4), EngineIndexOf(g.PingSessionNumber64()))

	g32 := NewGenerator(2, true)
	require.True(t, IsPingSession32(g32.PingSessionNumber32()))
	require.Equal(t, uint8(2), EngineIndexOf(uint64(g32.PingSessionNumber32())))
}

// TestSessionCounterWrapsAfterFullRange exercises scenario 8 from the
// session-number generator spec: an engine must be able to produce
// 16,777,215 (2^24-1) distinct session numbers before its internal counter
// wraps back to 1.
func TestSessionCounterWrapsAfterFullRange(t *testing.T) {
	g := NewGenerator(1, false)
	const want = (1 << 24) - 1
	seen := make(map[uint32]struct{}, want)
	for i := 0; i < want; i++ {
		s := g.GetRandomSession()
		c := uint32(s & ((1 << 24) - 1))
		seen[c] = struct{}{}
	}
	require.Len(t, seen, want)
	require.Equal(t, uint32(1), g.counter64)

	s := g.GetRandomSession()
	require.Equal(t, uint32(1), uint32(s&((1<<24)-1)))
}

func TestGetRandomSerialNumberNeverZero(t *testing.T) {
	g := NewGenerator(1, false)
	for i := 0; i < 1000; i++ {
		require.NotZero(t, g.GetRandomSerialNumber())
	}
}

func TestNewGeneratorRejectsOutOfRangeEngineIndex(t *testing.T) {
	require.Panics(t, func() { NewGenerator(0, false) })
	require.Panics(t, func() { NewGenerator(8, false) })
}

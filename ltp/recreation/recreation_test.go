package recreation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenFalseForUnknownSession(t *testing.T) {
	p := NewPreventer(4)
	require.False(t, p.Seen(1, 100))
}

func TestRecordThenSeen(t *testing.T) {
	p := NewPreventer(4)
	p.Record(1, 100)
	require.True(t, p.Seen(1, 100))
	require.False(t, p.Seen(1, 101))
	require.False(t, p.Seen(2, 100)) // different originator
}

func TestCapacityEvictsOldest(t *testing.T) {
	p := NewPreventer(3)
	p.Record(1, 1)
	p.Record(1, 2)
	p.Record(1, 3)
	require.True(t, p.Seen(1, 1))

	p.Record(1, 4) // evicts session 1
	require.False(t, p.Seen(1, 1))
	require.True(t, p.Seen(1, 2))
	require.True(t, p.Seen(1, 3))
	require.True(t, p.Seen(1, 4))
}

func TestZeroCapacityDisablesTracking(t *testing.T) {
	p := NewPreventer(0)
	p.Record(1, 100)
	require.False(t, p.Seen(1, 100))
}

func TestMultipleOriginatorsAreIndependent(t *testing.T) {
	p := NewPreventer(2)
	p.Record(1, 10)
	p.Record(2, 10)
	require.True(t, p.Seen(1, 10))
	require.True(t, p.Seen(2, 10))

	p.Record(1, 11)
	p.Record(1, 12) // evicts 10 from originator 1 only
	require.False(t, p.Seen(1, 10))
	require.True(t, p.Seen(2, 10))
}

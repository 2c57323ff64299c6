package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepspacecomm/ltpengine/ltp/timer"
	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

func newTestReceiver(t *testing.T, cb ReceiverCallbacks) (*Receiver, *Manager) {
	t.Helper()
	mgr := timerManagerForTest()
	sid := wire.SessionID{OriginatorEngineID: 1, SessionNumber: 42}
	r := NewReceiver(sid, 7, 10, 64, 1<<20, 3, 1000, mgr, cb)
	return r, mgr
}

func timerManagerForTest() *Manager {
	return timer.NewManager[timerKey](50*time.Millisecond, nil)
}

func redSeg(sid wire.SessionID, offset, length uint64, typ wire.SegmentType, data []byte, csn, rsn uint64) *wire.DataSegment {
	d := &wire.DataSegment{
		Header: wire.Header{Type: typ, SessionID: sid},
		Offset: offset,
		Length: length,
		Data:   data,
	}
	if typ.IsCheckpoint() {
		d.HasCheckpoint = true
		d.CheckpointSerialNumber = csn
		d.ReportSerialNumber = rsn
	}
	return d
}

func TestReceiverCleanRedDelivery(t *testing.T) {
	var started, redDelivered, deletedCancelled bool
	var deleteReason wire.CancelReason
	cb := ReceiverCallbacks{
		SessionStart: func() { started = true },
		RedPartReception: func(payload []byte, length uint64, csid uint64, eob bool) {
			redDelivered = true
			require.Equal(t, "hi", string(payload))
			require.True(t, eob)
		},
		NeedsDeleted: func(cancelled bool, reason wire.CancelReason) { deletedCancelled = cancelled; deleteReason = reason },
	}
	r, mgr := newTestReceiver(t, cb)
	defer mgr.Close()
	require.True(t, started)

	sid := wire.SessionID{OriginatorEngineID: 1, SessionNumber: 42}
	r.DataSegmentReceived(redSeg(sid, 0, 1, wire.SegRedData, []byte("h"), 0, 0))
	r.DataSegmentReceived(redSeg(sid, 1, 1, wire.SegRedCheckpointEORPEOB, []byte("i"), 500, 0))

	require.True(t, redDelivered)
	rpt, ok := r.NextPacketToSend()
	require.True(t, ok)
	require.Equal(t, uint64(0), rpt.LowerBound)
	require.Equal(t, uint64(2), rpt.UpperBound)

	r.ReportAckReceived(rpt.ReportSerialNumber)
	require.False(t, deletedCancelled) // close, not cancel
	require.Equal(t, wire.ReasonReservedForClose, deleteReason)
}

func TestReceiverDuplicateCheckpointIsIdempotent(t *testing.T) {
	r, mgr := newTestReceiver(t, ReceiverCallbacks{})
	defer mgr.Close()
	sid := wire.SessionID{OriginatorEngineID: 1, SessionNumber: 42}

	seg := redSeg(sid, 0, 1, wire.SegRedCheckpoint, []byte("h"), 500, 0)
	r.DataSegmentReceived(seg)
	_, ok := r.NextPacketToSend()
	require.True(t, ok)

	// redundant retransmission of the same checkpoint must not mint a
	// second report.
	r.DataSegmentReceived(redSeg(sid, 0, 1, wire.SegRedCheckpoint, []byte("h"), 500, 0))
	_, ok = r.NextPacketToSend()
	require.False(t, ok)
}

func TestReceiverMiscoloredRedAfterGreen(t *testing.T) {
	var cancelled bool
	var reason wire.CancelReason
	cb := ReceiverCallbacks{
		NeedsDeleted: func(c bool, r wire.CancelReason) { cancelled = c; reason = r },
	}
	r, mgr := newTestReceiver(t, cb)
	defer mgr.Close()
	sid := wire.SessionID{OriginatorEngineID: 1, SessionNumber: 42}

	r.DataSegmentReceived(redSeg(sid, 10, 1, wire.SegGreenData, []byte("g"), 0, 0))
	r.DataSegmentReceived(redSeg(sid, 10, 1, wire.SegRedData, []byte("x"), 0, 0))

	require.True(t, cancelled)
	require.Equal(t, wire.ReasonMiscolored, reason)
}

func TestReceiverOversizedRedIsSystemCancelled(t *testing.T) {
	var cancelled bool
	var reason wire.CancelReason
	cb := ReceiverCallbacks{
		NeedsDeleted: func(c bool, r wire.CancelReason) { cancelled = c; reason = r },
	}
	mgr := timerManagerForTest()
	defer mgr.Close()
	sid := wire.SessionID{OriginatorEngineID: 1, SessionNumber: 42}
	r := NewReceiver(sid, 7, 10, 64, 4, 3, 1000, mgr, cb) // cap of 4 bytes

	r.DataSegmentReceived(redSeg(sid, 0, 10, wire.SegRedData, make([]byte, 10), 0, 0))

	require.True(t, cancelled)
	require.Equal(t, wire.ReasonSystemCancelled, reason)
}

func TestReceiverGreenEOBWithNoRedClosesSession(t *testing.T) {
	var cancelled bool
	closedCount := 0
	cb := ReceiverCallbacks{
		NeedsDeleted: func(c bool, r wire.CancelReason) { cancelled = c; closedCount++ },
	}
	r, mgr := newTestReceiver(t, cb)
	defer mgr.Close()
	sid := wire.SessionID{OriginatorEngineID: 1, SessionNumber: 42}

	r.DataSegmentReceived(redSeg(sid, 0, 3, wire.SegGreenDataEOB, []byte("abc"), 0, 0))

	require.Equal(t, 1, closedCount)
	require.False(t, cancelled)
}

func TestReceiverReportTimerExpiryExhaustsToRLEXC(t *testing.T) {
	var cancelled bool
	var reason wire.CancelReason
	cb := ReceiverCallbacks{
		NeedsDeleted: func(c bool, r wire.CancelReason) { cancelled = c; reason = r },
	}
	r, mgr := newTestReceiver(t, cb)
	defer mgr.Close()

	r.ReportTimerExpired(77, 4) // maxRetriesPerSerialNumber is 3
	require.True(t, cancelled)
	require.Equal(t, wire.ReasonRLEXC, reason)
}

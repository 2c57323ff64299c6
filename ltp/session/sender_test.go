package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

func newTestSender(t *testing.T, block []byte, lengthOfRedPart, mtu uint64, cb SenderCallbacks) (*Sender, *Manager) {
	t.Helper()
	mgr := timerManagerForTest()
	sid := wire.SessionID{OriginatorEngineID: 1, SessionNumber: 9}
	s := NewSender(sid, 7, block, lengthOfRedPart, mtu, 0, 3, 2000, mgr, cb)
	return s, mgr
}

// drain pulls every packet currently producible; it stops at the first
// "nothing to send" so it never spins on an empty sender.
func drain(s *Sender) []wire.Segment {
	var out []wire.Segment
	for {
		seg, ok := s.NextPacketToSend()
		if !ok {
			break
		}
		out = append(out, seg)
	}
	return out
}

func TestSenderCleanRedDeliveryPacketCounts(t *testing.T) {
	block := []byte("The quick brown fox jumps over the lazy dog!") // 44 bytes
	require.Len(t, block, 44)

	var completed bool
	cb := SenderCallbacks{
		InitialTransmissionCompleted: func() {},
		NeedsDeleted: func(cancelled bool, reason wire.CancelReason) {
			completed = !cancelled
		},
	}
	s, mgr := newTestSender(t, block, 44, 1, cb)
	defer mgr.Close()

	segs := drain(s)
	require.Len(t, segs, 44) // 43 plain red + 1 checkpoint(EORP+EOB)
	last := segs[43].(*wire.DataSegment)
	require.Equal(t, wire.SegRedCheckpointEORPEOB, last.Header.Type)
	require.True(t, last.HasCheckpoint)

	rs := &wire.ReportSegment{
		ReportSerialNumber:     1,
		CheckpointSerialNumber: last.CheckpointSerialNumber,
		LowerBound:             0,
		UpperBound:             44,
		Claims:                 []wire.ReceptionClaim{{Offset: 0, Length: 44}},
	}
	s.ReportSegmentReceived(rs)
	require.True(t, completed)

	segs = drain(s)
	require.Len(t, segs, 1) // the report-ack
	_, ok := segs[0].(*wire.ReportAckSegment)
	require.True(t, ok)
}

func TestSenderGapReportTriggersSingleResendCheckpoint(t *testing.T) {
	block := []byte("0123456789") // 10 bytes, all red
	s, mgr := newTestSender(t, block, 10, 1, SenderCallbacks{})
	defer mgr.Close()

	segs := drain(s)
	require.Len(t, segs, 10)
	last := segs[9].(*wire.DataSegment)

	// receiver saw everything except byte offset 3 (the dropped packet)
	rs := &wire.ReportSegment{
		ReportSerialNumber:     1,
		CheckpointSerialNumber: last.CheckpointSerialNumber,
		LowerBound:             0,
		UpperBound:             10,
		Claims: []wire.ReceptionClaim{
			{Offset: 0, Length: 3},
			{Offset: 4, Length: 6},
		},
	}
	s.ReportSegmentReceived(rs)

	segs = drain(s)
	require.Len(t, segs, 2) // report-ack + the one-byte resend/checkpoint
	resend, ok := segs[1].(*wire.DataSegment)
	require.True(t, ok)
	require.Equal(t, uint64(3), resend.Offset)
	require.Equal(t, uint64(1), resend.Length)
	require.True(t, resend.HasCheckpoint)
	require.Equal(t, rs.ReportSerialNumber, resend.ReportSerialNumber)
	require.Equal(t, wire.SegRedCheckpoint, resend.Header.Type) // mid-block gap, not end-of-red-part
}

func TestSenderDiscretionaryCheckpointSuppressedWhenAlreadyAcked(t *testing.T) {
	block := make([]byte, 20)
	s, mgr := newTestSender(t, block, 20, 4, SenderCallbacks{})
	defer mgr.Close()

	segs := drain(s)
	require.Len(t, segs, 5) // 20 bytes / MTU 4

	// manually mark the whole red part acked via a report, without
	// referencing the first discretionary checkpoint (there is none here
	// since checkpointEveryNth is 0 - use the final checkpoint directly
	// to populate dataFragmentsAcked, then force an expiry on a synthetic
	// discretionary fragment to exercise the suppression branch).
	last := segs[4].(*wire.DataSegment)
	s.ReportSegmentReceived(&wire.ReportSegment{
		ReportSerialNumber:     1,
		CheckpointSerialNumber: last.CheckpointSerialNumber,
		LowerBound:             0,
		UpperBound:             20,
		Claims:                 []wire.ReceptionClaim{{Offset: 0, Length: 20}},
	})
	drain(s) // consume the report-ack queued by ReportSegmentReceived

	f := resendFragment{offset: 0, length: 4, checkpointSerialNumber: 555, flags: wire.SegRedCheckpoint}
	s.CheckpointTimerExpired(555, encodeResendFragment(f))

	_, ok := s.NextPacketToSend()
	require.False(t, ok) // suppressed: already fully acknowledged
}

func TestSenderCheckpointTimerExpiryExhaustsToRLEXC(t *testing.T) {
	var cancelled bool
	var reason wire.CancelReason
	cb := SenderCallbacks{NeedsDeleted: func(c bool, r wire.CancelReason) { cancelled = c; reason = r }}
	s, mgr := newTestSender(t, []byte("x"), 1, 1, cb)
	defer mgr.Close()
	drain(s)

	f := resendFragment{offset: 0, length: 1, checkpointSerialNumber: 42, flags: wire.SegRedCheckpointEORPEOB, retryCount: 4}
	s.CheckpointTimerExpired(42, encodeResendFragment(f))

	require.True(t, cancelled)
	require.Equal(t, wire.ReasonRLEXC, reason)
}

func TestSenderFullyGreenBlockCompletesOnFirstPass(t *testing.T) {
	block := []byte("all green")
	var closed bool
	cb := SenderCallbacks{NeedsDeleted: func(cancelled bool, reason wire.CancelReason) { closed = true }}
	s, mgr := newTestSender(t, block, 0, 9, cb)
	defer mgr.Close()

	segs := drain(s)
	require.Len(t, segs, 1)
	d := segs[0].(*wire.DataSegment)
	require.Equal(t, wire.SegGreenDataEOB, d.Header.Type)
	require.True(t, closed)
}

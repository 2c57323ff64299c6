package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sid(o, n uint64) SessionID { return SessionID{OriginatorEngineID: o, SessionNumber: n} }

func allSegments() []Segment {
	return []Segment{
		&DataSegment{
			Header:          Header{Type: SegRedData, SessionID: sid(5, 9)},
			ClientServiceID: 1, Offset: 0, Length: 4, Data: []byte("abcd"),
		},
		&DataSegment{
			Header:                 Header{Type: SegRedCheckpointEORPEOB, SessionID: sid(5, 9)},
			ClientServiceID:        1,
			Offset:                 4,
			Length:                 3,
			HasCheckpoint:          true,
			CheckpointSerialNumber: 77,
			ReportSerialNumber:     0,
			Data:                   []byte("xyz"),
		},
		&DataSegment{
			Header: Header{Type: SegGreenDataEOB, SessionID: sid(5, 9),
				HeaderExtensions:  []Extension{{Tag: 1, Value: []byte("hx")}},
				TrailerExtensions: []Extension{{Tag: 2, Value: []byte("tx")}},
			},
			ClientServiceID: 1, Offset: 7, Length: 2, Data: []byte("gg"),
		},
		&ReportSegment{
			Header:                 Header{Type: SegReport, SessionID: sid(5, 9)},
			ReportSerialNumber:     100,
			CheckpointSerialNumber: 77,
			UpperBound:             7,
			LowerBound:             0,
			Claims:                 []ReceptionClaim{{Offset: 0, Length: 4}, {Offset: 4, Length: 3}},
		},
		&ReportAckSegment{
			Header:             Header{Type: SegReportAck, SessionID: sid(5, 9)},
			ReportSerialNumber: 100,
		},
		&CancelSegment{
			Header: Header{Type: SegCancelFromSender, SessionID: sid(5, 9)},
			Reason: ReasonRLEXC,
		},
		&CancelAckSegment{
			Header: Header{Type: SegCancelAckToSender, SessionID: sid(5, 9)},
		},
		&CancelAckSegment{
			Header: Header{Type: SegCancelAckToReceiver, SessionID: sid(5, 9),
				TrailerExtensions: []Extension{{Tag: 9, Value: []byte("z")}}},
		},
	}
}

func TestRoundTripBulk(t *testing.T) {
	for _, seg := range allSegments() {
		buf := Serialize(seg)
		p := NewParser()
		got, err := p.Feed(buf)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, seg, got[0])
	}
}

func TestRoundTripByteAtATime(t *testing.T) {
	for _, seg := range allSegments() {
		buf := Serialize(seg)
		p := NewParser()
		var got []Segment
		for _, b := range buf {
			segs, err := p.Feed([]byte{b})
			require.NoError(t, err)
			got = append(got, segs...)
		}
		require.Len(t, got, 1)
		require.Equal(t, seg, got[0])
	}
}

func TestMultipleSegmentsInOneBuffer(t *testing.T) {
	segs := allSegments()
	var buf []byte
	for _, s := range segs {
		buf = append(buf, Serialize(s)...)
	}
	p := NewParser()
	got, err := p.Feed(buf)
	require.NoError(t, err)
	require.Equal(t, segs, got)
}

func TestBadVersionRejected(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte{0x10}) // version 1
	require.ErrorIs(t, err, ErrMalformed)
}

func TestUndefinedSegmentTypeRejected(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte{0x05})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestZeroLengthDataRejected(t *testing.T) {
	h := Header{Type: SegRedData, SessionID: sid(1, 1)}
	manual := appendHeader(nil, &h)
	manual = append(manual, 1, 0, 0) // clientServiceId=1, offset=0, length=0
	p := NewParser()
	_, err := p.Feed(manual)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestZeroClaimCountRejected(t *testing.T) {
	rs := &ReportSegment{
		Header:             Header{Type: SegReport, SessionID: sid(1, 1)},
		ReportSerialNumber: 1, CheckpointSerialNumber: 0, UpperBound: 4, LowerBound: 0,
		Claims: []ReceptionClaim{{Offset: 0, Length: 4}},
	}
	p := NewParser()
	// build manually: serial, cp, upper, lower, claimcount=0
	manual := appendHeader(nil, &rs.Header)
	manual = append(manual, 1, 0, 4, 0, 0) // all single-byte sdnvs, claim count 0
	_, err := p.Feed(manual)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestResetAfterMalformedAllowsRecovery(t *testing.T) {
	p := NewParser()
	_, err := p.Feed([]byte{0x10})
	require.Error(t, err)

	ds := &DataSegment{Header: Header{Type: SegRedData, SessionID: sid(1, 1)}, ClientServiceID: 1, Offset: 0, Length: 1, Data: []byte("x")}
	got, err := p.Feed(Serialize(ds))
	require.NoError(t, err)
	require.Equal(t, []Segment{ds}, got)
}

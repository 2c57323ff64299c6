package session

import (
	"math"

	"github.com/deepspacecomm/ltpengine/ltp/fragment"
	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

// unboundedOffset is the "not yet known" sentinel for lengthOfRedPart and
// the "no green segment seen yet" sentinel for lowestGreenOffsetReceived.
// spec.md §9 leaves the exact sentinel value up to the implementer as
// long as it behaves as unbounded-high; math.MaxUint64 is that value.
const unboundedOffset = math.MaxUint64

// ReceiverCallbacks are the notifications a Receiver makes back into the
// engine. They are invoked synchronously from the Receiver method that
// triggered them. NeedsDeleted is always the last thing that method does,
// and the engine's handler for it calls Cleanup and discards the Receiver
// right away.
type ReceiverCallbacks struct {
	SessionStart     func()
	RedPartReception func(payload []byte, lengthOfRedPart uint64, clientServiceID uint64, isEndOfBlock bool)
	GreenPartArrival func(payload []byte, offsetStartOfBlock uint64, clientServiceID uint64, isEndOfBlock bool)
	// NeedsDeleted fires exactly once per session. cancelled distinguishes
	// a protocol-error teardown (reason is meaningful) from a normal
	// close (reason is ReasonReservedForClose and ignored by the
	// application-facing reception-cancelled callback).
	NeedsDeleted func(cancelled bool, reason wire.CancelReason)
	// HasProducibleData tells the engine this session now has a packet
	// ready for NextPacketToSend, so it should be considered by the
	// egress scheduler.
	HasProducibleData func()
}

type pendingReport struct {
	rsn        uint64
	retryCount uint8
}

// Receiver is the per-session red/green reassembly state machine of
// spec.md §4.6, grounded on original_source's LtpSessionReceiver.cpp.
type Receiver struct {
	sessionID                 wire.SessionID
	clientServiceID           uint64
	maxReceptionClaims        int
	maxRedRxBytes             uint64
	maxRetriesPerSerialNumber uint8

	timers *Manager
	cb     ReceiverCallbacks

	nextReportSerialNumber uint64

	dataReceivedRed          []byte
	receivedDataFragmentsSet *fragment.Set

	checkpointSerialNumbersReceived map[uint64]struct{}
	allReportSegmentsSent           map[uint64]*wire.ReportSegment
	rsnActiveTimers                 map[uint64]struct{}

	havePrimaryReport     bool
	lastPrimaryUpperBound uint64

	reportSerialNumbersToSend []pendingReport

	lengthOfRedPart           uint64
	lowestGreenOffsetReceived uint64
	currentRedLength          uint64

	didRedPartReceptionCallback bool
	didNotifyForDeletion        bool
	receivedEobFromGreenOrRed   bool
}

// NewReceiver constructs a Receiver for a freshly learned session.
// randomInitialReportSerialNumber should come from randid.Generator.
func NewReceiver(
	sessionID wire.SessionID,
	clientServiceID uint64,
	maxReceptionClaims int,
	estimatedBytesToReceive uint64,
	maxRedRxBytes uint64,
	maxRetriesPerSerialNumber uint8,
	randomInitialReportSerialNumber uint64,
	timers *Manager,
	cb ReceiverCallbacks,
) *Receiver {
	r := &Receiver{
		sessionID:                       sessionID,
		clientServiceID:                 clientServiceID,
		maxReceptionClaims:              maxReceptionClaims,
		maxRedRxBytes:                   maxRedRxBytes,
		maxRetriesPerSerialNumber:       maxRetriesPerSerialNumber,
		timers:                          timers,
		cb:                              cb,
		nextReportSerialNumber:          randomInitialReportSerialNumber,
		receivedDataFragmentsSet:        fragment.New(),
		checkpointSerialNumbersReceived: make(map[uint64]struct{}),
		allReportSegmentsSent:           make(map[uint64]*wire.ReportSegment),
		rsnActiveTimers:                 make(map[uint64]struct{}),
		lengthOfRedPart:                 unboundedOffset,
		lowestGreenOffsetReceived:       unboundedOffset,
	}
	if estimatedBytesToReceive > 0 && estimatedBytesToReceive < 1<<32 {
		r.dataReceivedRed = make([]byte, 0, estimatedBytesToReceive)
	}
	if cb.SessionStart != nil {
		cb.SessionStart()
	}
	return r
}

func (r *Receiver) notifyDeletion(cancelled bool, reason wire.CancelReason) {
	if r.didNotifyForDeletion {
		return
	}
	r.didNotifyForDeletion = true
	if r.cb.NeedsDeleted != nil {
		r.cb.NeedsDeleted(cancelled, reason)
	}
}

// DataSegmentReceived processes one inbound red or green data segment per
// spec.md §4.6.
func (r *Receiver) DataSegmentReceived(seg *wire.DataSegment) {
	offsetPlusLength := seg.Offset + seg.Length
	isEndOfBlock := seg.Header.Type.IsEndOfBlock()
	if isEndOfBlock {
		r.receivedEobFromGreenOrRed = true
	}

	if seg.Header.Type.IsRedData() {
		r.handleRedData(seg, offsetPlusLength, isEndOfBlock)
		return
	}
	r.handleGreenData(seg, offsetPlusLength, isEndOfBlock)
}

func (r *Receiver) handleRedData(seg *wire.DataSegment, offsetPlusLength uint64, isEndOfBlock bool) {
	if offsetPlusLength > r.currentRedLength {
		r.currentRedLength = offsetPlusLength
	}

	// 6.21 Handle Miscolored Segment: a red segment arriving at or past a
	// green offset already observed violates the red-prefix/green-suffix
	// layout of the block.
	if r.currentRedLength > r.lowestGreenOffsetReceived {
		r.notifyDeletion(true, wire.ReasonMiscolored)
		return
	}

	if r.didRedPartReceptionCallback {
		return
	}
	if r.currentRedLength > r.maxRedRxBytes {
		r.notifyDeletion(true, wire.ReasonSystemCancelled)
		return
	}

	if uint64(len(r.dataReceivedRed)) < offsetPlusLength {
		grown := make([]byte, offsetPlusLength)
		copy(grown, r.dataReceivedRed)
		r.dataReceivedRed = grown
	}
	copy(r.dataReceivedRed[seg.Offset:offsetPlusLength], seg.Data)

	isRedCheckpoint := seg.Header.Type != wire.SegRedData
	isEndOfRedPart := seg.Header.Type.IsEndOfRedPart()
	r.receivedDataFragmentsSet.Insert(seg.Offset, offsetPlusLength-1)

	if isEndOfRedPart {
		r.lengthOfRedPart = offsetPlusLength
	}
	if isRedCheckpoint {
		r.handleRedCheckpoint(seg, offsetPlusLength)
	}

	if !r.didRedPartReceptionCallback && r.lengthOfRedPart != unboundedOffset {
		ranges := r.receivedDataFragmentsSet.Ranges()
		if len(ranges) == 1 && ranges[0][0] == 0 && ranges[0][1] == r.lengthOfRedPart-1 {
			r.didRedPartReceptionCallback = true
			if r.cb.RedPartReception != nil {
				r.cb.RedPartReception(r.dataReceivedRed, r.lengthOfRedPart, r.clientServiceID, isEndOfBlock)
			}
		}
	}
}

// handleRedCheckpoint implements 6.11 Send Reception Report.
func (r *Receiver) handleRedCheckpoint(seg *wire.DataSegment, offsetPlusLength uint64) {
	if _, seen := r.checkpointSerialNumbersReceived[seg.CheckpointSerialNumber]; seen {
		return // redundant checkpoint, no work to do
	}
	r.checkpointSerialNumbersReceived[seg.CheckpointSerialNumber] = struct{}{}

	checkpointIsResponseToReport := seg.ReportSerialNumber != 0
	upperBound := offsetPlusLength
	var lowerBound uint64
	if checkpointIsResponseToReport {
		// Secondary reception report: reuse the lower bound of the RS
		// that this checkpoint was itself responding to, to minimize
		// unnecessary retransmission.
		if prior, ok := r.allReportSegmentsSent[seg.ReportSerialNumber]; ok {
			lowerBound = prior.LowerBound
		}
	} else if !r.havePrimaryReport {
		lowerBound = 0
	} else {
		lowerBound = r.lastPrimaryUpperBound
	}

	if lowerBound >= upperBound {
		// Out-of-order discretionary checkpoints can legitimately invert
		// the bounds; the reception report MUST NOT be issued then.
		return
	}

	claims := fragment.PopulateReportSegment(r.receivedDataFragmentsSet, lowerBound, upperBound)
	reports := r.splitIfNeeded(lowerBound, upperBound, claims)
	for _, rs := range reports {
		rs.CheckpointSerialNumber = seg.CheckpointSerialNumber
		rsn := r.nextReportSerialNumber
		r.nextReportSerialNumber++
		rs.ReportSerialNumber = rsn
		rs.Header = wire.Header{Type: wire.SegReport, SessionID: r.sessionID}

		if !checkpointIsResponseToReport {
			r.havePrimaryReport = true
			r.lastPrimaryUpperBound = rs.UpperBound
		}
		r.allReportSegmentsSent[rsn] = rs
		r.reportSerialNumbersToSend = append(r.reportSerialNumbersToSend, pendingReport{rsn: rsn, retryCount: 1})
	}
	if len(reports) > 0 && r.cb.HasProducibleData != nil {
		r.cb.HasProducibleData()
	}
}

func (r *Receiver) splitIfNeeded(lowerBound, upperBound uint64, claims []wire.ReceptionClaim) []*wire.ReportSegment {
	base := &wire.ReportSegment{LowerBound: lowerBound, UpperBound: upperBound, Claims: claims}
	if r.maxReceptionClaims <= 0 || len(claims) <= r.maxReceptionClaims {
		return []*wire.ReportSegment{base}
	}
	return fragment.SplitReportSegment(base, r.maxReceptionClaims)
}

func (r *Receiver) handleGreenData(seg *wire.DataSegment, offsetPlusLength uint64, isEndOfBlock bool) {
	if seg.Offset < r.lowestGreenOffsetReceived {
		r.lowestGreenOffsetReceived = seg.Offset
	}

	if r.currentRedLength > r.lowestGreenOffsetReceived {
		r.notifyDeletion(true, wire.ReasonMiscolored)
		return
	}

	if r.cb.GreenPartArrival != nil {
		r.cb.GreenPartArrival(seg.Data, seg.Offset, r.clientServiceID, isEndOfBlock)
	}

	if isEndOfBlock {
		noRedSegmentsReceived := r.lengthOfRedPart == unboundedOffset && r.receivedDataFragmentsSet.Empty()
		if noRedSegmentsReceived || r.didRedPartReceptionCallback {
			r.notifyDeletion(false, wire.ReasonReservedForClose)
		}
	}
}

// ReportAckReceived processes an inbound RA segment (6.14 Stop RS Timer).
func (r *Receiver) ReportAckReceived(reportSerialNumber uint64) {
	if _, ok := r.timers.Delete(timerKey{session: r.sessionID.SessionNumber, serial: reportSerialNumber}); ok {
		delete(r.rsnActiveTimers, reportSerialNumber)
	}
	if len(r.reportSerialNumbersToSend) == 0 && len(r.rsnActiveTimers) == 0 {
		if r.receivedEobFromGreenOrRed && r.didRedPartReceptionCallback {
			r.notifyDeletion(false, wire.ReasonReservedForClose)
		}
	}
}

// ReportTimerExpired processes the shared report-timer manager's expiry
// for one of this session's outstanding RS segments.
func (r *Receiver) ReportTimerExpired(reportSerialNumber uint64, retryCount uint8) {
	delete(r.rsnActiveTimers, reportSerialNumber)
	if retryCount <= r.maxRetriesPerSerialNumber {
		r.reportSerialNumbersToSend = append(r.reportSerialNumbersToSend, pendingReport{rsn: reportSerialNumber, retryCount: retryCount + 1})
		if r.cb.HasProducibleData != nil {
			r.cb.HasProducibleData()
		}
		return
	}
	r.notifyDeletion(true, wire.ReasonRLEXC)
}

// NextPacketToSend returns this receiver's next outbound report segment,
// if any, arming its retransmit timer as a side effect, matching
// LtpSessionReceiver::NextDataToSend.
func (r *Receiver) NextPacketToSend() (*wire.ReportSegment, bool) {
	if len(r.reportSerialNumbersToSend) == 0 {
		return nil, false
	}
	next := r.reportSerialNumbersToSend[0]
	r.reportSerialNumbersToSend = r.reportSerialNumbersToSend[1:]

	rs, ok := r.allReportSegmentsSent[next.rsn]
	if !ok {
		return nil, false
	}
	key := timerKey{session: r.sessionID.SessionNumber, serial: next.rsn}
	if r.timers.Start(key, []byte{next.retryCount}) {
		r.rsnActiveTimers[next.rsn] = struct{}{}
	}
	return rs, true
}

// Cleanup releases every timer this session still owns in the shared
// manager. The engine must call this exactly once, right before
// discarding the Receiver.
func (r *Receiver) Cleanup() {
	for rsn := range r.rsnActiveTimers {
		r.timers.Delete(timerKey{session: r.sessionID.SessionNumber, serial: rsn})
	}
	r.rsnActiveTimers = nil
}

// LengthOfRedPart reports the red part's length if known yet, or
// unboundedOffset (math.MaxUint64) if the end-of-red-part segment hasn't
// arrived, for introspection tooling (cmd/ltpcheck).
func (r *Receiver) LengthOfRedPart() uint64 { return r.lengthOfRedPart }

// RedBytesReceived sums the disjoint ranges received so far.
func (r *Receiver) RedBytesReceived() uint64 {
	var n uint64
	for _, rg := range r.receivedDataFragmentsSet.Ranges() {
		n += rg[1] - rg[0] + 1
	}
	return n
}

// ClientServiceID reports the client service this session is carrying
// data for.
func (r *Receiver) ClientServiceID() uint64 { return r.clientServiceID }

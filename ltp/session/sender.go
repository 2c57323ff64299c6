package session

import (
	"encoding/binary"

	"github.com/deepspacecomm/ltpengine/ltp/fragment"
	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

// SenderCallbacks are the notifications a Sender makes back into the
// engine, mirroring ReceiverCallbacks.
type SenderCallbacks struct {
	NeedsDeleted                 func(cancelled bool, reason wire.CancelReason)
	HasProducibleData            func()
	InitialTransmissionCompleted func()
}

// resendFragment is both the sender's internal retransmission-queue
// entry and the wire format of a checkpoint timer's user data (encoded
// via encodeResendFragment/decodeResendFragment), grounded on
// LtpSessionSender.cpp's resend_fragment_t.
type resendFragment struct {
	offset                 uint64
	length                 uint64
	checkpointSerialNumber uint64 // 0 = this fragment is not a checkpoint
	reportSerialNumber     uint64 // the RS that triggered this checkpoint, if any
	flags                  wire.SegmentType
	retryCount             uint8
}

func encodeResendFragment(f resendFragment) []byte {
	b := make([]byte, 8*4+1+1)
	binary.BigEndian.PutUint64(b[0:], f.offset)
	binary.BigEndian.PutUint64(b[8:], f.length)
	binary.BigEndian.PutUint64(b[16:], f.checkpointSerialNumber)
	binary.BigEndian.PutUint64(b[24:], f.reportSerialNumber)
	b[32] = byte(f.flags)
	b[33] = f.retryCount
	return b
}

func decodeResendFragment(b []byte) resendFragment {
	return resendFragment{
		offset:                 binary.BigEndian.Uint64(b[0:]),
		length:                 binary.BigEndian.Uint64(b[8:]),
		checkpointSerialNumber: binary.BigEndian.Uint64(b[16:]),
		reportSerialNumber:     binary.BigEndian.Uint64(b[24:]),
		flags:                  wire.SegmentType(b[32]),
		retryCount:             b[33],
	}
}

// Sender is the per-session red-part segmentation and checkpoint
// scheduling state machine of spec.md §4.7, grounded on
// original_source's LtpSessionSender.cpp.
type Sender struct {
	sessionID                 wire.SessionID
	clientServiceID           uint64
	mtu                       uint64
	lengthOfRedPart           uint64
	checkpointEveryNth        uint64
	maxRetriesPerSerialNumber uint8

	timers *Manager
	cb     SenderCallbacks

	blockData          []byte
	dataIndexFirstPass uint64

	nextCheckpointSerialNumber   uint64
	checkpointEveryNthCounter    uint64
	checkpointSerialNumberActive map[uint64]struct{}

	nonDataToSend      []wire.Segment
	resendQueue        []resendFragment
	dataFragmentsAcked *fragment.Set

	reportSegmentSerialNumbersReceived map[uint64]struct{}

	didNotifyForDeletion bool
	isFailedSession      bool
}

// NewSender constructs a Sender for one transmission request. It
// immediately tells the engine this session has producible data, to
// trigger the first pass over the block, matching
// LtpSessionSender's constructor.
func NewSender(
	sessionID wire.SessionID,
	clientServiceID uint64,
	blockData []byte,
	lengthOfRedPart uint64,
	mtu uint64,
	checkpointEveryNth uint64,
	maxRetriesPerSerialNumber uint8,
	randomInitialCheckpointSerialNumber uint64,
	timers *Manager,
	cb SenderCallbacks,
) *Sender {
	s := &Sender{
		sessionID:                          sessionID,
		clientServiceID:                    clientServiceID,
		mtu:                                mtu,
		lengthOfRedPart:                    lengthOfRedPart,
		checkpointEveryNth:                 checkpointEveryNth,
		maxRetriesPerSerialNumber:          maxRetriesPerSerialNumber,
		timers:                             timers,
		cb:                                 cb,
		blockData:                          blockData,
		nextCheckpointSerialNumber:         randomInitialCheckpointSerialNumber,
		checkpointEveryNthCounter:          checkpointEveryNth,
		checkpointSerialNumberActive:       make(map[uint64]struct{}),
		dataFragmentsAcked:                 fragment.New(),
		reportSegmentSerialNumbersReceived: make(map[uint64]struct{}),
	}
	if cb.HasProducibleData != nil {
		cb.HasProducibleData()
	}
	return s
}

func (s *Sender) notifyDeletion(cancelled bool, reason wire.CancelReason) {
	if s.didNotifyForDeletion {
		return
	}
	if cancelled {
		s.isFailedSession = true
	}
	s.didNotifyForDeletion = true
	if s.cb.NeedsDeleted != nil {
		s.cb.NeedsDeleted(cancelled, reason)
	}
}

func (s *Sender) startCheckpointTimer(csn uint64, f resendFragment) {
	key := timerKey{session: s.sessionID.SessionNumber, serial: csn}
	if s.timers.Start(key, encodeResendFragment(f)) {
		s.checkpointSerialNumberActive[csn] = struct{}{}
	}
}

// NextPacketToSend returns this sender's next outbound segment in
// priority order: non-data (report-acks), resends, then first-pass
// streaming of the block. ok is false once there's nothing left to send
// until new work arrives (a report, a timer expiry, or a new
// transmission).
func (s *Sender) NextPacketToSend() (wire.Segment, bool) {
	if len(s.nonDataToSend) > 0 {
		seg := s.nonDataToSend[0]
		s.nonDataToSend = s.nonDataToSend[1:]
		return seg, true
	}
	if len(s.resendQueue) > 0 {
		return s.nextResend(), true
	}
	if s.dataIndexFirstPass < uint64(len(s.blockData)) {
		return s.nextFirstPass(), true
	}
	return nil, false
}

func (s *Sender) nextResend() wire.Segment {
	f := s.resendQueue[0]
	s.resendQueue = s.resendQueue[1:]

	isCheckpoint := f.flags != wire.SegRedData
	if isCheckpoint {
		s.startCheckpointTimer(f.checkpointSerialNumber, f)
	}
	return s.buildDataSegment(f)
}

func (s *Sender) buildDataSegment(f resendFragment) *wire.DataSegment {
	d := &wire.DataSegment{
		Header:          wire.Header{Type: f.flags, SessionID: s.sessionID},
		ClientServiceID: s.clientServiceID,
		Offset:          f.offset,
		Length:          f.length,
		Data:            s.blockData[f.offset : f.offset+f.length],
	}
	if f.flags.IsCheckpoint() {
		d.HasCheckpoint = true
		d.CheckpointSerialNumber = f.checkpointSerialNumber
		d.ReportSerialNumber = f.reportSerialNumber
	}
	return d
}

func (s *Sender) nextFirstPass() wire.Segment {
	var seg *wire.DataSegment
	if s.dataIndexFirstPass < s.lengthOfRedPart {
		seg = s.nextFirstPassRed()
	} else {
		seg = s.nextFirstPassGreen()
	}

	if s.dataIndexFirstPass == uint64(len(s.blockData)) {
		if s.cb.InitialTransmissionCompleted != nil {
			s.cb.InitialTransmissionCompleted()
		}
		if s.lengthOfRedPart == 0 {
			s.notifyDeletion(false, wire.ReasonReservedForClose)
		} else if s.fullyAcked() {
			s.notifyDeletion(false, wire.ReasonReservedForClose)
		}
	}
	return seg
}

func (s *Sender) fullyAcked() bool {
	ranges := s.dataFragmentsAcked.Ranges()
	return len(ranges) == 1 && ranges[0][0] == 0 && ranges[0][1] >= s.lengthOfRedPart-1
}

func (s *Sender) nextFirstPassRed() *wire.DataSegment {
	bytesToSend := s.lengthOfRedPart - s.dataIndexFirstPass
	if bytesToSend > s.mtu {
		bytesToSend = s.mtu
	}
	isEndOfRedPart := s.dataIndexFirstPass+bytesToSend == s.lengthOfRedPart

	isPeriodicCheckpoint := false
	if s.checkpointEveryNth > 0 {
		s.checkpointEveryNthCounter--
		if s.checkpointEveryNthCounter == 0 {
			s.checkpointEveryNthCounter = s.checkpointEveryNth
			isPeriodicCheckpoint = true
		}
	}
	isCheckpoint := isPeriodicCheckpoint || isEndOfRedPart

	f := resendFragment{offset: s.dataIndexFirstPass, length: bytesToSend, flags: wire.SegRedData}
	if isCheckpoint {
		f.flags = wire.SegRedCheckpoint
		f.checkpointSerialNumber = s.nextCheckpointSerialNumber
		s.nextCheckpointSerialNumber++
		if isEndOfRedPart {
			f.flags = wire.SegRedCheckpointEORP
			if s.lengthOfRedPart == uint64(len(s.blockData)) {
				f.flags = wire.SegRedCheckpointEORPEOB
			}
		}
		s.startCheckpointTimer(f.checkpointSerialNumber, f)
	}

	seg := s.buildDataSegment(f)
	s.dataIndexFirstPass += bytesToSend
	return seg
}

func (s *Sender) nextFirstPassGreen() *wire.DataSegment {
	bytesToSend := uint64(len(s.blockData)) - s.dataIndexFirstPass
	if bytesToSend > s.mtu {
		bytesToSend = s.mtu
	}
	isEndOfBlock := s.dataIndexFirstPass+bytesToSend == uint64(len(s.blockData))

	flags := wire.SegGreenData
	if isEndOfBlock {
		flags = wire.SegGreenDataEOB
	}
	seg := s.buildDataSegment(resendFragment{offset: s.dataIndexFirstPass, length: bytesToSend, flags: flags})
	s.dataIndexFirstPass += bytesToSend
	return seg
}

// ReportSegmentReceived processes an inbound RS segment per spec.md
// §4.7, grounded on LtpSessionSender::ReportSegmentReceivedCallback.
func (s *Sender) ReportSegmentReceived(rs *wire.ReportSegment) {
	s.nonDataToSend = append(s.nonDataToSend, &wire.ReportAckSegment{
		Header:             wire.Header{Type: wire.SegReportAck, SessionID: s.sessionID},
		ReportSerialNumber: rs.ReportSerialNumber,
	})

	if _, dup := s.reportSegmentSerialNumbersReceived[rs.ReportSerialNumber]; dup {
		if !s.didNotifyForDeletion && s.cb.HasProducibleData != nil {
			s.cb.HasProducibleData()
		}
		return
	}
	s.reportSegmentSerialNumbersReceived[rs.ReportSerialNumber] = struct{}{}

	if rs.CheckpointSerialNumber != 0 {
		key := timerKey{session: s.sessionID.SessionNumber, serial: rs.CheckpointSerialNumber}
		if _, ok := s.timers.Delete(key); ok {
			delete(s.checkpointSerialNumberActive, rs.CheckpointSerialNumber)
		}
	}

	for _, c := range rs.Claims {
		begin := rs.LowerBound + c.Offset
		s.dataFragmentsAcked.Insert(begin, begin+c.Length-1)
	}

	if s.lengthOfRedPart > 0 && s.dataIndexFirstPass == uint64(len(s.blockData)) && s.fullyAcked() {
		s.notifyDeletion(false, wire.ReasonReservedForClose)
	}

	s.enqueueGapResends(rs)

	if !s.didNotifyForDeletion && s.cb.HasProducibleData != nil {
		s.cb.HasProducibleData()
	}
}

// enqueueGapResends computes, within [rs.LowerBound, rs.UpperBound), the
// byte ranges the report's own claims do NOT cover, and queues their
// retransmission. Only the very last packet of the very last gap is
// marked a checkpoint, carrying a fresh CSN that references rs so the
// eventual secondary reception report can reuse rs's lower bound.
func (s *Sender) enqueueGapResends(rs *wire.ReportSegment) {
	covered := fragment.New()
	for _, c := range rs.Claims {
		begin := rs.LowerBound + c.Offset
		covered.Insert(begin, begin+c.Length-1)
	}
	gaps := fragment.Gaps(covered, rs.LowerBound, rs.UpperBound)
	if len(gaps) == 0 {
		return
	}
	lastGap := gaps[len(gaps)-1]

	for gi, gap := range gaps {
		isLastGap := gi == len(gaps)-1
		dataIndex, end := gap[0], gap[1]
		for dataIndex <= end {
			bytesToSend := (end - dataIndex) + 1
			if bytesToSend > s.mtu {
				bytesToSend = s.mtu
			}
			isLastPacket := isLastGap && dataIndex+bytesToSend == lastGap[1]+1
			isEndOfRedPart := dataIndex+bytesToSend == s.lengthOfRedPart

			f := resendFragment{offset: dataIndex, length: bytesToSend, flags: wire.SegRedData, reportSerialNumber: rs.ReportSerialNumber}
			if isLastPacket {
				f.flags = wire.SegRedCheckpoint
				f.checkpointSerialNumber = s.nextCheckpointSerialNumber
				s.nextCheckpointSerialNumber++
				if isEndOfRedPart {
					f.flags = wire.SegRedCheckpointEORP
					if s.lengthOfRedPart == uint64(len(s.blockData)) {
						f.flags = wire.SegRedCheckpointEORPEOB
					}
				}
			}
			s.resendQueue = append(s.resendQueue, f)
			dataIndex += bytesToSend
		}
	}
}

// CheckpointTimerExpired processes the shared checkpoint-timer manager's
// expiry for one of this session's outstanding checkpoints.
func (s *Sender) CheckpointTimerExpired(csn uint64, userData []byte) {
	delete(s.checkpointSerialNumberActive, csn)
	f := decodeResendFragment(userData)

	if f.retryCount > s.maxRetriesPerSerialNumber {
		s.notifyDeletion(true, wire.ReasonRLEXC)
		return
	}

	isDiscretionary := f.flags == wire.SegRedCheckpoint
	if isDiscretionary && s.dataFragmentsAcked.ContainsEntirely(f.offset, f.offset+f.length-1) {
		return // acknowledged via a different report already; nothing to resend
	}
	f.retryCount++
	s.resendQueue = append(s.resendQueue, f)
	if s.cb.HasProducibleData != nil {
		s.cb.HasProducibleData()
	}
}

// Cleanup releases every checkpoint timer this session still owns in the
// shared manager. The engine must call this exactly once, right before
// discarding the Sender.
func (s *Sender) Cleanup() {
	for csn := range s.checkpointSerialNumberActive {
		s.timers.Delete(timerKey{session: s.sessionID.SessionNumber, serial: csn})
	}
	s.checkpointSerialNumberActive = nil
}

// Failed reports whether this session was torn down due to a protocol
// error (RLEXC) rather than a clean completion.
func (s *Sender) Failed() bool { return s.isFailedSession }

// LengthOfRedPart and TotalLength expose this session's fixed block
// layout for introspection tooling (cmd/ltpcheck); neither changes after
// construction.
func (s *Sender) LengthOfRedPart() uint64 { return s.lengthOfRedPart }
func (s *Sender) TotalLength() uint64     { return uint64(len(s.blockData)) }

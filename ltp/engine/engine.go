package engine

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/deepspacecomm/ltpengine/ltp/randid"
	"github.com/deepspacecomm/ltpengine/ltp/recreation"
	"github.com/deepspacecomm/ltpengine/ltp/session"
	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

type senderEntry struct {
	sender       *session.Sender
	destEngineID uint64
	sessionID    wire.SessionID
}

type receiverEntry struct {
	receiver   *session.Receiver
	sessionID  wire.SessionID
	lastDataAt time.Time
}

type pendingCancel struct {
	segType wire.SegmentType
	reason  wire.CancelReason
	retries uint8
	timer   *time.Timer
}

// Engine is the supervisor of spec.md §4.8. Every session mutation goes
// through a single mutex rather than a literal channel-based event loop:
// spec.md §5 only requires that one logical critical section ever touches
// session state at a time, and a mutex gives that property directly while
// staying trivially callable from tests without spinning a goroutine.
// Run drives the parts of the system that are intrinsically
// timer/ticker-based (checkpoint/report retransmission, housekeeping,
// rate-limiter refresh); PacketIn, TransmissionRequest,
// CancellationRequest, UpdateRate, SetLinkUp and GetNextPacket are safe to
// call from any goroutine, with or without Run active, matching spec.md
// §5's thread-safe API surface.
type Engine struct {
	cfg Config
	cb  Callbacks
	tr  Transport

	stats *Stats
	rng   *randid.Generator
	prev  *recreation.Preventer

	senderTimers   *session.Manager
	receiverTimers *session.Manager

	parser *wire.Parser

	mu                      sync.Mutex
	senders                 map[uint64]*senderEntry
	receivers               map[wire.SessionID]*receiverEntry
	receiverBySessionNumber map[uint64]wire.SessionID
	pendingCancels          map[wire.SessionID]*pendingCancel

	closedSessionData   []wire.Segment
	producibleSenders   *producibleQueue[uint64]
	producibleReceivers *producibleQueue[wire.SessionID]

	pendingEgress         *Outbound
	pendingEgressQueuedAt time.Time

	rateLimiter *tokenBucket
	linkUp      bool
}

// New constructs an Engine. stats must be non-nil; NewStats(nil) gives
// unregistered counters, the shape used by tests. tr is the transport
// collaborator the engine will call SignalReadyForSend on.
func New(cfg Config, tr Transport, cb Callbacks, stats *Stats) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deadline := cfg.RoundTripDeadline()
	e := &Engine{
		cfg:                     cfg,
		cb:                      cb,
		tr:                      tr,
		stats:                   stats,
		rng:                     randid.NewGenerator(cfg.EngineIndex, cfg.Force32BitSessionNumbers),
		prev:                    recreation.NewPreventer(cfg.RecreationPreventerHistorySize),
		senderTimers:            session.NewManager(deadline, nil),
		receiverTimers:          session.NewManager(deadline, nil),
		parser:                  wire.NewParser(),
		senders:                 make(map[uint64]*senderEntry),
		receivers:               make(map[wire.SessionID]*receiverEntry),
		receiverBySessionNumber: make(map[uint64]wire.SessionID),
		pendingCancels:          make(map[wire.SessionID]*pendingCancel),
		producibleSenders:       newProducibleQueue[uint64](),
		producibleReceivers:     newProducibleQueue[wire.SessionID](),
		rateLimiter:             newTokenBucket(cfg.MaxSendRateBitsPerSec, cfg.TokenRefreshInterval.Dur()),
		linkUp:                  true,
	}
	e.parser.OnSessionIDDecoded = func(sid wire.SessionID) {
		log.WithField("session", sid).Debug("ltp: session id decoded mid-segment")
	}
	return e, nil
}

// Close releases both shared timer managers. The engine must not be used
// afterward.
func (e *Engine) Close() {
	e.senderTimers.Close()
	e.receiverTimers.Close()
}

// SetLinkUp pauses or resumes egress without tearing down any session
// state, per original_source's link-up/link-down notification (see
// SPEC_FULL.md's Supplemented features).
func (e *Engine) SetLinkUp(up bool) {
	e.mu.Lock()
	e.linkUp = up
	e.mu.Unlock()
	if up {
		e.signalReadyForSend()
	}
}

// UpdateRate reconfigures the aggregate egress rate cap; zero disables
// rate limiting entirely.
func (e *Engine) UpdateRate(bitsPerSec uint64) {
	e.mu.Lock()
	e.rateLimiter.setRate(bitsPerSec)
	e.mu.Unlock()
	e.signalReadyForSend()
}

// NumActiveSenders reports the number of sender sessions currently open.
func (e *Engine) NumActiveSenders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.senders)
}

// NumActiveReceivers reports the number of receiver sessions currently open.
func (e *Engine) NumActiveReceivers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.receivers)
}

func (e *Engine) signalReadyForSend() {
	if e.tr != nil {
		e.tr.SignalReadyForSend()
	}
}

// TransmissionRequest starts a new sender session carrying data, whose
// first lengthOfRedPart bytes are sent reliably (red) and the remainder
// best-effort (green). destEngineID is the remote engine the transport
// should address the resulting segments to.
func (e *Engine) TransmissionRequest(destEngineID, clientServiceID uint64, data []byte, lengthOfRedPart uint64) (wire.SessionID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.MaxSimultaneousSessions > 0 && len(e.senders) >= e.cfg.MaxSimultaneousSessions {
		e.stats.SenderMaxSessionsCapHits.Inc()
		return wire.SessionID{}, ErrMaxSessionsReached
	}

	sn := e.rng.GetRandomSession()
	sid := wire.SessionID{OriginatorEngineID: e.cfg.ThisEngineID, SessionNumber: sn}
	s := session.NewSender(
		sid, clientServiceID, data, lengthOfRedPart, e.cfg.MTUClientServiceData,
		e.cfg.CheckpointEveryNthDataPacket, e.cfg.MaxRetriesPerSerialNumber,
		e.rng.GetRandomSerialNumber(), e.senderTimers, e.senderCallbacks(sid, destEngineID),
	)
	e.senders[sn] = &senderEntry{sender: s, destEngineID: destEngineID, sessionID: sid}
	return sid, nil
}

// CancellationRequest actively tears down a session this engine is
// holding in the given role, notifying the peer with a CancelSegment.
func (e *Engine) CancellationRequest(sessionID wire.SessionID, isSender bool, reason wire.CancelReason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if isSender {
		if _, ok := e.senders[sessionID.SessionNumber]; !ok {
			return ErrUnknownSession
		}
		e.deleteSenderLocked(sessionID, true, reason)
		return nil
	}
	if _, ok := e.receivers[sessionID]; !ok {
		return ErrUnknownSession
	}
	e.deleteReceiverLocked(sessionID, true, reason)
	return nil
}

// PacketIn feeds raw bytes from the transport into the engine. Parse
// errors are logged and dropped per spec.md §7; they never propagate to
// the caller or affect any session.
func (e *Engine) PacketIn(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	segs, err := e.parser.Feed(data)
	if err != nil {
		log.WithError(err).Warn("ltp: dropping unparsable segment")
		e.parser.Reset()
		return
	}
	for _, seg := range segs {
		e.handleSegmentLocked(seg)
	}
}

func (e *Engine) handleSegmentLocked(seg wire.Segment) {
	switch s := seg.(type) {
	case *wire.DataSegment:
		e.handleDataSegmentLocked(s)
	case *wire.ReportSegment:
		e.handleReportSegmentLocked(s)
	case *wire.ReportAckSegment:
		if entry, ok := e.receivers[s.SessionID]; ok {
			entry.receiver.ReportAckReceived(s.ReportSerialNumber)
		}
	case *wire.CancelSegment:
		e.handleCancelSegmentLocked(s)
	case *wire.CancelAckSegment:
		if pc, ok := e.pendingCancels[s.SessionID]; ok {
			pc.timer.Stop()
			delete(e.pendingCancels, s.SessionID)
		}
	}
}

func (e *Engine) isPingSession(sessionNumber uint64) bool {
	if e.cfg.Force32BitSessionNumbers {
		return randid.IsPingSession32(uint32(sessionNumber))
	}
	return randid.IsPingSession64(sessionNumber)
}

func (e *Engine) handleDataSegmentLocked(d *wire.DataSegment) {
	sid := d.SessionID
	entry, ok := e.receivers[sid]
	if !ok {
		if e.prev.Seen(sid.OriginatorEngineID, sid.SessionNumber) {
			log.WithField("session", sid).Debug("ltp: dropping data for a recently closed session")
			return
		}
		if e.isPingSession(sid.SessionNumber) {
			e.handlePingLocked(d)
			return
		}
		if e.cfg.MaxSimultaneousSessions > 0 && len(e.receivers) >= e.cfg.MaxSimultaneousSessions {
			e.stats.ReceiverMaxSessionsCapHits.Inc()
			return
		}
		r := session.NewReceiver(
			sid, d.ClientServiceID, e.cfg.MaxReceptionClaims, e.cfg.EstimatedBytesToReceivePerSession,
			e.cfg.MaxRedRxBytesPerSession, e.cfg.MaxRetriesPerSerialNumber,
			e.rng.GetRandomSerialNumber(), e.receiverTimers, e.receiverCallbacks(sid),
		)
		entry = &receiverEntry{receiver: r, sessionID: sid}
		e.receivers[sid] = entry
		e.receiverBySessionNumber[sid.SessionNumber] = sid
	}
	entry.lastDataAt = time.Now()
	entry.receiver.DataSegmentReceived(d)
}

// handlePingLocked answers a ping session's data segment with an
// immediate zero-length report rather than instantiating a Receiver, per
// SPEC_FULL.md's ping-session supplement.
func (e *Engine) handlePingLocked(d *wire.DataSegment) {
	rs := &wire.ReportSegment{
		Header:             wire.Header{Type: wire.SegReport, SessionID: d.SessionID},
		ReportSerialNumber: e.rng.GetRandomSerialNumber(),
	}
	if d.HasCheckpoint {
		rs.CheckpointSerialNumber = d.CheckpointSerialNumber
	}
	e.closedSessionData = append(e.closedSessionData, rs)
	e.signalReadyForSend()
}

func (e *Engine) handleReportSegmentLocked(rs *wire.ReportSegment) {
	entry, ok := e.senders[rs.SessionID.SessionNumber]
	if !ok {
		// The sender side of this session is already gone; tell the
		// peer so it stops retransmitting reports for it.
		e.closedSessionData = append(e.closedSessionData, &wire.CancelAckSegment{
			Header: wire.Header{Type: wire.SegCancelAckToReceiver, SessionID: rs.SessionID},
		})
		e.signalReadyForSend()
		return
	}
	entry.sender.ReportSegmentReceived(rs)
}

func (e *Engine) handleCancelSegmentLocked(c *wire.CancelSegment) {
	sid := c.SessionID
	if entry, ok := e.receivers[sid]; ok {
		entry.receiver.Cleanup()
		delete(e.receivers, sid)
		delete(e.receiverBySessionNumber, sid.SessionNumber)
		e.prev.Record(sid.OriginatorEngineID, sid.SessionNumber)
		if e.cb.ReceptionSessionCancelled != nil {
			e.cb.ReceptionSessionCancelled(sid, c.Reason)
		}
		e.closedSessionData = append(e.closedSessionData, &wire.CancelAckSegment{
			Header: wire.Header{Type: wire.SegCancelAckToSender, SessionID: sid},
		})
		e.signalReadyForSend()
		return
	}
	if entry, ok := e.senders[sid.SessionNumber]; ok {
		entry.sender.Cleanup()
		delete(e.senders, sid.SessionNumber)
		if e.cb.TransmissionSessionCancelled != nil {
			e.cb.TransmissionSessionCancelled(sid, c.Reason)
		}
		e.closedSessionData = append(e.closedSessionData, &wire.CancelAckSegment{
			Header: wire.Header{Type: wire.SegCancelAckToReceiver, SessionID: sid},
		})
		e.signalReadyForSend()
		return
	}
	// Unknown in either role: ack anyway so the peer stops retrying.
	e.closedSessionData = append(e.closedSessionData, &wire.CancelAckSegment{
		Header: wire.Header{Type: wire.SegCancelAckToReceiver, SessionID: sid},
	})
	e.signalReadyForSend()
}

func (e *Engine) deleteReceiverLocked(sid wire.SessionID, cancelled bool, reason wire.CancelReason) {
	entry, ok := e.receivers[sid]
	if !ok {
		return
	}
	entry.receiver.Cleanup()
	delete(e.receivers, sid)
	delete(e.receiverBySessionNumber, sid.SessionNumber)
	e.prev.Record(sid.OriginatorEngineID, sid.SessionNumber)
	if cancelled {
		if e.cb.ReceptionSessionCancelled != nil {
			e.cb.ReceptionSessionCancelled(sid, reason)
		}
		e.sendCancelLocked(sid, wire.SegCancelFromReceiver, reason)
	}
}

func (e *Engine) deleteSenderLocked(sid wire.SessionID, cancelled bool, reason wire.CancelReason) {
	entry, ok := e.senders[sid.SessionNumber]
	if !ok {
		return
	}
	entry.sender.Cleanup()
	delete(e.senders, sid.SessionNumber)
	if cancelled {
		if e.cb.TransmissionSessionCancelled != nil {
			e.cb.TransmissionSessionCancelled(sid, reason)
		}
		e.sendCancelLocked(sid, wire.SegCancelFromSender, reason)
	} else if e.cb.TransmissionSessionCompleted != nil {
		e.cb.TransmissionSessionCompleted(sid)
	}
}

// sendCancelLocked queues an outbound CancelSegment and arms its
// retransmit timer, stopped only by a matching CancelAckSegment arriving
// (handleSegmentLocked's *wire.CancelAckSegment case) or retry exhaustion.
func (e *Engine) sendCancelLocked(sid wire.SessionID, segType wire.SegmentType, reason wire.CancelReason) {
	e.closedSessionData = append(e.closedSessionData, &wire.CancelSegment{
		Header: wire.Header{Type: segType, SessionID: sid}, Reason: reason,
	})
	e.armCancelRetryLocked(sid, segType, reason, 0)
	e.signalReadyForSend()
}

func (e *Engine) armCancelRetryLocked(sid wire.SessionID, segType wire.SegmentType, reason wire.CancelReason, retries uint8) {
	if retries > e.cfg.MaxRetriesPerSerialNumber {
		delete(e.pendingCancels, sid)
		return
	}
	deadline := e.cfg.RoundTripDeadline()
	t := time.AfterFunc(deadline, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.pendingCancels[sid]; !ok {
			return // already acked
		}
		e.closedSessionData = append(e.closedSessionData, &wire.CancelSegment{
			Header: wire.Header{Type: segType, SessionID: sid}, Reason: reason,
		})
		e.armCancelRetryLocked(sid, segType, reason, retries+1)
		e.signalReadyForSend()
	})
	e.pendingCancels[sid] = &pendingCancel{segType: segType, reason: reason, retries: retries, timer: t}
}

func (e *Engine) receiverCallbacks(sid wire.SessionID) session.ReceiverCallbacks {
	return session.ReceiverCallbacks{
		SessionStart: func() {
			if e.cb.SessionStart != nil {
				e.cb.SessionStart(sid)
			}
		},
		RedPartReception: func(payload []byte, lengthOfRedPart, clientServiceID uint64, isEndOfBlock bool) {
			if e.cb.RedPartReception != nil {
				e.cb.RedPartReception(sid, payload, lengthOfRedPart, clientServiceID, isEndOfBlock)
			}
		},
		GreenPartArrival: func(payload []byte, offsetStartOfBlock, clientServiceID uint64, isEndOfBlock bool) {
			if e.cb.GreenPartSegmentArrival != nil {
				e.cb.GreenPartSegmentArrival(sid, payload, offsetStartOfBlock, clientServiceID, isEndOfBlock)
			}
		},
		NeedsDeleted: func(cancelled bool, reason wire.CancelReason) {
			e.deleteReceiverLocked(sid, cancelled, reason)
		},
		HasProducibleData: func() {
			e.producibleReceivers.push(sid)
			e.signalReadyForSend()
		},
	}
}

func (e *Engine) senderCallbacks(sid wire.SessionID, destEngineID uint64) session.SenderCallbacks {
	return session.SenderCallbacks{
		NeedsDeleted: func(cancelled bool, reason wire.CancelReason) {
			e.deleteSenderLocked(sid, cancelled, reason)
		},
		HasProducibleData: func() {
			e.producibleSenders.push(sid.SessionNumber)
			e.signalReadyForSend()
		},
		InitialTransmissionCompleted: func() {
			if e.cb.InitialTransmissionCompleted != nil {
				e.cb.InitialTransmissionCompleted(sid)
			}
		},
	}
}

// GetNextPacket returns the next packet ready for the transport to send,
// gated by the rate limiter. ok is false when there is either nothing
// producible right now or the token bucket is empty; the transport should
// wait for a SignalReadyForSend call (or its own retry schedule) before
// calling again.
func (e *Engine) GetNextPacket() (Outbound, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.linkUp {
		return Outbound{}, false
	}
	if e.pendingEgress == nil {
		seg, destEngineID, ok := e.nextProducibleSegmentLocked()
		if !ok {
			return Outbound{}, false
		}
		ob := serializeOutbound(seg, destEngineID)
		e.pendingEgress = &ob
		e.pendingEgressQueuedAt = time.Now()
	}

	size := 0
	for _, b := range e.pendingEgress.Buffers {
		size += len(b)
	}
	if !e.rateLimiter.tryConsume(size) {
		e.stats.SendsDeferredByRateLimiter.Inc()
		return Outbound{}, false
	}
	e.stats.EgressQueueDelaySeconds.Observe(time.Since(e.pendingEgressQueuedAt).Seconds())
	ob := *e.pendingEgress
	e.pendingEgress = nil
	return ob, true
}

func (e *Engine) nextProducibleSegmentLocked() (wire.Segment, uint64, bool) {
	if len(e.closedSessionData) > 0 {
		seg := e.closedSessionData[0]
		e.closedSessionData = e.closedSessionData[1:]
		return seg, seg.SegmentHeader().SessionID.OriginatorEngineID, true
	}

	for {
		sn, ok := e.producibleSenders.pop()
		if !ok {
			break
		}
		entry, exists := e.senders[sn]
		if !exists {
			continue
		}
		seg, ok := entry.sender.NextPacketToSend()
		if !ok {
			continue
		}
		e.producibleSenders.push(sn)
		return seg, entry.destEngineID, true
	}

	for {
		sid, ok := e.producibleReceivers.pop()
		if !ok {
			break
		}
		entry, exists := e.receivers[sid]
		if !exists {
			continue
		}
		seg, ok := entry.receiver.NextPacketToSend()
		if !ok {
			continue
		}
		e.producibleReceivers.push(sid)
		return seg, sid.OriginatorEngineID, true
	}

	return nil, 0, false
}

func serializeOutbound(seg wire.Segment, destEngineID uint64) Outbound {
	if d, ok := seg.(*wire.DataSegment); ok {
		return Outbound{Buffers: [][]byte{wire.SerializeHeaderOnly(d), d.Data}, SessionOriginatorEngineID: destEngineID}
	}
	return Outbound{Buffers: [][]byte{wire.Serialize(seg)}, SessionOriginatorEngineID: destEngineID}
}

// Run drives the engine's timer-backed housekeeping: checkpoint/report
// timer expirations, the rate limiter's token refresh, and the stagnant
// receiver sweep. Cancelling ctx stops it. Grounded on
// ptp/sptp/client/client.go's errgroup.WithContext + select loop.
func (e *Engine) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case exp := <-e.senderTimers.Expired():
				e.mu.Lock()
				if entry, ok := e.senders[exp.Key.Session()]; ok {
					e.stats.CheckpointTimerExpirations.Inc()
					entry.sender.CheckpointTimerExpired(exp.Key.Serial(), exp.UserData)
				}
				e.mu.Unlock()
				e.signalReadyForSend()
			}
		}
	})

	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case exp := <-e.receiverTimers.Expired():
				e.mu.Lock()
				if sid, ok := e.receiverBySessionNumber[exp.Key.Session()]; ok {
					if entry, ok := e.receivers[sid]; ok {
						e.stats.ReportTimerExpirations.Inc()
						entry.receiver.ReportTimerExpired(exp.Key.Serial(), exp.UserData[0])
					}
				}
				e.mu.Unlock()
				e.signalReadyForSend()
			}
		}
	})

	eg.Go(func() error {
		ticker := time.NewTicker(e.cfg.TokenRefreshInterval.Dur())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				e.mu.Lock()
				e.rateLimiter.refresh()
				e.mu.Unlock()
				e.signalReadyForSend()
			}
		}
	})

	eg.Go(func() error {
		ticker := time.NewTicker(e.cfg.HousekeepingInterval.Dur())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				e.runHousekeepingTick()
			}
		}
	})

	return eg.Wait()
}

package engine

import "github.com/deepspacecomm/ltpengine/ltp/wire"

// Callbacks are the application-facing notifications of spec.md §6. Every
// field is optional; a nil callback is simply skipped. None of these fire
// from any goroutine other than the one that called into the Engine that
// led to them (an Engine method such as PacketIn, or a Run tick), and they
// run while the Engine's internal lock is held, so a callback must not
// call Engine methods synchronously.
type Callbacks struct {
	// SessionStart fires once a receiver learns of a new session, before
	// any data has been reassembled.
	SessionStart func(sessionID wire.SessionID)

	// RedPartReception fires once the whole red part of a block has been
	// reassembled (spec.md §4.6).
	RedPartReception func(sessionID wire.SessionID, payload []byte, lengthOfRedPart uint64, clientServiceID uint64, isEndOfBlock bool)

	// GreenPartSegmentArrival fires for every green-part segment as it
	// arrives, in arrival order (not necessarily offset order).
	GreenPartSegmentArrival func(sessionID wire.SessionID, payload []byte, offsetStartOfBlock uint64, clientServiceID uint64, isEndOfBlock bool)

	// ReceptionSessionCancelled fires when a receiver session is torn
	// down for a protocol-error reason (not a normal close).
	ReceptionSessionCancelled func(sessionID wire.SessionID, reason wire.CancelReason)

	// TransmissionSessionCompleted fires when a sender session finishes
	// cleanly: every red byte has been acknowledged (or there was no red
	// part) and the whole block has been sent at least once.
	TransmissionSessionCompleted func(sessionID wire.SessionID)

	// InitialTransmissionCompleted fires once a sender has streamed the
	// whole block for the first time, whether or not every red byte has
	// yet been acknowledged.
	InitialTransmissionCompleted func(sessionID wire.SessionID)

	// TransmissionSessionCancelled fires when a sender session is torn
	// down for a protocol-error reason.
	TransmissionSessionCancelled func(sessionID wire.SessionID, reason wire.CancelReason)
}

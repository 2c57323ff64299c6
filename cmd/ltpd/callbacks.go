package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/deepspacecomm/ltpengine/ltp/engine"
	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

// loggingCallbacks logs every application-facing event at debug/info
// level. spec.md §1 puts the client service (whatever actually consumes
// delivered blocks) out of scope, so ltpd -- a standalone daemon rather
// than a library embedded in a real bundle agent -- has nothing else to
// hand red/green data to.
func loggingCallbacks() engine.Callbacks {
	return engine.Callbacks{
		SessionStart: func(sid wire.SessionID) {
			log.WithField("session", sid).Debug("ltpd: reception session started")
		},
		RedPartReception: func(sid wire.SessionID, payload []byte, lengthOfRedPart, clientServiceID uint64, isEndOfBlock bool) {
			log.WithFields(log.Fields{
				"session": sid, "bytes": lengthOfRedPart, "client_service": clientServiceID, "eob": isEndOfBlock,
			}).Info("ltpd: red part delivered")
		},
		GreenPartSegmentArrival: func(sid wire.SessionID, payload []byte, offset, clientServiceID uint64, isEndOfBlock bool) {
			log.WithFields(log.Fields{
				"session": sid, "offset": offset, "bytes": len(payload), "client_service": clientServiceID, "eob": isEndOfBlock,
			}).Debug("ltpd: green part segment arrived")
		},
		ReceptionSessionCancelled: func(sid wire.SessionID, reason wire.CancelReason) {
			log.WithFields(log.Fields{"session": sid, "reason": reason}).Warn("ltpd: reception session cancelled")
		},
		TransmissionSessionCompleted: func(sid wire.SessionID) {
			log.WithField("session", sid).Info("ltpd: transmission session completed")
		},
		InitialTransmissionCompleted: func(sid wire.SessionID) {
			log.WithField("session", sid).Debug("ltpd: initial transmission pass completed")
		},
		TransmissionSessionCancelled: func(sid wire.SessionID, reason wire.CancelReason) {
			log.WithFields(log.Fields{"session": sid, "reason": reason}).Warn("ltpd: transmission session cancelled")
		},
	}
}

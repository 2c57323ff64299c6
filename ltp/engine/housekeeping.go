package engine

import (
	"time"

	"github.com/deepspacecomm/ltpengine/ltp/wire"
)

// runHousekeepingTick scans receiver sessions for stagnation: a receiver
// that hasn't seen a new data segment within StagnantRxSessionTime is
// cancelled and the peer notified, the same as a locally detected
// protocol error. A stagnant receiver most often means the remote sender
// crashed or lost the route entirely, so ReasonUnreachable is the closest
// fit among spec.md's cancel reasons. StagnantRxSessionTime of zero
// disables the scan.
func (e *Engine) runHousekeepingTick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.cfg.StagnantRxSessionTime.Dur()
	if cutoff <= 0 {
		return
	}
	now := time.Now()
	var stagnant []wire.SessionID
	for sid, entry := range e.receivers {
		if now.Sub(entry.lastDataAt) > cutoff {
			stagnant = append(stagnant, sid)
		}
	}
	for _, sid := range stagnant {
		e.deleteReceiverLocked(sid, true, wire.ReasonUnreachable)
	}
	if len(stagnant) > 0 {
		e.signalReadyForSend()
	}
}

package engine

// UnboundedRedLength is SessionSummary.RedTotal's "not yet known"
// sentinel: a receiver learns its red part's length only once the
// end-of-red-part segment arrives. ltp/session's Receiver.LengthOfRedPart
// already returns this same math.MaxUint64 value before that happens
// (spec.md §9 leaves the exact sentinel to the implementer), so no
// translation is needed here.
const UnboundedRedLength = ^uint64(0)

// SessionSummary is a point-in-time view of one active session, for
// cmd/ltpcheck's table dump.
type SessionSummary struct {
	SessionID  string
	Role       string // "sender" or "receiver"
	PeerEngine uint64
	RedBytes   uint64
	RedTotal   uint64 // UnboundedRedLength if not yet known (receiver only)
	GreenTotal uint64 // 0 if unknown
	Failed     bool
}

// Snapshot returns a summary of every active session, for introspection
// tooling. It takes the engine's lock like any other accessor.
func (e *Engine) Snapshot() []SessionSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SessionSummary, 0, len(e.senders)+len(e.receivers))
	for _, entry := range e.senders {
		out = append(out, SessionSummary{
			SessionID:  entry.sessionID.String(),
			Role:       "sender",
			PeerEngine: entry.destEngineID,
			RedBytes:   entry.sender.LengthOfRedPart(),
			RedTotal:   entry.sender.LengthOfRedPart(),
			GreenTotal: entry.sender.TotalLength() - entry.sender.LengthOfRedPart(),
			Failed:     entry.sender.Failed(),
		})
	}
	for _, entry := range e.receivers {
		out = append(out, SessionSummary{
			SessionID:  entry.sessionID.String(),
			Role:       "receiver",
			PeerEngine: entry.sessionID.OriginatorEngineID,
			RedBytes:   entry.receiver.RedBytesReceived(),
			RedTotal:   entry.receiver.LengthOfRedPart(),
		})
	}
	return out
}

package engine

// Outbound is one packet the engine has produced, ready to be written to
// the wire by whatever collaborator owns the actual link. Buffers is
// scatter-gather (a header buffer plus, for data segments, a borrowed view
// into the session's block buffer) so the transport can use writev-style
// sends and avoid a payload copy, mirroring original_source's
// GetNextPacketToSend triple.
type Outbound struct {
	Buffers                   [][]byte
	SessionOriginatorEngineID uint64
}

// Transport is the engine's sole collaborator for moving bytes across a
// real link. The engine never opens a socket itself (spec.md §1's
// transport is a narrow external collaborator); it exposes GetNextPacket
// and PacketIn as its own methods for the transport to pull from and push
// into respectively, and calls SignalReadyForSend on this interface to
// tell the transport to come pull again after a GetNextPacket call
// previously returned nothing, per original_source's
// SignalReadyForSend_ThreadSafe.
//
// SignalReadyForSend is called while the engine holds its own internal
// lock, so an implementation must not call back into the Engine
// synchronously from within it (waking a poller goroutine that will call
// GetNextPacket later is the intended use, matching
// SignalReadyForSend_ThreadSafe's own fire-and-forget notify in the
// original engine).
type Transport interface {
	SignalReadyForSend()
}

// Package recreation implements the session-recreation preventer of
// spec.md §4.8: a bounded, per-originator memory of recently closed
// session numbers, so that a receiver session that has already run to
// completion (or been cancelled) cannot be reanimated by a stray
// retransmitted data segment bearing the same session id.
package recreation

import (
	"container/ring"
	"sync"
)

// Preventer tracks, per remote engine, the most recently closed session
// numbers. A capacity of 0 disables tracking entirely (Seen always
// reports false), matching the engine construction parameter
// "recreation-prevention history size (0 disables)".
type Preventer struct {
	mu          sync.Mutex
	capacity    int
	originators map[uint64]*history
}

// history is a fixed-capacity ring of session numbers plus a set for O(1)
// membership, grounded on the same container/ring shape
// ptp/sptp/client/window.go uses for its fixed-size sliding window.
type history struct {
	r       *ring.Ring
	members map[uint64]struct{}
}

func newHistory(capacity int) *history {
	return &history{
		r:       ring.New(capacity),
		members: make(map[uint64]struct{}, capacity),
	}
}

func (h *history) record(sessionNumber uint64) {
	if h.r.Value != nil {
		delete(h.members, h.r.Value.(uint64))
	}
	h.r.Value = sessionNumber
	h.members[sessionNumber] = struct{}{}
	h.r = h.r.Next()
}

func (h *history) seen(sessionNumber uint64) bool {
	_, ok := h.members[sessionNumber]
	return ok
}

// NewPreventer constructs a Preventer retaining up to capacity session
// numbers per originator engine id.
func NewPreventer(capacity int) *Preventer {
	return &Preventer{
		capacity:    capacity,
		originators: make(map[uint64]*history),
	}
}

// Record marks sessionNumber as closed for originatorEngineID, so a
// future Seen call for the same pair returns true until it's evicted by
// newer closures.
func (p *Preventer) Record(originatorEngineID, sessionNumber uint64) {
	if p.capacity <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.originators[originatorEngineID]
	if !ok {
		h = newHistory(p.capacity)
		p.originators[originatorEngineID] = h
	}
	h.record(sessionNumber)
}

// Seen reports whether sessionNumber was recently closed for
// originatorEngineID and should not be recreated.
func (p *Preventer) Seen(originatorEngineID, sessionNumber uint64) bool {
	if p.capacity <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.originators[originatorEngineID]
	if !ok {
		return false
	}
	return h.seen(sessionNumber)
}

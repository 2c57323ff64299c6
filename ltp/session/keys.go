// Package session implements the per-session red/green reassembly and
// segmentation state machines of spec.md §4.6 (receiver) and §4.7
// (sender). Neither Sender nor Receiver does its own locking: spec.md
// §4.8/§5 requires that the engine's event loop is the only goroutine
// ever touching a session, so these types are plain, unsynchronized state
// machines driven entirely by method calls.
package session

import (
	"time"

	"github.com/deepspacecomm/ltpengine/ltp/timer"
)

// timerKey is the composite key the engine's two shared timer.Manager
// instances (one for all sender sessions' checkpoint timers, one for all
// receiver sessions' report timers) are keyed with. A single session's
// serial numbers alone are not unique across the whole engine -- every
// session starts its own serial-number sequence from an independent
// random value -- so the key must carry the session number too, exactly
// as the original engine's Ltp::session_id_t-keyed LtpTimerManager does.
// Go's comparable generics make this a plain struct key; no custom
// hash function is needed the way the C++ original requires one.
type timerKey struct {
	session uint64
	serial  uint64
}

// Session and Serial expose timerKey's fields to ltp/engine, which needs
// them to route an Expiry back to the sender or receiver that armed it;
// the struct's fields stay unexported so only this package can construct
// one.
func (k timerKey) Session() uint64 { return k.session }
func (k timerKey) Serial() uint64  { return k.serial }

// Manager is the concrete timer manager type shared across every sender
// (keyed by checkpoint serial number) or every receiver (keyed by report
// serial number) session of one engine. ltp/engine constructs exactly two
// of these -- never one per session -- and passes a reference to each
// session at construction time.
type Manager = timer.Manager[timerKey]

// Expiry is the concrete expiry type delivered on a Manager's Expired
// channel.
type Expiry = timer.Expiry[timerKey]

// NewManager constructs a Manager for ltp/engine, which cannot name
// timerKey itself since it is unexported.
func NewManager(duration time.Duration, recycler *timer.UserDataRecycler) *Manager {
	return timer.NewManager[timerKey](duration, recycler)
}

package engine

import "errors"

// ErrMaxSessionsReached is returned by TransmissionRequest when
// MaxSimultaneousSessions is already at capacity, per spec.md §7's
// resource-exhaustion handling (reject creation, nothing session-fatal).
var ErrMaxSessionsReached = errors.New("engine: max simultaneous sessions reached")

// ErrUnknownSession is returned by CancellationRequest when no session
// matching the given id and role is currently active.
var ErrUnknownSession = errors.New("engine: no such active session")

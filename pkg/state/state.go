package state

import (
    "time"

    "github.com/amirimatin/go-keeper/pkg/store"
)

// CoordinationState is the deterministic state machine driven by the
// consensus engine. Apply is invoked exactly once per committed index, in
// strictly increasing order, from a single goroutine.
type CoordinationState interface {
    Apply(e store.Entry, index uint64) store.Response
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}

// SessionDetector reports sessions whose liveness has lapsed as of now.
// Detection is node-local; removal must be committed through the log.
type SessionDetector interface {
    DeadSessions(now time.Time) []int64
}

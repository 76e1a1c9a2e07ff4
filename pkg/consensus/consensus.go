package consensus

import (
    "context"
    "time"
)

// Result carries the committed log position of a proposal together with the
// state machine's response for it.
type Result struct {
    Index    uint64
    Term     uint64
    Response any
}

// Consensus is the minimal abstraction over a leader-based consensus engine
// (RAFT). Propose blocks until the payload is durably committed and applied,
// or fails with a leadership/timeout error mapped by the implementation.
type Consensus interface {
    Start(ctx context.Context) error
    Propose(data []byte, timeout time.Duration) (Result, error)
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}

// Progress is an optional interface exposing replication progress and the
// recency of leader contact, used to distinguish a titled leader from a
// reachable one.
type Progress interface {
    CommitIndex() uint64
    AppliedIndex() uint64
    LastContact() time.Time
}

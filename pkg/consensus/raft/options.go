package raftcons

import (
    "log"
    "time"

    "github.com/amirimatin/go-keeper/pkg/state"
    "github.com/amirimatin/go-keeper/pkg/store"
)

// Options configure the Raft-based Consensus implementation.
type Options struct {
    NodeID string
    Logger *log.Logger

    // State is the deterministic coordination state driven by the FSM
    // (required).
    State state.CoordinationState

    // Queue receives applied request responses for asynchronous delivery
    // (optional; session/membership entries answer via the proposal future).
    Queue *store.ResponsesQueue

    // OnFatal is invoked once if the state machine can no longer be applied
    // safely (divergence risk). The owner must stop accepting new entries.
    OnFatal func(error)

    // Bootstrap forms a fresh single-member cluster on Start when this node
    // has no prior durable state. Joining nodes leave it false and are added
    // by the leader through the Reconfigurer.
    Bootstrap bool

    // Timeouts (optional). Zero means defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    ApplyTimeout     time.Duration // default client-side commit wait

    // Snapshot/compaction tuning (optional). Zero means raft defaults.
    SnapshotThreshold uint64
    SnapshotInterval  time.Duration
    TrailingLogs      uint64

    // Networking & Storage
    // If BindAddr is non-empty, a TCP transport is used bound to this address
    // (e.g., "127.0.0.1:0"). Otherwise, an in-memory transport is used.
    BindAddr string

    // DataDir selects on-disk stores when non-empty (bolt store for log and
    // stable state, file snapshot store, cluster.json config record). When
    // empty, everything is in-memory.
    DataDir string

    // SnapshotsRetained controls how many snapshots to retain on disk.
    SnapshotsRetained int
}

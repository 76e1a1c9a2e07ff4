package keeper

import (
    "github.com/amirimatin/go-keeper/pkg/membership"
)

// Status is a high-level, JSON-serializable snapshot of the ensemble
// suitable for external status endpoints and tooling.
type Status struct {
    // State is this server's lifecycle state.
    State string
    // Healthy indicates whether a leader is known and reachable.
    Healthy bool
    // Term is the current raft term as observed by this server.
    Term uint64
    // LeaderID is the identifier of the current leader, if any.
    LeaderID string
    // LeaderAddr is the management address of the current leader, if known.
    LeaderAddr string
    // CommitIndex and AppliedIndex describe replication progress.
    CommitIndex  uint64
    AppliedIndex uint64
    // Nodes and Sessions count the replicated coordination state.
    Nodes    int
    Sessions int
    // Members lists the gossip membership view, when available.
    Members []membership.MemberInfo
    // Warnings contains non-fatal observations (e.g. degraded states).
    Warnings []string
}

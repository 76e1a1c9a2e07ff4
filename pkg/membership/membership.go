package membership

import (
    "context"
    "strconv"
    "time"
)

// Well-known meta keys gossiped with each member. The management address is
// what clients and peers dial for the mgmt API; the consensus address is the
// raft transport. CanLead and Priority are scheduling hints mirrored into
// the replicated member notes.
const (
    MetaMgmtAddr = "mgmt_addr"
    MetaRaftAddr = "raft_addr"
    MetaCanLead  = "can_lead"
    MetaPriority = "priority"
)

// MemberInfo describes a cluster member as observed by the gossip layer.
// Gossip visibility is advisory: authoritative membership lives in the
// replicated configuration.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

// MgmtAddr returns the gossiped management address, if any.
func (m MemberInfo) MgmtAddr() string { return m.Meta[MetaMgmtAddr] }

// RaftAddr returns the gossiped consensus transport address, if any.
func (m MemberInfo) RaftAddr() string { return m.Meta[MetaRaftAddr] }

// CanLead reports whether the member advertises itself as leader-capable.
// Absent meta defaults to true.
func (m MemberInfo) CanLead() bool {
    v, ok := m.Meta[MetaCanLead]
    if !ok {
        return true
    }
    b, err := strconv.ParseBool(v)
    return err == nil && b
}

// Priority returns the advertised election priority hint (default 1).
func (m MemberInfo) Priority() int32 {
    v, ok := m.Meta[MetaPriority]
    if !ok {
        return 1
    }
    p, err := strconv.ParseInt(v, 10, 32)
    if err != nil {
        return 1
    }
    return int32(p)
}

// EncodeMeta builds the gossip meta map for a local node.
func EncodeMeta(mgmtAddr, raftAddr string, canLead bool, priority int32) map[string]string {
    return map[string]string{
        MetaMgmtAddr: mgmtAddr,
        MetaRaftAddr: raftAddr,
        MetaCanLead:  strconv.FormatBool(canLead),
        MetaPriority: strconv.FormatInt(int64(priority), 10),
    }
}

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventLeave indicates a member left or was marked failed.
    EventLeave EventType = "leave"
    // EventUpdate indicates a member's gossiped meta changed.
    EventUpdate EventType = "update"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the underlying gossip/failure-detection
// layer. It is responsible for peer visibility, join/leave and event
// delivery; it never decides voting membership.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

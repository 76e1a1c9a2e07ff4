package keeper

import (
    "errors"
    "time"
)

// CoordinationSettings tunes timing and storage behavior of a Server.
// The zero value is usable: withDefaults fills every unset field.
type CoordinationSettings struct {
    // OperationTimeout bounds how long a proposal waits for commit.
    OperationTimeout time.Duration

    // HeartbeatInterval is the leader heartbeat period.
    HeartbeatInterval time.Duration

    // ElectionTimeout is the follower timeout before starting an election.
    ElectionTimeout time.Duration

    // ConfigChangeTimeout bounds a single membership change.
    ConfigChangeTimeout time.Duration

    // SessionTimeoutDefault is used when a client requests timeout 0.
    // Requested timeouts are clamped to [Min, Max].
    SessionTimeoutDefault time.Duration
    SessionTimeoutMin     time.Duration
    SessionTimeoutMax     time.Duration

    // DeadSessionCheckInterval is the leader scan period for expired
    // sessions.
    DeadSessionCheckInterval time.Duration

    // SnapshotThreshold is the number of committed entries between
    // snapshots. SnapshotInterval is the minimum time between checks.
    SnapshotThreshold uint64
    SnapshotInterval  time.Duration

    // TrailingLogs is the number of log entries kept after a snapshot.
    TrailingLogs uint64

    // SnapshotsRetained is the number of snapshot files kept on disk.
    SnapshotsRetained int

    // ResponsesQueueDepth bounds the outgoing responses queue; the
    // oldest entry is dropped when full.
    ResponsesQueueDepth int
}

// DefaultSettings returns the settings used when none are provided.
func DefaultSettings() CoordinationSettings {
    var s CoordinationSettings
    s.withDefaults()
    return s
}

func (s *CoordinationSettings) withDefaults() {
    if s.OperationTimeout <= 0 {
        s.OperationTimeout = 10 * time.Second
    }
    if s.HeartbeatInterval <= 0 {
        s.HeartbeatInterval = 500 * time.Millisecond
    }
    if s.ElectionTimeout <= 0 {
        s.ElectionTimeout = 1 * time.Second
    }
    if s.ConfigChangeTimeout <= 0 {
        s.ConfigChangeTimeout = 30 * time.Second
    }
    if s.SessionTimeoutDefault <= 0 {
        s.SessionTimeoutDefault = 30 * time.Second
    }
    if s.SessionTimeoutMin <= 0 {
        s.SessionTimeoutMin = 1 * time.Second
    }
    if s.SessionTimeoutMax <= 0 {
        s.SessionTimeoutMax = 5 * time.Minute
    }
    if s.DeadSessionCheckInterval <= 0 {
        s.DeadSessionCheckInterval = 500 * time.Millisecond
    }
    if s.SnapshotThreshold == 0 {
        s.SnapshotThreshold = 8192
    }
    if s.SnapshotInterval <= 0 {
        s.SnapshotInterval = 2 * time.Minute
    }
    if s.TrailingLogs == 0 {
        s.TrailingLogs = 10240
    }
    if s.SnapshotsRetained <= 0 {
        s.SnapshotsRetained = 3
    }
    if s.ResponsesQueueDepth <= 0 {
        s.ResponsesQueueDepth = 4096
    }
}

// Validate reports whether the settings are internally consistent.
func (s *CoordinationSettings) Validate() error {
    if s.ElectionTimeout < s.HeartbeatInterval {
        return errors.New("keeper: election timeout below heartbeat interval")
    }
    if s.SessionTimeoutMin > s.SessionTimeoutMax {
        return errors.New("keeper: session timeout min above max")
    }
    return nil
}

// ClampSessionTimeout maps a requested session timeout onto the
// configured bounds. Zero selects the default.
func (s *CoordinationSettings) ClampSessionTimeout(d time.Duration) time.Duration {
    if d <= 0 {
        d = s.SessionTimeoutDefault
    }
    if d < s.SessionTimeoutMin {
        d = s.SessionTimeoutMin
    }
    if d > s.SessionTimeoutMax {
        d = s.SessionTimeoutMax
    }
    return d
}

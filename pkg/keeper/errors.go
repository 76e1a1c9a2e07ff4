package keeper

import (
    "errors"

    "github.com/amirimatin/go-keeper/pkg/consensus"
)

var (
    // ErrNotLeader is returned for leader-only calls on a follower, and by
    // proposals that lose leadership before committing.
    ErrNotLeader = consensus.ErrNotLeader

    // ErrTimeout is returned when a proposal misses its commit deadline.
    // The entry may still commit later.
    ErrTimeout = consensus.ErrTimeout

    // ErrShutdown is returned by every operation once Shutdown has begun.
    // Blocked callers are released with it.
    ErrShutdown = consensus.ErrShutdown

    // ErrNotReady is returned for operations invoked before startup
    // completed.
    ErrNotReady = errors.New("keeper: server not ready")

    // ErrConfigChangeRejected is returned when an ensemble membership
    // change cannot be applied.
    ErrConfigChangeRejected = errors.New("keeper: configuration change rejected")

    // ErrSessionCreationFailed is returned when a session-create entry
    // could not be committed.
    ErrSessionCreationFailed = errors.New("keeper: session creation failed")

    // ErrApplyFailed latches after a fatal state machine error; the node
    // refuses further mutating calls to avoid divergence.
    ErrApplyFailed = errors.New("keeper: state machine apply failed")
)

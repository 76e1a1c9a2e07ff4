package consensus

import "errors"

var (
    // ErrNotLeader is returned when a proposal or configuration change is
    // submitted to a node that is not the current leader, or when
    // leadership is lost before the entry commits.
    ErrNotLeader = errors.New("consensus: not the leader")

    // ErrTimeout is returned when a proposal could not be enqueued or
    // committed within its deadline. The entry may still commit later.
    ErrTimeout = errors.New("consensus: proposal timed out")

    // ErrShutdown is returned when the consensus node has been stopped.
    ErrShutdown = errors.New("consensus: node is shut down")
)

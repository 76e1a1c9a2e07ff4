package keeper

import (
    "context"
    "sync"
    "sync/atomic"
)

// LifecycleState tracks where a Server is in its life.
type LifecycleState int32

const (
    StateUninitialized LifecycleState = iota
    StateInitializing
    StateReady
    StateShuttingDown
    StateStopped
)

func (s LifecycleState) String() string {
    switch s {
    case StateUninitialized:
        return "uninitialized"
    case StateInitializing:
        return "initializing"
    case StateReady:
        return "ready"
    case StateShuttingDown:
        return "shutting-down"
    case StateStopped:
        return "stopped"
    default:
        return "unknown"
    }
}

// lifecycle is the shared readiness and shutdown gate. Readiness is
// released exactly once; shutdown releases anyone still waiting.
type lifecycle struct {
    state     atomic.Int32
    readyOnce sync.Once
    readyCh   chan struct{}
    stopOnce  sync.Once
    stopCh    chan struct{}
    fatal     atomic.Bool
}

func newLifecycle() *lifecycle {
    return &lifecycle{
        readyCh: make(chan struct{}),
        stopCh:  make(chan struct{}),
    }
}

func (l *lifecycle) current() LifecycleState {
    return LifecycleState(l.state.Load())
}

// advance moves the state forward if it currently equals from.
func (l *lifecycle) advance(from, to LifecycleState) bool {
    return l.state.CompareAndSwap(int32(from), int32(to))
}

func (l *lifecycle) markReady() {
    l.readyOnce.Do(func() {
        l.state.CompareAndSwap(int32(StateInitializing), int32(StateReady))
        close(l.readyCh)
    })
}

func (l *lifecycle) markStopping() bool {
    stopped := false
    l.stopOnce.Do(func() {
        l.state.Store(int32(StateShuttingDown))
        close(l.stopCh)
        stopped = true
    })
    return stopped
}

func (l *lifecycle) markStopped() {
    l.state.Store(int32(StateStopped))
}

func (l *lifecycle) markFatal() {
    l.fatal.Store(true)
}

// checkReady gates mutating operations: the server must be ready, not
// shutting down, and not latched on a fatal apply error.
func (l *lifecycle) checkReady() error {
    select {
    case <-l.stopCh:
        return ErrShutdown
    default:
    }
    if l.fatal.Load() {
        return ErrApplyFailed
    }
    switch l.current() {
    case StateReady:
        return nil
    case StateShuttingDown, StateStopped:
        return ErrShutdown
    default:
        return ErrNotReady
    }
}

// waitInit blocks until the server is ready, the context ends, or
// shutdown begins.
func (l *lifecycle) waitInit(ctx context.Context) error {
    select {
    case <-l.readyCh:
    case <-l.stopCh:
        return ErrShutdown
    case <-ctx.Done():
        return ctx.Err()
    }
    if l.fatal.Load() {
        return ErrApplyFailed
    }
    select {
    case <-l.stopCh:
        return ErrShutdown
    default:
        return nil
    }
}

package keeper

import (
    "context"
    "errors"
    "testing"
    "time"
)

func TestLifecycle_GatesOperations(t *testing.T) {
    lc := newLifecycle()
    if err := lc.checkReady(); !errors.Is(err, ErrNotReady) { t.Fatalf("uninitialized: %v", err) }

    if !lc.advance(StateUninitialized, StateInitializing) { t.Fatalf("advance to initializing failed") }
    if err := lc.checkReady(); !errors.Is(err, ErrNotReady) { t.Fatalf("initializing: %v", err) }

    lc.markReady()
    if err := lc.checkReady(); err != nil { t.Fatalf("ready: %v", err) }

    lc.markFatal()
    if err := lc.checkReady(); !errors.Is(err, ErrApplyFailed) { t.Fatalf("fatal: %v", err) }
}

func TestLifecycle_WaitInitReleasedByReady(t *testing.T) {
    lc := newLifecycle()
    lc.advance(StateUninitialized, StateInitializing)
    done := make(chan error, 1)
    go func() { done <- lc.waitInit(context.Background()) }()
    time.Sleep(20 * time.Millisecond)
    lc.markReady()
    select {
    case err := <-done:
        if err != nil { t.Fatalf("waitInit: %v", err) }
    case <-time.After(2 * time.Second):
        t.Fatalf("waitInit not released by markReady")
    }
}

func TestLifecycle_WaitInitReleasedByShutdown(t *testing.T) {
    lc := newLifecycle()
    done := make(chan error, 1)
    go func() { done <- lc.waitInit(context.Background()) }()
    time.Sleep(20 * time.Millisecond)
    lc.markStopping()
    select {
    case err := <-done:
        if !errors.Is(err, ErrShutdown) { t.Fatalf("waitInit = %v, want ErrShutdown", err) }
    case <-time.After(2 * time.Second):
        t.Fatalf("waitInit not released by shutdown")
    }
    if err := lc.checkReady(); !errors.Is(err, ErrShutdown) { t.Fatalf("checkReady after stop: %v", err) }
}

func TestLifecycle_WaitInitHonorsContext(t *testing.T) {
    lc := newLifecycle()
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
    defer cancel()
    if err := lc.waitInit(ctx); !errors.Is(err, context.DeadlineExceeded) {
        t.Fatalf("waitInit = %v, want deadline exceeded", err)
    }
}

func TestLifecycle_StateString(t *testing.T) {
    states := map[LifecycleState]string{
        StateUninitialized: "uninitialized",
        StateInitializing:  "initializing",
        StateReady:         "ready",
        StateShuttingDown:  "shutting-down",
        StateStopped:       "stopped",
    }
    for st, want := range states {
        if st.String() != want { t.Fatalf("%d.String() = %q, want %q", st, st.String(), want) }
    }
}

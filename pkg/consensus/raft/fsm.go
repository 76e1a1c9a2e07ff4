package raftcons

import (
    "io"
    "sync"
    "time"

    "github.com/hashicorp/raft"

    obsmetrics "github.com/amirimatin/go-keeper/pkg/observability/metrics"
    "github.com/amirimatin/go-keeper/pkg/state"
    "github.com/amirimatin/go-keeper/pkg/store"
)

// keeperFSM bridges raft Apply/Snapshot/Restore to the coordination state.
// It is the single writer of the state machine: raft invokes Apply from one
// goroutine, strictly once per committed index, strictly in order.
type keeperFSM struct {
    st    state.CoordinationState
    queue *store.ResponsesQueue

    mu      sync.Mutex
    fatal   error
    onFatal func(error)
}

func newKeeperFSM(st state.CoordinationState, queue *store.ResponsesQueue, onFatal func(error)) *keeperFSM {
    return &keeperFSM{st: st, queue: queue, onFatal: onFatal}
}

func (f *keeperFSM) Apply(l *raft.Log) interface{} {
    if err := f.fatalErr(); err != nil {
        return err
    }
    e, err := store.DecodeEntry(l.Data)
    if err != nil {
        // An undecodable committed entry means replicas can no longer be
        // trusted to agree; latch and stop interpreting.
        f.fail(err)
        return err
    }
    resp := f.st.Apply(e, l.Index)
    obsmetrics.AppliedTotal.WithLabelValues(string(e.Kind)).Inc()
    obsmetrics.LastAppliedIndex.Set(float64(l.Index))
    switch e.Kind {
    case store.KindSessionCreate:
        obsmetrics.SessionsCreatedTotal.Inc()
    case store.KindSessionExpire:
        obsmetrics.SessionsExpiredTotal.Inc()
    }
    // Requests are answered asynchronously through the responses queue;
    // session and membership entries answer through the proposal future only.
    if e.Kind == store.KindRequest && f.queue != nil {
        f.queue.Push(store.QueuedResponse{Session: e.Session, XID: e.XID, Resp: resp})
    }
    return resp
}

func (f *keeperFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.st.Snapshot()
    if err != nil {
        return nil, err
    }
    obsmetrics.SnapshotsTotal.Inc()
    return &snapshot{blob: blob, at: time.Now()}, nil
}

func (f *keeperFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil {
        return err
    }
    obsmetrics.RestoresTotal.Inc()
    return f.st.Restore(data)
}

func (f *keeperFSM) fail(err error) {
    f.mu.Lock()
    first := f.fatal == nil
    if first {
        f.fatal = err
    }
    f.mu.Unlock()
    if first && f.onFatal != nil {
        f.onFatal(err)
    }
}

func (f *keeperFSM) fatalErr() error {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.fatal
}

type snapshot struct {
    blob []byte
    at   time.Time
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil {
        _ = sink.Cancel()
        return err
    }
    return sink.Close()
}

func (s *snapshot) Release() {}

// Ensure compile-time interface compliance.
var _ raft.FSM = (*keeperFSM)(nil)
var _ state.CoordinationState = (*store.Store)(nil)

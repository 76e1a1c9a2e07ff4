package store

import (
    "sort"
    "sync"
    "time"

    obsmetrics "github.com/amirimatin/go-keeper/pkg/observability/metrics"
)

// Registry is the node-local session liveness detector. Existence and the
// negotiated timeout are replicated state owned by the Store; lastSeen is a
// wall-clock observation of this replica only, so replicas may disagree on
// *when* a session looks dead; actual expiry still goes through the log.
type Registry struct {
    mu       sync.Mutex
    liveness map[int64]liveness
}

type liveness struct {
    lastSeen time.Time
    timeout  time.Duration
}

func newRegistry() *Registry {
    return &Registry{liveness: make(map[int64]liveness)}
}

func (r *Registry) track(id int64, timeout time.Duration) {
    r.mu.Lock()
    r.liveness[id] = liveness{lastSeen: time.Now(), timeout: timeout}
    r.mu.Unlock()
    obsmetrics.SessionsActive.Set(float64(r.count()))
}

// touch refreshes lastSeen, never moving it backwards.
func (r *Registry) touch(id int64) {
    r.mu.Lock()
    if lv, ok := r.liveness[id]; ok {
        if now := time.Now(); now.After(lv.lastSeen) {
            lv.lastSeen = now
            r.liveness[id] = lv
        }
    }
    r.mu.Unlock()
}

func (r *Registry) forget(id int64) {
    r.mu.Lock()
    delete(r.liveness, id)
    r.mu.Unlock()
    obsmetrics.SessionsActive.Set(float64(r.count()))
}

func (r *Registry) reset() {
    r.mu.Lock()
    r.liveness = make(map[int64]liveness)
    r.mu.Unlock()
}

func (r *Registry) count() int {
    r.mu.Lock()
    defer r.mu.Unlock()
    return len(r.liveness)
}

// LastSeen reports the last liveness refresh for a session.
func (r *Registry) LastSeen(id int64) (time.Time, bool) {
    r.mu.Lock()
    defer r.mu.Unlock()
    lv, ok := r.liveness[id]
    return lv.lastSeen, ok
}

func (r *Registry) deadSessions(now time.Time) []int64 {
    r.mu.Lock()
    defer r.mu.Unlock()
    var out []int64
    for id, lv := range r.liveness {
        if lv.timeout <= 0 {
            continue
        }
        if lv.lastSeen.Add(lv.timeout).Before(now) {
            out = append(out, id)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

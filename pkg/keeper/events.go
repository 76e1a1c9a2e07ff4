package keeper

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-keeper/pkg/consensus"
    "github.com/amirimatin/go-keeper/pkg/membership"
    "github.com/amirimatin/go-keeper/pkg/store"
)

type EventType string

const (
    EventLeaderChanged  EventType = "leader_changed"
    EventMemberJoin     EventType = "member_join"
    EventMemberLeave    EventType = "member_leave"
    EventMemberUpdate   EventType = "member_update"
    EventSessionExpired EventType = "session_expired"
)

// Event describes an ensemble state change. Only the fields relevant to
// an event type are populated.
type Event struct {
    Type    EventType
    At      time.Time
    Leader  *consensus.LeaderInfo
    Member  *membership.MemberInfo
    Session int64
    Term    uint64
    Details map[string]string
}

// Subscribe returns a channel of events. The channel is buffered and
// closed when ctx is done. Delivery is best-effort: events are dropped
// rather than back-pressuring internals.
func (s *Server) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    s.eb.add(ch)
    go func() {
        <-ctx.Done()
        s.eb.remove(ch)
        close(ch)
    }()
    return ch
}

// SubscribeResponses returns a channel of responses produced by the
// local replica's state machine. Same delivery contract as Subscribe.
func (s *Server) SubscribeResponses(ctx context.Context) <-chan store.QueuedResponse {
    ch := make(chan store.QueuedResponse, 256)
    s.rb.add(ch)
    go func() {
        <-ctx.Done()
        s.rb.remove(ch)
        close(ch)
    }()
    return ch
}

// internal event bus
type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}

// responseBus fans queued responses out to local subscribers.
type responseBus struct {
    mu   sync.Mutex
    subs map[chan store.QueuedResponse]struct{}
}

func (r *responseBus) add(ch chan store.QueuedResponse) {
    r.mu.Lock()
    if r.subs == nil { r.subs = make(map[chan store.QueuedResponse]struct{}) }
    r.subs[ch] = struct{}{}
    r.mu.Unlock()
}

func (r *responseBus) remove(ch chan store.QueuedResponse) {
    r.mu.Lock()
    if r.subs != nil { delete(r.subs, ch) }
    r.mu.Unlock()
}

func (r *responseBus) publish(qr store.QueuedResponse) {
    r.mu.Lock()
    for ch := range r.subs {
        select {
        case ch <- qr:
        default:
            // drop if receiver is slow
        }
    }
    r.mu.Unlock()
}

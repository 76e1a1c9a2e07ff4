package store

import (
    "sync"

    obsmetrics "github.com/amirimatin/go-keeper/pkg/observability/metrics"
)

// QueuedResponse maps a fulfilled response slot back to its originating
// session and correlation token.
type QueuedResponse struct {
    Session int64
    XID     string
    Resp    Response
}

// ResponsesQueue buffers applied responses for the delivery layer. Capacity
// is bounded; on overflow the oldest response is dropped (and counted) so the
// apply path never blocks on a slow consumer.
type ResponsesQueue struct {
    mu     sync.Mutex
    ch     chan QueuedResponse
    closed bool
}

// NewResponsesQueue creates a queue with the given capacity (minimum 1).
func NewResponsesQueue(capacity int) *ResponsesQueue {
    if capacity <= 0 {
        capacity = 1024
    }
    return &ResponsesQueue{ch: make(chan QueuedResponse, capacity)}
}

// Push enqueues a response, evicting the oldest entry when full.
func (q *ResponsesQueue) Push(r QueuedResponse) {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.closed {
        return
    }
    for {
        select {
        case q.ch <- r:
            obsmetrics.ResponsesQueued.Set(float64(len(q.ch)))
            return
        default:
        }
        select {
        case <-q.ch:
            obsmetrics.ResponsesDroppedTotal.Inc()
        default:
        }
    }
}

// C is the consumption side. Receivers own delivery to clients.
func (q *ResponsesQueue) C() <-chan QueuedResponse { return q.ch }

// Len reports the number of buffered responses.
func (q *ResponsesQueue) Len() int {
    q.mu.Lock()
    defer q.mu.Unlock()
    return len(q.ch)
}

// Close releases consumers. Push becomes a no-op afterwards.
func (q *ResponsesQueue) Close() {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.closed {
        return
    }
    q.closed = true
    close(q.ch)
}

package store

import "testing"

func TestResponsesQueue_PushConsume(t *testing.T) {
    q := NewResponsesQueue(4)
    q.Push(QueuedResponse{Session: 1, XID: "a", Resp: Response{Code: CodeOK}})
    q.Push(QueuedResponse{Session: 1, XID: "b", Resp: Response{Code: CodeNoNode}})

    got := <-q.C()
    if got.XID != "a" {
        t.Fatalf("first response xid = %q, want a", got.XID)
    }
    got = <-q.C()
    if got.XID != "b" || got.Resp.Code != CodeNoNode {
        t.Fatalf("second response = %+v", got)
    }
}

func TestResponsesQueue_OverflowDropsOldest(t *testing.T) {
    q := NewResponsesQueue(2)
    q.Push(QueuedResponse{XID: "1"})
    q.Push(QueuedResponse{XID: "2"})
    q.Push(QueuedResponse{XID: "3"}) // evicts "1"

    if got := <-q.C(); got.XID != "2" {
        t.Fatalf("head after overflow = %q, want 2", got.XID)
    }
    if got := <-q.C(); got.XID != "3" {
        t.Fatalf("tail after overflow = %q, want 3", got.XID)
    }
}

func TestResponsesQueue_CloseReleasesConsumers(t *testing.T) {
    q := NewResponsesQueue(1)
    q.Close()
    if _, ok := <-q.C(); ok {
        t.Fatalf("closed queue still delivering")
    }
    // pushing after close must not panic
    q.Push(QueuedResponse{XID: "late"})
    q.Close()
}

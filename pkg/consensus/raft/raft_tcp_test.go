package raftcons

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-keeper/pkg/store"
)

// Three-node cluster over real TCP transports with on-disk stores in temp
// dirs. Slower than the loopback tests; exercises the bolt log store and the
// file snapshot store end to end.
func TestRaft_ThreeNodeReplication_TCP(t *testing.T) {
    if testing.Short() {
        t.Skip("skipping TCP cluster test in short mode")
    }

    mk := func(id string, st *store.Store, bootstrap bool) *Node {
        n, err := New(Options{
            NodeID:            id,
            State:             st,
            Bootstrap:         bootstrap,
            BindAddr:          "127.0.0.1:0",
            DataDir:           t.TempDir(),
            SnapshotsRetained: 1,
            HeartbeatTimeout:  150 * time.Millisecond,
            ElectionTimeout:   300 * time.Millisecond,
            CommitTimeout:     50 * time.Millisecond,
            ApplyTimeout:      3 * time.Second,
        })
        if err != nil { t.Fatalf("new %s: %v", id, err) }
        return n
    }

    st1, st2, st3 := store.New(), store.New(), store.New()
    n1 := mk("n1", st1, true)
    n2 := mk("n2", st2, false)
    n3 := mk("n3", st3, false)

    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    for _, n := range []*Node{n1, n2, n3} {
        if err := n.Start(ctx); err != nil { t.Fatalf("start %s: %v", n.opts.NodeID, err) }
        defer n.Stop()
    }

    awaitLeader(t, n1, 5*time.Second)
    if err := n1.AddVoter("n2", n2.Addr(), 3*time.Second); err != nil { t.Fatalf("add n2: %v", err) }
    if err := n1.AddVoter("n3", n3.Addr(), 3*time.Second); err != nil { t.Fatalf("add n3: %v", err) }

    data, _ := store.EncodeEntry(store.Entry{
        Kind:    store.KindRequest,
        At:      time.Now().UnixMilli(),
        Request: &store.Request{Op: store.OpCreate, Path: "/tcp", Data: []byte("x")},
    })
    if _, err := n1.Propose(data, 5*time.Second); err != nil { t.Fatalf("propose: %v", err) }

    for _, st := range []*store.Store{st2, st3} {
        deadline := time.Now().Add(10 * time.Second)
        for {
            if _, ok := st.Get("/tcp"); ok { break }
            if time.Now().After(deadline) { t.Fatalf("entry not replicated over TCP") }
            time.Sleep(100 * time.Millisecond)
        }
    }

    // The durable config record should list all three servers.
    cfg, ok, err := n1.SavedConfig()
    if err != nil || !ok { t.Fatalf("saved config: ok=%v err=%v", ok, err) }
    if len(cfg.Servers) != 3 { t.Fatalf("config servers = %d, want 3", len(cfg.Servers)) }
}

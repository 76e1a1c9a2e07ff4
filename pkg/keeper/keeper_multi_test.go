package keeper

import (
    "context"
    "testing"
    "time"

    "github.com/amirimatin/go-keeper/pkg/consensus"
    raftcons "github.com/amirimatin/go-keeper/pkg/consensus/raft"
    "github.com/amirimatin/go-keeper/pkg/store"
)

// newInmemNode builds a keeper server around an injected raft node using the
// in-memory transport, so multi-server behavior is testable in-process.
func newInmemNode(t *testing.T, id string, bootstrap bool) (*Server, *raftcons.Node, *store.Store) {
    t.Helper()
    st := store.New()
    q := store.NewResponsesQueue(64)
    n, err := raftcons.New(raftcons.Options{
        NodeID:       id,
        State:        st,
        Queue:        q,
        Bootstrap:    bootstrap,
        ApplyTimeout: 2 * time.Second,
    })
    if err != nil { t.Fatalf("raft node %s: %v", id, err) }
    s, err := New(Options{
        NodeID:    NodeID(id),
        Logger:    testLogger(),
        CanLead:   true,
        Consensus: n,
        Store:     st,
        Queue:     q,
    })
    if err != nil { t.Fatalf("server %s: %v", id, err) }
    if err := s.Startup(context.Background(), bootstrap); err != nil { t.Fatalf("startup %s: %v", id, err) }
    t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
    return s, n, st
}

func TestServer_TwoNodeAddServerAndReplication(t *testing.T) {
    s1, n1, st1 := newInmemNode(t, "n1", true)
    _, n2, st2 := newInmemNode(t, "n2", false)
    n1.ConnectLoopback(n2)

    awaitLeadership(t, s1, 5*time.Second)
    ctx := context.Background()

    if err := s1.AddServer(ctx, "n2", n2.Addr(), "", true, 2); err != nil {
        t.Fatalf("add server: %v", err)
    }
    if !s1.WaitForServer("n2", 3*time.Second) { t.Fatalf("n2 never joined the configuration") }

    // The configuration change is mirrored into replicated bookkeeping.
    notesVisible := func(st *store.Store) bool {
        for _, m := range st.Members() {
            if m.ID == "n2" && m.CanLead && m.Priority == 2 { return true }
        }
        return false
    }
    deadline := time.Now().Add(5 * time.Second)
    for !notesVisible(st1) {
        if time.Now().After(deadline) { t.Fatalf("member note for n2 not committed") }
        time.Sleep(50 * time.Millisecond)
    }

    rfs := store.RequestForSession{
        XID:     "m1",
        Request: store.Request{Op: store.OpCreate, Path: "/multi", Data: []byte("x")},
    }
    if err := s1.PutRequest(ctx, rfs); err != nil { t.Fatalf("put request: %v", err) }
    deadline = time.Now().Add(5 * time.Second)
    for {
        if _, ok := st2.Get("/multi"); ok { break }
        if time.Now().After(deadline) { t.Fatalf("entry not replicated to n2") }
        time.Sleep(50 * time.Millisecond)
    }

    if err := s1.RemoveServer(ctx, "n2"); err != nil { t.Fatalf("remove server: %v", err) }
    deadline = time.Now().Add(5 * time.Second)
    for notesVisible(st1) {
        if time.Now().After(deadline) { t.Fatalf("member note for n2 not removed") }
        time.Sleep(50 * time.Millisecond)
    }
    srvs, err := s1.cons.(consensus.Reconfigurer).Servers()
    if err != nil { t.Fatalf("servers: %v", err) }
    for _, sv := range srvs {
        if sv.ID == "n2" { t.Fatalf("n2 still in configuration: %+v", srvs) }
    }
}

func TestServer_NonVoterJoinsWithoutVote(t *testing.T) {
    s1, n1, _ := newInmemNode(t, "n1", true)
    _, n2, st2 := newInmemNode(t, "n2", false)
    n1.ConnectLoopback(n2)
    awaitLeadership(t, s1, 5*time.Second)
    ctx := context.Background()

    // canLead=false must land as a non-voter: it replicates but never votes.
    if err := s1.AddServer(ctx, "n2", n2.Addr(), "", false, 1); err != nil {
        t.Fatalf("add non-voter: %v", err)
    }
    if !s1.WaitForServer("n2", 3*time.Second) { t.Fatalf("n2 never joined the configuration") }
    srvs, err := s1.cons.(consensus.Reconfigurer).Servers()
    if err != nil { t.Fatalf("servers: %v", err) }
    found := false
    for _, sv := range srvs {
        if sv.ID == "n2" {
            found = true
            if sv.Voter { t.Fatalf("n2 joined as voter") }
        }
    }
    if !found { t.Fatalf("n2 missing from configuration: %+v", srvs) }

    if err := s1.PutRequest(ctx, store.RequestForSession{
        XID:     "nv1",
        Request: store.Request{Op: store.OpCreate, Path: "/nv", Data: []byte("x")},
    }); err != nil { t.Fatalf("put request: %v", err) }
    deadline := time.Now().Add(5 * time.Second)
    for {
        if _, ok := st2.Get("/nv"); ok { break }
        if time.Now().After(deadline) { t.Fatalf("entry not replicated to non-voter") }
        time.Sleep(50 * time.Millisecond)
    }
}

package main

// keeperdemo runs a three-server ensemble inside one process using the
// in-memory consensus transport, then walks through the core flows:
// session allocation, replicated writes, response delivery and expiry.

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    raftcons "github.com/amirimatin/go-keeper/pkg/consensus/raft"
    "github.com/amirimatin/go-keeper/pkg/keeper"
    "github.com/amirimatin/go-keeper/pkg/store"
)

func main() {
    var sessionTimeout = flag.Duration("session-timeout", 5*time.Second, "demo session timeout")
    flag.Parse()

    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()
    logger := log.New(os.Stderr, "[keeperdemo] ", log.LstdFlags)

    servers := make([]*keeper.Server, 0, 3)
    nodes := make([]*raftcons.Node, 0, 3)
    for i := 1; i <= 3; i++ {
        id := fmt.Sprintf("n%d", i)
        st := store.New()
        q := store.NewResponsesQueue(256)
        n, err := raftcons.New(raftcons.Options{
            NodeID:    id,
            Logger:    logger,
            State:     st,
            Queue:     q,
            Bootstrap: i == 1,
        })
        if err != nil { log.Fatalf("raft node %s: %v", id, err) }
        s, err := keeper.New(keeper.Options{
            NodeID:    keeper.NodeID(id),
            Logger:    logger,
            CanLead:   true,
            Priority:  int32(i),
            Consensus: n,
            Store:     st,
            Queue:     q,
        })
        if err != nil { log.Fatalf("server %s: %v", id, err) }
        if err := s.Startup(ctx, i == 1); err != nil { log.Fatalf("startup %s: %v", id, err) }
        defer s.Close()
        servers = append(servers, s)
        nodes = append(nodes, n)
    }
    nodes[0].ConnectLoopback(nodes[1])
    nodes[0].ConnectLoopback(nodes[2])
    nodes[1].ConnectLoopback(nodes[2])

    leader := servers[0]
    if err := leader.WaitInit(ctx); err != nil { log.Fatal(err) }
    for !leader.IsLeader() {
        time.Sleep(50 * time.Millisecond)
    }
    logger.Printf("n1 elected, adding n2 and n3")
    if err := leader.AddServer(ctx, "n2", nodes[1].Addr(), "", true, 2); err != nil { log.Fatal(err) }
    if err := leader.AddServer(ctx, "n3", nodes[2].Addr(), "", true, 3); err != nil { log.Fatal(err) }
    leader.WaitForServer("n3", 5*time.Second)

    events := leader.Subscribe(ctx)
    go func() {
        for e := range events {
            logger.Printf("EVENT type=%s term=%d session=%d", e.Type, e.Term, e.Session)
        }
    }()

    sid, err := leader.NewSession(ctx, *sessionTimeout)
    if err != nil { log.Fatal(err) }
    logger.Printf("session %d allocated (timeout %s)", sid, *sessionTimeout)

    responses := leader.SubscribeResponses(ctx)
    reqs := []store.Request{
        {Op: store.OpCreate, Path: "/demo", Data: []byte("root")},
        {Op: store.OpCreate, Path: "/demo/a", Data: []byte("1"), Ephemeral: true},
        {Op: store.OpList, Path: "/demo"},
    }
    for i, r := range reqs {
        rfs := store.RequestForSession{Session: sid, XID: fmt.Sprintf("demo-%d", i), Request: r}
        if err := leader.PutRequest(ctx, rfs); err != nil { log.Fatal(err) }
    }
    for range reqs {
        select {
        case qr := <-responses:
            logger.Printf("RESPONSE xid=%s code=%s children=%v", qr.XID, qr.Resp.Code, qr.Resp.Children)
        case <-time.After(5 * time.Second):
            log.Fatal("response not delivered")
        }
    }

    // Follower replicas converge on the same tree.
    for i, s := range servers[1:] {
        deadline := time.Now().Add(5 * time.Second)
        for {
            if _, ok := s.Store().Get("/demo/a"); ok { break }
            if time.Now().After(deadline) { log.Fatalf("n%d missing /demo/a", i+2) }
            time.Sleep(50 * time.Millisecond)
        }
    }
    logger.Printf("all replicas converged; /demo/a is ephemeral under session %d", sid)
    logger.Printf("letting the session expire (no keep-alive)...")

    deadline := time.Now().Add(*sessionTimeout + 10*time.Second)
    for {
        if _, ok := leader.Store().Get("/demo/a"); !ok {
            logger.Printf("session expired, ephemeral /demo/a removed")
            break
        }
        if time.Now().After(deadline) { log.Fatal("session never expired") }
        time.Sleep(100 * time.Millisecond)
    }

    logger.Printf("demo complete. Press Ctrl+C to exit.")
    <-ctx.Done()
}

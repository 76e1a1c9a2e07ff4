package grpc

import (
    "context"
    "encoding/json"
    "sync/atomic"
    "testing"
    "time"

    gogrpc "google.golang.org/grpc"

    "github.com/amirimatin/go-keeper/pkg/store"
    "github.com/amirimatin/go-keeper/pkg/transport"
)

func startTestServer(t *testing.T, h transport.Handlers) (*Server, string) {
    t.Helper()
    srv := NewServer("127.0.0.1:0")
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    if err := srv.Start(ctx, h); err != nil {
        t.Fatalf("start: %v", err)
    }
    t.Cleanup(func() { _ = srv.Stop(context.Background()) })
    return srv, srv.Addr()
}

func TestGRPC_StatusAndSession(t *testing.T) {
    _, addr := startTestServer(t, transport.Handlers{
        Status: func(ctx context.Context) ([]byte, error) {
            return json.Marshal(map[string]string{"state": "ready"})
        },
        NewSession: func(ctx context.Context, req transport.NewSessionRequest) (transport.NewSessionResponse, error) {
            if req.TimeoutMs != 5000 {
                t.Errorf("timeout = %d", req.TimeoutMs)
            }
            return transport.NewSessionResponse{SessionID: 7}, nil
        },
    })

    c := NewClient(3 * time.Second)
    defer c.Close()

    b, err := c.GetStatus(context.Background(), addr)
    if err != nil {
        t.Fatalf("get status: %v", err)
    }
    var got map[string]string
    if err := json.Unmarshal(b, &got); err != nil || got["state"] != "ready" {
        t.Fatalf("status = %s (%v)", b, err)
    }

    out, err := c.PostNewSession(context.Background(), addr, transport.NewSessionRequest{TimeoutMs: 5000})
    if err != nil {
        t.Fatalf("new session: %v", err)
    }
    if out.SessionID != 7 {
        t.Fatalf("session id = %d, want 7", out.SessionID)
    }
}

func TestGRPC_SubmitRoundTrip(t *testing.T) {
    _, addr := startTestServer(t, transport.Handlers{
        Submit: func(ctx context.Context, req transport.SubmitRequest) (transport.SubmitResponse, error) {
            return transport.SubmitResponse{Response: store.Response{Code: store.CodeNoNode, Err: "no node /missing"}}, nil
        },
    })
    c := NewClient(3 * time.Second)
    defer c.Close()
    out, err := c.PostSubmit(context.Background(), addr, transport.SubmitRequest{
        XID:     "g-1",
        Request: store.Request{Op: store.OpGet, Path: "/missing"},
    })
    if err != nil {
        t.Fatalf("submit: %v", err)
    }
    if out.Response.Code != store.CodeNoNode {
        t.Fatalf("code = %q", out.Response.Code)
    }
}

func TestGRPC_ResponsesStream(t *testing.T) {
    srv, addr := startTestServer(t, transport.Handlers{})
    c := NewClient(3 * time.Second)
    defer c.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()

    got := make(chan store.QueuedResponse, 4)
    go func() {
        _ = c.SubscribeResponses(ctx, addr, 42, func(qr store.QueuedResponse) { got <- qr })
    }()

    // Wait for the subscription to land, then publish.
    deadline := time.Now().Add(5 * time.Second)
    for {
        if n := srv.PublishResponse(store.QueuedResponse{Session: 42, XID: "s-1", Resp: store.Response{Code: store.CodeOK, Path: "/p"}}); n == 1 {
            break
        }
        if time.Now().After(deadline) {
            t.Fatalf("subscriber never attached")
        }
        time.Sleep(50 * time.Millisecond)
    }

    select {
    case qr := <-got:
        if qr.Session != 42 || qr.XID != "s-1" || !qr.Resp.OK() {
            t.Fatalf("stream message = %+v", qr)
        }
    case <-time.After(3 * time.Second):
        t.Fatalf("timed out waiting for streamed response")
    }

    // A response for another session must not reach this subscriber.
    if n := srv.PublishResponse(store.QueuedResponse{Session: 7, XID: "s-2"}); n != 0 {
        t.Fatalf("published to %d subscribers, want 0", n)
    }
}

func TestConnManager_ReusesConnections(t *testing.T) {
    _, addr := startTestServer(t, transport.Handlers{
        Status: func(ctx context.Context) ([]byte, error) { return []byte("{}"), nil },
    })
    var dials int64
    c := NewClient(3 * time.Second)
    defer c.Close()
    c.cm = NewConnManager(time.Minute, func(ctx context.Context, target string) (*gogrpc.ClientConn, error) {
        atomic.AddInt64(&dials, 1)
        return c.dialCtx(ctx, target)
    })
    for i := 0; i < 3; i++ {
        if _, err := c.GetStatus(context.Background(), addr); err != nil {
            t.Fatalf("get status %d: %v", i, err)
        }
    }
    if n := atomic.LoadInt64(&dials); n != 1 {
        t.Fatalf("dials = %d, want 1", n)
    }
}

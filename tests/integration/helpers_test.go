//go:build integration

package integration

import (
    "context"
    "encoding/json"
    "errors"
    "testing"
    "time"

    "github.com/amirimatin/go-keeper/pkg/bootstrap"
    "github.com/amirimatin/go-keeper/pkg/keeper"
    "github.com/amirimatin/go-keeper/pkg/transport"
)

var errNotYet = errors.New("not yet")

func waitUntil(t *testing.T, timeout time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    var last error
    for time.Now().Before(deadline) {
        if last = fn(); last == nil {
            return
        }
        time.Sleep(200 * time.Millisecond)
    }
    t.Fatalf("condition not met within %v: %v", timeout, last)
}

func fetchStatus(ctx context.Context, cli transport.RPCClient, addr string) (keeper.Status, error) {
    var s keeper.Status
    b, err := cli.GetStatus(ctx, addr)
    if err != nil { return s, err }
    if err := json.Unmarshal(b, &s); err != nil { return s, err }
    return s, nil
}

// startNode runs one keeper process endpoint with real TCP transports.
func startNode(t *testing.T, ctx context.Context, cfg bootstrap.Config) *keeper.Server {
    t.Helper()
    s, err := bootstrap.Run(ctx, cfg)
    if err != nil { t.Fatalf("%s: %v", cfg.NodeID, err) }
    t.Cleanup(func() { _ = s.Close() })
    return s
}

func submit(t *testing.T, ctx context.Context, cli transport.RPCClient, addr string, req transport.SubmitRequest) transport.SubmitResponse {
    t.Helper()
    resp, err := cli.PostSubmit(ctx, addr, req)
    if err != nil { t.Fatalf("submit %s %s: %v", req.Request.Op, req.Request.Path, err) }
    if resp.Error != "" { t.Fatalf("submit %s %s: %s", req.Request.Op, req.Request.Path, resp.Error) }
    return resp
}

package grpc

import (
    "context"
    "crypto/tls"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-keeper/pkg/transport"
)

// Client implements transport.RPCClient over gRPC with the JSON codec and a
// managed connection cache.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return nil, err
    }
    defer rel()
    out := new(statusBlob)
    if err := cc.Invoke(cctx, "/keeper.v1.Management/GetStatus", &empty{}, out); err != nil {
        return nil, err
    }
    return out.Data, nil
}

func (c *Client) PostAddServer(ctx context.Context, addr string, req transport.AddServerRequest) (transport.AddServerResponse, error) {
    return invoke[transport.AddServerRequest, transport.AddServerResponse](ctx, c, addr, "/keeper.v1.Management/AddServer", req)
}

func (c *Client) PostRemoveServer(ctx context.Context, addr string, req transport.RemoveServerRequest) (transport.RemoveServerResponse, error) {
    return invoke[transport.RemoveServerRequest, transport.RemoveServerResponse](ctx, c, addr, "/keeper.v1.Management/RemoveServer", req)
}

func (c *Client) PostNewSession(ctx context.Context, addr string, req transport.NewSessionRequest) (transport.NewSessionResponse, error) {
    return invoke[transport.NewSessionRequest, transport.NewSessionResponse](ctx, c, addr, "/keeper.v1.Management/NewSession", req)
}

func (c *Client) PostSubmit(ctx context.Context, addr string, req transport.SubmitRequest) (transport.SubmitResponse, error) {
    return invoke[transport.SubmitRequest, transport.SubmitResponse](ctx, c, addr, "/keeper.v1.Management/Submit", req)
}

func invoke[Req any, Resp any](ctx context.Context, c *Client, addr, method string, req Req) (Resp, error) {
    var resp Resp
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.getConn(cctx, addr)
    if err != nil {
        return resp, err
    }
    defer rel()
    if err := cc.Invoke(cctx, method, &req, &resp); err != nil {
        return resp, err
    }
    return resp, nil
}

var _ transport.RPCClient = (*Client)(nil)

// getConn returns a managed connection, creating a manager if absent.
func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    if c.cm == nil {
        c.cm = NewConnManager(30*time.Second, c.dialCtx)
    }
    return c.cm.Get(ctx, addr)
}

// Close releases all cached connections.
func (c *Client) Close() {
    if c.cm != nil {
        c.cm.Close()
        c.cm = nil
    }
}

package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/amirimatin/go-keeper/pkg/transport"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS configuration and simple retry with backoff for transient failures.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient constructs a new Client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil {
        c.transport.TLSClientConfig = cfg
    }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS {
        scheme = "https"
    }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(addr, "/status"), nil)
    if err != nil {
        return nil, err
    }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            if rerr != nil {
                lastErr = rerr
            } else if resp.StatusCode != http.StatusOK {
                lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
            } else {
                return b, nil
            }
        }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

func (c *Client) PostAddServer(ctx context.Context, addr string, req transport.AddServerRequest) (transport.AddServerResponse, error) {
    return postJSON[transport.AddServerRequest, transport.AddServerResponse](ctx, c, addr, "/add-server", req)
}

func (c *Client) PostRemoveServer(ctx context.Context, addr string, req transport.RemoveServerRequest) (transport.RemoveServerResponse, error) {
    return postJSON[transport.RemoveServerRequest, transport.RemoveServerResponse](ctx, c, addr, "/remove-server", req)
}

func (c *Client) PostNewSession(ctx context.Context, addr string, req transport.NewSessionRequest) (transport.NewSessionResponse, error) {
    return postJSON[transport.NewSessionRequest, transport.NewSessionResponse](ctx, c, addr, "/session", req)
}

func (c *Client) PostSubmit(ctx context.Context, addr string, req transport.SubmitRequest) (transport.SubmitResponse, error) {
    return postJSON[transport.SubmitRequest, transport.SubmitResponse](ctx, c, addr, "/submit", req)
}

// postJSON performs a JSON POST with bounded retries and exponential backoff.
// Non-200 responses still decode the body so leader redirects survive the
// error path.
func postJSON[Req any, Resp any](ctx context.Context, c *Client, addr, path string, req Req) (Resp, error) {
    var out Resp
    body, err := json.Marshal(req)
    if err != nil {
        return out, err
    }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(addr, path), bytes.NewReader(body))
        if err != nil {
            return out, err
        }
        httpReq.Header.Set("Content-Type", "application/json")
        resp, err := c.httpc.Do(httpReq)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            if rerr != nil {
                lastErr = rerr
            } else {
                _ = json.Unmarshal(b, &out)
                if resp.StatusCode != http.StatusOK {
                    lastErr = fmt.Errorf("%s status %d: %s", path, resp.StatusCode, string(b))
                } else {
                    return out, nil
                }
            }
        }
        select {
        case <-ctx.Done():
            if lastErr == nil {
                lastErr = ctx.Err()
            }
            return out, lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    if lastErr == nil {
        lastErr = errors.New("httpjson: request failed")
    }
    return out, lastErr
}

var _ transport.RPCClient = (*Client)(nil)

package grpc

import (
    "context"
    "time"

    "google.golang.org/grpc"

    "github.com/amirimatin/go-keeper/pkg/store"
    "github.com/amirimatin/go-keeper/pkg/transport"
)

// SubscribeResponses opens a server-stream from addr's Responses service and
// invokes onMsg for every applied response matching session (0 means all).
// It blocks until the stream ends or ctx is done; callers own reconnect
// policy.
func (c *Client) SubscribeResponses(ctx context.Context, addr string, session int64, onMsg func(qr store.QueuedResponse)) error {
    if c.cm == nil {
        c.cm = NewConnManager(30*time.Second, c.dialCtx)
    }
    cc, rel, err := c.cm.Get(ctx, addr)
    if err != nil {
        return err
    }
    defer rel()

    sd := &grpc.StreamDesc{ServerStreams: true}
    cs, err := cc.NewStream(ctx, sd, "/keeper.v1.Responses/Subscribe")
    if err != nil {
        return err
    }
    if err := cs.SendMsg(&respSubReq{Session: session}); err != nil {
        return err
    }
    // close-send errors are harmless for a server-streaming call
    _ = cs.CloseSend()

    for {
        var qr store.QueuedResponse
        if err := cs.RecvMsg(&qr); err != nil {
            return err
        }
        if onMsg != nil {
            onMsg(qr)
        }
    }
}

var _ transport.ResponseStreamClient = (*Client)(nil)

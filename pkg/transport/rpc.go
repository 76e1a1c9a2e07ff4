package transport

import (
    "context"

    "github.com/amirimatin/go-keeper/pkg/store"
)

// StatusFunc returns a JSON-encoded status payload for management /status.
// Using []byte avoids import cycles on keeper types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// AddServerRequest asks the leader to add a server to the ensemble. CanLead
// and Priority are scheduling hints recorded alongside the configuration;
// a server with CanLead=false joins as a non-voter.
type AddServerRequest struct {
    ID       string `json:"id"`
    RaftAddr string `json:"raftAddr"`
    MgmtAddr string `json:"mgmtAddr,omitempty"`
    CanLead  bool   `json:"canLead"`
    Priority int32  `json:"priority,omitempty"`
}

// AddServerResponse indicates acceptance, or carries the leader's management
// address so the caller can retry there.
type AddServerResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

// AddServerFunc handles ensemble-membership additions (leader-only).
type AddServerFunc func(ctx context.Context, req AddServerRequest) (AddServerResponse, error)

// RemoveServerRequest asks the leader to remove a server from the ensemble.
type RemoveServerRequest struct {
    ID string `json:"id"`
}

// RemoveServerResponse indicates whether the removal was accepted.
type RemoveServerResponse struct {
    Accepted bool   `json:"accepted"`
    Leader   string `json:"leader,omitempty"`
    Error    string `json:"error,omitempty"`
}

// RemoveServerFunc handles ensemble-membership removals (leader-only).
type RemoveServerFunc func(ctx context.Context, req RemoveServerRequest) (RemoveServerResponse, error)

// NewSessionRequest allocates a replicated session with the given timeout.
type NewSessionRequest struct {
    TimeoutMs int64 `json:"timeoutMs"`
}

// NewSessionResponse carries the allocated session id.
type NewSessionResponse struct {
    SessionID int64  `json:"sessionId,omitempty"`
    Leader    string `json:"leader,omitempty"`
    Error     string `json:"error,omitempty"`
}

// NewSessionFunc handles session allocation (leader-only).
type NewSessionFunc func(ctx context.Context, req NewSessionRequest) (NewSessionResponse, error)

// SubmitRequest forwards a client store operation, typically from a follower
// to the leader. XID is an opaque correlation token chosen by the caller.
type SubmitRequest struct {
    Session int64         `json:"session,omitempty"`
    XID     string        `json:"xid,omitempty"`
    Request store.Request `json:"request"`
}

// SubmitResponse carries the applied outcome of a forwarded request.
type SubmitResponse struct {
    Response store.Response `json:"response"`
    Leader   string         `json:"leader,omitempty"`
    Error    string         `json:"error,omitempty"`
}

// SubmitFunc handles forwarded store requests (leader-only).
type SubmitFunc func(ctx context.Context, req SubmitRequest) (SubmitResponse, error)

// Handlers bundles the management endpoints an RPCServer exposes. Nil
// handlers answer "not supported".
type Handlers struct {
    Status       StatusFunc
    AddServer    AddServerFunc
    RemoveServer RemoveServerFunc
    NewSession   NewSessionFunc
    Submit       SubmitFunc
}

// RPCServer exposes management endpoints (status, add-server, remove-server,
// session, submit) for intra-cluster and tooling calls.
type RPCServer interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient performs management calls against other nodes using the chosen
// protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetStatus(ctx context.Context, addr string) ([]byte, error)
    PostAddServer(ctx context.Context, addr string, req AddServerRequest) (AddServerResponse, error)
    PostRemoveServer(ctx context.Context, addr string, req RemoveServerRequest) (RemoveServerResponse, error)
    PostNewSession(ctx context.Context, addr string, req NewSessionRequest) (NewSessionResponse, error)
    PostSubmit(ctx context.Context, addr string, req SubmitRequest) (SubmitResponse, error)
}

// ResponsePublisher is an optional server-side interface for pushing applied
// responses to streaming subscribers (gRPC-only). Publish returns the number
// of subscribers reached.
type ResponsePublisher interface {
    PublishResponse(qr store.QueuedResponse) int
}

// ResponseStreamClient subscribes to a node's applied-response stream. Zero
// session subscribes to all sessions. It blocks until the stream ends or ctx
// is done; implementations should use keepalive.
type ResponseStreamClient interface {
    SubscribeResponses(ctx context.Context, addr string, session int64, onMsg func(qr store.QueuedResponse)) error
}

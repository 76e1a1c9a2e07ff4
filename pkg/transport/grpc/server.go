package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    obsmetrics "github.com/amirimatin/go-keeper/pkg/observability/metrics"
    "github.com/amirimatin/go-keeper/pkg/observability/tracing"
    "github.com/amirimatin/go-keeper/pkg/store"
    "github.com/amirimatin/go-keeper/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec. It
// also exposes the applied-responses stream for session clients.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    tlsCfg *tls.Config

    mu   sync.Mutex
    subs map[*respSub]struct{}
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over the gRPC JSON codec
type empty struct{}
type statusBlob struct {
    Data []byte `json:"data"`
}

// managementServer defines the methods we expose.
type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    AddServer(ctx context.Context, in *transport.AddServerRequest) (*transport.AddServerResponse, error)
    RemoveServer(ctx context.Context, in *transport.RemoveServerRequest) (*transport.RemoveServerResponse, error)
    NewSession(ctx context.Context, in *transport.NewSessionRequest) (*transport.NewSessionResponse, error)
    Submit(ctx context.Context, in *transport.SubmitRequest) (*transport.SubmitResponse, error)
}

type mgmtImpl struct {
    h transport.Handlers
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    if m.h.Status == nil {
        return &statusBlob{}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.h.Status(ctx)
    if err != nil {
        return nil, err
    }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) AddServer(ctx context.Context, in *transport.AddServerRequest) (*transport.AddServerResponse, error) {
    if in == nil {
        in = &transport.AddServerRequest{}
    }
    if m.h.AddServer == nil {
        return &transport.AddServerResponse{Error: "add-server not supported"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.add-server")
    defer end()
    out, err := m.h.AddServer(ctx, *in)
    if err != nil {
        return &transport.AddServerResponse{Accepted: false, Leader: out.Leader, Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) RemoveServer(ctx context.Context, in *transport.RemoveServerRequest) (*transport.RemoveServerResponse, error) {
    if in == nil {
        in = &transport.RemoveServerRequest{}
    }
    if m.h.RemoveServer == nil {
        return &transport.RemoveServerResponse{Error: "remove-server not supported"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.remove-server")
    defer end()
    out, err := m.h.RemoveServer(ctx, *in)
    if err != nil {
        return &transport.RemoveServerResponse{Accepted: false, Leader: out.Leader, Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) NewSession(ctx context.Context, in *transport.NewSessionRequest) (*transport.NewSessionResponse, error) {
    if in == nil {
        in = &transport.NewSessionRequest{}
    }
    if m.h.NewSession == nil {
        return &transport.NewSessionResponse{Error: "session not supported"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.session")
    defer end()
    out, err := m.h.NewSession(ctx, *in)
    if err != nil {
        return &transport.NewSessionResponse{Leader: out.Leader, Error: err.Error()}, nil
    }
    return &out, nil
}

func (m *mgmtImpl) Submit(ctx context.Context, in *transport.SubmitRequest) (*transport.SubmitResponse, error) {
    if in == nil {
        in = &transport.SubmitRequest{}
    }
    if m.h.Submit == nil {
        return &transport.SubmitResponse{Error: "submit not supported"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.submit")
    defer end()
    out, err := m.h.Submit(ctx, *in)
    if err != nil {
        return &transport.SubmitResponse{Leader: out.Leader, Error: err.Error()}, nil
    }
    return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Management_serviceDesc = grpc.ServiceDesc{
    ServiceName: "keeper.v1.Management",
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: _Management_GetStatus_Handler},
        {MethodName: "AddServer", Handler: unaryHandler("/keeper.v1.Management/AddServer", managementServer.AddServer)},
        {MethodName: "RemoveServer", Handler: unaryHandler("/keeper.v1.Management/RemoveServer", managementServer.RemoveServer)},
        {MethodName: "NewSession", Handler: unaryHandler("/keeper.v1.Management/NewSession", managementServer.NewSession)},
        {MethodName: "Submit", Handler: unaryHandler("/keeper.v1.Management/Submit", managementServer.Submit)},
    },
}

func _Management_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil {
        return nil, err
    }
    if interceptor == nil {
        return srv.(managementServer).GetStatus(ctx, in)
    }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/keeper.v1.Management/GetStatus"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

// unaryHandler builds a grpc.MethodDesc handler for a typed unary method.
func unaryHandler[Req any, Resp any](fullMethod string, call func(managementServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
    return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
        in := new(Req)
        if err := dec(in); err != nil {
            return nil, err
        }
        if interceptor == nil {
            return call(srv.(managementServer), ctx, in)
        }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
        handler := func(ctx context.Context, req interface{}) (interface{}, error) {
            return call(srv.(managementServer), ctx, req.(*Req))
        }
        return interceptor(ctx, in, info, handler)
    }
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    s.lis = lis
    s.bind = lis.Addr().String()

    // Force JSON codec to avoid requiring protobuf types
    var opts []grpc.ServerOption
    opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
    // keepalive settings for long-lived response streams
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    if s.tlsCfg != nil {
        opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg)))
    }
    srv := grpc.NewServer(opts...)
    s.srv = srv

    healthSrv := health.NewServer()
    healthpb.RegisterHealthServer(srv, healthSrv)
    srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{h: h})

    s.subs = make(map[*respSub]struct{})
    srv.RegisterService(&_Responses_serviceDesc, &responsesImpl{server: s})

    go func() {
        <-ctx.Done()
        ch := make(chan struct{})
        go func() { srv.GracefulStop(); close(ch) }()
        select {
        case <-ch:
        case <-time.After(2 * time.Second):
            srv.Stop()
        }
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

func (s *Server) Addr() string { return s.bind }

func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil {
        return nil
    }
    ch := make(chan struct{})
    go func() { s.srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        s.srv.Stop()
    }
    s.srv = nil
    if s.lis != nil {
        _ = s.lis.Close()
        s.lis = nil
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
var _ transport.ResponsePublisher = (*Server)(nil)

// --- Applied-responses streaming ---

type respSubReq struct {
    Session int64 `json:"session,omitempty"`
}

type respSub struct {
    ss      grpc.ServerStream
    session int64
}

type responsesServer interface {
    Subscribe(*respSubReq, Responses_SubscribeServer) error
}

type Responses_SubscribeServer interface {
    Send(*store.QueuedResponse) error
    grpc.ServerStream
}

type responsesImpl struct {
    server *Server
}

func (r *responsesImpl) Subscribe(req *respSubReq, stream Responses_SubscribeServer) error {
    sub := &respSub{ss: stream}
    if req != nil {
        sub.session = req.Session
    }
    r.server.addSub(sub)
    defer r.server.removeSub(sub)
    // Block until the client disconnects; sends happen from PublishResponse.
    <-stream.Context().Done()
    return nil
}

func (s *Server) addSub(sub *respSub) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.subs == nil {
        s.subs = make(map[*respSub]struct{})
    }
    s.subs[sub] = struct{}{}
    obsmetrics.ResponseStreamSubs.Inc()
}

func (s *Server) removeSub(sub *respSub) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if _, ok := s.subs[sub]; ok {
        delete(s.subs, sub)
        obsmetrics.ResponseStreamSubs.Dec()
    }
}

// PublishResponse fans an applied response out to matching subscribers.
// A subscriber with session 0 receives everything. Returns subscribers
// reached; failed streams are dropped.
func (s *Server) PublishResponse(qr store.QueuedResponse) int {
    s.mu.Lock()
    defer s.mu.Unlock()
    cnt := 0
    for sub := range s.subs {
        if sub.session != 0 && sub.session != qr.Session {
            continue
        }
        if err := sub.ss.SendMsg(&qr); err != nil {
            delete(s.subs, sub)
            obsmetrics.ResponseStreamSubs.Dec()
            continue
        }
        cnt++
    }
    if cnt > 0 {
        obsmetrics.ResponsesDeliveredTotal.Add(float64(cnt))
    }
    return cnt
}

var _Responses_serviceDesc = grpc.ServiceDesc{
    ServiceName: "keeper.v1.Responses",
    HandlerType: (*responsesServer)(nil),
    Streams: []grpc.StreamDesc{{
        StreamName:    "Subscribe",
        ServerStreams: true,
        Handler:       _Responses_Subscribe_Handler,
    }},
}

func _Responses_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
    m := new(respSubReq)
    if err := stream.RecvMsg(m); err != nil {
        return err
    }
    return srv.(responsesServer).Subscribe(m, &responsesSubscribeServer{stream})
}

type responsesSubscribeServer struct{ grpc.ServerStream }

func (x *responsesSubscribeServer) Send(m *store.QueuedResponse) error { return x.ServerStream.SendMsg(m) }

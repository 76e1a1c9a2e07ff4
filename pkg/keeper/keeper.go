package keeper

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/amirimatin/go-keeper/pkg/consensus"
    raftcons "github.com/amirimatin/go-keeper/pkg/consensus/raft"
    "github.com/amirimatin/go-keeper/pkg/internal/logutil"
    "github.com/amirimatin/go-keeper/pkg/membership"
    obsmetrics "github.com/amirimatin/go-keeper/pkg/observability/metrics"
    "github.com/amirimatin/go-keeper/pkg/store"
    "github.com/amirimatin/go-keeper/pkg/transport"
)

// Facade exposes the high-level API for consumers embedding a keeper node.
type Facade interface {
    Startup(ctx context.Context, shouldFormQuorum bool) error
    WaitInit(ctx context.Context) error
    PutRequest(ctx context.Context, rfs store.RequestForSession) error
    NewSession(ctx context.Context, timeout time.Duration) (int64, error)
    CloseSession(ctx context.Context, id int64) error
    Status(ctx context.Context) (*Status, error)
    Shutdown(ctx context.Context) error
    LeaderCh() <-chan consensus.LeaderInfo
}

// Server is the concrete implementation of the Facade. It wires together the
// replicated coordination state, consensus, gossip membership and the
// management RPC endpoint into a single embeddable node.
type Server struct {
    opts Options
    set  CoordinationSettings
    lc   *lifecycle

    st    *store.Store
    queue *store.ResponsesQueue
    cons  consensus.Consensus
    mem   membership.Membership
    rpcS  transport.RPCServer
    rpcC  transport.RPCClient

    eb eventBus
    rb responseBus

    cancel context.CancelFunc

    // cfgMu serializes ensemble membership changes: one server at a time.
    cfgMu sync.Mutex
}

var _ Facade = (*Server)(nil)

// New constructs a Server from validated options. It performs no network
// activity; call Startup to launch the node.
func New(opts Options) (*Server, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts.Settings.withDefaults()
    s := &Server{
        opts: opts,
        set:  opts.Settings,
        lc:   newLifecycle(),
        st:   opts.Store,
        cons: opts.Consensus,
        mem:  opts.Membership,
        rpcS: opts.RPCServer,
        rpcC: opts.RPCClient,
    }
    if s.st == nil {
        s.st = store.New()
    }
    s.queue = opts.Queue
    if s.queue == nil {
        s.queue = store.NewResponsesQueue(s.set.ResponsesQueueDepth)
    }
    return s, nil
}

// Close is a convenience alias for Shutdown with a background context.
func (s *Server) Close() error {
    return s.Shutdown(context.Background())
}

// Startup launches consensus, membership and the management endpoint, then
// begins the internal loops. When shouldFormQuorum is true and this server
// has no prior durable state, it bootstraps a fresh single-member ensemble;
// otherwise it waits to be added by the current leader (a background loop
// volunteers through gossip when a leader becomes visible).
func (s *Server) Startup(ctx context.Context, shouldFormQuorum bool) error {
    if !s.lc.advance(StateUninitialized, StateInitializing) {
        switch s.lc.current() {
        case StateShuttingDown, StateStopped:
            return ErrShutdown
        default:
            return nil
        }
    }
    obsmetrics.Register()

    runCtx, cancel := context.WithCancel(context.Background())
    s.cancel = cancel

    if s.cons == nil {
        n, err := raftcons.New(raftcons.Options{
            NodeID: string(s.opts.NodeID),
            Logger: s.opts.Logger,
            State:  s.st,
            Queue:  s.queue,
            OnFatal: func(err error) {
                s.lc.markFatal()
                logutil.Errorf(s.opts.Logger, "state machine failure, refusing further work: %v", err)
            },
            Bootstrap:         shouldFormQuorum,
            HeartbeatTimeout:  s.set.HeartbeatInterval,
            ElectionTimeout:   s.set.ElectionTimeout,
            ApplyTimeout:      s.set.OperationTimeout,
            SnapshotThreshold: s.set.SnapshotThreshold,
            SnapshotInterval:  s.set.SnapshotInterval,
            TrailingLogs:      s.set.TrailingLogs,
            BindAddr:          s.opts.RaftBind,
            DataDir:           s.opts.DataDir,
            SnapshotsRetained: s.set.SnapshotsRetained,
        })
        if err != nil {
            cancel()
            return err
        }
        s.cons = n
    }
    if err := s.cons.Start(runCtx); err != nil {
        cancel()
        return err
    }

    if s.rpcS != nil {
        h := transport.Handlers{
            Status:       s.statusLocalJSON,
            AddServer:    s.handleAddServer,
            RemoveServer: s.handleRemoveServer,
            NewSession:   s.handleNewSession,
            Submit:       s.handleSubmit,
        }
        if err := s.rpcS.Start(runCtx, h); err != nil {
            cancel()
            return err
        }
        logutil.Infof(s.opts.Logger, "management endpoint listening at %s", s.rpcS.Addr())
    }

    if s.mem != nil {
        if err := s.mem.Start(runCtx); err != nil {
            cancel()
            return err
        }
        if s.opts.Discovery != nil {
            if seeds := s.opts.Discovery.Seeds(); len(seeds) > 0 {
                logutil.Infof(s.opts.Logger, "joining membership seeds: %v", seeds)
                _ = s.mem.Join(seeds)
            }
        }
        go s.membershipEventsLoop(runCtx)
    }

    go s.leaderWatchLoop(runCtx)
    go s.sessionExpiryLoop(runCtx)
    go s.responsesPumpLoop(runCtx)
    if !shouldFormQuorum && s.rpcC != nil {
        go s.volunteerLoop(runCtx)
    }

    s.lc.markReady()
    return nil
}

// WaitInit blocks until startup completed, shutdown began, or ctx ended.
func (s *Server) WaitInit(ctx context.Context) error {
    return s.lc.waitInit(ctx)
}

// State returns the current lifecycle state.
func (s *Server) State() LifecycleState { return s.lc.current() }

// Shutdown stops the loops and the wired components. It is idempotent and
// releases callers blocked in WaitInit with ErrShutdown.
func (s *Server) Shutdown(ctx context.Context) error {
    if !s.lc.markStopping() {
        return nil
    }
    if s.cancel != nil {
        s.cancel()
    }
    if s.rpcS != nil {
        _ = s.rpcS.Stop(ctx)
    }
    if s.mem != nil {
        _ = s.mem.Leave()
        _ = s.mem.Stop()
    }
    if s.cons != nil {
        _ = s.cons.Stop()
    }
    if s.queue != nil {
        s.queue.Close()
    }
    s.lc.markStopped()
    logutil.Infof(s.opts.Logger, "server stopped")
    return nil
}

// PutRequest submits a client store operation on the leader. It returns after
// the leadership check; commit and apply proceed asynchronously and the
// outcome is delivered through the responses queue under the request's
// session and correlation token. A proposal that fails before commit is
// answered with a locally generated error response on the same route.
func (s *Server) PutRequest(ctx context.Context, rfs store.RequestForSession) error {
    if err := s.lc.checkReady(); err != nil {
        return err
    }
    if s.cons == nil || !s.cons.IsLeader() {
        return ErrNotLeader
    }
    req := rfs.Request
    e := store.Entry{
        Kind:    store.KindRequest,
        Session: rfs.Session,
        XID:     rfs.XID,
        At:      time.Now().UnixMilli(),
        Request: &req,
    }
    data, err := store.EncodeEntry(e)
    if err != nil {
        return err
    }
    go func() {
        _, err := s.cons.Propose(data, s.set.OperationTimeout)
        if err == nil {
            obsmetrics.ProposalsTotal.WithLabelValues(string(store.KindRequest), "ok").Inc()
            return
        }
        obsmetrics.ProposalsTotal.WithLabelValues(string(store.KindRequest), "error").Inc()
        if errors.Is(err, ErrShutdown) {
            return
        }
        // On timeout the entry may still commit later; the error response
        // tells the client the outcome for this xid is unknown.
        code := store.CodeBadRequest
        switch {
        case errors.Is(err, ErrNotLeader):
            code = store.CodeNotLeader
        case errors.Is(err, ErrTimeout):
            code = store.CodeTimeout
        }
        logutil.Warnf(s.opts.Logger, "proposal failed: session=%d xid=%s err=%v", rfs.Session, rfs.XID, err)
        s.queue.Push(store.QueuedResponse{
            Session: rfs.Session,
            XID:     rfs.XID,
            Resp:    store.Response{Code: code, Err: err.Error(), Path: rfs.Request.Path},
        })
    }()
    return nil
}

// NewSession allocates a replicated session. The requested timeout is
// clamped to the configured bounds; zero selects the default. On a follower
// the request is forwarded to the leader when an RPC client is wired.
func (s *Server) NewSession(ctx context.Context, timeout time.Duration) (int64, error) {
    if err := s.lc.checkReady(); err != nil {
        return 0, err
    }
    timeout = s.set.ClampSessionTimeout(timeout)
    if s.cons != nil && s.cons.IsLeader() {
        return s.createSession(timeout)
    }
    if s.rpcC == nil {
        return 0, ErrNotLeader
    }
    la := s.resolveLeaderMgmt(ctx)
    if la == "" {
        return 0, ErrNotLeader
    }
    resp, err := s.rpcC.PostNewSession(ctx, la, transport.NewSessionRequest{TimeoutMs: timeout.Milliseconds()})
    if err != nil {
        return 0, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
    }
    if resp.Error != "" {
        return 0, fmt.Errorf("%w: %s", ErrSessionCreationFailed, resp.Error)
    }
    return resp.SessionID, nil
}

func (s *Server) createSession(timeout time.Duration) (int64, error) {
    e := store.Entry{
        Kind:      store.KindSessionCreate,
        At:        time.Now().UnixMilli(),
        TimeoutMs: timeout.Milliseconds(),
    }
    resp, err := s.propose(e, s.set.OperationTimeout)
    if err != nil {
        return 0, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
    }
    if !resp.OK() {
        return 0, fmt.Errorf("%w: %s", ErrSessionCreationFailed, resp.Err)
    }
    logutil.Debugf(s.opts.Logger, "session %d created timeout=%s", resp.SessionID, timeout)
    return resp.SessionID, nil
}

// CloseSession removes a session and its ephemeral nodes.
func (s *Server) CloseSession(ctx context.Context, id int64) error {
    if err := s.lc.checkReady(); err != nil {
        return err
    }
    if s.cons == nil || !s.cons.IsLeader() {
        return ErrNotLeader
    }
    e := store.Entry{Kind: store.KindSessionClose, Session: id, At: time.Now().UnixMilli()}
    resp, err := s.propose(e, s.set.OperationTimeout)
    if err != nil {
        return err
    }
    if !resp.OK() && resp.Code != store.CodeSessionExpired {
        return errors.New(resp.Err)
    }
    return nil
}

// DeadSessions lists sessions whose node-local activity deadline elapsed.
// Only the leader's view drives expiry proposals.
func (s *Server) DeadSessions() []int64 {
    return s.st.DeadSessions(time.Now())
}

// AddServer asks the ensemble leader to add a server. CanLead=false adds a
// non-voter. When called on a follower the request is forwarded.
func (s *Server) AddServer(ctx context.Context, id, raftAddr, mgmtAddr string, canLead bool, priority int32) error {
    if err := s.lc.checkReady(); err != nil {
        return err
    }
    req := transport.AddServerRequest{ID: id, RaftAddr: raftAddr, MgmtAddr: mgmtAddr, CanLead: canLead, Priority: priority}
    if s.cons != nil && s.cons.IsLeader() {
        r := s.addServerAsLeader(ctx, req)
        return configChangeError(r.Accepted, r.Error)
    }
    if s.rpcC == nil {
        return ErrNotLeader
    }
    la := s.resolveLeaderMgmt(ctx)
    if la == "" {
        return ErrNotLeader
    }
    r, err := s.rpcC.PostAddServer(ctx, la, req)
    if err != nil {
        return fmt.Errorf("%w: %v", ErrConfigChangeRejected, err)
    }
    return configChangeError(r.Accepted, r.Error)
}

// RemoveServer asks the leader to remove a server from the ensemble.
func (s *Server) RemoveServer(ctx context.Context, id string) error {
    if err := s.lc.checkReady(); err != nil {
        return err
    }
    req := transport.RemoveServerRequest{ID: id}
    if s.cons != nil && s.cons.IsLeader() {
        r := s.removeServerAsLeader(ctx, req)
        return configChangeError(r.Accepted, r.Error)
    }
    if s.rpcC == nil {
        return ErrNotLeader
    }
    la := s.resolveLeaderMgmt(ctx)
    if la == "" {
        return ErrNotLeader
    }
    r, err := s.rpcC.PostRemoveServer(ctx, la, req)
    if err != nil {
        return fmt.Errorf("%w: %v", ErrConfigChangeRejected, err)
    }
    return configChangeError(r.Accepted, r.Error)
}

func configChangeError(accepted bool, msg string) error {
    if accepted {
        return nil
    }
    if msg == "not leader" {
        return ErrNotLeader
    }
    if msg != "" {
        return fmt.Errorf("%w: %s", ErrConfigChangeRejected, msg)
    }
    return ErrConfigChangeRejected
}

// WaitForServer blocks until id appears in the committed configuration or
// the timeout elapses.
func (s *Server) WaitForServer(id string, timeout time.Duration) bool {
    rc, ok := s.cons.(consensus.Reconfigurer)
    if !ok {
        return false
    }
    return rc.WaitForServer(id, timeout)
}

// IsLeader reports whether this server currently holds leadership.
func (s *Server) IsLeader() bool {
    return s.cons != nil && s.cons.IsLeader()
}

// Leader returns the current leader's id and consensus address, if known.
func (s *Server) Leader() (id string, addr string, ok bool) {
    if s.cons == nil {
        return "", "", false
    }
    return s.cons.Leader()
}

// IsLeaderAlive reports whether a leader is not just titled but recently
// heard from: true on the leader itself, and on followers whose last leader
// contact is within one election timeout.
func (s *Server) IsLeaderAlive() bool {
    if s.cons == nil {
        return false
    }
    if s.cons.IsLeader() {
        return true
    }
    if _, _, ok := s.cons.Leader(); !ok {
        return false
    }
    pg, ok := s.cons.(consensus.Progress)
    if !ok {
        return true
    }
    lc := pg.LastContact()
    if lc.IsZero() {
        return false
    }
    return time.Since(lc) <= s.set.ElectionTimeout
}

// LeaderCh exposes leadership change notifications when the consensus
// engine supports them. Returns nil when unsupported.
func (s *Server) LeaderCh() <-chan consensus.LeaderInfo {
    if s.cons == nil {
        return nil
    }
    if ln, ok := s.cons.(consensus.LeaderNotifier); ok {
        return ln.LeaderCh()
    }
    return nil
}

// Store exposes read access to the local replica of the coordination state.
func (s *Server) Store() *store.Store { return s.st }

// Status returns a synthesized snapshot of term, leader, replication
// progress and the coordination state counters. When called on a follower it
// proxies to the leader for the canonical view, keeping the local lifecycle
// state.
func (s *Server) Status(ctx context.Context) (*Status, error) {
    st := &Status{State: s.lc.current().String()}
    if s.cons != nil {
        st.Term = s.cons.Term()
        if pg, ok := s.cons.(consensus.Progress); ok {
            st.CommitIndex = pg.CommitIndex()
            st.AppliedIndex = pg.AppliedIndex()
        }
        if id, _, ok := s.cons.Leader(); ok {
            st.LeaderID = id
            st.Healthy = true
            if s.cons.IsLeader() {
                st.LeaderAddr = s.mgmtAddr()
            } else if s.rpcC != nil {
                if la := s.lookupMemberMgmt(id); la != "" {
                    st.LeaderAddr = la
                    if data, err := s.rpcC.GetStatus(ctx, la); err == nil {
                        var rs Status
                        if json.Unmarshal(data, &rs) == nil {
                            rs.State = st.State
                            return &rs, nil
                        }
                    }
                }
            }
        } else {
            st.Warnings = append(st.Warnings, "no leader known")
        }
    }
    if s.st != nil {
        st.Nodes, st.Sessions = s.st.Counts()
    }
    if s.mem != nil {
        st.Members = s.mem.Members()
    }
    return st, nil
}

func (s *Server) statusLocalJSON(ctx context.Context) ([]byte, error) {
    st, err := s.Status(ctx)
    if err != nil {
        return nil, err
    }
    return json.Marshal(st)
}

// propose encodes and commits an entry, returning the applied response.
func (s *Server) propose(e store.Entry, timeout time.Duration) (store.Response, error) {
    data, err := store.EncodeEntry(e)
    if err != nil {
        return store.Response{}, err
    }
    res, err := s.cons.Propose(data, timeout)
    if err != nil {
        obsmetrics.ProposalsTotal.WithLabelValues(string(e.Kind), "error").Inc()
        return store.Response{}, err
    }
    obsmetrics.ProposalsTotal.WithLabelValues(string(e.Kind), "ok").Inc()
    resp, ok := res.Response.(store.Response)
    if !ok {
        return store.Response{}, fmt.Errorf("keeper: unexpected apply result %T", res.Response)
    }
    return resp, nil
}

// noteMember replicates membership bookkeeping alongside a configuration
// change. Failures are logged: the raft configuration already changed and
// must not be rolled back over a bookkeeping miss.
func (s *Server) noteMember(n store.MemberNote) {
    e := store.Entry{Kind: store.KindMemberNote, At: time.Now().UnixMilli(), Member: &n}
    if _, err := s.propose(e, s.set.OperationTimeout); err != nil {
        logutil.Warnf(s.opts.Logger, "member note failed: id=%s err=%v", n.ID, err)
    }
}

// mgmtAddr returns the advertised management address of this server.
func (s *Server) mgmtAddr() string {
    if s.opts.MgmtAddr != "" {
        return s.opts.MgmtAddr
    }
    if s.rpcS != nil {
        return s.rpcS.Addr()
    }
    return ""
}

// consAddr returns the consensus transport address of this server.
func (s *Server) consAddr() string {
    if a, ok := s.cons.(transport.Transport); ok {
        if addr := a.Addr(); addr != "" {
            return addr
        }
    }
    return s.opts.RaftBind
}

// lookupMemberMgmt resolves a member's management address from gossip meta.
func (s *Server) lookupMemberMgmt(id string) string {
    if s.mem == nil {
        return ""
    }
    for _, m := range s.mem.Members() {
        if m.ID != id {
            continue
        }
        if mg := m.MgmtAddr(); mg != "" {
            return mg
        }
        return m.Addr
    }
    return ""
}

// resolveLeaderMgmt finds the leader's management address, first through the
// locally known leader id, then by asking gossip peers for their view.
func (s *Server) resolveLeaderMgmt(ctx context.Context) string {
    if s.cons != nil {
        if id, _, ok := s.cons.Leader(); ok {
            if s.cons.IsLeader() {
                return s.mgmtAddr()
            }
            if la := s.lookupMemberMgmt(id); la != "" {
                return la
            }
        }
    }
    if s.rpcC == nil || s.mem == nil {
        return ""
    }
    self := string(s.opts.NodeID)
    for _, m := range s.mem.Members() {
        if m.ID == self {
            continue
        }
        addr := m.MgmtAddr()
        if addr == "" {
            continue
        }
        data, err := s.rpcC.GetStatus(ctx, addr)
        if err != nil {
            continue
        }
        var rs Status
        if json.Unmarshal(data, &rs) == nil && rs.LeaderAddr != "" {
            return rs.LeaderAddr
        }
    }
    return ""
}

// --- management RPC handlers ---

func (s *Server) handleAddServer(ctx context.Context, req transport.AddServerRequest) (transport.AddServerResponse, error) {
    if s.cons == nil || !s.cons.IsLeader() {
        obsmetrics.ConfigChanges.WithLabelValues("add", "rejected").Inc()
        logutil.Warnf(s.opts.Logger, "add-server rejected (not leader): id=%s", req.ID)
        return transport.AddServerResponse{Accepted: false, Leader: s.resolveLeaderMgmt(ctx), Error: "not leader"}, nil
    }
    return s.addServerAsLeader(ctx, req), nil
}

func (s *Server) addServerAsLeader(ctx context.Context, req transport.AddServerRequest) transport.AddServerResponse {
    s.cfgMu.Lock()
    defer s.cfgMu.Unlock()
    rc, ok := s.cons.(consensus.Reconfigurer)
    if !ok {
        return transport.AddServerResponse{Accepted: false, Error: "membership changes unsupported"}
    }
    var err error
    if req.CanLead {
        err = rc.AddVoter(req.ID, req.RaftAddr, s.set.ConfigChangeTimeout)
    } else {
        err = rc.AddNonvoter(req.ID, req.RaftAddr, s.set.ConfigChangeTimeout)
    }
    if err != nil {
        obsmetrics.ConfigChanges.WithLabelValues("add", "rejected").Inc()
        logutil.Errorf(s.opts.Logger, "add server failed: id=%s addr=%s err=%v", req.ID, req.RaftAddr, err)
        return transport.AddServerResponse{Accepted: false, Error: err.Error()}
    }
    obsmetrics.ConfigChanges.WithLabelValues("add", "accepted").Inc()
    addr := req.MgmtAddr
    if addr == "" {
        addr = req.RaftAddr
    }
    s.noteMember(store.MemberNote{ID: req.ID, Addr: addr, CanLead: req.CanLead, Priority: req.Priority})
    logutil.Infof(s.opts.Logger, "add server accepted: id=%s addr=%s voter=%t", req.ID, req.RaftAddr, req.CanLead)
    return transport.AddServerResponse{Accepted: true}
}

func (s *Server) handleRemoveServer(ctx context.Context, req transport.RemoveServerRequest) (transport.RemoveServerResponse, error) {
    if s.cons == nil || !s.cons.IsLeader() {
        obsmetrics.ConfigChanges.WithLabelValues("remove", "rejected").Inc()
        logutil.Warnf(s.opts.Logger, "remove-server rejected (not leader): id=%s", req.ID)
        return transport.RemoveServerResponse{Accepted: false, Leader: s.resolveLeaderMgmt(ctx), Error: "not leader"}, nil
    }
    return s.removeServerAsLeader(ctx, req), nil
}

func (s *Server) removeServerAsLeader(ctx context.Context, req transport.RemoveServerRequest) transport.RemoveServerResponse {
    s.cfgMu.Lock()
    defer s.cfgMu.Unlock()
    rc, ok := s.cons.(consensus.Reconfigurer)
    if !ok {
        return transport.RemoveServerResponse{Accepted: false, Error: "membership changes unsupported"}
    }
    if err := rc.RemoveServer(req.ID, s.set.ConfigChangeTimeout); err != nil {
        obsmetrics.ConfigChanges.WithLabelValues("remove", "rejected").Inc()
        logutil.Errorf(s.opts.Logger, "remove server failed: id=%s err=%v", req.ID, err)
        return transport.RemoveServerResponse{Accepted: false, Error: err.Error()}
    }
    obsmetrics.ConfigChanges.WithLabelValues("remove", "accepted").Inc()
    s.noteMember(store.MemberNote{ID: req.ID, Remove: true})
    logutil.Infof(s.opts.Logger, "remove server accepted: id=%s", req.ID)
    return transport.RemoveServerResponse{Accepted: true}
}

func (s *Server) handleNewSession(ctx context.Context, req transport.NewSessionRequest) (transport.NewSessionResponse, error) {
    if err := s.lc.checkReady(); err != nil {
        return transport.NewSessionResponse{Error: err.Error()}, nil
    }
    if s.cons == nil || !s.cons.IsLeader() {
        return transport.NewSessionResponse{Leader: s.resolveLeaderMgmt(ctx), Error: "not leader"}, nil
    }
    timeout := s.set.ClampSessionTimeout(time.Duration(req.TimeoutMs) * time.Millisecond)
    id, err := s.createSession(timeout)
    if err != nil {
        return transport.NewSessionResponse{Error: err.Error()}, nil
    }
    return transport.NewSessionResponse{SessionID: id}, nil
}

func (s *Server) handleSubmit(ctx context.Context, req transport.SubmitRequest) (transport.SubmitResponse, error) {
    if err := s.lc.checkReady(); err != nil {
        return transport.SubmitResponse{Error: err.Error()}, nil
    }
    if s.cons == nil || !s.cons.IsLeader() {
        // Forward to the leader when possible so clients can keep a single
        // management connection.
        if s.rpcC != nil {
            if la := s.resolveLeaderMgmt(ctx); la != "" {
                return s.rpcC.PostSubmit(ctx, la, req)
            }
        }
        return transport.SubmitResponse{Leader: s.resolveLeaderMgmt(ctx), Error: "not leader"}, nil
    }
    r := req.Request
    e := store.Entry{
        Kind:    store.KindRequest,
        Session: req.Session,
        XID:     req.XID,
        At:      time.Now().UnixMilli(),
        Request: &r,
    }
    resp, err := s.propose(e, s.set.OperationTimeout)
    if err != nil {
        return transport.SubmitResponse{Error: err.Error()}, nil
    }
    return transport.SubmitResponse{Response: resp}, nil
}

// --- internal loops ---

func (s *Server) leaderWatchLoop(ctx context.Context) {
    ln, ok := s.cons.(consensus.LeaderNotifier)
    if !ok {
        return
    }
    for {
        select {
        case <-ctx.Done():
            return
        case li, open := <-ln.LeaderCh():
            if !open {
                return
            }
            logutil.Infof(s.opts.Logger, "leader change observed: id=%s term=%d", li.ID, li.Term)
            liCopy := li
            s.eb.publish(Event{Type: EventLeaderChanged, At: time.Now(), Leader: &liCopy, Term: li.Term})
        }
    }
}

func (s *Server) membershipEventsLoop(ctx context.Context) {
    evch := s.mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok {
                return
            }
            var et EventType
            switch e.Type {
            case membership.EventJoin:
                et = EventMemberJoin
            case membership.EventLeave:
                et = EventMemberLeave
            default:
                et = EventMemberUpdate
            }
            m := e.Member
            s.eb.publish(Event{Type: et, At: e.At, Member: &m})
        }
    }
}

// sessionExpiryLoop is the leader-side scan for dead sessions. Expiry is
// replicated as an ordinary entry so followers converge on the same state.
func (s *Server) sessionExpiryLoop(ctx context.Context) {
    ticker := time.NewTicker(s.set.DeadSessionCheckInterval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if s.lc.checkReady() != nil || s.cons == nil || !s.cons.IsLeader() {
                continue
            }
            now := time.Now()
            for _, id := range s.st.DeadSessions(now) {
                e := store.Entry{Kind: store.KindSessionExpire, Session: id, At: now.UnixMilli()}
                resp, err := s.propose(e, s.set.OperationTimeout)
                if err != nil {
                    logutil.Warnf(s.opts.Logger, "session expiry proposal failed: session=%d err=%v", id, err)
                    break
                }
                if resp.OK() {
                    logutil.Infof(s.opts.Logger, "session %d expired", id)
                    s.eb.publish(Event{Type: EventSessionExpired, At: now, Session: id})
                }
            }
        }
    }
}

// responsesPumpLoop drains the applied-responses queue, pushing to streaming
// subscribers and local in-process subscribers.
func (s *Server) responsesPumpLoop(ctx context.Context) {
    pub, _ := s.rpcS.(transport.ResponsePublisher)
    for {
        select {
        case <-ctx.Done():
            return
        case qr, ok := <-s.queue.C():
            if !ok {
                return
            }
            if pub != nil {
                pub.PublishResponse(qr)
            }
            s.rb.publish(qr)
        }
    }
}

// volunteerLoop runs on servers started without quorum-forming rights: until
// this server sees itself inside an ensemble, it periodically asks the
// leader (resolved through gossip) to add it.
func (s *Server) volunteerLoop(ctx context.Context) {
    ticker := time.NewTicker(1 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if s.cons == nil {
                continue
            }
            if _, _, ok := s.cons.Leader(); ok {
                return
            }
            la := s.resolveLeaderMgmt(ctx)
            if la == "" {
                continue
            }
            req := transport.AddServerRequest{
                ID:       string(s.opts.NodeID),
                RaftAddr: s.consAddr(),
                MgmtAddr: s.mgmtAddr(),
                CanLead:  s.opts.CanLead,
                Priority: s.opts.Priority,
            }
            resp, err := s.rpcC.PostAddServer(ctx, la, req)
            if err != nil {
                logutil.Debugf(s.opts.Logger, "volunteer add-server failed: leader=%s err=%v", la, err)
                continue
            }
            if resp.Accepted {
                logutil.Infof(s.opts.Logger, "joined ensemble via %s", la)
            }
        }
    }
}

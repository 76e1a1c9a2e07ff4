package raftcons

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "strconv"
    "time"

    hclog "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/raft"

    c "github.com/amirimatin/go-keeper/pkg/consensus"
    obsmetrics "github.com/amirimatin/go-keeper/pkg/observability/metrics"
)

// Node implements consensus.Consensus using HashiCorp Raft. It owns the
// persistent log adapter, the durable cluster-config record and the FSM
// bridge; elections, replication, commit advancement and snapshot transfer
// are the library's.
type Node struct {
    opts Options
    log  *log.Logger
    r    *raft.Raft
    fsm  *keeperFSM
    ls   *LogStore
    cs   *ConfigStore
    lch  chan c.LeaderInfo

    addr     raft.ServerAddress
    trans    raft.Transport
    lb       raft.LoopbackTransport
    hasState bool
}

func New(opts Options) (*Node, error) {
    if opts.NodeID == "" {
        return nil, fmt.Errorf("raftcons: empty NodeID")
    }
    if opts.State == nil {
        return nil, fmt.Errorf("raftcons: nil State")
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Node{opts: opts, log: opts.Logger, lch: make(chan c.LeaderInfo, 16)}, nil
}

func (n *Node) Start(ctx context.Context) error {
    if n.r != nil {
        return nil
    }

    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    cfg.Logger = hclog.New(&hclog.LoggerOptions{
        Name:   "raft",
        Output: n.log.Writer(),
        Level:  hclog.Warn,
    })
    if n.opts.HeartbeatTimeout > 0 {
        cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
        if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
            cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout
        }
    }
    if n.opts.ElectionTimeout > 0 {
        cfg.ElectionTimeout = n.opts.ElectionTimeout
    }
    if n.opts.CommitTimeout > 0 {
        cfg.CommitTimeout = n.opts.CommitTimeout
    }
    if n.opts.SnapshotThreshold > 0 {
        cfg.SnapshotThreshold = n.opts.SnapshotThreshold
    }
    if n.opts.SnapshotInterval > 0 {
        cfg.SnapshotInterval = n.opts.SnapshotInterval
    }
    if n.opts.TrailingLogs > 0 {
        cfg.TrailingLogs = n.opts.TrailingLogs
    }

    var (
        snaps raft.SnapshotStore
        addr  raft.ServerAddress
        trans raft.Transport
        err   error
    )
    if n.opts.DataDir != "" {
        if n.opts.SnapshotsRetained == 0 {
            n.opts.SnapshotsRetained = 2
        }
        n.ls, err = NewBoltLogStore(n.opts.DataDir)
        if err != nil {
            return err
        }
        snaps, err = raft.NewFileSnapshotStore(n.opts.DataDir, n.opts.SnapshotsRetained, os.Stderr)
        if err != nil {
            return err
        }
    } else {
        n.ls = NewInmemLogStore()
        snaps = raft.NewInmemSnapshotStore()
    }
    n.cs = NewConfigStore(n.opts.DataDir)

    if has, herr := raft.HasExistingState(n.ls, n.ls, snaps); herr == nil {
        n.hasState = has
    }

    if n.opts.BindAddr != "" {
        nt, terr := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, 1*time.Second, os.Stderr)
        if terr != nil {
            return terr
        }
        trans = nt
        addr = nt.LocalAddr()
    } else {
        addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
    }

    n.fsm = newKeeperFSM(n.opts.State, n.opts.Queue, n.opts.OnFatal)

    r, err := raft.NewRaft(cfg, n.fsm, n.ls, n.ls, snaps, trans)
    if err != nil {
        return err
    }
    n.r = r
    n.addr = addr
    n.trans = trans
    if lb, ok := n.trans.(raft.LoopbackTransport); ok {
        n.lb = lb
    }

    obsCh := make(chan raft.Observation, 32)
    observer := raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
        switch o.Data.(type) {
        case raft.LeaderObservation, raft.PeerObservation:
            return true
        default:
            return false
        }
    })
    n.r.RegisterObserver(observer)
    go n.observe(obsCh)

    if n.opts.Bootstrap && !n.hasState {
        if err := n.Bootstrap(); err != nil {
            return err
        }
    }

    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

func (n *Node) observe(ch <-chan raft.Observation) {
    for o := range ch {
        switch o.Data.(type) {
        case raft.LeaderObservation:
            obsmetrics.LeaderChanges.Inc()
            if n.IsLeader() {
                obsmetrics.IsLeader.Set(1)
            } else {
                obsmetrics.IsLeader.Set(0)
            }
            if id, laddr, ok := n.Leader(); ok {
                n.emitLeader(c.LeaderInfo{ID: id, Addr: laddr, Term: n.Term()})
            }
        case raft.PeerObservation:
            n.persistConfig()
        }
    }
}

// HasState reports whether durable raft state existed before Start, i.e.
// this node has been part of a cluster before.
func (n *Node) HasState() bool { return n.hasState }

// SavedConfig returns the durable cluster-config record written on previous
// runs, if any.
func (n *Node) SavedConfig() (ClusterConfig, bool, error) {
    if n.cs == nil {
        n.cs = NewConfigStore(n.opts.DataDir)
    }
    return n.cs.Load()
}

// Bootstrap forms a single-member cluster with this node as its only voter.
func (n *Node) Bootstrap() error {
    if n.r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    cfgs := raft.Configuration{Servers: []raft.Server{{
        ID:      raft.ServerID(n.opts.NodeID),
        Address: n.addr,
    }}}
    if err := n.r.BootstrapCluster(cfgs).Error(); err != nil {
        return err
    }
    n.persistConfig()
    return nil
}

// Propose appends an opaque payload to the replicated log and blocks until
// it is committed and applied, returning the state machine's response.
func (n *Node) Propose(data []byte, timeout time.Duration) (c.Result, error) {
    if n.r == nil {
        return c.Result{}, c.ErrShutdown
    }
    if n.r.State() != raft.Leader {
        return c.Result{}, c.ErrNotLeader
    }
    t := timeout
    if t <= 0 && n.opts.ApplyTimeout > 0 {
        t = n.opts.ApplyTimeout
    }
    af := n.r.Apply(data, t)
    if err := af.Error(); err != nil {
        return c.Result{}, mapRaftError(err)
    }
    res := c.Result{Index: af.Index(), Term: n.Term()}
    if v := af.Response(); v != nil {
        if e, ok := v.(error); ok && e != nil {
            return res, e
        }
        res.Response = v
    }
    return res, nil
}

func (n *Node) IsLeader() bool {
    if n.r == nil {
        return false
    }
    return n.r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    if n.r == nil {
        return "", "", false
    }
    a, sid := n.r.LeaderWithID()
    if sid == "" {
        return "", "", false
    }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    if n.r == nil {
        return 0
    }
    if v := n.r.Stats()["current_term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil {
            return u
        }
    }
    return 0
}

// CommitIndex returns the highest index known committed by the cluster.
func (n *Node) CommitIndex() uint64 {
    if n.r == nil {
        return 0
    }
    return n.r.CommitIndex()
}

// AppliedIndex returns the highest index applied to the local state machine.
func (n *Node) AppliedIndex() uint64 {
    if n.r == nil {
        return 0
    }
    return n.r.AppliedIndex()
}

// LastContact returns the last time this node heard from the leader. The
// zero time means no contact since start (or this node leads).
func (n *Node) LastContact() time.Time {
    if n.r == nil {
        return time.Time{}
    }
    return n.r.LastContact()
}

func (n *Node) Stop() error {
    if n.r == nil {
        return nil
    }
    n.persistConfig()
    f := n.r.Shutdown()
    if err := f.Error(); err != nil {
        return err
    }
    n.r = nil
    if n.ls != nil {
        _ = n.ls.Close()
    }
    return nil
}

var _ c.Consensus = (*Node)(nil)
var _ c.Progress = (*Node)(nil)
var _ c.Reconfigurer = (*Node)(nil)
var _ c.LeaderNotifier = (*Node)(nil)

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
    }
}

// persistConfig records the committed configuration in the durable
// cluster-config store.
func (n *Node) persistConfig() {
    if n.r == nil || n.cs == nil {
        return
    }
    cf := n.r.GetConfiguration()
    if err := cf.Error(); err != nil {
        return
    }
    cfg := ClusterConfig{LocalID: n.opts.NodeID, Index: cf.Index()}
    for _, srv := range cf.Configuration().Servers {
        cfg.Servers = append(cfg.Servers, c.Server{
            ID:    string(srv.ID),
            Addr:  string(srv.Address),
            Voter: srv.Suffrage == raft.Voter,
        })
    }
    obsmetrics.ClusterServers.Set(float64(len(cfg.Servers)))
    if err := n.cs.Save(cfg); err != nil {
        n.log.Printf("raftcons: persist config: %v", err)
    }
}

func mapRaftError(err error) error {
    switch {
    case errors.Is(err, raft.ErrNotLeader),
        errors.Is(err, raft.ErrLeadershipLost),
        errors.Is(err, raft.ErrLeadershipTransferInProgress):
        return c.ErrNotLeader
    case errors.Is(err, raft.ErrEnqueueTimeout):
        return c.ErrTimeout
    case errors.Is(err, raft.ErrRaftShutdown):
        return c.ErrShutdown
    default:
        return err
    }
}

// AddVoter adds a voting server to the cluster if not already present. A
// stale entry with the same id but a different address is replaced.
func (n *Node) AddVoter(id, addr string, timeout time.Duration) error {
    return n.addServer(id, addr, true, timeout)
}

// AddNonvoter adds a server that replicates the log but never campaigns.
func (n *Node) AddNonvoter(id, addr string, timeout time.Duration) error {
    return n.addServer(id, addr, false, timeout)
}

func (n *Node) addServer(id, addr string, voter bool, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    cfg := n.r.GetConfiguration()
    if err := cfg.Error(); err == nil {
        for _, srv := range cfg.Configuration().Servers {
            if string(srv.ID) == id {
                if string(srv.Address) == addr && (srv.Suffrage == raft.Voter) == voter {
                    return nil
                }
                rf := n.r.RemoveServer(srv.ID, 0, timeout)
                if err := rf.Error(); err != nil {
                    return mapRaftError(err)
                }
                break
            }
        }
    }
    var f raft.IndexFuture
    if voter {
        f = n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout)
    } else {
        f = n.r.AddNonvoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout)
    }
    if err := f.Error(); err != nil {
        return mapRaftError(err)
    }
    n.persistConfig()
    return nil
}

// RemoveServer removes a server from the cluster if present.
func (n *Node) RemoveServer(id string, timeout time.Duration) error {
    if n.r == nil {
        return fmt.Errorf("raftcons: not started")
    }
    f := n.r.RemoveServer(raft.ServerID(id), 0, timeout)
    if err := f.Error(); err != nil {
        return mapRaftError(err)
    }
    n.persistConfig()
    return nil
}

// Servers returns the latest committed configuration.
func (n *Node) Servers() ([]c.Server, error) {
    if n.r == nil {
        return nil, fmt.Errorf("raftcons: not started")
    }
    cf := n.r.GetConfiguration()
    if err := cf.Error(); err != nil {
        return nil, err
    }
    var out []c.Server
    for _, srv := range cf.Configuration().Servers {
        out = append(out, c.Server{
            ID:    string(srv.ID),
            Addr:  string(srv.Address),
            Voter: srv.Suffrage == raft.Voter,
        })
    }
    return out, nil
}

// WaitForServer polls the committed configuration until id becomes visible
// or the timeout elapses.
func (n *Node) WaitForServer(id string, timeout time.Duration) bool {
    deadline := time.Now().Add(timeout)
    for {
        if srvs, err := n.Servers(); err == nil {
            for _, s := range srvs {
                if s.ID == id {
                    return true
                }
            }
        }
        if time.Now().After(deadline) {
            return false
        }
        time.Sleep(100 * time.Millisecond)
    }
}

// ConnectLoopback wires two in-memory transports together (tests and demos).
func (n *Node) ConnectLoopback(peer *Node) {
    if n.lb == nil || peer == nil || peer.lb == nil {
        return
    }
    n.lb.Connect(peer.addr, peer.lb)
    peer.lb.Connect(n.addr, n.lb)
}

// Addr returns the consensus transport address of this node.
func (n *Node) Addr() string { return string(n.addr) }

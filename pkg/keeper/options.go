package keeper

import (
    "errors"
    "log"

    "github.com/amirimatin/go-keeper/pkg/consensus"
    "github.com/amirimatin/go-keeper/pkg/discovery"
    "github.com/amirimatin/go-keeper/pkg/membership"
    "github.com/amirimatin/go-keeper/pkg/store"
    "github.com/amirimatin/go-keeper/pkg/transport"
)

type NodeID string

// Options carries dependency-injected components and runtime configuration
// used to assemble the keeper Server. Instances are typically produced from
// bootstrap.Config.
type Options struct {
    // NodeID is the unique identifier of this server within the ensemble.
    NodeID NodeID

    // RaftBind is the consensus transport bind address. Empty selects an
    // in-memory transport (tests, single-process demos).
    RaftBind string

    // DataDir holds the raft log, snapshots and the configuration record.
    // Empty keeps everything in memory.
    DataDir string

    // MgmtAddr is the advertised management address gossiped to peers.
    // Defaults to the RPC server's bound address once started.
    MgmtAddr string

    // CanLead and Priority are the scheduling hints this server advertises.
    // A server with CanLead=false joins the ensemble as a non-voter.
    CanLead  bool
    Priority int32

    // Logger reports operational messages.
    Logger *log.Logger

    // Settings tunes timing and storage behavior. Zero fields take
    // defaults.
    Settings CoordinationSettings

    // Discovery provides seed management addresses for joining.
    Discovery discovery.Discovery

    // Membership is the gossip layer (optional; without it followers
    // cannot resolve the leader's management address on their own).
    Membership membership.Membership

    // Management RPC endpoint and client (optional).
    RPCServer transport.RPCServer
    RPCClient transport.RPCClient

    // Consensus is an optional injected engine; when nil a raft node is
    // built from NodeID, RaftBind, DataDir and Settings.
    Consensus consensus.Consensus

    // Store and Queue are optional pre-built components, used by tests and
    // by callers injecting Consensus (the queue must be the one wired into
    // the injected engine).
    Store *store.Store
    Queue *store.ResponsesQueue
}

// Validate performs a minimal validation of Options. It does not start any
// network activity and is safe to call before New.
func (o Options) Validate() error {
    if o.NodeID == "" {
        return errors.New("keeper: empty NodeID")
    }
    if o.Logger == nil {
        return errors.New("keeper: nil Logger")
    }
    if err := o.Settings.Validate(); err != nil {
        return err
    }
    return nil
}

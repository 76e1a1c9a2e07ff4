package bootstrap

import (
    "context"
    "crypto/tls"
    "log"
    "time"

    "github.com/amirimatin/go-keeper/pkg/discovery"
    dDNS "github.com/amirimatin/go-keeper/pkg/discovery/dns"
    dFile "github.com/amirimatin/go-keeper/pkg/discovery/file"
    dStatic "github.com/amirimatin/go-keeper/pkg/discovery/static"
    "github.com/amirimatin/go-keeper/pkg/keeper"
    "github.com/amirimatin/go-keeper/pkg/membership"
    ml "github.com/amirimatin/go-keeper/pkg/membership/memberlist"
    tlsx "github.com/amirimatin/go-keeper/pkg/security/tlsconfig"
    "github.com/amirimatin/go-keeper/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-keeper/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-keeper/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a keeper node with sensible
// defaults. Applications embed the keeper by providing this structure and
// calling Build/Run.
type Config struct {
    // Identity and addresses
    NodeID   string
    RaftAddr string // consensus bind, e.g. ":9521"; empty → in-memory
    MemBind  string // membership bind host:port
    MemAdv   string // optional advertise host:port

    // Management API (status/add-server/remove-server/session/submit)
    MgmtAddr  string // host:port for management API
    MgmtProto string // "http" (default) or "grpc"

    // Scheduling hints advertised to the ensemble
    CanLead  bool
    Priority int32

    // Discovery settings
    DiscoveryKind string        // "static" (default), "dns", or "file"
    SeedsCSV      string        // used when DiscoveryKind=static
    DNSNamesCSV   string        // used when kind=dns
    DNSPort       int           // used when kind=dns (A/AAAA)
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    FilePath      string        // used when kind=file
    FileEnv       string        // used when kind=file

    // Persistence and quorum forming
    DataDir          string // empty → in-memory
    ShouldFormQuorum bool   // bootstrap a fresh ensemble when no prior state

    // Coordination tuning (zero fields take defaults)
    Settings keeper.CoordinationSettings

    // TLS (optional) for the management API
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

// Build assembles a keeper.Server from Config without starting it.
func Build(cfg Config) (*keeper.Server, error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }

    disc := buildDiscovery(cfg)

    // Gossip meta carries the management and consensus addresses so peers
    // can resolve each other without extra lookups.
    var mem membership.Membership
    if cfg.MemBind != "" {
        meta := membership.EncodeMeta(cfg.MgmtAddr, cfg.RaftAddr, cfg.CanLead, cfg.Priority)
        m, err := ml.New(ml.Options{
            NodeID:    cfg.NodeID,
            Bind:      cfg.MemBind,
            Advertise: cfg.MemAdv,
            Logger:    cfg.Logger,
            Meta:      meta,
        })
        if err != nil { return nil, err }
        mem = m
    }

    var srvTLS, cliTLS *tls.Config
    if cfg.TLSEnable {
        topts := tlsx.Options{
            Enable:             true,
            CAFile:             cfg.TLSCA,
            CertFile:           cfg.TLSCert,
            KeyFile:            cfg.TLSKey,
            InsecureSkipVerify: cfg.TLSSkipVerify,
            ServerName:         cfg.TLSServerName,
        }
        s, err := topts.Server()
        if err != nil { return nil, err }
        c, err := topts.Client()
        if err != nil { return nil, err }
        srvTLS, cliTLS = s, c
    }

    var srv transport.RPCServer
    var cli transport.RPCClient
    switch cfg.MgmtProto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        c := mgmtgrpc.NewClient(3 * time.Second)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        srv, cli = s, c
    default:
        s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        c := httpjson.NewClient(3 * time.Second)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        srv, cli = s, c
    }

    return keeper.New(keeper.Options{
        NodeID:     keeper.NodeID(cfg.NodeID),
        RaftBind:   cfg.RaftAddr,
        DataDir:    cfg.DataDir,
        MgmtAddr:   cfg.MgmtAddr,
        CanLead:    cfg.CanLead,
        Priority:   cfg.Priority,
        Logger:     cfg.Logger,
        Settings:   cfg.Settings,
        Discovery:  disc,
        Membership: mem,
        RPCServer:  srv,
        RPCClient:  cli,
    })
}

func buildDiscovery(cfg Config) discovery.Discovery {
    switch cfg.DiscoveryKind {
    case "dns":
        opts := dDNS.Options{Names: dStatic.Parse(cfg.DNSNamesCSV), Port: cfg.DNSPort}
        if cfg.DiscRefresh > 0 { opts.Refresh = cfg.DiscRefresh }
        return dDNS.New(opts)
    case "file":
        opts := dFile.Options{Path: cfg.FilePath, Env: cfg.FileEnv}
        if cfg.DiscRefresh > 0 { opts.Refresh = cfg.DiscRefresh }
        return dFile.New(opts)
    default:
        return dStatic.FromCSV(cfg.SeedsCSV)
    }
}

// Run builds and starts the keeper node, returning the instance for
// lifecycle control. The caller is responsible for Shutdown when finished.
func Run(ctx context.Context, cfg Config) (*keeper.Server, error) {
    s, err := Build(cfg)
    if err != nil { return nil, err }
    if err := s.Startup(ctx, cfg.ShouldFormQuorum); err != nil { return nil, err }
    return s, nil
}

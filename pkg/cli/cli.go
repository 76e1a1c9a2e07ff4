package cli

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/google/uuid"
    "github.com/spf13/cobra"

    "github.com/amirimatin/go-keeper/pkg/bootstrap"
    tracing "github.com/amirimatin/go-keeper/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-keeper/pkg/security/tlsconfig"
    "github.com/amirimatin/go-keeper/pkg/store"
    "github.com/amirimatin/go-keeper/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-keeper/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-keeper/pkg/transport/httpjson"
)

// AddAll attaches keeper subcommands to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewAddServerCmd())
    root.AddCommand(NewRemoveServerCmd())
    root.AddCommand(NewSessionCmd())
    root.AddCommand(NewPutCmd())
}

// NewKeeperCommand returns a parent command "keeper" with all subcommands.
func NewKeeperCommand() *cobra.Command {
    parent := &cobra.Command{Use: "keeper", Short: "keeper ensemble management commands"}
    AddAll(parent)
    return parent
}

// clientFlags bundles the flags shared by every command that dials a node's
// management endpoint.
type clientFlags struct {
    addr      string
    mgmtProto string
    timeout   time.Duration

    tlsEnable, tlsSkip                    bool
    tlsCA, tlsCert, tlsKey, tlsServerName string
}

func (f *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    cmd.Flags().StringVar(&f.mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Second, "request timeout")
    cmd.Flags().BoolVar(&f.tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    cmd.Flags().StringVar(&f.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&f.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    cmd.Flags().StringVar(&f.tlsKey, "tls-key", "", "path to client private key (PEM)")
    cmd.Flags().BoolVar(&f.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&f.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (f *clientFlags) client() (transport.RPCClient, error) {
    var cliTLS *tls.Config
    if f.tlsEnable {
        topts := tlsx.Options{
            Enable:             true,
            CAFile:             f.tlsCA,
            CertFile:           f.tlsCert,
            KeyFile:            f.tlsKey,
            InsecureSkipVerify: f.tlsSkip,
            ServerName:         f.tlsServerName,
        }
        c, err := topts.Client()
        if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
        cliTLS = c
    }
    switch f.mgmtProto {
    case "grpc":
        cli := mgmtgrpc.NewClient(f.timeout)
        if cliTLS != nil { cli.UseTLS(cliTLS) }
        return cli, nil
    default:
        cli := httpjson.NewClient(f.timeout)
        if cliTLS != nil { cli.UseTLS(cliTLS) }
        return cli, nil
    }
}

func printJSON(v any) error { return json.NewEncoder(os.Stdout).Encode(v) }

// NewRunCmd returns the "run" command used to start a keeper node.
func NewRunCmd() *cobra.Command {
    var (
        id, raftAddr, memBind, memAdv, joinCSV, mgmtAddr, mgmtProto, discoveryKind string
        dnsNames, filePath, fileEnv                                                string
        dnsPort                                                                    int
        discRefresh                                                                time.Duration
        tlsEnable, tlsSkip, traceEnable, formQuorum, canLead                       bool
        priority                                                                   int32
        tlsCA, tlsCert, tlsKey, tlsServerName, dataDir                             string
        opTimeout, sessionDefault                                                  time.Duration
    )
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a keeper node",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" { return fmt.Errorf("missing -id") }
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg := bootstrap.Config{
                NodeID:           id,
                RaftAddr:         raftAddr,
                MemBind:          memBind,
                MemAdv:           memAdv,
                MgmtAddr:         mgmtAddr,
                MgmtProto:        mgmtProto,
                CanLead:          canLead,
                Priority:         priority,
                DiscoveryKind:    discoveryKind,
                SeedsCSV:         joinCSV,
                DNSNamesCSV:      dnsNames,
                DNSPort:          dnsPort,
                DiscRefresh:      discRefresh,
                FilePath:         filePath,
                FileEnv:          fileEnv,
                DataDir:          dataDir,
                ShouldFormQuorum: formQuorum,
                TLSEnable:        tlsEnable,
                TLSCA:            tlsCA,
                TLSCert:          tlsCert,
                TLSKey:           tlsKey,
                TLSServerName:    tlsServerName,
                TLSSkipVerify:    tlsSkip,
                Logger:           log.Default(),
            }
            cfg.Settings.OperationTimeout = opTimeout
            cfg.Settings.SessionTimeoutDefault = sessionDefault
            s, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer s.Close()

            fmt.Println("keeper running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "server id (required)")
    cmd.Flags().StringVar(&raftAddr, "raft-addr", ":9520", "consensus bind addr (tcp)")
    cmd.Flags().StringVar(&memBind, "mem-bind", ":7946", "membership bind addr (host:port)")
    cmd.Flags().StringVar(&memAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
    cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated seed nodes (host:port) — used by discovery=static")
    cmd.Flags().StringVar(&mgmtAddr, "mgmt-addr", ":17946", "management address (tcp), separate from membership port")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().BoolVar(&canLead, "can-lead", true, "whether this server may become leader (false joins as non-voter)")
    cmd.Flags().Int32Var(&priority, "priority", 1, "election priority hint recorded with the membership bookkeeping")
    cmd.Flags().StringVar(&discoveryKind, "discovery", "static", "discovery backend: static|dns|file")
    cmd.Flags().StringVar(&dnsNames, "dns-names", "", "comma-separated DNS names or SRV records (e.g., _keeper._tcp.example.com)")
    cmd.Flags().IntVar(&dnsPort, "dns-port", 7946, "port used for A/AAAA lookups")
    cmd.Flags().DurationVar(&discRefresh, "disc-refresh", 5*time.Second, "discovery refresh/cache duration")
    cmd.Flags().StringVar(&filePath, "file-path", "", "path or glob to a file with seeds (one per line or CSV)")
    cmd.Flags().StringVar(&fileEnv, "file-env", "", "ENV var name containing CSV seeds; overrides file when set")
    cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "enable mTLS for management transport")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "path to node certificate (PEM)")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "path to node private key (PEM)")
    cmd.Flags().BoolVar(&tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    cmd.Flags().StringVar(&tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    cmd.Flags().BoolVar(&formQuorum, "form-quorum", false, "form a fresh ensemble when no prior state exists")
    cmd.Flags().StringVar(&dataDir, "data", "", "data dir for raft log and snapshots (empty: in-memory)")
    cmd.Flags().DurationVar(&opTimeout, "op-timeout", 0, "commit wait for client operations (0: default)")
    cmd.Flags().DurationVar(&sessionDefault, "session-timeout", 0, "default session timeout (0: default)")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch ensemble status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            data, err := client.GetStatus(ctx, f.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            os.Stdout.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { os.Stdout.Write([]byte("\n")) }
            return nil
        },
    }
    f.register(cmd)
    return cmd
}

// NewAddServerCmd returns the "add-server" command.
func NewAddServerCmd() *cobra.Command {
    var (
        f                  clientFlags
        id, raftAddr, mgmt string
        canLead            bool
        priority           int32
    )
    cmd := &cobra.Command{
        Use:   "add-server",
        Short: "Ask the leader to add a server to the ensemble",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" || raftAddr == "" { return fmt.Errorf("missing required flags: -id and -raft-addr") }
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            resp, err := client.PostAddServer(ctx, f.addr, transport.AddServerRequest{
                ID:       id,
                RaftAddr: raftAddr,
                MgmtAddr: mgmt,
                CanLead:  canLead,
                Priority: priority,
            })
            if err != nil { return fmt.Errorf("add-server error: %w", err) }
            return printJSON(resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "server id to add (required)")
    cmd.Flags().StringVar(&raftAddr, "raft-addr", "", "server consensus address (host:port, required)")
    cmd.Flags().StringVar(&mgmt, "server-mgmt-addr", "", "server management address recorded in the bookkeeping")
    cmd.Flags().BoolVar(&canLead, "can-lead", true, "add as voter (false: non-voter)")
    cmd.Flags().Int32Var(&priority, "priority", 1, "election priority hint")
    f.register(cmd)
    return cmd
}

// NewRemoveServerCmd returns the "remove-server" command.
func NewRemoveServerCmd() *cobra.Command {
    var (
        f  clientFlags
        id string
    )
    cmd := &cobra.Command{
        Use:   "remove-server",
        Short: "Ask the leader to remove a server from the ensemble",
        RunE: func(cmd *cobra.Command, args []string) error {
            if id == "" { return fmt.Errorf("missing required flag: -id") }
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            resp, err := client.PostRemoveServer(ctx, f.addr, transport.RemoveServerRequest{ID: id})
            if err != nil { return fmt.Errorf("remove-server error: %w", err) }
            return printJSON(resp)
        },
    }
    cmd.Flags().StringVar(&id, "id", "", "server id to remove (required)")
    f.register(cmd)
    return cmd
}

// NewSessionCmd returns the "session" command allocating a new session.
func NewSessionCmd() *cobra.Command {
    var (
        f       clientFlags
        timeout time.Duration
    )
    cmd := &cobra.Command{
        Use:   "session",
        Short: "Allocate a replicated session",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            resp, err := client.PostNewSession(ctx, f.addr, transport.NewSessionRequest{TimeoutMs: timeout.Milliseconds()})
            if err != nil { return fmt.Errorf("session error: %w", err) }
            return printJSON(resp)
        },
    }
    cmd.Flags().DurationVar(&timeout, "session-timeout", 0, "requested session timeout (0: server default)")
    f.register(cmd)
    return cmd
}

// NewPutCmd returns the "put" command submitting one store operation.
func NewPutCmd() *cobra.Command {
    var (
        f                    clientFlags
        op, path, data, xid  string
        session, version     int64
        ephemeral            bool
    )
    cmd := &cobra.Command{
        Use:   "put",
        Short: "Submit a store operation (create/set/get/delete/exists/list)",
        RunE: func(cmd *cobra.Command, args []string) error {
            if path == "" { return fmt.Errorf("missing required flag: -path") }
            client, err := f.client()
            if err != nil { return err }
            if xid == "" { xid = uuid.NewString() }
            req := transport.SubmitRequest{
                Session: session,
                XID:     xid,
                Request: store.Request{
                    Op:        store.Op(op),
                    Path:      path,
                    Data:      []byte(data),
                    Version:   version,
                    Ephemeral: ephemeral,
                },
            }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            resp, err := client.PostSubmit(ctx, f.addr, req)
            if err != nil { return fmt.Errorf("put error: %w", err) }
            return printJSON(resp)
        },
    }
    cmd.Flags().StringVar(&op, "op", "get", "operation: create|set|get|delete|exists|list")
    cmd.Flags().StringVar(&path, "path", "", "node path, e.g. /services/api (required)")
    cmd.Flags().StringVar(&data, "data", "", "value payload for create/set")
    cmd.Flags().StringVar(&xid, "xid", "", "correlation token (default: random UUID)")
    cmd.Flags().Int64Var(&session, "session", 0, "session id owning the request")
    cmd.Flags().Int64Var(&version, "version", -1, "expected version for set/delete (-1: any)")
    cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "create an ephemeral node tied to the session")
    f.register(cmd)
    return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}

package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-keeper/pkg/observability/tracing"
    "github.com/amirimatin/go-keeper/pkg/transport"
)

// Server is a minimal HTTP server exposing the management endpoints plus
// metrics and healthz. It is intended for intra-cluster calls and tooling.
type Server struct {
    bind   string
    srv    *http.Server
    logger *log.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil {
        logger = log.Default()
    }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Start launches the HTTP server and registers handlers backed by h. The
// server is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        if h.Status == nil {
            http.Error(w, "status not supported", http.StatusNotImplemented)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := h.Status(ctx)
        if err != nil {
            http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
            return
        }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())

    handlePost(mux, "/add-server", "http.add-server", h.AddServer)
    handlePost(mux, "/remove-server", "http.remove-server", h.RemoveServer)
    handlePost(mux, "/session", "http.session", h.NewSession)
    handlePost(mux, "/submit", "http.submit", h.Submit)

    s.srv = &http.Server{Addr: s.bind, Handler: mux}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    s.bind = ln.Addr().String()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            s.logger.Printf("httpjson: server error: %v", err)
        }
    }()
    return nil
}

// handlePost registers a JSON POST endpoint for fn. A nil fn answers 501.
// Handler errors are carried in the response body with a 500 status.
func handlePost[Req any, Resp any](mux *http.ServeMux, path, span string, fn func(ctx context.Context, req Req) (Resp, error)) {
    mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        if fn == nil {
            http.Error(w, "not supported", http.StatusNotImplemented)
            return
        }
        var req Req
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), span)
        defer end()
        resp, err := fn(ctx, req)
        w.Header().Set("Content-Type", "application/json")
        if err != nil {
            w.WriteHeader(http.StatusInternalServerError)
        }
        _ = json.NewEncoder(w).Encode(resp)
    })
}

// Addr returns the bound address (resolved after Start).
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil {
        return nil
    }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}

var _ transport.RPCServer = (*Server)(nil)

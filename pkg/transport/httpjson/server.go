package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/villagesql/semisync/pkg/observability/tracing"
    "github.com/villagesql/semisync/pkg/transport"
)

// Server is a minimal HTTP server exposing management endpoints for status,
// trace level and metrics/healthz. It is intended for operator tooling and
// development.
type Server struct {
    bind   string
    srv    *http.Server
    logger *log.Logger
    tlsCfg *tls.Config

    mu   sync.Mutex
    addr string
}

// NewServer binds to the given TCP address (e.g., ":17932").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Start launches the HTTP server and registers handlers backed by the provided
// functions. The server is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, trace transport.TraceFunc, remove transport.RemoveFunc) error {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    // Prometheus metrics
    mux.Handle("/metrics", promhttp.Handler())
    mux.HandleFunc("/trace", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if trace == nil { http.Error(w, "trace not supported", http.StatusNotImplemented); return }
        var req transport.TraceRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.trace")
        defer end()
        resp, err := trace(ctx, req)
        w.Header().Set("Content-Type", "application/json")
        if err != nil {
            if resp.Error == "" { resp.Error = err.Error() }
            w.WriteHeader(http.StatusInternalServerError)
            _ = json.NewEncoder(w).Encode(resp)
            return
        }
        _ = json.NewEncoder(w).Encode(resp)
    })
    mux.HandleFunc("/remove", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if remove == nil { http.Error(w, "remove not supported", http.StatusNotImplemented); return }
        var req transport.RemoveRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.remove")
        defer end()
        resp, err := remove(ctx, req)
        w.Header().Set("Content-Type", "application/json")
        if err != nil {
            if resp.Error == "" { resp.Error = err.Error() }
            w.WriteHeader(http.StatusInternalServerError)
            _ = json.NewEncoder(w).Encode(resp)
            return
        }
        _ = json.NewEncoder(w).Encode(resp)
    })

    s.srv = &http.Server{Addr: s.bind, Handler: mux}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.mu.Lock()
    s.addr = ln.Addr().String()
    s.mu.Unlock()
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }

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

// Addr returns the bound listen address once Start has succeeded, otherwise
// the configured bind address. Useful with ":0" binds in tests.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.addr != "" { return s.addr }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}

var _ transport.RPCServer = (*Server)(nil)

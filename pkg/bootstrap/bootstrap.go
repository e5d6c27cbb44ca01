// Package bootstrap assembles a complete ack receiver daemon (receiver,
// quorum coordinator, dump acceptor, management API) from a flat Config with
// sensible defaults.
package bootstrap

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "log"
    "time"

    "github.com/caarlos0/env/v11"

    "github.com/villagesql/semisync/pkg/ackreceiver"
    "github.com/villagesql/semisync/pkg/coordinator"
    "github.com/villagesql/semisync/pkg/dump"
    tlsx "github.com/villagesql/semisync/pkg/security/tlsconfig"
    "github.com/villagesql/semisync/pkg/timesvc"
    "github.com/villagesql/semisync/pkg/transport"
    mgmtgrpc "github.com/villagesql/semisync/pkg/transport/grpc"
    "github.com/villagesql/semisync/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble a daemon. Every field maps to
// a SEMISYNC_* environment variable so containerized deployments can run with
// configuration from the environment alone.
type Config struct {
    // Receiver behavior
    Enabled       bool          `env:"SEMISYNC_ENABLED" envDefault:"true"`
    PollTimeout   time.Duration `env:"SEMISYNC_POLL_TIMEOUT" envDefault:"1s"`
    TraceLevel    uint32        `env:"SEMISYNC_TRACE_LEVEL" envDefault:"0"`
    TimestampMode string        `env:"SEMISYNC_TIMESTAMP_MODE" envDefault:"system-default"`

    // Commit quorum: how many distinct replicas must ack a position before a
    // commit waiter is released.
    Quorum int `env:"SEMISYNC_QUORUM" envDefault:"1"`

    // Replica dump sessions
    DumpBind         string        `env:"SEMISYNC_DUMP_BIND" envDefault:":13307"`
    HandshakeTimeout time.Duration `env:"SEMISYNC_HANDSHAKE_TIMEOUT" envDefault:"5s"`

    // Management API (status/trace/metrics)
    MgmtAddr  string `env:"SEMISYNC_MGMT_ADDR" envDefault:":17932"`
    MgmtProto string `env:"SEMISYNC_MGMT_PROTO" envDefault:"http"` // "http" or "grpc"

    // TLS (optional) for the management API
    TLSEnable     bool   `env:"SEMISYNC_TLS_ENABLE"`
    TLSCA         string `env:"SEMISYNC_TLS_CA"`
    TLSCert       string `env:"SEMISYNC_TLS_CERT"`
    TLSKey        string `env:"SEMISYNC_TLS_KEY"`
    TLSServerName string `env:"SEMISYNC_TLS_SERVER_NAME"`
    TLSSkipVerify bool   `env:"SEMISYNC_TLS_SKIP_VERIFY"`

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger `env:"-"`

    // Coordinator (optional) overrides the built-in quorum coordinator, for
    // embedders that release commit waiters themselves.
    Coordinator coordinator.Coordinator `env:"-"`
}

// FromEnv reads a Config from SEMISYNC_* environment variables.
func FromEnv() (Config, error) {
    var cfg Config
    if err := env.Parse(&cfg); err != nil {
        return cfg, err
    }
    return cfg, nil
}

// Daemon is a fully wired ack receiver stack.
type Daemon struct {
    cfg Config

    Receiver *ackreceiver.Receiver
    Quorum   *coordinator.Quorum
    Acceptor *dump.Acceptor
    Mgmt     transport.RPCServer

    grpcMgmt *mgmtgrpc.Server
    cancel   context.CancelFunc
}

// Build assembles a Daemon from Config without starting it.
func Build(cfg Config) (*Daemon, error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }

    coord := cfg.Coordinator
    var quorum *coordinator.Quorum
    if coord == nil {
        quorum = coordinator.NewQuorum(cfg.Quorum)
        coord = quorum
    }

    tsMode, err := timesvc.ParseMode(cfg.TimestampMode)
    if err != nil { return nil, err }

    recv, err := ackreceiver.New(ackreceiver.Options{
        Enabled:       cfg.Enabled,
        Coordinator:   coord,
        PollTimeout:   cfg.PollTimeout,
        TraceLevel:    cfg.TraceLevel,
        TimestampMode: tsMode,
        Logger:        cfg.Logger,
    })
    if err != nil { return nil, err }

    acceptor, err := dump.New(dump.Options{
        Bind:             cfg.DumpBind,
        Receiver:         recv,
        HandshakeTimeout: cfg.HandshakeTimeout,
        Logger:           cfg.Logger,
    })
    if err != nil { return nil, err }

    var srvTLS *tls.Config
    if cfg.TLSEnable {
        topts := tlsx.Options{Enable: true, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
        // Prefer hot-reload configs to allow manual rotation by replacing files
        if s, err := topts.ServerHotReload(); err == nil { srvTLS = s } else { return nil, err }
    }

    d := &Daemon{cfg: cfg, Receiver: recv, Quorum: quorum, Acceptor: acceptor}
    switch cfg.MgmtProto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        d.Mgmt, d.grpcMgmt = s, s
    default:
        s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        d.Mgmt = s
    }
    return d, nil
}

// statusPayload is the JSON shape served by the management /status endpoint.
type statusPayload struct {
    ackreceiver.Status
    DumpAddr string `json:"dumpAddr"`
    Quorum   int    `json:"quorum,omitempty"`
}

// Start launches the receiver, the dump acceptor, and the management API.
func (d *Daemon) Start(ctx context.Context) error {
    ctx, cancel := context.WithCancel(ctx)
    d.cancel = cancel

    if err := d.Receiver.Start(); err != nil {
        cancel()
        return err
    }
    if err := d.Acceptor.Start(ctx); err != nil {
        cancel()
        _ = d.Receiver.Stop()
        return err
    }

    status := func(context.Context) ([]byte, error) {
        p := statusPayload{Status: d.Receiver.Status(), DumpAddr: d.Acceptor.Addr(), Quorum: d.cfg.Quorum}
        return json.Marshal(p)
    }
    trace := func(_ context.Context, req transport.TraceRequest) (transport.TraceResponse, error) {
        d.Receiver.SetTraceLevel(req.Level)
        return transport.TraceResponse{Accepted: true, Level: d.Receiver.TraceLevel()}, nil
    }
    remove := func(_ context.Context, req transport.RemoveRequest) (transport.RemoveResponse, error) {
        if err := d.Acceptor.Detach(req.ThreadID); err != nil {
            return transport.RemoveResponse{Accepted: false, Error: err.Error()}, nil
        }
        return transport.RemoveResponse{Accepted: true}, nil
    }
    if err := d.Mgmt.Start(ctx, status, trace, remove); err != nil {
        cancel()
        _ = d.Acceptor.Stop()
        _ = d.Receiver.Stop()
        return err
    }

    // Feed decoded acks to gRPC watch subscribers.
    if d.grpcMgmt != nil {
        events := d.Receiver.Subscribe(ctx)
        go func() {
            for ev := range events {
                if ev.Type != ackreceiver.EventAck {
                    continue
                }
                d.grpcMgmt.Broadcast(mgmtgrpc.AckMsg{
                    ServerID: ev.ServerID,
                    LogFile:  ev.LogFile,
                    LogPos:   ev.LogPos,
                    At:       ev.At.UTC().Format(time.RFC3339Nano),
                })
            }
        }()
    }
    return nil
}

// Stop tears the daemon down in dependency order: management surface first,
// then the acceptor (which detaches sessions), then the receiver.
func (d *Daemon) Stop(ctx context.Context) error {
    if d.cancel != nil { d.cancel() }
    var firstErr error
    if err := d.Mgmt.Stop(ctx); err != nil && firstErr == nil { firstErr = err }
    if err := d.Acceptor.Stop(); err != nil && firstErr == nil { firstErr = err }
    if err := d.Receiver.Stop(); err != nil && firstErr == nil { firstErr = err }
    if d.Quorum != nil { d.Quorum.Stop() }
    return firstErr
}

// Run builds and starts a daemon, returning it for lifecycle control.
func Run(ctx context.Context, cfg Config) (*Daemon, error) {
    d, err := Build(cfg)
    if err != nil { return nil, err }
    if err := d.Start(ctx); err != nil { return nil, err }
    return d, nil
}

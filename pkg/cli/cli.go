// Package cli provides the semisync daemon and management subcommands, for
// reuse by services that embed the receiver.
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

    "github.com/spf13/cobra"

    "github.com/villagesql/semisync/pkg/bootstrap"
    tracing "github.com/villagesql/semisync/pkg/observability/tracing"
    tlsx "github.com/villagesql/semisync/pkg/security/tlsconfig"
    "github.com/villagesql/semisync/pkg/transport"
    mgmtgrpc "github.com/villagesql/semisync/pkg/transport/grpc"
    httpjson "github.com/villagesql/semisync/pkg/transport/httpjson"
)

// AddAll attaches semisync subcommands (run/status/trace/remove/watch) to the
// provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewTraceCmd())
    root.AddCommand(NewRemoveCmd())
    root.AddCommand(NewWatchCmd())
}

// NewRunCmd returns the "run" command used to start the ack receiver daemon.
// Flags override SEMISYNC_* environment defaults.
func NewRunCmd() *cobra.Command {
    cfg, envErr := bootstrap.FromEnv()
    var traceEnable bool
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run the semisync ack receiver daemon",
        RunE: func(cmd *cobra.Command, args []string) error {
            if envErr != nil { return envErr }
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

            cfg.Logger = log.Default()
            d, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer func() { _ = d.Stop(context.Background()) }()

            fmt.Printf("semisync daemon running (dump %s, mgmt %s). Press Ctrl+C to exit.\n",
                d.Acceptor.Addr(), d.Mgmt.Addr())
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().BoolVar(&cfg.Enabled, "enabled", cfg.Enabled, "enable the ack receiver")
    cmd.Flags().DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "bound on each readiness wait")
    cmd.Flags().Uint32Var(&cfg.TraceLevel, "trace-level", cfg.TraceLevel, "diagnostic trace bitmask")
    cmd.Flags().StringVar(&cfg.TimestampMode, "timestamp-mode", cfg.TimestampMode, "diagnostic timestamp zone: system-default|utc|local")
    cmd.Flags().IntVar(&cfg.Quorum, "quorum", cfg.Quorum, "replicas that must ack before commit waiters release")
    cmd.Flags().StringVar(&cfg.DumpBind, "dump-bind", cfg.DumpBind, "replica dump session listen address (tcp)")
    cmd.Flags().StringVar(&cfg.MgmtAddr, "mgmt-addr", cfg.MgmtAddr, "management address (tcp)")
    cmd.Flags().StringVar(&cfg.MgmtProto, "mgmt-proto", cfg.MgmtProto, "management RPC protocol: http|grpc")
    cmd.Flags().BoolVar(&cfg.TLSEnable, "tls-enable", cfg.TLSEnable, "enable mTLS for management transport")
    cmd.Flags().StringVar(&cfg.TLSCA, "tls-ca", cfg.TLSCA, "path to CA cert (PEM)")
    cmd.Flags().StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "path to certificate (PEM)")
    cmd.Flags().StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "path to private key (PEM)")
    cmd.Flags().StringVar(&cfg.TLSServerName, "tls-server-name", cfg.TLSServerName, "expected server name (for TLS validation)")
    cmd.Flags().BoolVar(&cfg.TLSSkipVerify, "tls-skip-verify", cfg.TLSSkipVerify, "skip server cert verification (DEV ONLY)")
    cmd.Flags().BoolVar(&traceEnable, "otel-trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// clientFlags holds the flags shared by every management client command.
type clientFlags struct {
    addr, proto                           string
    timeout                               time.Duration
    tlsEnable, tlsSkip                    bool
    tlsCA, tlsCert, tlsKey, tlsServerName string
}

func (f *clientFlags) register(cmd *cobra.Command) {
    cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:17932", "management address of the daemon (host:port)")
    cmd.Flags().StringVar(&f.proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
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
        topts := tlsx.Options{Enable: true, CAFile: f.tlsCA, CertFile: f.tlsCert, KeyFile: f.tlsKey, InsecureSkipVerify: f.tlsSkip, ServerName: f.tlsServerName}
        var err error
        cliTLS, err = topts.Client()
        if err != nil { return nil, fmt.Errorf("tls client config: %w", err) }
    }
    switch f.proto {
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

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var f clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch receiver status as JSON",
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

// NewTraceCmd returns the "trace" command, which swaps the daemon's
// diagnostic bitmask at runtime.
func NewTraceCmd() *cobra.Command {
    var (
        f     clientFlags
        level uint32
    )
    cmd := &cobra.Command{
        Use:   "trace",
        Short: "Set the receiver's diagnostic trace bitmask",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            resp, err := client.PostTrace(ctx, f.addr, transport.TraceRequest{Level: level})
            if err != nil { return fmt.Errorf("trace error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    f.register(cmd)
    cmd.Flags().Uint32Var(&level, "level", 0, "bitmask: 1=general 2=detail 4=net-wait 8=function")
    return cmd
}

// NewRemoveCmd returns the "remove" command, which detaches one replica
// session by dump thread id.
func NewRemoveCmd() *cobra.Command {
    var (
        f        clientFlags
        threadID uint32
    )
    cmd := &cobra.Command{
        Use:   "remove",
        Short: "Detach a replica session by thread id",
        RunE: func(cmd *cobra.Command, args []string) error {
            if threadID == 0 { return fmt.Errorf("missing required flag: -thread") }
            client, err := f.client()
            if err != nil { return err }
            ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
            defer cancel()
            resp, err := client.PostRemove(ctx, f.addr, transport.RemoveRequest{ThreadID: threadID})
            if err != nil { return fmt.Errorf("remove error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(resp)
        },
    }
    f.register(cmd)
    cmd.Flags().Uint32Var(&threadID, "thread", 0, "dump thread id to detach (required)")
    return cmd
}

// NewWatchCmd returns the "watch" command, which streams decoded acks from a
// daemon running the gRPC management protocol.
func NewWatchCmd() *cobra.Command {
    var (
        f        clientFlags
        serverID uint32
    )
    cmd := &cobra.Command{
        Use:   "watch",
        Short: "Stream decoded acknowledgments (gRPC only)",
        RunE: func(cmd *cobra.Command, args []string) error {
            f.proto = "grpc"
            client, err := f.client()
            if err != nil { return err }
            gc, ok := client.(*mgmtgrpc.Client)
            if !ok { return fmt.Errorf("watch requires the grpc management protocol") }
            ctx, cancel := signalContext()
            defer cancel()
            return gc.Watch(ctx, f.addr, serverID, func(msg mgmtgrpc.AckMsg) {
                fmt.Printf("ack server=%d file=%s pos=%d at=%s\n", msg.ServerID, msg.LogFile, msg.LogPos, msg.At)
            })
        },
    }
    f.register(cmd)
    cmd.Flags().Uint32Var(&serverID, "server", 0, "filter to one replica server id (0 = all)")
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

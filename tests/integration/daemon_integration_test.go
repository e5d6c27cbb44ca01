//go:build integration

package integration

import (
    "context"
    "encoding/json"
    "errors"
    "net"
    "testing"
    "time"

    "github.com/villagesql/semisync/pkg/bootstrap"
    "github.com/villagesql/semisync/pkg/protocol"
    "github.com/villagesql/semisync/pkg/transport"
    mgmtgrpc "github.com/villagesql/semisync/pkg/transport/grpc"
    httpjson "github.com/villagesql/semisync/pkg/transport/httpjson"
)

var errNotYet = errors.New("not yet")

func waitUntil(t *testing.T, d time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(d)
    var err error
    for time.Now().Before(deadline) {
        if err = fn(); err == nil {
            return
        }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("condition not met within %s: %v", d, err)
}

type statusDoc struct {
    Enabled  bool   `json:"enabled"`
    Running  bool   `json:"running"`
    DumpAddr string `json:"dumpAddr"`
    Replicas []struct {
        ThreadID uint32 `json:"threadId"`
        ServerID uint32 `json:"serverId"`
        Status   string `json:"status"`
    } `json:"replicas"`
    AcksReceived uint64 `json:"acksReceived"`
}

func startDaemon(t *testing.T, ctx context.Context, proto string) *bootstrap.Daemon {
    t.Helper()
    cfg, err := bootstrap.FromEnv()
    if err != nil {
        t.Fatalf("env: %v", err)
    }
    cfg.DumpBind = "127.0.0.1:0"
    cfg.MgmtAddr = "127.0.0.1:0"
    cfg.MgmtProto = proto
    cfg.Quorum = 1
    cfg.PollTimeout = 100 * time.Millisecond
    d, err := bootstrap.Run(ctx, cfg)
    if err != nil {
        t.Fatalf("run: %v", err)
    }
    t.Cleanup(func() { _ = d.Stop(context.Background()) })
    return d
}

func connectReplica(t *testing.T, addr string, serverID uint32) net.Conn {
    t.Helper()
    conn, err := net.Dial("tcp", addr)
    if err != nil {
        t.Fatalf("dial dump: %v", err)
    }
    if _, err := conn.Write(protocol.EncodeHello(protocol.Hello{ServerID: serverID})); err != nil {
        t.Fatalf("hello: %v", err)
    }
    t.Cleanup(func() { _ = conn.Close() })
    return conn
}

func TestDaemon_EndToEndHTTP(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    d := startDaemon(t, ctx, "http")
    conn := connectReplica(t, d.Acceptor.Addr(), 42)

    cli := httpjson.NewClient(3 * time.Second)
    waitUntil(t, 10*time.Second, func() error {
        raw, err := cli.GetStatus(ctx, d.Mgmt.Addr())
        if err != nil {
            return err
        }
        var s statusDoc
        if err := json.Unmarshal(raw, &s); err != nil {
            return err
        }
        if !s.Running || len(s.Replicas) != 1 || s.Replicas[0].ServerID != 42 {
            return errNotYet
        }
        return nil
    })

    // Commit waits release once the replica acks the position.
    done := make(chan error, 1)
    go func() { done <- d.Quorum.Wait(ctx, "binlog.000001", 4096) }()
    frame := protocol.EncodeAck(protocol.Ack{ServerID: 42, LogFile: "binlog.000001", LogPos: 4096})
    if _, err := conn.Write(frame); err != nil {
        t.Fatalf("ack: %v", err)
    }
    select {
    case err := <-done:
        if err != nil {
            t.Fatalf("commit wait: %v", err)
        }
    case <-time.After(10 * time.Second):
        t.Fatalf("commit never released")
    }

    // Trace level round-trips through the management API.
    resp, err := cli.PostTrace(ctx, d.Mgmt.Addr(), transport.TraceRequest{Level: 3})
    if err != nil || !resp.Accepted || resp.Level != 3 {
        t.Fatalf("trace: resp=%+v err=%v", resp, err)
    }
    if lvl := d.Receiver.TraceLevel(); lvl != 3 {
        t.Fatalf("trace level not applied: %d", lvl)
    }

    // Remove detaches the session.
    threadID := d.Receiver.Status().Replicas[0].ThreadID
    rresp, err := cli.PostRemove(ctx, d.Mgmt.Addr(), transport.RemoveRequest{ThreadID: threadID})
    if err != nil || !rresp.Accepted {
        t.Fatalf("remove: resp=%+v err=%v", rresp, err)
    }
    if n := len(d.Receiver.Status().Replicas); n != 0 {
        t.Fatalf("%d replicas after remove", n)
    }
}

func TestDaemon_EndToEndGRPCWatch(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    d := startDaemon(t, ctx, "grpc")
    conn := connectReplica(t, d.Acceptor.Addr(), 7)

    cli := mgmtgrpc.NewClient(3 * time.Second)
    waitUntil(t, 10*time.Second, func() error {
        raw, err := cli.GetStatus(ctx, d.Mgmt.Addr())
        if err != nil {
            return err
        }
        var s statusDoc
        if err := json.Unmarshal(raw, &s); err != nil {
            return err
        }
        if !s.Running || len(s.Replicas) != 1 {
            return errNotYet
        }
        return nil
    })

    got := make(chan mgmtgrpc.AckMsg, 16)
    wctx, wcancel := context.WithCancel(ctx)
    defer wcancel()
    go func() {
        _ = cli.Watch(wctx, d.Mgmt.Addr(), 0, func(msg mgmtgrpc.AckMsg) { got <- msg })
    }()
    // give the stream a moment to attach
    time.Sleep(300 * time.Millisecond)

    frame := protocol.EncodeAck(protocol.Ack{ServerID: 7, LogFile: "binlog.000002", LogPos: 99})
    if _, err := conn.Write(frame); err != nil {
        t.Fatalf("ack: %v", err)
    }
    select {
    case msg := <-got:
        if msg.ServerID != 7 || msg.LogPos != 99 || msg.LogFile != "binlog.000002" {
            t.Fatalf("watch msg: %+v", msg)
        }
    case <-time.After(10 * time.Second):
        t.Fatalf("no watch message")
    }
}

// ackdemo runs an in-process receiver with a few pipe-backed fake replicas,
// printing every decoded ack and the quorum releases. Useful for eyeballing
// the worker without a real primary.
package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/villagesql/semisync/pkg/ackreceiver"
    "github.com/villagesql/semisync/pkg/coordinator"
    "github.com/villagesql/semisync/pkg/protocol"
    "github.com/villagesql/semisync/pkg/session"
)

func main() {
    var (
        replicas = flag.Int("replicas", 3, "number of fake replicas")
        quorum   = flag.Int("quorum", 2, "acks required to release a commit")
        interval = flag.Duration("interval", 500*time.Millisecond, "ack interval per replica")
        trace    = flag.Uint("trace-level", 0, "diagnostic trace bitmask")
    )
    flag.Parse()

    ctx, cancel := signalContext()
    defer cancel()

    q := coordinator.NewQuorum(*quorum)
    r, err := ackreceiver.New(ackreceiver.Options{
        Enabled:     true,
        Coordinator: q,
        TraceLevel:  uint32(*trace),
        PollTimeout: 200 * time.Millisecond,
    })
    if err != nil { log.Fatal(err) }
    if err := r.Start(); err != nil { log.Fatal(err) }
    defer r.Stop()

    go func(evch <-chan ackreceiver.Event) {
        for e := range evch {
            if e.Type != ackreceiver.EventAck { continue }
            fmt.Printf("ack: server=%d file=%s pos=%d at=%s\n", e.ServerID, e.LogFile, e.LogPos, e.At.Format(time.RFC3339))
        }
    }(r.Subscribe(ctx))

    for i := 1; i <= *replicas; i++ {
        rd, wr, err := os.Pipe()
        if err != nil { log.Fatal(err) }
        tr, err := session.NewFDTransport(rd)
        if err != nil { log.Fatal(err) }
        sess := &session.Session{ThreadID: uint32(i), ServerID: uint32(100 + i), Transport: tr}
        if err := r.AddReplica(sess); err != nil { log.Fatal(err) }
        go fakeReplica(ctx, wr, sess.ServerID, *interval)
    }

    go func() {
        pos := uint64(0)
        for ctx.Err() == nil {
            pos += 512
            start := time.Now()
            if err := q.Wait(ctx, "binlog.000001", pos); err != nil { return }
            fmt.Printf("commit released: pos=%d after %s\n", pos, time.Since(start).Round(time.Millisecond))
            time.Sleep(*interval)
        }
    }()

    fmt.Println("ackdemo started. Press Ctrl+C to exit.")
    <-ctx.Done()
}

// fakeReplica writes monotonically increasing acks until ctx is done.
func fakeReplica(ctx context.Context, wr *os.File, serverID uint32, interval time.Duration) {
    defer wr.Close()
    pos := uint64(0)
    t := time.NewTicker(interval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            pos += 512
            frame := protocol.EncodeAck(protocol.Ack{ServerID: serverID, LogFile: "binlog.000001", LogPos: pos})
            if _, err := wr.Write(frame); err != nil { return }
        }
    }
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

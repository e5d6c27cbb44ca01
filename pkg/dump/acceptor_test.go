package dump

import (
    "context"
    "net"
    "sync"
    "testing"
    "time"

    "github.com/villagesql/semisync/pkg/ackreceiver"
    "github.com/villagesql/semisync/pkg/protocol"
)

type recCoord struct {
    mu   sync.Mutex
    acks []protocol.Ack
    ch   chan protocol.Ack
}

func newRecCoord() *recCoord { return &recCoord{ch: make(chan protocol.Ack, 256)} }

func (c *recCoord) ReportReply(serverID uint32, logFile string, logPos uint64) {
    a := protocol.Ack{ServerID: serverID, LogFile: logFile, LogPos: logPos}
    c.mu.Lock()
    c.acks = append(c.acks, a)
    c.mu.Unlock()
    c.ch <- a
}

func (c *recCoord) next(t *testing.T) protocol.Ack {
    t.Helper()
    select {
    case a := <-c.ch:
        return a
    case <-time.After(2 * time.Second):
        t.Fatalf("no ack within deadline")
        return protocol.Ack{}
    }
}

func startStack(t *testing.T) (*ackreceiver.Receiver, *Acceptor, *recCoord) {
    t.Helper()
    coord := newRecCoord()
    r, err := ackreceiver.New(ackreceiver.Options{
        Enabled:     true,
        Coordinator: coord,
        PollTimeout: 50 * time.Millisecond,
    })
    if err != nil {
        t.Fatalf("receiver: %v", err)
    }
    if err := r.Start(); err != nil {
        t.Fatalf("start receiver: %v", err)
    }
    a, err := New(Options{Bind: "127.0.0.1:0", Receiver: r})
    if err != nil {
        t.Fatalf("acceptor: %v", err)
    }
    if err := a.Start(context.Background()); err != nil {
        t.Fatalf("start acceptor: %v", err)
    }
    t.Cleanup(func() {
        _ = a.Stop()
        _ = r.Stop()
    })
    return r, a, coord
}

func dialReplica(t *testing.T, addr string, serverID uint32, flags uint8) net.Conn {
    t.Helper()
    conn, err := net.Dial("tcp", addr)
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    if _, err := conn.Write(protocol.EncodeHello(protocol.Hello{ServerID: serverID, Flags: flags})); err != nil {
        t.Fatalf("write hello: %v", err)
    }
    t.Cleanup(func() { _ = conn.Close() })
    return conn
}

func TestAcceptor_HandshakeAndAckFlow(t *testing.T) {
    r, a, coord := startStack(t)
    conn := dialReplica(t, a.Addr(), 42, 0)

    frame := protocol.EncodeAck(protocol.Ack{ServerID: 42, LogFile: "binlog.000001", LogPos: 128})
    if _, err := conn.Write(frame); err != nil {
        t.Fatalf("write ack: %v", err)
    }
    got := coord.next(t)
    if got.ServerID != 42 || got.LogPos != 128 {
        t.Fatalf("ack %+v", got)
    }
    if n := len(r.Status().Replicas); n != 1 {
        t.Fatalf("%d replicas attached", n)
    }
}

func TestAcceptor_CompressedHandshake(t *testing.T) {
    _, a, coord := startStack(t)
    conn := dialReplica(t, a.Addr(), 7, protocol.FlagCompressed)

    frames := protocol.EncodeAck(protocol.Ack{ServerID: 7, LogFile: "binlog.000004", LogPos: 9000})
    if _, err := conn.Write(protocol.EncodeEnvelope(frames)); err != nil {
        t.Fatalf("write: %v", err)
    }
    got := coord.next(t)
    if got.ServerID != 7 || got.LogPos != 9000 {
        t.Fatalf("ack %+v", got)
    }
}

func TestAcceptor_BadHelloRejected(t *testing.T) {
    r, a, _ := startStack(t)
    conn, err := net.Dial("tcp", a.Addr())
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    defer conn.Close()
    if _, err := conn.Write([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}); err != nil {
        t.Fatalf("write: %v", err)
    }
    deadline := time.Now().Add(2 * time.Second)
    for time.Now().Before(deadline) {
        if len(r.Status().Replicas) == 0 {
            // connection should be closed by the acceptor
            _ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
            buf := make([]byte, 1)
            if _, err := conn.Read(buf); err != nil {
                return
            }
        }
        time.Sleep(10 * time.Millisecond)
    }
    t.Fatalf("bad hello not rejected")
}

func TestAcceptor_DetachClosesSession(t *testing.T) {
    r, a, _ := startStack(t)
    dialReplica(t, a.Addr(), 11, 0)

    deadline := time.Now().Add(2 * time.Second)
    for len(r.Status().Replicas) == 0 {
        if time.Now().After(deadline) {
            t.Fatalf("replica never attached")
        }
        time.Sleep(5 * time.Millisecond)
    }
    threadID := r.Status().Replicas[0].ThreadID
    if err := a.Detach(threadID); err != nil {
        t.Fatalf("detach: %v", err)
    }
    if n := len(r.Status().Replicas); n != 0 {
        t.Fatalf("%d replicas after detach", n)
    }
    if err := a.Detach(threadID); err != ErrUnknownThread {
        t.Fatalf("second detach: %v", err)
    }
}

func TestAcceptor_StopDetachesAll(t *testing.T) {
    r, a, _ := startStack(t)
    dialReplica(t, a.Addr(), 21, 0)
    dialReplica(t, a.Addr(), 22, 0)

    deadline := time.Now().Add(2 * time.Second)
    for len(r.Status().Replicas) < 2 {
        if time.Now().After(deadline) {
            t.Fatalf("replicas never attached: %d", len(r.Status().Replicas))
        }
        time.Sleep(5 * time.Millisecond)
    }
    if err := a.Stop(); err != nil {
        t.Fatalf("stop: %v", err)
    }
    if n := len(r.Status().Replicas); n != 0 {
        t.Fatalf("%d replicas after stop", n)
    }
}

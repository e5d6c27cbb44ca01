// Package dump accepts replica dump connections over TCP, performs the hello
// handshake, and attaches the resulting ack session to the receiver.
package dump

import (
    "context"
    "errors"
    "fmt"
    "io"
    "log"
    "net"
    "sync"
    "time"

    "github.com/villagesql/semisync/pkg/ackreceiver"
    "github.com/villagesql/semisync/pkg/internal/logutil"
    "github.com/villagesql/semisync/pkg/protocol"
    "github.com/villagesql/semisync/pkg/session"
)

// ErrUnknownThread reports a detach for a thread id this acceptor never
// attached.
var ErrUnknownThread = errors.New("dump: unknown thread id")

// Options configures an Acceptor.
type Options struct {
    // Bind is the TCP listen address, e.g. ":13307".
    Bind string
    // Receiver takes ownership of decoded ack streams.
    Receiver *ackreceiver.Receiver
    // HandshakeTimeout bounds the wait for the hello frame. Default 5s.
    HandshakeTimeout time.Duration
    // Logger receives diagnostics. Default log.Default().
    Logger *log.Logger
}

type attached struct {
    tr       *session.FDTransport
    serverID uint32
}

// Acceptor owns the listener, the handshake, and the transports of every
// session it has attached. The receiver only borrows them.
type Acceptor struct {
    opts Options
    ln   net.Listener

    mu       sync.Mutex
    sessions map[uint32]*attached
    nextID   uint32
    closed   bool

    wg sync.WaitGroup
}

// New validates opts and builds an Acceptor. Call Start to begin listening.
func New(opts Options) (*Acceptor, error) {
    if opts.Receiver == nil {
        return nil, errors.New("dump: nil Receiver")
    }
    if opts.HandshakeTimeout <= 0 {
        opts.HandshakeTimeout = 5 * time.Second
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Acceptor{opts: opts, sessions: make(map[uint32]*attached)}, nil
}

// Start binds the listener and launches the accept loop. The loop stops when
// ctx is canceled or Stop is called.
func (a *Acceptor) Start(ctx context.Context) error {
    ln, err := net.Listen("tcp", a.opts.Bind)
    if err != nil {
        return fmt.Errorf("dump: listen: %w", err)
    }
    a.ln = ln
    logutil.Infof(a.opts.Logger, "dump: accepting replica sessions on %s", ln.Addr())
    go func() {
        <-ctx.Done()
        _ = a.Stop()
    }()
    a.wg.Add(1)
    go a.acceptLoop()
    return nil
}

// Addr returns the bound listen address.
func (a *Acceptor) Addr() string {
    if a.ln != nil {
        return a.ln.Addr().String()
    }
    return a.opts.Bind
}

func (a *Acceptor) acceptLoop() {
    defer a.wg.Done()
    for {
        conn, err := a.ln.Accept()
        if err != nil {
            a.mu.Lock()
            closed := a.closed
            a.mu.Unlock()
            if closed {
                return
            }
            logutil.Warnf(a.opts.Logger, "dump: accept: %v", err)
            continue
        }
        a.wg.Add(1)
        go func() {
            defer a.wg.Done()
            if err := a.handshake(conn.(*net.TCPConn)); err != nil {
                logutil.Warnf(a.opts.Logger, "dump: handshake from %s: %v", conn.RemoteAddr(), err)
                _ = conn.Close()
            }
        }()
    }
}

// handshake reads the hello frame, dups the descriptor into an FDTransport,
// and attaches the session. The TCPConn itself is closed after the dup; the
// transport keeps the descriptor alive.
func (a *Acceptor) handshake(conn *net.TCPConn) error {
    if err := conn.SetReadDeadline(time.Now().Add(a.opts.HandshakeTimeout)); err != nil {
        return err
    }
    buf := make([]byte, protocol.HelloLen)
    if _, err := io.ReadFull(conn, buf); err != nil {
        return fmt.Errorf("read hello: %w", err)
    }
    hello, _, err := protocol.DecodeHello(buf)
    if err != nil {
        return fmt.Errorf("decode hello: %w", err)
    }
    if err := conn.SetReadDeadline(time.Time{}); err != nil {
        return err
    }

    f, err := conn.File()
    if err != nil {
        return fmt.Errorf("dup descriptor: %w", err)
    }
    // File dups the descriptor; the original conn is no longer needed.
    _ = conn.Close()
    tr, err := session.NewFDTransport(f)
    if err != nil {
        _ = f.Close()
        return err
    }

    a.mu.Lock()
    if a.closed {
        a.mu.Unlock()
        _ = tr.Close()
        return errors.New("dump: acceptor stopped")
    }
    a.nextID++
    threadID := a.nextID
    a.sessions[threadID] = &attached{tr: tr, serverID: hello.ServerID}
    a.mu.Unlock()

    err = a.opts.Receiver.AddReplica(&session.Session{
        ThreadID:   threadID,
        ServerID:   hello.ServerID,
        Transport:  tr,
        Compressed: hello.Compressed(),
    })
    if err != nil {
        a.mu.Lock()
        delete(a.sessions, threadID)
        a.mu.Unlock()
        _ = tr.Close()
        return fmt.Errorf("attach replica: %w", err)
    }
    logutil.Infof(a.opts.Logger, "dump: replica attached (thread %d, server %d, compressed %v)",
        threadID, hello.ServerID, hello.Compressed())
    return nil
}

// Detach synchronously removes one session and closes its transport.
func (a *Acceptor) Detach(threadID uint32) error {
    a.mu.Lock()
    att, ok := a.sessions[threadID]
    if ok {
        delete(a.sessions, threadID)
    }
    a.mu.Unlock()
    if !ok {
        return ErrUnknownThread
    }
    err := a.opts.Receiver.RemoveReplica(threadID)
    _ = att.tr.Close()
    if err != nil && !errors.Is(err, ackreceiver.ErrAbsent) {
        return err
    }
    return nil
}

// Stop closes the listener, detaches every session, and waits for in-flight
// handshakes. Idempotent.
func (a *Acceptor) Stop() error {
    a.mu.Lock()
    if a.closed {
        a.mu.Unlock()
        return nil
    }
    a.closed = true
    remaining := make(map[uint32]*attached, len(a.sessions))
    for id, att := range a.sessions {
        remaining[id] = att
        delete(a.sessions, id)
    }
    a.mu.Unlock()

    if a.ln != nil {
        _ = a.ln.Close()
    }
    for id, att := range remaining {
        if err := a.opts.Receiver.RemoveReplica(id); err != nil && !errors.Is(err, ackreceiver.ErrAbsent) {
            logutil.Warnf(a.opts.Logger, "dump: detach thread %d: %v", id, err)
        }
        _ = att.tr.Close()
    }
    a.wg.Wait()
    logutil.Infof(a.opts.Logger, "dump: acceptor stopped")
    return nil
}

// Package session defines the replica session handed to the ack receiver by
// a dump connection, and the non-blocking transport it reads acks from.
package session

import (
    "errors"
    "fmt"
    "io"
    "os"

    "golang.org/x/sys/unix"
)

// ErrNoData reports that the descriptor has no buffered bytes. The reader
// relies on readiness from the monitor, so this is the normal end of a drain.
var ErrNoData = errors.New("session: no buffered data")

// Transport is the read side of a dump session. The receiver polls Fd and
// reads whatever is buffered; it never closes the transport — ownership stays
// with the session's creator.
type Transport interface {
    // Fd returns the file descriptor the readiness monitor polls.
    Fd() int
    // Read fills p from buffered bytes without blocking. It returns ErrNoData
    // when the descriptor is drained and io.EOF once the peer has closed.
    Read(p []byte) (int, error)
}

// Session describes one attached replica.
type Session struct {
    // ThreadID identifies the dump thread that owns this session. Unique for
    // the lifetime of the receiver.
    ThreadID uint32
    // ServerID identifies the replica on the wire.
    ServerID uint32
    // Transport carries the replica's acknowledgment bytes.
    Transport Transport
    // Compressed marks sessions whose acks arrive in zlib envelopes.
    Compressed bool
}

func (s *Session) String() string {
    return fmt.Sprintf("session{thread=%d server=%d}", s.ThreadID, s.ServerID)
}

// FDTransport reads a file descriptor directly in non-blocking mode. It is
// built from an *os.File (a pipe end, or the dup returned by net.TCPConn.File)
// and keeps the file alive so the descriptor stays valid.
type FDTransport struct {
    fd int
    f  *os.File
}

// NewFDTransport switches f's descriptor to non-blocking mode and wraps it.
func NewFDTransport(f *os.File) (*FDTransport, error) {
    fd := int(f.Fd())
    if err := unix.SetNonblock(fd, true); err != nil {
        return nil, fmt.Errorf("session: set nonblock: %w", err)
    }
    return &FDTransport{fd: fd, f: f}, nil
}

func (t *FDTransport) Fd() int { return t.fd }

func (t *FDTransport) Read(p []byte) (int, error) {
    for {
        n, err := unix.Read(t.fd, p)
        if err == unix.EINTR {
            continue
        }
        if err == unix.EAGAIN {
            return 0, ErrNoData
        }
        if err != nil {
            return 0, err
        }
        if n == 0 {
            return 0, io.EOF
        }
        return n, nil
    }
}

// Close releases the descriptor. Called by the session owner, never by the
// receiver.
func (t *FDTransport) Close() error { return t.f.Close() }

var _ Transport = (*FDTransport)(nil)

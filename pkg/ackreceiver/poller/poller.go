// Package poller wraps a level-triggered readiness wait over a set of file
// descriptors with a self-pipe wakeup channel. It is the single source of
// wake events for the ack receiver's worker: I/O readiness, control-surface
// wakeups and the bounded timeout all surface through Wait.
package poller

import (
    "fmt"
    "sync"
    "time"

    "golang.org/x/sys/unix"
)

// Poller multiplexes readiness over poll(2). The wakeup channel is a
// non-blocking pipe: a byte written by Wake stays buffered until the next
// Wait drains it, so a wakeup signalled before Wait begins is never lost.
type Poller struct {
    mu     sync.Mutex
    rfd    int
    wfd    int
    closed bool

    // scratch pollfd slice reused across cycles; owned by the waiter.
    pfds []unix.PollFd
}

// New creates the poller and its wakeup pipe.
func New() (*Poller, error) {
    var p [2]int
    if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
        return nil, fmt.Errorf("poller: pipe: %w", err)
    }
    return &Poller{rfd: p[0], wfd: p[1]}, nil
}

// Wake makes the current or next Wait return with woken=true. Safe to call
// from any goroutine. A full pipe means a wakeup is already pending, which
// is just as good.
func (p *Poller) Wake() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.closed {
        return nil
    }
    _, err := unix.Write(p.wfd, []byte{1})
    if err == unix.EAGAIN {
        return nil
    }
    return err
}

// Wait blocks until at least one of fds is readable, Wake is called, or the
// timeout elapses. It returns the positions within fds that are ready (the
// caller maps positions back to its own bookkeeping) and whether a wakeup
// was consumed. A timeout yields (nil, false, nil). Signal interruptions are
// reported as an empty result; callers tolerate spurious returns.
func (p *Poller) Wait(fds []int, timeout time.Duration) (ready []int, woken bool, err error) {
    p.pfds = p.pfds[:0]
    p.pfds = append(p.pfds, unix.PollFd{Fd: int32(p.rfd), Events: unix.POLLIN})
    for _, fd := range fds {
        p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
    }

    ms := int(timeout / time.Millisecond)
    if ms <= 0 {
        ms = 1
    }
    n, err := unix.Poll(p.pfds, ms)
    if err == unix.EINTR {
        return nil, false, nil
    }
    if err != nil {
        return nil, false, fmt.Errorf("poller: wait: %w", err)
    }
    if n == 0 {
        return nil, false, nil
    }

    if p.pfds[0].Revents != 0 {
        p.drain()
        woken = true
    }
    for i := 1; i < len(p.pfds); i++ {
        if p.pfds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
            ready = append(ready, i-1)
        }
    }
    return ready, woken, nil
}

// drain empties the wakeup pipe so the next Wait blocks again.
func (p *Poller) drain() {
    var buf [64]byte
    for {
        n, err := unix.Read(p.rfd, buf[:])
        if n <= 0 || err != nil {
            return
        }
    }
}

// Close releases both ends of the wakeup pipe. Wait must not be running.
func (p *Poller) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.closed {
        return nil
    }
    p.closed = true
    _ = unix.Close(p.rfd)
    _ = unix.Close(p.wfd)
    return nil
}

// Package coordinator tallies replica acknowledgments and releases commit
// waiters once a quorum of replicas has durably received their log position.
package coordinator

import (
    "context"
    "errors"
    "sync"
)

// Coordinator receives one call per decoded acknowledgment. Implementations
// must be internally synchronized: the ack receiver invokes ReportReply from
// its worker without holding any of its own locks.
type Coordinator interface {
    ReportReply(serverID uint32, logFile string, logPos uint64)
}

// Position is a point in the replicated log. Log files are named with a
// zero-padded numeric suffix, so lexicographic file comparison matches log
// order.
type Position struct {
    File string
    Pos  uint64
}

// Before reports whether p precedes q in the log.
func (p Position) Before(q Position) bool {
    if p.File != q.File {
        return p.File < q.File
    }
    return p.Pos < q.Pos
}

// ErrStopped is returned to waiters released by Stop.
var ErrStopped = errors.New("coordinator: stopped")

type waiter struct {
    pos  Position
    done chan error
}

// Quorum releases a commit waiter once at least K distinct replicas have
// acknowledged a position at or past the waiter's.
type Quorum struct {
    mu      sync.Mutex
    k       int
    acked   map[uint32]Position
    waiters map[*waiter]struct{}
    stopped bool
}

// NewQuorum builds a Quorum coordinator requiring k acknowledging replicas.
// k < 1 is treated as 1.
func NewQuorum(k int) *Quorum {
    if k < 1 {
        k = 1
    }
    return &Quorum{
        k:       k,
        acked:   make(map[uint32]Position),
        waiters: make(map[*waiter]struct{}),
    }
}

// ReportReply records the highest position acknowledged by serverID and
// releases any waiters whose position is now covered by the quorum.
func (q *Quorum) ReportReply(serverID uint32, logFile string, logPos uint64) {
    p := Position{File: logFile, Pos: logPos}
    q.mu.Lock()
    defer q.mu.Unlock()
    if cur, ok := q.acked[serverID]; ok && p.Before(cur) {
        return
    }
    q.acked[serverID] = p
    for w := range q.waiters {
        if q.coveredLocked(w.pos) {
            w.done <- nil
            delete(q.waiters, w)
        }
    }
}

// Acked returns the last recorded position for serverID.
func (q *Quorum) Acked(serverID uint32) (Position, bool) {
    q.mu.Lock()
    defer q.mu.Unlock()
    p, ok := q.acked[serverID]
    return p, ok
}

// Wait blocks until k distinct replicas have acknowledged (file, pos) or
// later, the context is done, or the coordinator stops.
func (q *Quorum) Wait(ctx context.Context, file string, pos uint64) error {
    w := &waiter{pos: Position{File: file, Pos: pos}, done: make(chan error, 1)}
    q.mu.Lock()
    if q.stopped {
        q.mu.Unlock()
        return ErrStopped
    }
    if q.coveredLocked(w.pos) {
        q.mu.Unlock()
        return nil
    }
    q.waiters[w] = struct{}{}
    q.mu.Unlock()

    select {
    case err := <-w.done:
        return err
    case <-ctx.Done():
        q.mu.Lock()
        delete(q.waiters, w)
        q.mu.Unlock()
        return ctx.Err()
    }
}

// Stop releases all pending waiters with ErrStopped. Subsequent Waits fail
// immediately; ReportReply remains harmless.
func (q *Quorum) Stop() {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.stopped {
        return
    }
    q.stopped = true
    for w := range q.waiters {
        w.done <- ErrStopped
        delete(q.waiters, w)
    }
}

func (q *Quorum) coveredLocked(pos Position) bool {
    n := 0
    for _, p := range q.acked {
        if !p.Before(pos) {
            n++
            if n >= q.k {
                return true
            }
        }
    }
    return false
}

var _ Coordinator = (*Quorum)(nil)

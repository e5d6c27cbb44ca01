// Package ackreceiver multiplexes replica acknowledgment streams onto a
// single worker goroutine. Replication threads hand their network session to
// the receiver, which polls all attached descriptors, decodes ack packets,
// and reports each acknowledged log position to the commit coordinator.
package ackreceiver

import (
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "github.com/villagesql/semisync/pkg/ackreceiver/poller"
    "github.com/villagesql/semisync/pkg/internal/logutil"
    "github.com/villagesql/semisync/pkg/observability/metrics"
    "github.com/villagesql/semisync/pkg/protocol"
    "github.com/villagesql/semisync/pkg/session"
    "github.com/villagesql/semisync/pkg/timesvc"
)

type mode int

const (
    modeInit mode = iota
    modeRunning
    modeStopping
)

// monitor is the readiness wait the worker blocks in. *poller.Poller is the
// production implementation; tests substitute failing ones through newMonitor.
type monitor interface {
    Wake() error
    Wait(fds []int, timeout time.Duration) (ready []int, woken bool, err error)
    Close() error
}

var newMonitor = func() (monitor, error) { return poller.New() }

// Receiver owns the attached replica registry and the worker that polls it.
// All exported methods are safe for concurrent use.
type Receiver struct {
    opts Options
    ts   *timesvc.Service

    mu    sync.Mutex
    cv    *sync.Cond
    mode  mode
    reg   registry
    dirty bool
    pl    monitor
    done  chan struct{}

    // workerDone records that the worker exited while the receiver still
    // reports modeRunning (thread attach failure, wait-error escalation).
    // Control operations treat such a receiver as not running.
    workerDone bool

    trace    atomic.Uint32
    acks     atomic.Uint64
    cycles   atomic.Uint64
    pollErrs atomic.Uint64

    eb eventBus

    // readBuf is touched only by the worker goroutine.
    readBuf []byte
}

// New builds a receiver in the initial (not yet started) state.
func New(opts Options) (*Receiver, error) {
    opts = opts.withDefaults()
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    r := &Receiver{
        opts:    opts,
        ts:      timesvc.New(opts.TimestampMode),
        readBuf: make([]byte, opts.ReadBufSize),
    }
    r.cv = sync.NewCond(&r.mu)
    r.trace.Store(opts.TraceLevel)
    return r, nil
}

// Start creates the readiness monitor and launches the worker. Starting a
// disabled receiver transitions its state but spawns nothing; every later
// operation on it is then a no-op.
func (r *Receiver) Start() error {
    r.mu.Lock()
    defer r.mu.Unlock()
    switch r.mode {
    case modeRunning:
        return ErrAlreadyRunning
    case modeStopping:
        return ErrAfterStop
    }
    if !r.opts.Enabled {
        r.mode = modeRunning
        return nil
    }
    metrics.Register()
    pl, err := newMonitor()
    if err != nil {
        return fmt.Errorf("semisync: monitor init: %w", err)
    }
    r.pl = pl
    r.done = make(chan struct{})
    r.mode = modeRunning
    go r.run()
    logutil.Infof(r.opts.Logger, "ts=%s semisync: ack receiver started (poll timeout %s)",
        r.now(), r.opts.PollTimeout)
    return nil
}

// Stop shuts the worker down and releases every attached session. It blocks
// until the worker has exited and is idempotent; concurrent Stops all return
// after shutdown completes.
func (r *Receiver) Stop() error {
    r.mu.Lock()
    if r.mode == modeInit {
        r.mode = modeStopping
        r.mu.Unlock()
        return nil
    }
    alreadyStopping := r.mode == modeStopping
    r.mode = modeStopping
    done, pl := r.done, r.pl
    r.cv.Broadcast()
    r.mu.Unlock()

    if pl != nil {
        _ = pl.Wake()
    }
    if done != nil {
        <-done
        _ = pl.Close()
        // The worker reclaims the registry on its way out, but if it died
        // early a session could still have slipped in before workerDone was
        // observed. Sweep whatever is left so Stop always hands back an
        // empty registry.
        r.mu.Lock()
        r.reg.markAllDown()
        removed := r.reg.reclaim()
        r.dirty = false
        r.cv.Broadcast()
        r.mu.Unlock()
        if removed > 0 {
            metrics.ReplicasAttached.Sub(float64(removed))
        }
    }
    if !alreadyStopping {
        logutil.Infof(r.opts.Logger, "ts=%s semisync: ack receiver stopped", r.now())
    }
    return nil
}

// AddReplica attaches a replica session. The receiver borrows the transport;
// the caller must not close it until RemoveReplica returns or the receiver
// stops.
func (r *Receiver) AddReplica(s *session.Session) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if !r.opts.Enabled {
        return nil
    }
    if s == nil || s.Transport == nil {
        return ErrNilSession
    }
    if r.mode != modeRunning || r.workerDone {
        return ErrNotRunning
    }
    e := &entry{
        threadID:   s.ThreadID,
        serverID:   s.ServerID,
        transport:  s.Transport,
        compressed: s.Compressed,
        status:     StatusUp,
    }
    if s.Compressed {
        e.inflater = protocol.NewInflater()
    }
    if !r.reg.insert(e) {
        return ErrDuplicate
    }
    r.dirty = true
    _ = r.pl.Wake()
    metrics.ReplicasAttached.Inc()
    r.eb.publish(Event{Type: EventReplicaJoin, At: time.Now(), ThreadID: e.threadID, ServerID: e.serverID})
    r.tracef(TraceGeneral, "replica attached (thread %d, server %d, compressed %v)",
        e.threadID, e.serverID, e.compressed)
    return nil
}

// RemoveReplica detaches the session owned by threadID. It returns only after
// the worker has reclaimed the entry, so the caller can close the transport
// immediately afterwards.
func (r *Receiver) RemoveReplica(threadID uint32) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    if !r.opts.Enabled {
        return nil
    }
    if r.mode == modeInit {
        return ErrNotRunning
    }
    if r.mode == modeRunning && r.workerDone {
        return ErrNotRunning
    }
    e := r.reg.find(threadID)
    if e == nil {
        return ErrAbsent
    }
    if e.status == StatusUp {
        e.status = StatusLeaving
    }
    r.dirty = true
    if r.pl != nil {
        _ = r.pl.Wake()
    }
    for r.reg.find(threadID) != nil {
        r.cv.Wait()
    }
    metrics.RemoveHandshakes.Inc()
    r.eb.publish(Event{Type: EventReplicaLeave, At: time.Now(), ThreadID: threadID, ServerID: e.serverID})
    r.tracef(TraceGeneral, "replica detached (thread %d)", threadID)
    return nil
}

// SetTraceLevel swaps the diagnostic bitmask at runtime.
func (r *Receiver) SetTraceLevel(level uint32) {
    r.trace.Store(level)
}

// TraceLevel returns the current diagnostic bitmask.
func (r *Receiver) TraceLevel() uint32 { return r.trace.Load() }

// run is the worker goroutine: rebuild the polled set when dirty, wait for
// readiness, drain every ready session, mark failures down.
func (r *Receiver) run() {
    defer close(r.done)
    defer r.finalize()

    if rc := r.opts.Threads.Attach(); rc != 0 {
        logutil.Errorf(r.opts.Logger, "ts=%s semisync: worker thread attach failed (rc=%d)", r.now(), rc)
        return
    }
    defer r.opts.Threads.Detach()
    r.tracef(TraceFunction, "worker started")

    var (
        fds       []int
        slots     []*entry
        errStreak int
    )
    for {
        r.mu.Lock()
        if r.mode != modeRunning {
            r.mu.Unlock()
            return
        }
        if r.dirty {
            if removed := r.reg.reclaim(); removed > 0 {
                metrics.ReplicasAttached.Sub(float64(removed))
                r.cv.Broadcast()
            }
            fds, slots = r.reg.readySet()
            r.dirty = false
        }
        r.mu.Unlock()

        r.tracef(TraceNetWait, "waiting on %d descriptors", len(fds))
        ready, _, err := r.pl.Wait(fds, r.opts.PollTimeout)
        r.cycles.Add(1)
        metrics.PollCycles.Inc()
        if err != nil {
            errStreak++
            r.pollErrs.Add(1)
            metrics.PollErrors.Inc()
            logutil.Errorf(r.opts.Logger, "ts=%s semisync: readiness wait failed: %v", r.now(), err)
            if errStreak >= r.opts.MaxPollErrors {
                logutil.Errorf(r.opts.Logger, "ts=%s semisync: %d consecutive wait failures, worker exiting",
                    r.now(), errStreak)
                return
            }
            continue
        }
        errStreak = 0

        for _, idx := range ready {
            e := slots[idx]
            if r.drain(e) == drainOK {
                continue
            }
            r.mu.Lock()
            e.status = StatusDown
            r.dirty = true
            r.mu.Unlock()
            metrics.ReplicaFailures.Inc()
            r.eb.publish(Event{Type: EventReplicaFailed, At: time.Now(), ThreadID: e.threadID, ServerID: e.serverID})
        }
    }
}

// finalize releases every remaining session and unblocks removal waiters.
// Runs exactly once, on every worker exit path.
func (r *Receiver) finalize() {
    r.mu.Lock()
    r.reg.markAllDown()
    removed := r.reg.reclaim()
    r.dirty = false
    r.workerDone = true
    r.cv.Broadcast()
    r.mu.Unlock()
    if removed > 0 {
        metrics.ReplicasAttached.Sub(float64(removed))
    }
    r.tracef(TraceFunction, "worker stopped, released %d sessions", removed)
}

func (r *Receiver) now() string { return r.ts.Now() }

// tracef emits a diagnostic line when any bit of mask is enabled.
func (r *Receiver) tracef(mask uint32, f string, args ...any) {
    if r.trace.Load()&mask == 0 {
        return
    }
    args = append([]any{r.now()}, args...)
    logutil.Tracef(r.opts.Logger, "ts=%s semisync: "+f, args...)
}

package ackreceiver

import (
    "github.com/villagesql/semisync/pkg/protocol"
    "github.com/villagesql/semisync/pkg/session"
)

// EntryStatus is the per-replica state within the registry.
type EntryStatus uint8

const (
    // StatusUp entries are polled for acknowledgments.
    StatusUp EntryStatus = iota
    // StatusLeaving marks an entry between a RemoveReplica call and the
    // worker's reclamation of it.
    StatusLeaving
    // StatusDown marks a failed entry awaiting reclamation; its descriptor
    // is never polled again.
    StatusDown
)

func (s EntryStatus) String() string {
    switch s {
    case StatusUp:
        return "up"
    case StatusLeaving:
        return "leaving"
    case StatusDown:
        return "down"
    }
    return "unknown"
}

// entry is one attached replica session. The receiver owns the inflater;
// the transport stays owned by whoever attached the session.
type entry struct {
    threadID   uint32
    serverID   uint32
    transport  session.Transport
    compressed bool
    inflater   *protocol.Inflater
    status     EntryStatus

    // buf holds bytes read but not yet decoded, carried across poll cycles.
    buf []byte
}

// registry is the ordered set of attached replicas. All methods require the
// receiver's mutex; insertion order is preserved so tests can disambiguate
// otherwise identical entries.
type registry struct {
    entries []*entry
}

// insert appends e. Returns false when the thread id is already present,
// whatever the existing entry's status.
func (r *registry) insert(e *entry) bool {
    if r.find(e.threadID) != nil {
        return false
    }
    r.entries = append(r.entries, e)
    return true
}

func (r *registry) find(threadID uint32) *entry {
    for _, e := range r.entries {
        if e.threadID == threadID {
            return e
        }
    }
    return nil
}

func (r *registry) len() int { return len(r.entries) }

// readySet returns the descriptors of UP entries and the parallel entry
// slice the worker indexes with the monitor's ready positions.
func (r *registry) readySet() (fds []int, slots []*entry) {
    for _, e := range r.entries {
        if e.status != StatusUp {
            continue
        }
        fds = append(fds, e.transport.Fd())
        slots = append(slots, e)
    }
    return fds, slots
}

// reclaim removes every LEAVING and DOWN entry, releasing entry-owned
// decompression state. Returns the number of entries removed.
func (r *registry) reclaim() int {
    kept := r.entries[:0]
    removed := 0
    for _, e := range r.entries {
        if e.status == StatusUp {
            kept = append(kept, e)
            continue
        }
        if e.inflater != nil {
            _ = e.inflater.Close()
            e.inflater = nil
        }
        e.buf = nil
        removed++
    }
    // clear the tail so reclaimed entries can be collected
    for i := len(kept); i < len(r.entries); i++ {
        r.entries[i] = nil
    }
    r.entries = kept
    return removed
}

func (r *registry) markAllDown() {
    for _, e := range r.entries {
        e.status = StatusDown
    }
}

func (r *registry) snapshot() []ReplicaInfo {
    out := make([]ReplicaInfo, 0, len(r.entries))
    for _, e := range r.entries {
        out = append(out, ReplicaInfo{ThreadID: e.threadID, ServerID: e.serverID, Status: e.status.String()})
    }
    return out
}

package ackreceiver

import (
    "context"
    "sync"
    "time"
)

type EventType string

const (
    EventAck           EventType = "ack"
    EventReplicaJoin   EventType = "replica_join"
    EventReplicaLeave  EventType = "replica_leave"
    EventReplicaFailed EventType = "replica_failed"
)

// Event is an application-consumable event describing receiver activity.
// LogFile and LogPos are populated for ack events only.
type Event struct {
    Type     EventType
    At       time.Time
    ThreadID uint32
    ServerID uint32
    LogFile  string
    LogPos   uint64
}

// Subscribe returns a channel of events. The returned channel is buffered and
// closed automatically when ctx is done. Events may be dropped if the consumer
// is too slow (best-effort delivery) to avoid back-pressuring the worker.
func (r *Receiver) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    r.eb.add(ch)
    go func() {
        <-ctx.Done()
        r.eb.remove(ch)
        close(ch)
    }()
    return ch
}

// internal event bus
type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil {
        e.subs = make(map[chan Event]struct{})
    }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    if e.subs != nil {
        delete(e.subs, ch)
    }
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}

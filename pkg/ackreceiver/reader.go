package ackreceiver

import (
    "errors"
    "io"
    "strconv"
    "time"

    "github.com/villagesql/semisync/pkg/internal/logutil"
    "github.com/villagesql/semisync/pkg/observability/metrics"
    "github.com/villagesql/semisync/pkg/protocol"
    "github.com/villagesql/semisync/pkg/session"
)

type drainResult int

const (
    // drainOK: transport still live, all available bytes consumed.
    drainOK drainResult = iota
    // drainClosed: peer closed the transport in an orderly way.
    drainClosed
    // drainFailed: read or decode error; the session is unusable.
    drainFailed
)

// drain reads everything currently available on e's transport, then decodes
// and reports every complete acknowledgment. A trailing partial frame stays
// in e.buf for the next cycle. Called from the worker without the mutex.
func (r *Receiver) drain(e *entry) drainResult {
    closed := false
readLoop:
    for {
        n, err := e.transport.Read(r.readBuf)
        if n > 0 {
            e.buf = append(e.buf, r.readBuf[:n]...)
        }
        if err == nil {
            continue
        }
        switch {
        case errors.Is(err, session.ErrNoData):
            break readLoop
        case errors.Is(err, io.EOF):
            closed = true
            break readLoop
        default:
            logutil.Errorf(r.opts.Logger, "ts=%s semisync: read from replica (thread %d) failed: %v",
                r.now(), e.threadID, err)
            return drainFailed
        }
    }

    if res := r.decodeBuffered(e); res != drainOK {
        return res
    }
    if closed {
        r.tracef(TraceGeneral, "replica (thread %d, server %d) closed its session", e.threadID, e.serverID)
        return drainClosed
    }
    return drainOK
}

// decodeBuffered consumes complete frames from e.buf in arrival order. A
// compressed envelope may carry several ack frames back to back; they are
// reported in frame order.
func (r *Receiver) decodeBuffered(e *entry) drainResult {
    for {
        if e.compressed {
            payload, n, err := protocol.DecodeEnvelope(e.buf)
            if errors.Is(err, protocol.ErrShortPacket) {
                return drainOK
            }
            if err != nil {
                logutil.Errorf(r.opts.Logger, "ts=%s semisync: bad envelope from replica (thread %d): %v",
                    r.now(), e.threadID, err)
                return drainFailed
            }
            frame, err := e.inflater.Inflate(payload)
            if err != nil {
                logutil.Errorf(r.opts.Logger, "ts=%s semisync: inflate from replica (thread %d) failed: %v",
                    r.now(), e.threadID, err)
                return drainFailed
            }
            for len(frame) > 0 {
                ack, m, err := protocol.DecodeAck(frame)
                if err != nil {
                    logutil.Errorf(r.opts.Logger, "ts=%s semisync: bad ack from replica (thread %d): %v",
                        r.now(), e.threadID, err)
                    return drainFailed
                }
                frame = frame[m:]
                r.deliver(e, ack)
            }
            e.buf = append(e.buf[:0], e.buf[n:]...)
            continue
        }

        ack, n, err := protocol.DecodeAck(e.buf)
        if errors.Is(err, protocol.ErrShortPacket) {
            return drainOK
        }
        if err != nil {
            logutil.Errorf(r.opts.Logger, "ts=%s semisync: bad ack from replica (thread %d): %v",
                r.now(), e.threadID, err)
            return drainFailed
        }
        e.buf = append(e.buf[:0], e.buf[n:]...)
        r.deliver(e, ack)
    }
}

// deliver hands one decoded ack to the coordinator and publishes it.
func (r *Receiver) deliver(e *entry, ack protocol.Ack) {
    r.opts.Coordinator.ReportReply(ack.ServerID, ack.LogFile, ack.LogPos)
    r.acks.Add(1)
    sid := strconv.FormatUint(uint64(ack.ServerID), 10)
    metrics.AcksReceived.WithLabelValues(sid).Inc()
    metrics.AckLogPosition.WithLabelValues(sid).Set(float64(ack.LogPos))
    r.eb.publish(Event{
        Type:     EventAck,
        At:       time.Now(),
        ThreadID: e.threadID,
        ServerID: ack.ServerID,
        LogFile:  ack.LogFile,
        LogPos:   ack.LogPos,
    })
    r.tracef(TraceDetail, "ack from server %d: %s:%d", ack.ServerID, ack.LogFile, ack.LogPos)
}

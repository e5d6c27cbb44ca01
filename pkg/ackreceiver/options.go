package ackreceiver

import (
    "errors"
    "log"
    "time"

    "github.com/villagesql/semisync/pkg/coordinator"
    "github.com/villagesql/semisync/pkg/threadsvc"
    "github.com/villagesql/semisync/pkg/timesvc"
)

// Trace level bits. The level is a bitmask; SetTraceLevel swaps the whole
// mask at runtime.
const (
    TraceGeneral  uint32 = 0x01
    TraceDetail   uint32 = 0x02
    TraceNetWait  uint32 = 0x04
    TraceFunction uint32 = 0x08
)

// Options configures a Receiver. The zero value is a disabled receiver.
type Options struct {
    // Enabled gates the whole component. A disabled receiver accepts every
    // control operation as a no-op and never creates a worker.
    Enabled bool

    // Coordinator is notified for every decoded acknowledgment. Required
    // when Enabled. Must be internally synchronized.
    Coordinator coordinator.Coordinator

    // PollTimeout bounds each readiness wait so status recomputation happens
    // periodically even without events. Default 1s.
    PollTimeout time.Duration

    // TraceLevel is the initial diagnostic bitmask.
    TraceLevel uint32

    // TimestampMode selects the zone for diagnostic timestamps.
    TimestampMode timesvc.Mode

    // Threads binds the worker to thread-local infrastructure. Default
    // threadsvc.OS().
    Threads threadsvc.Service

    // Logger receives diagnostics. Default log.Default().
    Logger *log.Logger

    // MaxPollErrors is the number of consecutive readiness-wait failures
    // after which the worker exits with a fatal diagnostic. Default 10.
    MaxPollErrors int

    // ReadBufSize is the worker's per-read scratch buffer size. Default 4096.
    ReadBufSize int
}

func (o Options) withDefaults() Options {
    if o.PollTimeout <= 0 {
        o.PollTimeout = time.Second
    }
    if o.MaxPollErrors <= 0 {
        o.MaxPollErrors = 10
    }
    if o.ReadBufSize <= 0 {
        o.ReadBufSize = 4096
    }
    if o.Threads == nil {
        o.Threads = threadsvc.OS()
    }
    if o.Logger == nil {
        o.Logger = log.Default()
    }
    return o
}

// Validate checks the options before New builds a receiver.
func (o Options) Validate() error {
    if o.Enabled && o.Coordinator == nil {
        return errors.New("semisync: nil Coordinator")
    }
    return nil
}

package ackreceiver

// ReplicaInfo describes one attached replica session.
type ReplicaInfo struct {
    ThreadID uint32 `json:"threadId"`
    ServerID uint32 `json:"serverId"`
    Status   string `json:"status"`
}

// Status is a point-in-time snapshot of the receiver, shaped for the
// management surface.
type Status struct {
    Enabled      bool          `json:"enabled"`
    Running      bool          `json:"running"`
    TraceLevel   uint32        `json:"traceLevel"`
    PollTimeout  string        `json:"pollTimeout"`
    Replicas     []ReplicaInfo `json:"replicas"`
    AcksReceived uint64        `json:"acksReceived"`
    PollCycles   uint64        `json:"pollCycles"`
    PollErrors   uint64        `json:"pollErrors"`
}

// Status returns a snapshot of the receiver state and counters.
func (r *Receiver) Status() Status {
    r.mu.Lock()
    st := Status{
        Enabled:     r.opts.Enabled,
        Running:     r.mode == modeRunning && !r.workerDone,
        TraceLevel:  r.trace.Load(),
        PollTimeout: r.opts.PollTimeout.String(),
        Replicas:    r.reg.snapshot(),
    }
    r.mu.Unlock()
    st.AcksReceived = r.acks.Load()
    st.PollCycles = r.cycles.Load()
    st.PollErrors = r.pollErrs.Load()
    return st
}

package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    ReplicasAttached = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "villagesql",
        Subsystem: "semisync",
        Name:      "replicas_attached",
        Help:      "Current number of replica sessions attached to the ack receiver",
    })

    ReplicaFailures = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync",
        Name:      "replica_failures_total",
        Help:      "Total replica sessions marked down after a read or decode failure",
    })

    AcksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync",
        Name:      "acks_received_total",
        Help:      "Total acknowledgment packets decoded, per replica server id",
    }, []string{"server_id"})

    AckLogPosition = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "villagesql",
        Subsystem: "semisync",
        Name:      "ack_log_position",
        Help:      "Last acknowledged log position, per replica server id",
    }, []string{"server_id"})

    PollCycles = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync",
        Name:      "poll_cycles_total",
        Help:      "Total worker poll cycles (wait + dispatch)",
    })

    PollErrors = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync",
        Name:      "poll_errors_total",
        Help:      "Total readiness-wait errors observed by the worker",
    })

    RemoveHandshakes = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync",
        Name:      "remove_handshakes_total",
        Help:      "Total synchronous replica removals completed by the worker",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync_grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync_grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "villagesql",
        Subsystem: "semisync_grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "villagesql",
        Subsystem: "semisync_grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ReplicasAttached)
        prometheus.MustRegister(ReplicaFailures)
        prometheus.MustRegister(AcksReceived)
        prometheus.MustRegister(AckLogPosition)
        prometheus.MustRegister(PollCycles)
        prometheus.MustRegister(PollErrors)
        prometheus.MustRegister(RemoveHandshakes)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}

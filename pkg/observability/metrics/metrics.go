package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_keeper",
        Name:      "is_leader",
        Help:      "1 if this node is the raft leader, else 0",
    })

    LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Name:      "leader_changes_total",
        Help:      "Total number of observed leader change events",
    })

    ClusterServers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_keeper",
        Name:      "servers_total",
        Help:      "Number of servers in the committed raft configuration",
    })

    ConfigChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Name:      "config_changes_total",
        Help:      "Total membership change requests handled by this node",
    }, []string{"op", "result"})

    // Request pipeline
    ProposalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "raft",
        Name:      "proposals_total",
        Help:      "Total proposals submitted to the consensus engine",
    }, []string{"kind", "result"})
    AppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "raft",
        Name:      "applied_entries_total",
        Help:      "Total committed entries applied to the state machine",
    }, []string{"kind"})
    LastAppliedIndex = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_keeper",
        Subsystem: "raft",
        Name:      "last_applied_index",
        Help:      "Highest log index applied to the state machine",
    })
    SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "raft",
        Name:      "snapshots_total",
        Help:      "Total state machine snapshots taken",
    })
    RestoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "raft",
        Name:      "restores_total",
        Help:      "Total state machine restores from snapshot",
    })

    // Persistent log adapter
    LogAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "log",
        Name:      "appends_total",
        Help:      "Total log entries appended to the persistent log",
    })
    LogReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "log",
        Name:      "reads_total",
        Help:      "Total log entry reads from the persistent log",
    })
    LogTruncationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "log",
        Name:      "truncations_total",
        Help:      "Total range deletions on the persistent log",
    })

    // Sessions
    SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_keeper",
        Subsystem: "sessions",
        Name:      "active",
        Help:      "Number of live sessions known to this replica",
    })
    SessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "sessions",
        Name:      "created_total",
        Help:      "Total sessions created through the replicated log",
    })
    SessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "sessions",
        Name:      "expired_total",
        Help:      "Total sessions expired through the replicated log",
    })

    // Responses queue
    ResponsesQueued = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_keeper",
        Subsystem: "responses",
        Name:      "queued",
        Help:      "Responses currently buffered for delivery",
    })
    ResponsesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "responses",
        Name:      "dropped_total",
        Help:      "Responses dropped due to queue overflow",
    })
    ResponsesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "responses",
        Name:      "delivered_total",
        Help:      "Responses handed to the delivery layer",
    })

    // Management gRPC connection cache
    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_keeper",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_keeper",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })

    ResponseStreamSubs = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_keeper",
        Subsystem: "responses",
        Name:      "stream_subscribers",
        Help:      "Number of active response stream subscribers",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(IsLeader)
        prometheus.MustRegister(LeaderChanges)
        prometheus.MustRegister(ClusterServers)
        prometheus.MustRegister(ConfigChanges)
        prometheus.MustRegister(ProposalsTotal)
        prometheus.MustRegister(AppliedTotal)
        prometheus.MustRegister(LastAppliedIndex)
        prometheus.MustRegister(SnapshotsTotal)
        prometheus.MustRegister(RestoresTotal)
        prometheus.MustRegister(LogAppendsTotal)
        prometheus.MustRegister(LogReadsTotal)
        prometheus.MustRegister(LogTruncationsTotal)
        prometheus.MustRegister(SessionsActive)
        prometheus.MustRegister(SessionsCreatedTotal)
        prometheus.MustRegister(SessionsExpiredTotal)
        prometheus.MustRegister(ResponsesQueued)
        prometheus.MustRegister(ResponsesDroppedTotal)
        prometheus.MustRegister(ResponsesDeliveredTotal)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
        prometheus.MustRegister(ResponseStreamSubs)
    })
}

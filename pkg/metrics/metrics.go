package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "peerplot", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "peerplot", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	StoryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "peerplot", Name: "story_operations_total", Help: "Story log operations by operation and outcome."},
		[]string{"op", "outcome"},
	)
	ConflictsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "peerplot", Name: "conflicts_resolved_total", Help: "Concurrent document revisions merged by the conflict resolver, by record kind."},
		[]string{"kind"},
	)
	ReplicatedDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "peerplot", Name: "replicated_documents_total", Help: "Documents exchanged with peers by direction and result."},
		[]string{"direction", "result"},
	)
	SyncSessionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "peerplot", Name: "sync_session_up", Help: "1 while the peer replication session is running."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(StoryOperations)
	reg.MustRegister(ConflictsResolved)
	reg.MustRegister(ReplicatedDocuments)
	reg.MustRegister(SyncSessionUp)
}

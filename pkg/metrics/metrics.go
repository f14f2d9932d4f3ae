package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message lifecycle metrics
	MessagesClaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whizbang_messages_claimed_total",
			Help: "Total number of messages claimed by role",
		},
		[]string{"role"},
	)

	MessagesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whizbang_messages_completed_total",
			Help: "Total number of messages completed by role",
		},
		[]string{"role"},
	)

	MessagesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whizbang_messages_failed_total",
			Help: "Total number of message failures by reason",
		},
		[]string{"reason"},
	)

	MessagesDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_messages_deduplicated_total",
			Help: "Total number of enqueues dropped by the deduplication guard",
		},
	)

	// Coordination metrics
	StreamsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_streams_claimed_total",
			Help: "Total number of stream ownerships taken",
		},
	)

	StreamsOrphaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_streams_orphaned_total",
			Help: "Total number of idle streams released for re-claim",
		},
	)

	InstancesReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_instances_reaped_total",
			Help: "Total number of stale service instances reaped",
		},
	)

	LeasesRenewed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_leases_renewed_total",
			Help: "Total number of lease extensions granted",
		},
	)

	LeasesExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_leases_expired_total",
			Help: "Total number of leases that expired before completion",
		},
	)

	BatchesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_batches_flushed_total",
			Help: "Total number of coordinator work batches processed",
		},
	)

	CheckpointsAdvanced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whizbang_checkpoints_advanced_total",
			Help: "Total number of perspective checkpoint advances",
		},
	)

	// Latency metrics
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whizbang_dispatch_duration_seconds",
			Help:    "Envelope dispatch duration in seconds by message type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"message_type"},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whizbang_flush_duration_seconds",
			Help:    "Coordinator flush round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MessagesClaimed)
	prometheus.MustRegister(MessagesCompleted)
	prometheus.MustRegister(MessagesFailed)
	prometheus.MustRegister(MessagesDeduplicated)
	prometheus.MustRegister(StreamsClaimed)
	prometheus.MustRegister(StreamsOrphaned)
	prometheus.MustRegister(InstancesReaped)
	prometheus.MustRegister(LeasesRenewed)
	prometheus.MustRegister(LeasesExpired)
	prometheus.MustRegister(BatchesFlushed)
	prometheus.MustRegister(CheckpointsAdvanced)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(FlushDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

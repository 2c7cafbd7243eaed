package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Router metrics for monitoring message routing, classification and fan-out
var (
	RouterMessageAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_message_accepted_total",
		Help: "Total number of messages accepted for delivery",
	}, []string{"message_type", "priority"})

	RouterMessageRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_message_rejected_total",
		Help: "Total number of messages rejected during validation",
	}, []string{"reason"})

	RouterEmergencyOverrideTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_emergency_override_total",
		Help: "Total number of messages force-classified to emergency priority",
	})

	RouterIdempotentReplayTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_idempotent_replay_total",
		Help: "Total number of duplicate sends answered from the idempotency cache",
	})

	RouterSendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_send_duration_seconds",
		Help:    "Time taken per send step",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"step"}) // "persist", "fanout", "publish"

	RouterStatusFanoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_status_fanout_total",
		Help: "Total number of message status rows written during fan-out",
	}, []string{"status"})

	RouterPublishErrorTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_publish_error_total",
		Help: "Total number of failed pub/sub publishes",
	})

	RouterRetentionSweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_retention_swept_total",
		Help: "Total number of messages handled by the retention sweep",
	}, []string{"outcome"}) // "deleted", "exempt_emergency", "exempt_hold"
)

// Presence metrics
var (
	PresenceActiveParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "presence_active_participants",
		Help: "Current number of active participants per conversation",
	}, []string{"conversation_id"})

	PresenceStaleDeactivationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_stale_deactivation_total",
		Help: "Total number of mark-inactive calls skipped as superseded",
	})

	PresenceHeartbeatTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_heartbeat_total",
		Help: "Total number of presence heartbeats received",
	})
)

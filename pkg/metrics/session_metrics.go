package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics for the video-consultation state machine
var (
	SessionTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_transition_total",
		Help: "Total number of session state transitions",
	}, []string{"from", "to"})

	SessionTransitionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_transition_rejected_total",
		Help: "Total number of rejected session state transitions",
	}, []string{"from", "to"})

	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_active",
		Help: "Current number of sessions in the active state",
	})

	SessionDurationMinutes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_duration_minutes",
		Help:    "Duration of ended consultations in minutes",
		Buckets: []float64{1, 5, 10, 15, 20, 30, 45, 60, 90},
	})

	SessionConsentRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_consent_rejected_total",
		Help: "Total number of recording/transcription starts rejected for missing consent",
	})

	SessionEmergencyEscalationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_emergency_escalation_total",
		Help: "Total number of sessions escalated to emergency",
	})
)

// Escalation engine metrics
var (
	EscalationEvaluatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_evaluated_total",
		Help: "Total number of events evaluated against escalation rules",
	}, []string{"source"}) // "message", "session"

	EscalationMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalation_matched_total",
		Help: "Total number of events that matched an escalation rule",
	})

	EscalationLevelFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escalation_level_fired_total",
		Help: "Total number of escalation level actions executed",
	}, []string{"action", "status"})

	EscalationResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalation_resolved_total",
		Help: "Total number of escalation events resolved",
	})

	EscalationFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escalation_failed_total",
		Help: "Total number of escalation events that exhausted retries",
	})

	EscalationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escalation_queue_depth",
		Help: "Current depth of the escalation evaluation queue",
	})
)

// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts lifecycle operations by outcome ("ok" or an error code).
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_decisions_total",
			Help: "Total number of lifecycle operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_side_effect_failures_total",
			Help: "Total number of failed side effects after a committed transition",
		},
		[]string{"operation", "effect"},
	)

	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "whitelist_decision_duration_seconds",
			Help:    "Duration of lifecycle operations including side effects",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_relay_messages_total",
			Help: "Messages seen by the relay router",
		},
		[]string{"direction", "outcome"},
	)

	RoleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_role_operations_total",
			Help: "Role add/remove calls made against the guild",
		},
		[]string{"op", "outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whitelist_http_requests_total",
			Help: "HTTP requests served by route and status code",
		},
		[]string{"route", "code"},
	)

	DispatcherQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whitelist_dispatcher_queue_depth",
			Help: "Events waiting per dispatcher lane",
		},
		[]string{"lane"},
	)
)

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Connection state gauge values.
const (
	StateClosed     = 0
	StateConnecting = 1
	StateReady      = 2
	StateFailed     = 3
)

var (
	namespace = "docgateway"

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "actions_total",
			Help:      "Gateway actions executed, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	actionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "action_duration_seconds",
			Help:      "Time taken to execute a gateway action",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	connectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "connection_attempts_total",
			Help:      "Dial attempts made by connection managers, by database and outcome",
		},
		[]string{"database", "outcome"},
	)

	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "connection_state",
			Help:      "Connection manager state (0 closed, 1 connecting, 2 ready, 3 failed)",
		},
		[]string{"database"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Change events appended to the change feed",
		},
		[]string{"type", "outcome"},
	)
)

// ObserveAction records one executed action.
func ObserveAction(action string, started time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	actionsTotal.WithLabelValues(action, outcome).Inc()
	actionDuration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

// ConnectionAttempt records a single dial attempt.
func ConnectionAttempt(database string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	connectionAttempts.WithLabelValues(database, outcome).Inc()
}

// SetConnectionState records the current manager state for database.
func SetConnectionState(database string, state int) {
	connectionState.WithLabelValues(database).Set(float64(state))
}

// EventPublished records a change feed append.
func EventPublished(eventType string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

// Package metrics exposes the Prometheus counters of the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_events_appended_total",
			Help: "Total number of events durably appended to the event log",
		},
		[]string{"type"},
	)

	eventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_events_rejected_total",
			Help: "Total number of events rejected by validation",
		},
		[]string{"field"},
	)

	notifyFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fan_event_notify_failures_total",
			Help: "Total number of failed event notifications after a durable append",
		},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_decisions_total",
			Help: "Total number of CTA decisions served",
		},
		[]string{"primary", "fallback"},
	)

	actionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_actions_created_total",
			Help: "Total number of scheduled actions created",
		},
		[]string{"action_type", "status"},
	)

	actionsDuplicateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fan_actions_duplicate_total",
			Help: "Total number of trigger events that hit an existing dedup key",
		},
	)

	actionsTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_actions_terminal_total",
			Help: "Total number of scheduled actions reaching a terminal status",
		},
		[]string{"action_type", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fan_delivery_duration_seconds",
			Help:    "Delivery collaborator call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"action_type", "outcome"},
	)

	deliveryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_delivery_retries_total",
			Help: "Total number of failed deliveries rescheduled with backoff",
		},
		[]string{"action_type"},
	)

	deliveryThrottledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_delivery_throttled_total",
			Help: "Total number of sends deferred by a local send quota",
		},
		[]string{"action_type"},
	)

	eventsRedeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fan_events_redelivered_total",
			Help: "Total number of unprocessed events re-notified by the recovery sweep",
		},
	)

	eventsDeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fan_events_dead_lettered_total",
			Help: "Total number of events the recovery sweep gave up on",
		},
	)

	suppressionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_suppression_checks_total",
			Help: "Total number of suppression checks by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	suppressionWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fan_suppression_writes_total",
			Help: "Total number of suppression ledger writes",
		},
		[]string{"op", "reason"},
	)

	dueQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fan_due_queue_depth",
			Help: "Number of actions waiting in the due queue",
		},
	)

	workerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fan_worker_jobs_active",
			Help: "Number of jobs currently executing per pool",
		},
		[]string{"pool"},
	)
)

// RecordEventAppended records an event written to the log.
func RecordEventAppended(eventType string) {
	eventsAppendedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventRejected records a validation failure.
func RecordEventRejected(field string) {
	eventsRejectedTotal.WithLabelValues(field).Inc()
}

// RecordNotifyFailure records a notification that could not be published.
func RecordNotifyFailure() {
	notifyFailuresTotal.Inc()
}

// RecordDecision records a served decision. primary is "none" when no CTA
// was available.
func RecordDecision(primary string, fallback bool) {
	fb := "false"
	if fallback {
		fb = "true"
	}
	decisionsTotal.WithLabelValues(primary, fb).Inc()
}

// RecordActionCreated records a new scheduled action.
func RecordActionCreated(actionType, status string) {
	actionsCreatedTotal.WithLabelValues(actionType, status).Inc()
}

// RecordActionDuplicate records a dedup hit.
func RecordActionDuplicate() {
	actionsDuplicateTotal.Inc()
}

// RecordActionTerminal records a transition out of pending.
func RecordActionTerminal(actionType, status string) {
	actionsTerminalTotal.WithLabelValues(actionType, status).Inc()
}

// RecordDelivery records one call to the delivery collaborator.
func RecordDelivery(actionType string, ok bool, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	deliveryDuration.WithLabelValues(actionType, outcome).Observe(d.Seconds())
}

// RecordDeliveryRetry records a reschedule after a failed delivery.
func RecordDeliveryRetry(actionType string) {
	deliveryRetriesTotal.WithLabelValues(actionType).Inc()
}

// RecordDeliveryThrottled records a send deferred by a quota.
func RecordDeliveryThrottled(actionType string) {
	deliveryThrottledTotal.WithLabelValues(actionType).Inc()
}

func RecordEventRedelivered()  { eventsRedeliveredTotal.Inc() }
func RecordEventDeadLettered() { eventsDeadLetteredTotal.Inc() }

// RecordSuppressionCheck records a check at "schedule" or "send" time with
// outcome "clear", "suppressed" or "error".
func RecordSuppressionCheck(stage, outcome string) {
	suppressionChecksTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordSuppressionWrite records a ledger append ("suppress") or
// tombstone ("unsuppress").
func RecordSuppressionWrite(op, reason string) {
	suppressionWritesTotal.WithLabelValues(op, reason).Inc()
}

// SetDueQueueDepth sets the due queue gauge.
func SetDueQueueDepth(n int) {
	dueQueueDepth.Set(float64(n))
}

// WorkerStarted and WorkerFinished track active jobs of a pool.
func WorkerStarted(pool string)  { workerJobsActive.WithLabelValues(pool).Inc() }
func WorkerFinished(pool string) { workerJobsActive.WithLabelValues(pool).Dec() }

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

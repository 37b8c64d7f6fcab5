package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_events_published_total",
			Help: "Total number of events accepted by the event store",
		},
		[]string{"event_type"},
	)

	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_events_processed_total",
			Help: "Total number of processing attempts by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_handler_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"event_type", "handler"},
	)

	ClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_claim_conflicts_total",
			Help: "Total number of state updates rejected because the claim was lost",
		},
	)

	EventsReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_events_reclaimed_total",
			Help: "Total number of stuck events reclaimed by the janitor",
		},
		[]string{"outcome"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_dead_letters_total",
			Help: "Total number of events moved to the dead letter queue",
		},
		[]string{"event_type"},
	)

	DeadLetterRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_dead_letter_retries_total",
			Help: "Total number of dead letters re-published",
		},
	)

	DeadLettersForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_dead_letters_forwarded_total",
			Help: "Total number of dead letters forwarded to Kafka by result",
		},
		[]string{"result"},
	)

	WorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_workflows_total",
			Help: "Total number of workflow transitions by status",
		},
		[]string{"workflow", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_workflow_duration_seconds",
			Help:    "Time from workflow start to its terminal status",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"workflow", "status"},
	)

	WorkflowSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_workflow_steps_total",
			Help: "Total number of workflow steps completed",
		},
		[]string{"workflow", "step"},
	)

	HeartbeatStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_health_status",
			Help: "Probe status: 0 healthy, 1 degraded, 2 down, 3 critical",
		},
		[]string{"component"},
	)

	EventBusPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_event_bus_pending",
			Help: "Events waiting in pending or retry",
		},
	)

	DeadLetterCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_dead_letter_count",
			Help: "Records currently in the dead letter queue",
		},
	)

	ActiveWorkflows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_active_workflows",
			Help: "Workflow executions currently running",
		},
	)

	StuckEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_stuck_events",
			Help: "Events processing for longer than the processing timeout",
		},
	)
)

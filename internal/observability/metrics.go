package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulerTicks counts completed scheduler ticks.
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_scheduler_ticks_total",
		Help: "Total number of completed scheduler ticks",
	})

	// SchedulerTicksSkipped counts ticks skipped by the reentrancy guard.
	SchedulerTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_scheduler_ticks_skipped_total",
		Help: "Ticks skipped because a previous tick was still running",
	})

	// SchedulerTickDuration tracks the duration of a scheduler tick.
	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkwatch_scheduler_tick_duration_seconds",
		Help:    "Duration of one select-claim-enqueue scheduler cycle",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	})

	// SchedulerJobsQueued counts health-check jobs enqueued by the scheduler.
	SchedulerJobsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_scheduler_jobs_queued_total",
		Help: "Health-check jobs enqueued by the scheduler",
	})

	// SchedulerClaimsLost counts rows that were eligible at select time but
	// claimed by another replica (or deactivated) before this one got there.
	SchedulerClaimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_scheduler_claims_lost_total",
		Help: "Monitors selected but claimed elsewhere before this replica's claim",
	})

	// ProbesTotal counts completed probes by resulting health status.
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwatch_probes_total",
		Help: "Completed probes by health status",
	}, []string{"status"})

	// ProbeDuration tracks end-to-end probe latency.
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkwatch_probe_duration_seconds",
		Help:    "End-to-end probe latency including bot-challenge retries",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// BotChallengeRetries counts HEAD requests re-issued as GET after a
	// bot-challenge status.
	BotChallengeRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_probe_bot_challenge_retries_total",
		Help: "HEAD probes re-issued as GET after a bot-challenge response",
	})

	// StateSinkFailures counts failed monitor-row updates after a probe.
	StateSinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_state_sink_failures_total",
		Help: "Failed state-sink writes (job still succeeds; lease expiry recovers)",
	})

	// HistorySinkFailures counts failed history-sink writes by environment.
	HistorySinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkwatch_history_sink_failures_total",
		Help: "Failed history-sink writes (observation lost)",
	}, []string{"environment"})

	// EventPublishFailures counts failed status-event publishes (best-effort).
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkwatch_event_publish_failures_total",
		Help: "Failed status event publish attempts (non-blocking, best-effort)",
	})

	// QueueDepth tracks pending tasks per dispatch queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkwatch_queue_depth",
		Help: "Pending tasks in the dispatch queue",
	}, []string{"queue"})

	// QueueActive tracks in-flight tasks per dispatch queue.
	QueueActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linkwatch_queue_active",
		Help: "Tasks currently being processed per dispatch queue",
	}, []string{"queue"})

	// MonitorsActive tracks the number of active monitors in the store.
	MonitorsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkwatch_monitors_active",
		Help: "Current number of active monitors",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dtr_moderation_actions_total",
	Help: "Moderation actions handled, by action kind and outcome.",
}, []string{"kind", "status"})

var EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dtr_moderation_events_total",
	Help: "Moderation events emitted by the ledger, by event type.",
}, []string{"type"})

var PublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dtr_publish_total",
	Help: "Event publish attempts, by universe and status.",
}, []string{"universe", "status"})

var PublishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dtr_publish_latency_seconds",
	Help:    "Latency of one publish to one universe.",
	Buckets: prometheus.DefBuckets,
}, []string{"status"})

var BroadcastFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dtr_broadcast_failures_total",
	Help: "Actions whose ledger mutation succeeded but at least one delivery failed.",
})

var JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dtr_job_runs_total",
	Help: "Background job runs, by job and status.",
}, []string{"job", "status"})

var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "dtr_job_duration_seconds",
	Help:    "Background job duration, by job.",
	Buckets: prometheus.DefBuckets,
}, []string{"job"})

var ExpiredBansSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dtr_expired_bans_swept_total",
	Help: "Temporary ban records removed by the expiry sweep.",
})

var AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dtr_audit_write_failures_total",
	Help: "Audit rows that failed to persist.",
})

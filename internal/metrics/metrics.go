package metrics

import (
	"database/sql"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once   sync.Once
	dbOnce sync.Once

	OutboxClaimed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "flytwo_outbox_claimed_total", Help: "Outbox messages claimed by the relay"})
	OutboxPublished = prometheus.NewCounter(prometheus.CounterOpts{Name: "flytwo_outbox_published_total", Help: "Outbox messages published to the broker"})
	OutboxFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "flytwo_outbox_publish_failed_total", Help: "Outbox publish attempts that failed"})
	RelayErrors     = prometheus.NewCounter(prometheus.CounterOpts{Name: "flytwo_outbox_relay_errors_total", Help: "Relay loop iterations that ended in an error"})
	RelayBatch      = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flytwo_outbox_batch_duration_seconds",
		Help:    "Time spent relaying one claimed batch",
		Buckets: prometheus.DefBuckets,
	})

	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flytwo_job_events_processed_total", Help: "Worker job events applied"}, []string{"type"})
	EventsDropped   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flytwo_job_events_dropped_total", Help: "Worker job events dropped"}, []string{"reason"})
	EventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{Name: "flytwo_job_event_queue_depth", Help: "Job events waiting to be applied"})

	NotificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flytwo_notifications_created_total", Help: "Notifications persisted"}, []string{"scope"})
	PushFailures         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flytwo_realtime_push_failed_total", Help: "Realtime pushes that failed"}, []string{"event"})

	PrintJobsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "flytwo_print_jobs_created_total", Help: "Print jobs accepted"}, []string{"report_key"})
)

// Register adds the collectors to the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			OutboxClaimed,
			OutboxPublished,
			OutboxFailed,
			RelayErrors,
			RelayBatch,
			EventsProcessed,
			EventsDropped,
			EventQueueDepth,
			NotificationsCreated,
			PushFailures,
			PrintJobsCreated,
		)
	})
}

// RegisterDBStats exports connection pool statistics for db.
func RegisterDBStats(db *sql.DB) {
	dbOnce.Do(func() {
		prometheus.MustRegister(collectors.NewDBStatsCollector(db, "flytwo"))
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

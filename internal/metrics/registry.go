package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all ingest-domain metrics for the application.
type Registry struct {
	// Ingest metrics, labeled by discovery source
	EventsReceived       *prometheus.CounterVec
	ClaimsWon            *prometheus.CounterVec
	DuplicatesSuppressed *prometheus.CounterVec
	EventsDropped        *prometheus.CounterVec

	// Queue metrics
	JobsEnqueued     prometheus.Counter
	JobsDispatched   prometheus.Counter
	JobsFailed       prometheus.Counter
	InlineDispatches prometheus.Counter
	QueueDepth       prometheus.Gauge

	// Stream metrics
	StreamReconnects *prometheus.CounterVec
	FallbackSignals  prometheus.Counter
	StreamConnected  prometheus.Gauge
	Heartbeats       prometheus.Counter

	// Claim store metrics
	ClaimStoreSize prometheus.Gauge
}

// NewRegistry creates and registers all metrics against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_events_received_total",
			Help: "Candidate mention events observed, by source.",
		}, []string{"source"}),
		ClaimsWon: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_claims_won_total",
			Help: "Events this source claimed first, by source.",
		}, []string{"source"}),
		DuplicatesSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_duplicates_suppressed_total",
			Help: "Events already claimed elsewhere, by source.",
		}, []string{"source"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_events_dropped_total",
			Help: "Events dropped before claiming, by reason.",
		}, []string{"reason"}),

		JobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_jobs_enqueued_total",
			Help: "Dispatch jobs enqueued.",
		}),
		JobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_jobs_dispatched_total",
			Help: "Dispatch jobs completed successfully.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_jobs_failed_total",
			Help: "Dispatch job attempts that returned an error.",
		}),
		InlineDispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_inline_dispatches_total",
			Help: "Jobs dispatched synchronously because the queue was unavailable.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentiond_queue_depth",
			Help: "Pending jobs in the dispatch queue.",
		}),

		StreamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentiond_stream_reconnects_total",
			Help: "Stream reconnect attempts, by backoff tier.",
		}, []string{"tier"}),
		FallbackSignals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_stream_fallback_signals_total",
			Help: "Edge-triggered fallback signals fired by the stream manager.",
		}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentiond_stream_connected",
			Help: "1 while the stream connection is established.",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentiond_stream_heartbeats_total",
			Help: "Keep-alive heartbeats observed on the stream.",
		}),

		ClaimStoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentiond_claim_store_size",
			Help: "Retained claims in the idempotency store.",
		}),
	}

	reg.MustRegister(
		r.EventsReceived,
		r.ClaimsWon,
		r.DuplicatesSuppressed,
		r.EventsDropped,
		r.JobsEnqueued,
		r.JobsDispatched,
		r.JobsFailed,
		r.InlineDispatches,
		r.QueueDepth,
		r.StreamReconnects,
		r.FallbackSignals,
		r.StreamConnected,
		r.Heartbeats,
		r.ClaimStoreSize,
	)

	return r
}

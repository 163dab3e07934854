package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors. Each crawler gets its
// own set registered on the Registerer it was built with.
type Metrics struct {
	// Fetches counts finished fetches by outcome.
	Fetches *prometheus.CounterVec
	// FetchDuration observes the time from request start to body read.
	FetchDuration prometheus.Histogram
	// TasksEnqueued counts IDs handed to workers, by source (backfill or forward).
	TasksEnqueued *prometheus.CounterVec
	// Archived counts records inserted into the store.
	Archived prometheus.Counter
	// Duplicates counts inserts ignored because the ID already had a record.
	Duplicates prometheus.Counter
	// Deferred counts results left unpersisted for a later backfill.
	Deferred prometheus.Counter
	// Dropped counts results that were produced but could not be persisted.
	Dropped prometheus.Counter
	// PublishErrors counts failed record publications.
	PublishErrors prometheus.Counter
	// NextID is the next ID forward enumeration will enqueue.
	NextID prometheus.Gauge
}

// NewMetrics registers the pipeline collectors on reg. A nil reg uses a
// private registry, which keeps tests and embedded use independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idarchiver_fetches_total",
			Help: "The total number of finished fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idarchiver_fetch_duration_seconds",
			Help:    "Time spent fetching a details page.",
			Buckets: prometheus.DefBuckets,
		}),
		TasksEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idarchiver_tasks_enqueued_total",
			Help: "The total number of IDs enqueued for fetching.",
		}, []string{"source"}),
		Archived: factory.NewCounter(prometheus.CounterOpts{
			Name: "idarchiver_records_archived_total",
			Help: "The total number of records written to the store.",
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "idarchiver_records_duplicate_total",
			Help: "The total number of results ignored because the ID was already archived.",
		}),
		Deferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "idarchiver_records_deferred_total",
			Help: "The total number of results left for a later backfill.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "idarchiver_records_dropped_total",
			Help: "The total number of results that could not be persisted.",
		}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "idarchiver_publish_errors_total",
			Help: "The total number of records that failed to publish.",
		}),
		NextID: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idarchiver_next_id",
			Help: "The next ID forward enumeration will enqueue.",
		}),
	}
}

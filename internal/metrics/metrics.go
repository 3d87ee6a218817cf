// Package metrics exposes Prometheus instrumentation for the watcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whalewatch"

// Metrics holds all Prometheus metrics for the application. Each instance
// owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	EventsIngested  *prometheus.CounterVec // platform, path
	EventsFiltered  *prometheus.CounterVec // platform
	EventsDuplicate *prometheus.CounterVec // platform
	EventsSkipped   *prometheus.CounterVec // platform, reason
	AlertsSent      *prometheus.CounterVec // platform
	FetchErrors     *prometheus.CounterVec // platform, path
	ParseErrors     *prometheus.CounterVec // platform
	StreamDropped   *prometheus.CounterVec // platform
	StreamLive      *prometheus.GaugeVec   // platform

	// State
	TrackedActors       prometheus.Gauge
	PositionRecords     prometheus.Gauge
	ProfileCacheEntries prometheus.Gauge
	ProfileFetches      *prometheus.CounterVec // result
	PersistErrors       *prometheus.CounterVec // kind

	// Retention
	PruneRuns    prometheus.Counter
	PruneRemoved *prometheus.CounterVec // kind
}

// New creates a Metrics instance with all metrics registered on a private
// registry, together with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ticks_total",
			Help:      "Total number of coordinator ticks",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one coordinator tick",
			Buckets:   prometheus.DefBuckets,
		}),
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Trade events received by platform and path",
		}, []string{"platform", "path"}),
		EventsFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_below_threshold_total",
			Help:      "Trade events skipped by the value threshold",
		}, []string{"platform"}),
		EventsDuplicate: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_duplicate_total",
			Help:      "Trade events skipped because they were already processed",
		}, []string{"platform"}),
		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_market_skipped_total",
			Help:      "Qualifying trades skipped by the odds or spread filter",
		}, []string{"platform", "reason"}),
		AlertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "dispatched_total",
			Help:      "Whale alerts handed to the notifier",
		}, []string{"platform"}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_errors_total",
			Help:      "Failed fetches by platform and path",
		}, []string{"platform", "path"}),
		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "parse_errors_total",
			Help:      "Responses that could not be decoded",
		}, []string{"platform"}),
		StreamDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Stream events dropped because the queue was full",
		}, []string{"platform"}),
		StreamLive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "live",
			Help:      "1 while the stream has produced an event within the quiet period",
		}, []string{"platform"}),

		TrackedActors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "tracked_actors",
			Help:      "Actors with an activity log in memory",
		}),
		PositionRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "position_records",
			Help:      "Position memory records in memory",
		}),
		ProfileCacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "profile_cache_entries",
			Help:      "Entries in the whale profile cache",
		}),
		ProfileFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "profile_lookups_total",
			Help:      "Profile cache lookups by result (hit, fetched, error)",
		}, []string{"result"}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persist_errors_total",
			Help:      "Failed durable store writes by record kind",
		}, []string{"kind"}),

		PruneRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "prune_runs_total",
			Help:      "Completed prune passes",
		}),
		PruneRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "removed_total",
			Help:      "Records removed by pruning, by kind",
		}, []string{"kind"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetStreamLive records the stream state for a platform.
func (m *Metrics) SetStreamLive(platform string, live bool) {
	v := 0.0
	if live {
		v = 1
	}
	m.StreamLive.WithLabelValues(platform).Set(v)
}

// Package metrics holds the Prometheus instruments for the memory engine.
// A Metrics value owns its registry so tests and embedded deployments never
// collide on the global default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whisperengine"

// Metrics bundles the engine's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	FragmentWrites   *prometheus.CounterVec
	WriteErrors      prometheus.Counter
	ChunksPerWrite   prometheus.Histogram
	Searches         *prometheus.CounterVec
	SearchLatency    prometheus.Histogram
	SearchCandidates prometheus.Histogram

	FactMerges       *prometheus.CounterVec
	FactDeletes      prometheus.Counter
	GraphQueryErrors prometheus.Counter

	SynapseMirrors  prometheus.Counter
	SynapseFailures prometheus.Counter

	HistoryWrites prometheus.Counter

	PruneRuns      *prometheus.CounterVec
	PruneDeletions *prometheus.CounterVec
	PruneDuration  prometheus.Histogram

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	EventsPublished *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	StoreUp *prometheus.GaugeVec

	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics with a fresh registry, including the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FragmentWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "fragment_writes_total",
			Help:      "Fragments written to the vector store, by source type",
		}, []string{"source_type"}),

		WriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "write_errors_total",
			Help:      "Vector store writes that failed after retries",
		}),

		ChunksPerWrite: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "chunks_per_write",
			Help:      "Number of segments produced per stored message",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),

		Searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "searches_total",
			Help:      "Retrieval queries, by kind",
		}, []string{"kind"}),

		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "search_latency_seconds",
			Help:      "End-to-end retrieval latency including scoring",
			Buckets:   prometheus.DefBuckets,
		}),

		SearchCandidates: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "search_candidates",
			Help:      "Candidates fetched from the vector store before dedup",
			Buckets:   []float64{5, 10, 20, 30, 50, 100},
		}),

		FactMerges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "fact_merges_total",
			Help:      "Fact merges, by conflict path taken",
		}, []string{"resolution"}),

		FactDeletes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "fact_deletes_total",
			Help:      "Explicit scoped fact deletions",
		}),

		GraphQueryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "query_errors_total",
			Help:      "Graph reads or writes that failed after retries",
		}),

		SynapseMirrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "synapse",
			Name:      "mirrors_total",
			Help:      "Vector fragments mirrored into the graph",
		}),

		SynapseFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "synapse",
			Name:      "failures_total",
			Help:      "Best-effort mirror operations that were swallowed",
		}),

		HistoryWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "messages_recorded_total",
			Help:      "Messages recorded in the relational log",
		}),

		PruneRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "runs_total",
			Help:      "Graph maintenance runs, by mode",
		}, []string{"mode"}),

		PruneDeletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "deletions_total",
			Help:      "Items removed by graph maintenance, by strategy",
		}, []string{"strategy"}),

		PruneDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prune",
			Name:      "duration_seconds",
			Help:      "Wall time of full maintenance runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Context cache hits",
		}),

		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Context cache misses",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Memory events published, by type",
		}, []string{"type"}),

		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because publishing failed",
		}),

		StoreUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stores",
			Name:      "up",
			Help:      "Connectivity of each backing store (1=up, 0=down)",
		}, []string{"store"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration, by method, route and status",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
	}
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving this registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts run activity. Register it on a dedicated registry to export
// one run's numbers, e.g. with prometheus.WriteToTextfile.
type Metrics struct {
	Queries      prometheus.Counter
	Failures     prometheus.Counter
	Refinements  prometheus.Counter
	NearLimit    prometheus.Counter
	UniquePlaces prometheus.Gauge
	Pending      prometheus.Gauge
}

// NewMetrics registers the run metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Queries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "placegrid",
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Grid point queries issued to the transport",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "placegrid",
			Subsystem: "search",
			Name:      "query_failures_total",
			Help:      "Grid point queries that failed after transport retries",
		}),
		Refinements: f.NewCounter(prometheus.CounterOpts{
			Namespace: "placegrid",
			Subsystem: "search",
			Name:      "refinements_total",
			Help:      "Grid points subdivided because their result count hit the threshold",
		}),
		NearLimit: f.NewCounter(prometheus.CounterOpts{
			Namespace: "placegrid",
			Subsystem: "search",
			Name:      "near_limit_total",
			Help:      "Grid points whose result count was at the provider cap",
		}),
		UniquePlaces: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "placegrid",
			Subsystem: "search",
			Name:      "unique_places",
			Help:      "Unique place ids discovered so far",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "placegrid",
			Subsystem: "search",
			Name:      "pending_points",
			Help:      "Grid points still waiting to be queried",
		}),
	}
}

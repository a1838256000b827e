// Package metrics exposes prometheus instrumentation for the matching
// engine and resource pools.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the engine's collectors on a dedicated prometheus
// registry so embedding services can mount or merge it as they see fit.
type Registry struct {
	registry *prometheus.Registry

	MatchRequestsTotal     *prometheus.CounterVec
	PatternsEvaluatedTotal prometheus.Counter
	PoolAllocationsTotal   *prometheus.CounterVec
	TopologyLoadsTotal     *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.MatchRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztp_match_requests_total",
			Help: "Match requests processed, by outcome",
		},
		[]string{"outcome"},
	)

	r.PatternsEvaluatedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ztp_patterns_evaluated_total",
			Help: "Individual pattern evaluations performed",
		},
	)

	r.PoolAllocationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztp_pool_allocations_total",
			Help: "Resource pool allocation attempts, by pool and status",
		},
		[]string{"pool", "status"},
	)

	r.TopologyLoadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztp_topology_loads_total",
			Help: "Topology document loads, by status",
		},
		[]string{"status"},
	)

	return r
}

// RecordMatch records one match request with its outcome ("matched" or
// "unmatched") and the number of patterns evaluated for it.
func (r *Registry) RecordMatch(outcome string, patternsEvaluated int) {
	r.MatchRequestsTotal.WithLabelValues(outcome).Inc()
	r.PatternsEvaluatedTotal.Add(float64(patternsEvaluated))
}

// RecordAllocation records one pool allocation attempt.
func (r *Registry) RecordAllocation(pool, status string) {
	r.PoolAllocationsTotal.WithLabelValues(pool, status).Inc()
}

// RecordTopologyLoad records one topology document load.
func (r *Registry) RecordTopologyLoad(status string) {
	r.TopologyLoadsTotal.WithLabelValues(status).Inc()
}

// Gatherer exposes the underlying registry for scraping or merging.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler serving the registry in the prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Package xstats carries the coordination plane's Prometheus metrics:
// replica-set scan latency, catalog commit latency, and migration phase
// duration. Grounded in the teacher's own stats package (counter/latency
// tracking per named metric, sorted-registration discipline) but built
// directly on prometheus/client_golang rather than the teacher's
// StatsD-or-Prometheus dual path, since this module carries no StatsD
// dependency to dual with.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xstats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this module emits, registered against a
// private prometheus.Registry rather than the global default — so a
// process embedding this package never collides with another package's
// metric names.
type Registry struct {
	reg *prometheus.Registry

	scanDuration      *prometheus.HistogramVec
	commitDuration    *prometheus.HistogramVec
	commitTotal       *prometheus.CounterVec
	migrationPhase    *prometheus.HistogramVec
	routingCacheHit   prometheus.Counter
	routingCacheMiss  prometheus.Counter
}

// New builds a Registry with every metric pre-registered. Safe for
// concurrent use by every component that takes one (catalog, rsm,
// migration, routing).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		scanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coord",
			Subsystem: "rsm",
			Name:      "scan_probe_duration_seconds",
			Help:      "Round-trip latency of one ismaster probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"set", "host", "outcome"}),
		commitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coord",
			Subsystem: "catalog",
			Name:      "commit_duration_seconds",
			Help:      "Wall-clock duration of a chunk catalog commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		commitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coord",
			Subsystem: "catalog",
			Name:      "commits_total",
			Help:      "Chunk catalog commits by operation and outcome.",
		}, []string{"op", "outcome"}),
		migrationPhase: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coord",
			Subsystem: "migration",
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each donor-side migration phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		routingCacheHit: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coord",
			Subsystem: "routing",
			Name:      "cache_hits_total",
			Help:      "Routing cache lookups served without a config-server fetch.",
		}),
		routingCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "coord",
			Subsystem: "routing",
			Name:      "cache_misses_total",
			Help:      "Routing cache lookups that required a config-server fetch.",
		}),
	}
}

// Handler serves the registry's metrics for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveScanProbe(setName, host string, seconds float64, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	r.scanDuration.WithLabelValues(setName, host, outcome).Observe(seconds)
}

func (r *Registry) ObserveCommit(op string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.commitDuration.WithLabelValues(op).Observe(seconds)
	r.commitTotal.WithLabelValues(op, outcome).Inc()
}

func (r *Registry) ObserveMigrationPhase(phase string, seconds float64) {
	r.migrationPhase.WithLabelValues(phase).Observe(seconds)
}

func (r *Registry) RoutingCacheHit()  { r.routingCacheHit.Inc() }
func (r *Registry) RoutingCacheMiss() { r.routingCacheMiss.Inc() }

package permcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the permission cache
type Metrics struct {
	HitsTotal     *prometheus.CounterVec
	MissesTotal   *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	RebuildsTotal *prometheus.CounterVec
	StaleTotal    *prometheus.CounterVec
}

// NewMetrics creates the cache metrics and registers them when registry is not nil
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permcache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"namespace"},
		),
		MissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permcache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"namespace"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permcache_errors_total",
				Help: "Total number of permission cache store errors",
			},
			[]string{"namespace", "operation"},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permcache_rebuilds_total",
				Help: "Total number of background permission cache rebuilds",
			},
			[]string{"status"},
		),
		StaleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permcache_stale_writes_total",
				Help: "Total number of snapshots dropped because their account was evicted while they loaded",
			},
			[]string{"namespace"},
		),
	}

	if registry != nil {
		registry.MustRegister(m.HitsTotal, m.MissesTotal, m.ErrorsTotal, m.RebuildsTotal, m.StaleTotal)
	}
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croprisk_upstream_calls_total",
			Help: "Total upstream observation API calls",
		},
		[]string{"provider", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "croprisk_upstream_latency_seconds",
			Help:    "Upstream observation API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croprisk_cache_lookups_total",
			Help: "Observation cache lookups by result (hit, miss, expired, corrupt)",
		},
		[]string{"result"},
	)

	ObservationsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croprisk_observations_persisted_total",
			Help: "Total observations written to local history",
		},
		[]string{"station"},
	)

	StationFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croprisk_station_fetch_failures_total",
			Help: "Per-station acquisition failures tolerated during an analysis",
		},
		[]string{"reason"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croprisk_analyses_total",
			Help: "Completed analyses by outcome and data source",
		},
		[]string{"outcome", "source"},
	)

	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "croprisk_catalog_stations",
			Help: "Number of stations in the in-memory catalog",
		},
	)
)

// Package telemetry exposes prometheus metrics for the ingestion pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics carries every collector the pipeline and server report to.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	ArticlesFound     prometheus.Counter
	ArticlesProcessed prometheus.Counter
	ArticlesDropped   *prometheus.CounterVec
	EnrichmentLookups *prometheus.CounterVec
}

// New registers the collectors on reg and returns them. Pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medwatch",
			Name:      "runs_total",
			Help:      "Ingestion runs by final status.",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medwatch",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a full ingestion run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ArticlesFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medwatch",
			Name:      "articles_found_total",
			Help:      "Article references returned by discovery before dedup.",
		}),
		ArticlesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "medwatch",
			Name:      "articles_processed_total",
			Help:      "Articles that made it into a snapshot.",
		}),
		ArticlesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medwatch",
			Name:      "articles_dropped_total",
			Help:      "Articles dropped during a run, by stage.",
		}, []string{"stage"}),
		EnrichmentLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medwatch",
			Name:      "enrichment_lookups_total",
			Help:      "Profile lookups by outcome (hit or miss).",
		}, []string{"outcome"}),
	}
}

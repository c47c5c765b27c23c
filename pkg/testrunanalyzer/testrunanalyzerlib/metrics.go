package testrunanalyzerlib

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

var (
	prefetchInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testrun_analyzer_prefetch_in_flight",
		Help: "The number of artifacts currently being materialized",
	})

	prefetchCompletedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testrun_analyzer_prefetch_completed_total",
		Help: "The number of artifacts the prefetching reader finished, by result",
	}, []string{"result"})

	prefetchDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "testrun_analyzer_prefetch_duration_seconds",
		Help:    "The time it took to materialize one artifact",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

// RegisterMetrics registers the prefetch metrics with the given registerer
func RegisterMetrics(registerer prometheus.Registerer) error {
	if err := registerer.Register(prefetchInFlightGauge); err != nil {
		return fmt.Errorf("failed to register prefetchInFlightGauge metric: %w", err)
	}
	if err := registerer.Register(prefetchCompletedCounter); err != nil {
		return fmt.Errorf("failed to register prefetchCompletedCounter metric: %w", err)
	}
	if err := registerer.Register(prefetchDurationHistogram); err != nil {
		return fmt.Errorf("failed to register prefetchDurationHistogram metric: %w", err)
	}
	return nil
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	QueriesTotal     prometheus.Counter
	QueryFailures    prometheus.Counter
	RateLimited      prometheus.Counter
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  prometheus.Histogram
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aicompare",
				Name:      "queries_total",
				Help:      "Total dispatch workflow runs started",
			}),
			QueryFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aicompare",
				Name:      "query_failures_total",
				Help:      "Total dispatch workflow runs that ended in error",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aicompare",
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter",
			}),
			UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aicompare",
				Name:      "upstream_requests_total",
				Help:      "Total aggregator calls by outcome",
			}, []string{"outcome"}),
			UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "aicompare",
				Name:      "upstream_latency_seconds",
				Help:      "Aggregator call latency",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			global.QueriesTotal,
			global.QueryFailures,
			global.RateLimited,
			global.UpstreamRequests,
			global.UpstreamLatency,
		)
	})
	return global
}

// Package prometheus exports optimizer events as Prometheus metrics. Subscribe a Listener
// with Optimizer.Subscribe or queryopt.WithListener.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/burugo/queryopt"
)

// Listener turns events into counters and histograms labelled by collection.
type Listener struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	queries       *prometheus.CounterVec
	dedupJoins    *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	batches       *prometheus.CounterVec
	batchSize     prometheus.Histogram
	evictions     prometheus.Counter
	invalidated   prometheus.Counter
}

var _ queryopt.Listener = (*Listener)(nil)

// NewListener registers the metrics with reg (prometheus.DefaultRegisterer when nil) under
// the given namespace.
func NewListener(reg prometheus.Registerer, namespace string) *Listener {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	byCollection := []string{"collection"}

	return &Listener{
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Queries answered from the result cache.",
		}, byCollection),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that found no usable entry.",
		}, byCollection),
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_executed_total",
			Help:      "Queries answered by the provider, including callers that joined an in-flight execution.",
		}, byCollection),
		dedupJoins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_joins_total",
			Help:      "Callers that shared an identical in-flight execution.",
		}, byCollection),
		queryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Failed query calls.",
		}, byCollection),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Provider execution time of successful queries.",
			Buckets:   prometheus.DefBuckets,
		}, byCollection),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch flushes by outcome.",
		}, []string{"outcome"}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Requests per batch flush.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache entries dropped to make room.",
		}),
		invalidated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_entries_total",
			Help:      "Cache entries removed by ClearCache and InvalidateCollection.",
		}),
	}
}

func (l *Listener) OnEvent(e queryopt.Event) {
	switch ev := e.(type) {
	case queryopt.CacheHit:
		l.cacheHits.WithLabelValues(ev.Collection).Inc()
	case queryopt.CacheMiss:
		l.cacheMisses.WithLabelValues(ev.Collection).Inc()
	case queryopt.QueryExecuted:
		l.queries.WithLabelValues(ev.Collection).Inc()
		if ev.Joined {
			l.dedupJoins.WithLabelValues(ev.Collection).Inc()
			return
		}
		l.queryDuration.WithLabelValues(ev.Collection).Observe(ev.Duration.Seconds())
	case queryopt.QueryError:
		l.queryErrors.WithLabelValues(ev.Collection).Inc()
	case queryopt.BatchProcessed:
		outcome := "ok"
		if ev.Err != nil {
			outcome = "error"
		}
		l.batches.WithLabelValues(outcome).Inc()
		l.batchSize.Observe(float64(ev.Size))
	case queryopt.CacheEvicted:
		l.evictions.Inc()
	case queryopt.CacheCleared:
		l.invalidated.Add(float64(ev.Entries))
	}
}

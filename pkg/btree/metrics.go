package btree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics mirrors pkg/api.Metrics's shape (a struct of pre-built
// CounterVec/HistogramVec fields constructed once via promauto) but scoped
// to the update engine's own series.
type engineMetrics struct {
	updatesTotal       *prometheus.CounterVec
	splitsTotal        prometheus.Counter
	mergesTotal        prometheus.Counter
	rewritesTotal      prometheus.Counter
	reachabilitySecs   prometheus.Histogram
	reserveCacheHits   prometheus.Counter
	reserveCacheMisses prometheus.Counter
	reserveCacheSize   prometheus.GaugeFunc
}

func newEngineMetrics(reg prometheus.Registerer, reserveSize func() float64) *engineMetrics {
	factory := promauto.With(reg)
	m := &engineMetrics{
		updatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coldtree_btree_updates_total",
				Help: "Total number of update transactions, by terminal state.",
			},
			[]string{"state"},
		),
		splitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "coldtree_btree_splits_total",
			Help: "Total number of node splits performed.",
		}),
		mergesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "coldtree_btree_merges_total",
			Help: "Total number of node merges performed.",
		}),
		rewritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "coldtree_btree_rewrites_total",
			Help: "Total number of standalone node rewrites performed.",
		}),
		reachabilitySecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coldtree_btree_reachability_seconds",
			Help:    "Time from node write completion to the node becoming reachable from its root.",
			Buckets: prometheus.DefBuckets,
		}),
		reserveCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "coldtree_btree_reserve_cache_hits_total",
			Help: "Node reservations satisfied from the warm reserve cache.",
		}),
		reserveCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "coldtree_btree_reserve_cache_misses_total",
			Help: "Node reservations that had to round-trip the allocator.",
		}),
	}
	if reserveSize != nil {
		m.reserveCacheSize = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "coldtree_btree_reserve_cache_size",
			Help: "Current number of pre-reserved node allocations held warm.",
		}, reserveSize)
	}
	return m
}

func (m *engineMetrics) recordUpdate(state string) {
	m.updatesTotal.WithLabelValues(state).Inc()
}

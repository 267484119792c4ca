package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	cacheLabel  = "cache"
	resultLabel = "result"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_tiles_cache_lookups",
		Help: "The number of resource cache lookups.",
	}, []string{
		cacheLabel,
		resultLabel,
	})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_tiles_cache_evictions",
		Help: "The number of entries evicted to make room for new ones.",
	}, []string{
		cacheLabel,
	})

	cacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "globe_tiles_cache_size_bytes",
		Help: "The number of bytes held by a cache.",
	}, []string{
		cacheLabel,
	})
)

func instrumentLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.With(prometheus.Labels{
		cacheLabel:  cache,
		resultLabel: result,
	}).Inc()
}

func instrumentEviction(cache string) {
	cacheEvictions.With(prometheus.Labels{
		cacheLabel: cache,
	}).Inc()
}

func instrumentSize(cache string, size int64) {
	cacheSize.With(prometheus.Labels{
		cacheLabel: cache,
	}).Set(float64(size))
}

package fetch

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	hostLabel   = "host"
	resultLabel = "result"
)

var (
	fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_tiles_fetches",
		Help: "The number of remote fetches by host and result.",
	}, []string{
		hostLabel,
		resultLabel,
	})

	fetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globe_tiles_fetch_latency_seconds",
		Help:    "The duration of remote fetches.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{
		hostLabel,
	})
)

func instrumentFetch(host string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		if result = errors.Type(err); result == "" {
			result = "error"
		}
	}
	fetches.With(prometheus.Labels{
		hostLabel:   host,
		resultLabel: result,
	}).Inc()

	fetchLatency.With(prometheus.Labels{
		hostLabel: host,
	}).Observe(time.Since(start).Seconds())
}

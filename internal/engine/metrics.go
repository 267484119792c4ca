package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	frames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "globe_tiles",
		Name:      "frames",
		Help:      "The number of rendered frames.",
	})

	frameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "globe_tiles",
		Name:      "frame_duration_seconds",
		Help:      "The time spent selecting and drawing a frame.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	mergedResources = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "globe_tiles",
		Name:      "merged_resources",
		Help:      "The number of retrieved resources moved into memory caches.",
	})
)

func instrumentFrame(s FrameStats) {
	frames.Inc()
	frameDuration.Observe(s.Duration.Seconds())
	mergedResources.Add(float64(s.Merged))
}

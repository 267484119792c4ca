package lod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	"globe-tiles/internal/render"
)

const (
	layerLabel = "layer"
)

var (
	selectedTiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "globe_tiles",
		Name:      "selected_tiles",
		Help:      "The number of tiles selected in the last frame.",
	}, []string{layerLabel})

	fallbackTiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "globe_tiles",
		Name:      "fallback_tiles",
		Help:      "The number of selected tiles drawn with an ancestor payload in the last frame.",
	}, []string{layerLabel})

	selectionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globe_tiles",
		Name:      "selection_requests",
		Help:      "The number of load requests issued by tile selection.",
	}, []string{layerLabel})
)

func instrumentSelection(layer string, entries []render.Entry, requests int) {
	fallbacks := lo.CountBy(entries, func(e render.Entry) bool {
		return e.Fallback != nil
	})

	selectedTiles.WithLabelValues(layer).Set(float64(len(entries)))
	fallbackTiles.WithLabelValues(layer).Set(float64(fallbacks))
	selectionRequests.WithLabelValues(layer).Add(float64(requests))
}

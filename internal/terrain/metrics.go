package terrain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	terrainTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "globe_tiles",
		Name:      "terrain_tiles",
		Help:      "The number of terrain tiles selected in the last frame.",
	})

	geometryBuilds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "globe_tiles",
		Name:      "terrain_geometry_builds",
		Help:      "The number of terrain tile geometries built.",
	})
)

func instrumentTessellation(tiles, built int) {
	terrainTiles.Set(float64(tiles))
	geometryBuilds.Add(float64(built))
}

package render

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultLabel = "result"
	layerLabel  = "layer"
)

var (
	draws = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "globe_tiles",
		Name:      "tile_draws",
		Help:      "The number of tile draw calls issued to the backend.",
	}, []string{
		layerLabel,
		resultLabel,
	})
)

func instrumentDraw(layer string, err error) {
	result := "ok"
	if err != nil {
		if result = errors.Type(err); result == "" {
			result = "error"
		}
	}
	draws.WithLabelValues(layer, result).Inc()
}

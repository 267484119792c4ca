package tileserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tileResponses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "globe_tiles",
	Name:      "tileserver_responses",
	Help:      "The number of tiles served by the local tile server.",
}, []string{"cache_status"})

func instrumentTile(status string) {
	tileResponses.WithLabelValues(status).Inc()
}

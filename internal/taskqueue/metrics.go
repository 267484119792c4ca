package taskqueue

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	queueLabel   = "queue"
	outcomeLabel = "outcome"
	sourceLabel  = "source"
)

const (
	outcomeQueued    = "queued"
	outcomeDuplicate = "duplicate"
	outcomeAbsent    = "absent"
	outcomeCapacity  = "capacity"
	outcomeBusy      = "busy"
	outcomeClosed    = "closed"
)

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "globe_tiles_retrieval_requests",
		Help: "The number of retrieval requests by outcome.",
	}, []string{
		queueLabel,
		outcomeLabel,
	})

	pendingTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "globe_tiles_retrieval_pending",
		Help: "The number of queued retrieval tasks.",
	}, []string{
		queueLabel,
	})

	taskLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "globe_tiles_retrieval_latency_seconds",
		Help:    "The duration of retrieval tasks.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{
		queueLabel,
		sourceLabel,
		outcomeLabel,
	})
)

func instrumentRequest(queue, outcome string) {
	requests.With(prometheus.Labels{
		queueLabel:   queue,
		outcomeLabel: outcome,
	}).Inc()
}

func instrumentPending(queue string, n int) {
	pendingTasks.With(prometheus.Labels{
		queueLabel: queue,
	}).Set(float64(n))
}

func instrumentTask(queue, source string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		if outcome = errors.Type(err); outcome == "" {
			outcome = "error"
		}
	}
	taskLatency.With(prometheus.Labels{
		queueLabel:   queue,
		sourceLabel:  source,
		outcomeLabel: outcome,
	}).Observe(time.Since(start).Seconds())
}

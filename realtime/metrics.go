package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDecodeFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_realtime_decode_failures_total",
		Help: "Feed events dropped because they could not be decoded.",
	})

	enrichmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_realtime_enrichment_failures_total",
		Help: "Message pushes whose sender profile could not be resolved.",
	}, []string{"policy"})
)

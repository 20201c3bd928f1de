package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_intents_started_total",
		Help: "Speculative intents applied to a local view.",
	}, []string{"collection", "kind"})

	intentsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_intents_confirmed_total",
		Help: "Intents confirmed by a successful remote write.",
	}, []string{"collection"})

	intentsRolledBack = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_intents_rolled_back_total",
		Help: "Intents rolled back, by reason (error, timeout, canceled).",
	}, []string{"collection", "reason"})

	pushesMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_pushes_merged_total",
		Help: "Realtime pushes merged into a local view.",
	}, []string{"collection", "kind"})

	pushesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_pushes_skipped_total",
		Help: "Realtime pushes skipped as duplicates or self-echoes.",
	}, []string{"collection", "kind"})

	pushesDeferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_pushes_deferred_total",
		Help: "Realtime pushes held back behind an unresolved overlay.",
	}, []string{"collection"})
)

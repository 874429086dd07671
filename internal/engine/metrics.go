package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK    = "ok"
	resultError = "error"
	resultStale = "stale"
)

var (
	engineOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_engine_operations_total",
		Help: "Sequencer operations applied, by operation and result",
	}, []string{"operation", "result"})

	viewUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_engine_view_updates_total",
		Help: "Views assembled and published",
	})

	sequencerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_engine_queue_depth",
		Help: "Operations waiting on the sequencer",
	})

	pushSnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_engine_push_snapshots_total",
		Help: "Push snapshots received, by channel",
	}, []string{"channel"})

	pushErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_engine_push_errors_total",
		Help: "Push subscription errors, by channel",
	}, []string{"channel"})

	pageFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_engine_page_fetches_total",
		Help: "Regular page fetches, by result",
	}, []string{"result"})
)

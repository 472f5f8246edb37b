package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clustersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_clusters_completed_total",
		Help: "The number of sync clusters that fetched and applied every epoch.",
	})
	clustersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_clusters_failed_total",
		Help: "The number of sync clusters that ran out of peers or failed to apply a batch.",
	})
	clustersOutdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_clusters_outdated_total",
		Help: "The number of sync clusters skipped because their checkpoint wasn't newer than local head.",
	})
	clusterDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "sync_cluster_duration_seconds",
		Help: "Wall-clock time spent running a single sync cluster to completion.",
	})
	epochsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_epochs_applied_total",
		Help: "The number of epoch batches applied to the chain core.",
	})
)

package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushedExtended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_push_extended_total",
		Help: "The number of pushed blocks that extended the canonical chain.",
	})
	pushedRebranched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_push_rebranched_total",
		Help: "The number of pushed blocks that triggered a rebranch.",
	})
	pushedForked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_push_forked_total",
		Help: "The number of pushed blocks retained off the canonical chain.",
	})
	pushedIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_push_ignored_total",
		Help: "The number of pushed blocks already known to the store or forking below the finalized macro block.",
	})
	pushedOrphan = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_push_orphan_total",
		Help: "The number of pushed blocks whose parent is unknown.",
	})
	pushedRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_push_rejected_total",
		Help: "The number of pushed blocks that failed verification.",
	})
)

func recordOutcome(o Outcome, err error) {
	if err != nil && o != Orphan {
		pushedRejected.Inc()
		return
	}
	switch o {
	case Extended:
		pushedExtended.Inc()
	case Rebranched:
		pushedRebranched.Inc()
	case Forked:
		pushedForked.Inc()
	case Ignored:
		pushedIgnored.Inc()
	case Orphan:
		pushedOrphan.Inc()
	}
}

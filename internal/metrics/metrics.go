// Package metrics exposes the Prometheus collectors spec.md's ambient
// observability surface names: committed-trxid, per-follower replication
// queue depth, queries by rcode, and notify retries. Collectors are
// package-level and registered once at startup, the pattern
// other_examples' prometheus-using repos all follow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nsblast"

var (
	// CommittedTrxID is the highest transaction id committed to the
	// storage engine.
	CommittedTrxID = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "committed_trx_id",
		Help:      "Highest transaction id committed to the storage engine.",
	})

	// ReplicationQueueDepth is the number of pending ZoneUpdates queued
	// for a follower in the Hub.
	ReplicationQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "replication",
		Name:      "queue_depth",
		Help:      "Pending ZoneUpdates queued for a follower.",
	}, []string{"follower"})

	// ReplicationResyncsTotal counts followers dropped and forced to
	// resync after their outbound queue overflowed.
	ReplicationResyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "replication",
		Name:      "resyncs_total",
		Help:      "Followers dropped and forced to resync after a queue overflow.",
	}, []string{"follower"})

	// QueriesTotal counts resolved queries by response code.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "queries_total",
		Help:      "Queries answered, by rcode.",
	}, []string{"rcode"})

	// NotifyRetriesTotal counts NOTIFY retransmissions per zone.
	NotifyRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "retries_total",
		Help:      "NOTIFY retransmissions sent, by zone.",
	}, []string{"zone"})
)

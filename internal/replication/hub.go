// Package replication implements primary/follower zone replication over
// the hand-written streaming RPC in internal/replication/rpc (spec.md
// §4.9): a primary fans out every committed ENTRY mutation to each
// connected follower via a per-follower FollowerAgent state machine, and
// a follower applies the stream to its own storage engine.
package replication

import (
	"sync"

	"github.com/nsblast/nsblast/internal/metrics"
	"github.com/nsblast/nsblast/internal/replication/rpc"
	"github.com/nsblast/nsblast/internal/xlog"
)

// outboundQueueSize bounds each follower's pending-update queue (spec.md
// §4.9's "bounded outbound queue" — a follower that falls permanently
// behind is resynced from scratch rather than letting memory grow
// without bound).
const outboundQueueSize = 4096

// Hub fans out committed ZoneUpdates to every subscribed FollowerAgent.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan *rpc.ZoneUpdate
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan *rpc.ZoneUpdate)}
}

// Subscribe registers a follower and returns the channel it should drain.
// A second Subscribe for the same id replaces the first (a reconnecting
// follower gets a fresh queue).
func (h *Hub) Subscribe(id string) <-chan *rpc.ZoneUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan *rpc.ZoneUpdate, outboundQueueSize)
	h.subs[id] = ch
	metrics.ReplicationQueueDepth.WithLabelValues(id).Set(0)
	return ch
}

// Unsubscribe removes and closes a follower's queue.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	metrics.ReplicationQueueDepth.DeleteLabelValues(id)
}

// Publish fans update out to every subscriber. A follower whose queue is
// already full is dropped from the hub entirely — spec.md §4.9's
// resync-rather-than-stall rule — rather than ever blocking the writer
// that's committing storage mutations.
func (h *Hub) Publish(update *rpc.ZoneUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- update:
			metrics.ReplicationQueueDepth.WithLabelValues(id).Set(float64(len(ch)))
		default:
			xlog.New("follower outbound queue full, dropping ", id).AtWarning().WriteToLog()
			delete(h.subs, id)
			close(ch)
			metrics.ReplicationQueueDepth.DeleteLabelValues(id)
			metrics.ReplicationResyncsTotal.WithLabelValues(id).Inc()
		}
	}
}

package replication

import (
	"bytes"

	"github.com/nsblast/nsblast/internal/replication/rpc"
	"github.com/nsblast/nsblast/internal/storage/engine"
	"github.com/nsblast/nsblast/internal/storage/key"
	"github.com/nsblast/nsblast/internal/xlog"
)

// AgentState is a FollowerAgent's position in its catch-up/steady-state
// lifecycle (spec.md §4.9).
type AgentState int

const (
	// StateIteratingDB is snapshotting the engine's current ENTRY content
	// to the follower before switching to live updates.
	StateIteratingDB AgentState = iota
	// StateStreaming is forwarding live ZoneUpdates from the Hub.
	StateStreaming
	// StateDone means the stream ended (error or follower disconnect).
	StateDone
)

// AuthChecker validates a follower's StreamRequest credentials (spec.md
// §4.9's auth-hash/auth-seed handshake).
type AuthChecker func(authHash, authSeed string) bool

// FollowerAgent drives one follower's replication stream on the primary
// side: an initial full snapshot (StateIteratingDB), then a live
// subscription to the Hub (StateStreaming).
type FollowerAgent struct {
	ID     string
	eng    *engine.Engine
	hub    *Hub
	auth   AuthChecker
	stream rpc.ReplicationService_ReplicateServer
	state  AgentState
}

// NewFollowerAgent returns an agent bound to one follower's stream.
func NewFollowerAgent(eng *engine.Engine, hub *Hub, auth AuthChecker, stream rpc.ReplicationService_ReplicateServer) *FollowerAgent {
	return &FollowerAgent{eng: eng, hub: hub, auth: auth, stream: stream, state: StateIteratingDB}
}

// Run drives the agent to completion, blocking until the stream ends.
func (a *FollowerAgent) Run() error {
	req, err := a.stream.Recv()
	if err != nil {
		return xlog.New("receive initial follower request").Base(err).WithKind(xlog.KindInternal)
	}
	if a.auth != nil && !a.auth(req.AuthHash, req.AuthSeed) {
		return xlog.New("follower failed auth handshake").WithKind(xlog.KindDenied)
	}
	a.ID = req.FollowerID

	maxTrxID, err := a.snapshot(req.SinceTrxID)
	if err != nil {
		return err
	}
	a.state = StateStreaming

	updates := a.hub.Subscribe(a.ID)
	defer a.hub.Unsubscribe(a.ID)

	acks := make(chan *rpc.StreamRequest, 1)
	recvErrs := make(chan error, 1)
	go func() {
		for {
			ack, err := a.stream.Recv()
			if err != nil {
				recvErrs <- err
				return
			}
			acks <- ack
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				a.state = StateDone
				return xlog.New("follower outbound queue overran, resync required").WithKind(xlog.KindConflict)
			}
			if update.TrxID <= maxTrxID {
				continue // already covered by the initial snapshot
			}
			if err := a.stream.Send(update); err != nil {
				a.state = StateDone
				return xlog.New("send update to follower").Base(err).WithKind(xlog.KindInternal)
			}
		case <-acks:
			// acks are informational only; spec.md §4.9 doesn't require
			// the primary to act on them beyond liveness.
		case err := <-recvErrs:
			a.state = StateDone
			return err
		}
	}
}

// snapshot brings a follower up to date with maxTrxID, the highest trxid
// observed in TRXLOG at the moment the scan started (the caller uses it
// to tell which later Hub updates are genuinely new). A follower that has
// applied updates before (sinceTrxID > 0) resumes from the TRXLOG-paired
// diff log via Engine.DiffSince, so deletes it missed while disconnected
// replay correctly; a brand new follower (sinceTrxID == 0) instead gets a
// full dump of the current ENTRY table, since it has no prior diff
// history to resume from.
func (a *FollowerAgent) snapshot(sinceTrxID uint64) (uint64, error) {
	txn, err := a.eng.Begin(false)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()

	var maxTrxID uint64
	err = txn.Iterate(engine.CategoryTrxLog, []byte{byte(key.ClassTrxID)}, func(k, v []byte) (bool, error) {
		id, err := key.DecodeTrxID(k)
		if err != nil {
			return false, err
		}
		maxTrxID = id
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	if sinceTrxID > 0 && sinceTrxID >= maxTrxID {
		return maxTrxID, nil // follower is already current, skip entirely
	}

	if sinceTrxID > 0 {
		updates, err := a.eng.DiffSince(sinceTrxID)
		if err != nil {
			return 0, err
		}
		for _, u := range updates {
			if err := a.stream.Send(u); err != nil {
				return 0, xlog.New("send diff update to follower").Base(err).WithKind(xlog.KindInternal)
			}
		}
		return maxTrxID, nil
	}

	err = txn.Iterate(engine.CategoryEntry, []byte{byte(key.ClassEntry)}, func(k, v []byte) (bool, error) {
		cp := make([]byte, len(v))
		copy(cp, v)
		return true, a.stream.Send(&rpc.ZoneUpdate{
			TrxID:    maxTrxID,
			Op:       rpc.OpPut,
			Category: string(engine.CategoryEntry),
			Key:      bytes.Clone(k),
			Value:    cp,
		})
	})
	return maxTrxID, err
}
